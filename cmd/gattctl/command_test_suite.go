//go:build test

package main

import (
	"bytes"
	"context"

	"github.com/fatih/color"
	"github.com/srg/gattkit/internal/testutils"
	"github.com/srg/gattkit/pkg/device"
)

// CommandTestSuite runs gattctl commands against the mocked radio of MockRadioSuite.
// All cmd/gattctl test suites should embed this instead of MockRadioSuite.
type CommandTestSuite struct {
	testutils.MockRadioSuite

	origSession func(context.Context, device.Options) (*device.Session, error)
}

func (s *CommandTestSuite) SetupSuite() {
	s.MockRadioSuite.SetupSuite()
	color.NoColor = true
}

// SetupTest routes command sessions to the mocked radio.
func (s *CommandTestSuite) SetupTest() {
	s.MockRadioSuite.SetupTest()

	s.origSession = newSession
	newSession = func(_ context.Context, opts device.Options) (*device.Session, error) {
		return device.NewSessionWithBackend(s.Radio.Backend, opts), nil
	}
}

func (s *CommandTestSuite) TearDownTest() {
	newSession = s.origSession
	s.MockRadioSuite.TearDownTest()
}

// ExecuteCommand runs gattctl with args and returns stdout, stderr and the error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(s.Context())
	return stdout.String(), stderr.String(), err
}
