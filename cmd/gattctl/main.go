package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"

	_ "github.com/srg/gattkit/pkg/device/bluez"
	_ "github.com/srg/gattkit/pkg/device/goble"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// globalOptions are the persistent flags every subcommand shares.
type globalOptions struct {
	logLevel   string
	verbose    bool
	configPath string
	backend    string
	adapter    string
}

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:   "gattctl",
		Short: "Bluetooth Low Energy GATT client",
		Long: `Bluetooth Low Energy (BLE) GATT client that provides:

- Scan for nearby advertising devices
- Read from and write to characteristics
- Subscribe to characteristic notifications and indications

The same commands work on every supported Bluetooth stack; select one with --backend.`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		// Silence Cobra's "Error:" prefix - main() prints clean errors
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&g.verbose, "verbose", false, "Shortcut for --log-level debug")
	flags.StringVar(&g.configPath, "config", "", "Path to a YAML configuration file")
	flags.StringVar(&g.backend, "backend", "", "Bluetooth backend (bluez, goble); default picks the first that opens")
	flags.StringVar(&g.adapter, "adapter", "", "Adapter name on backends with several radios (e.g. hci1)")

	root.AddCommand(newScanCmd(g))
	root.AddCommand(newReadCmd(g))
	root.AddCommand(newWriteCmd(g))
	root.AddCommand(newSubscribeCmd(g))
	root.AddCommand(newInspectCmd(g))

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
