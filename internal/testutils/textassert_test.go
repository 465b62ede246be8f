package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		match    bool
	}{
		{name: "identical", actual: "a\nb", expected: "a\nb", match: true},
		{name: "changed line", actual: "a\nc", expected: "a\nb"},
		{name: "surrounding blank lines strict", actual: "a\n", expected: "\na\n"},
		{name: "trim space", opts: []TextOption{WithTrimSpace(true)}, actual: "a\n", expected: "\na\n", match: true},
		{name: "trailing whitespace strict", actual: "a  \nb", expected: "a\nb"},
		{name: "trailing whitespace ignored", opts: []TextOption{WithIgnoreTrailingWhitespace(true)}, actual: "a  \nb\t", expected: "a\nb", match: true},
		{name: "leading whitespace ignored", opts: []TextOption{WithIgnoreLeadingWhitespace(true)}, actual: "  a\n\tb", expected: "a\nb", match: true},
		{name: "empty lines ignored", opts: []TextOption{WithIgnoreEmptyLines(true)}, actual: "a\n\n  \nb", expected: "a\nb", match: true},
		{name: "empty lines ignored keep content", opts: []TextOption{WithIgnoreEmptyLines(true)}, actual: "a\n\nc", expected: "a\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewTextAsserter(t).WithOptions(tt.opts...).Diff(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, diff, "texts MUST match")
			} else {
				assert.NotEmpty(t, diff, "texts MUST differ")
			}
		})
	}
}

func TestTextAsserter_UnifiedDiff(t *testing.T) {
	diff := NewTextAsserter(t).Diff("NAME  RSSI\nHRM   -55 dBm", "NAME  RSSI\nHRM   -60 dBm")

	assert.Contains(t, diff, "--- expected")
	assert.Contains(t, diff, "+++ actual")
	assert.Contains(t, diff, "-HRM   -60 dBm")
	assert.Contains(t, diff, "+HRM   -55 dBm")
	assert.NotContains(t, diff, "\x1b[", "plain diff MUST NOT carry escape codes")
}

func TestTextAsserter_Colors(t *testing.T) {
	diff := NewTextAsserter(t).WithOptions(WithEnableColors(true)).Diff("a b", "a\tb")

	assert.Contains(t, diff, "\x1b[", "colored diff MUST carry escape codes")
	assert.Contains(t, diff, "a·b", "changed lines MUST show spaces")
	assert.Contains(t, diff, "a→b", "changed lines MUST show tabs")
}

func TestTextAsserter_Assert(t *testing.T) {
	r := &recorder{}
	ta := NewTextAsserter(r).WithOptions(WithTrimSpace(true))

	ta.Assert("ok\n", "\nok")
	assert.Empty(t, r.failures)

	ta.Assert("ok", "fail")
	if assert.Len(t, r.failures, 1) {
		assert.Contains(t, r.failures[0], "Text assertion failed")
	}
}
