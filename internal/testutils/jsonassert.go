package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON matches any actual value, as long as the key exists.
const PresencePlaceholder = "<<PRESENCE>>"

// MustJSON marshals v and panics on failure
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// JSONAssertOptions controls how actual output is matched against the expected document.
type JSONAssertOptions struct {
	// IgnoreExtraKeys drops object keys the expected document does not mention
	IgnoreExtraKeys bool `default:"true"`
	// NilToEmptyArray treats null and [] as equal
	NilToEmptyArray bool `default:"true"`
	// AllowPresencePlaceholder enables PresencePlaceholder
	AllowPresencePlaceholder bool `default:"true"`
	// IgnoredFields are removed on both sides at any depth
	IgnoredFields []string
}

// Option is a functional option for configuring JSONAsserter
type Option func(*JSONAssertOptions)

func WithIgnoreExtraKeys(ignore bool) Option {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = ignore }
}

func WithNilToEmptyArray(normalize bool) Option {
	return func(o *JSONAssertOptions) { o.NilToEmptyArray = normalize }
}

func WithAllowPresencePlaceholder(allow bool) Option {
	return func(o *JSONAssertOptions) { o.AllowPresencePlaceholder = allow }
}

func WithIgnoredFields(fields ...string) Option {
	return func(o *JSONAssertOptions) { o.IgnoredFields = append(o.IgnoredFields, fields...) }
}

// JSONAsserter compares command and API output with an expected JSON document and reports
// a readable diff on mismatch.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a JSONAsserter with default options
func NewJSONAsserter(t TestingT) *JSONAsserter {
	ja := &JSONAsserter{t: t}
	defaults.SetDefaults(&ja.options)
	return ja
}

func (ja *JSONAsserter) WithOptions(opts ...Option) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Assert fails the test when actualJSON does not match expectedJSON
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	if h, ok := ja.t.(interface{ Helper() }); ok {
		h.Helper()
	}
	if diff := ja.Diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

// AssertValue marshals v and compares it against expectedJSON
func (ja *JSONAsserter) AssertValue(v any, expectedJSON string) {
	ja.Assert(MustJSON(v), expectedJSON)
}

// Diff returns an empty string on match, otherwise a description of the differences.
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v\n%s", err, actualJSON)
	}

	// gojsondiff only compares objects at the root
	expectedRoot := map[string]any{"root": expected}
	actualRoot := map[string]any{"root": actual}
	ja.reconcile(expectedRoot, actualRoot)

	expectedBytes, _ := json.Marshal(expectedRoot)
	actualBytes, _ := json.Marshal(actualRoot)
	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	out, err := formatter.NewAsciiFormatter(expectedRoot, formatter.AsciiFormatterConfig{ShowArrayIndex: true}).Format(diff)
	if err != nil {
		return fmt.Sprintf("JSON differs (formatting failed: %v)", err)
	}
	return out
}

// reconcile walks both documents in step and rewrites them in place according to the options.
func (ja *JSONAsserter) reconcile(expected, actual any) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return
		}
		for _, f := range ja.options.IgnoredFields {
			delete(exp, f)
			delete(act, f)
		}
		if ja.options.IgnoreExtraKeys {
			for k := range act {
				if _, want := exp[k]; !want {
					delete(act, k)
				}
			}
		}
		for k, ev := range exp {
			av, present := act[k]
			switch {
			case ja.options.AllowPresencePlaceholder && ev == PresencePlaceholder && present:
				exp[k] = av
			case ja.options.NilToEmptyArray && isEmptyArray(ev) && av == nil && present:
				act[k] = []any{}
			case ja.options.NilToEmptyArray && ev == nil && isEmptyArray(av):
				exp[k] = []any{}
			default:
				ja.reconcile(ev, av)
			}
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return
		}
		for i := range min(len(exp), len(act)) {
			if ja.options.AllowPresencePlaceholder && exp[i] == PresencePlaceholder {
				exp[i] = act[i]
				continue
			}
			ja.reconcile(exp[i], act[i])
		}
	}
}

func isEmptyArray(v any) bool {
	a, ok := v.([]any)
	return ok && len(a) == 0
}
