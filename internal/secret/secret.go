// Package secret wraps sensitive strings (API keys, tokens) so that their
// zero-value, %v, %s, and JSON forms all redact automatically, instead of
// relying on call sites to remember to mask them by hand.
package secret

import "encoding/json"

// String is a sensitive value that always renders redacted.
type String struct {
	value string
}

// New wraps v as a redacted String.
func New(v string) String { return String{value: v} }

// Reveal returns the underlying value. Call sites must be narrow and
// deliberate (building an outbound auth request, never a log line).
func (s String) Reveal() string { return s.value }

// Empty reports whether the wrapped value is the empty string.
func (s String) Empty() bool { return s.value == "" }

// String implements fmt.Stringer with a redacted prefix+"***"+suffix form,
// enough to correlate log lines without ever printing the real value.
func (s String) String() string { return Redact(s.value) }

// GoString satisfies %#v the same way as String.
func (s String) GoString() string { return s.String() }

// MarshalJSON always serialises the redacted form; secrets must never land
// in a persisted JSON blob or log sink by accident.
func (s String) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Redact returns a correlation-friendly redacted form of v: short values are
// fully masked, longer values keep a short prefix/suffix.
func Redact(v string) string {
	const keep = 3
	n := len(v)
	switch {
	case n == 0:
		return ""
	case n <= keep*2:
		return "***"
	default:
		return v[:keep] + "***" + v[n-keep:]
	}
}
