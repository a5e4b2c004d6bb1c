// Package secret wraps values that must never be logged, cached, or
// serialized — backend passwords, upstream bearer tokens.
package secret

import "encoding/json"

// String holds a secret value. Its zero value is the empty secret.
// String deliberately does not implement fmt.Stringer with the real
// value so that %v/%s formatting and accidental json.Marshal calls
// never leak it.
type String struct {
	value string
}

// New wraps a raw string as a secret.
func New(value string) String {
	return String{value: value}
}

// Reveal returns the underlying value. Callers must not log or persist
// the result.
func (s String) Reveal() string {
	return s.value
}

// IsZero reports whether the secret carries an empty value.
func (s String) IsZero() bool {
	return s.value == ""
}

// String implements fmt.Stringer, redacting the value.
func (s String) String() string {
	if s.value == "" {
		return ""
	}
	return "[redacted]"
}

// MarshalJSON redacts the value so a Secret accidentally embedded in a
// struct that gets marshaled never reaches a client or a cache file.
func (s String) MarshalJSON() ([]byte, error) {
	if s.value == "" {
		return json.Marshal("")
	}
	return json.Marshal("[redacted]")
}

// UnmarshalJSON accepts a plain string, used when secrets arrive via the
// backend-list JSON config (spec.md §6 "Configuration input").
func (s *String) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.value = raw
	return nil
}
