// Package secret holds a redacted string type for proxy credentials.
package secret

import "crypto/subtle"

// String is a value that must never be rendered into logs, error messages,
// or JSON without an explicit Reveal call from a storage backend that owns
// its own encryption policy.
type String struct {
	value string
	set   bool
}

// New wraps a plaintext value.
func New(v string) String {
	return String{value: v, set: v != ""}
}

// IsSet reports whether a value was provided.
func (s String) IsSet() bool {
	return s.set
}

// Reveal returns the plaintext value. Callers must have a specific reason
// to do so (storage encryption, outbound proxy auth) — never for logging.
func (s String) Reveal() string {
	return s.value
}

// Equal performs a constant-time comparison, safe for credential checks.
func (s String) Equal(other String) bool {
	return subtle.ConstantTimeCompare([]byte(s.value), []byte(other.value)) == 1
}

// String implements fmt.Stringer, always rendering as a redaction marker.
func (s String) String() string {
	if !s.set {
		return ""
	}
	return "***"
}

// MarshalJSON refuses to serialize plaintext; it always emits the redacted
// marker (or null when unset) so credentials never leak through encoding/json.
func (s String) MarshalJSON() ([]byte, error) {
	if !s.set {
		return []byte("null"), nil
	}
	return []byte(`"***"`), nil
}
