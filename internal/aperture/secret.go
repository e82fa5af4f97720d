package aperture

import (
	"encoding/json"
	"fmt"
	"io"
)

// Secret holds a device PIN in transit. It redacts itself when printed,
// logged or marshaled so it never leaks into logs or responses.
type Secret []byte

func (s Secret) String() string { return "[SECRET]" }

// Format implements fmt.Formatter so every verb is redacted.
func (s Secret) Format(f fmt.State, _ rune) {
	_, _ = io.WriteString(f, "[SECRET]")
}

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal("[SECRET]") }

func (s Secret) MarshalText() ([]byte, error) { return []byte("[SECRET]"), nil }

// Empty reports whether no secret was supplied.
func (s Secret) Empty() bool { return len(s) == 0 }

// Zero overwrites the secret bytes.
func (s Secret) Zero() {
	for i := range s {
		s[i] = 0
	}
}
