// Package identity pseudonymizes (raw id, group) pairs into opaque identifiers.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Identifier is an opaque, stable, one-way identifier scoped to a group.
type Identifier string

func (i Identifier) String() string {
	return string(i)
}

// IsZero reports whether the identifier is empty.
func (i Identifier) IsZero() bool {
	return i == ""
}

// Pseudonymize hashes raw and group into an Identifier. The same inputs always
// yield the same output; surrounding whitespace is ignored.
func Pseudonymize(raw, group string) Identifier {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(raw)))
	h.Write([]byte{':'})
	h.Write([]byte(strings.TrimSpace(group)))
	return Identifier(hex.EncodeToString(h.Sum(nil)))
}

// ForEmail pseudonymizes an email address. Emails are case-insensitive, so the
// address is lowercased first.
func ForEmail(email, group string) Identifier {
	return Pseudonymize(strings.ToLower(strings.TrimSpace(email)), group)
}
