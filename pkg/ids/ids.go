// Package ids mints internal record identifiers and the short,
// URL-safe public codes (case slugs, agreement codes) derived from
// them. Internal ids are UUIDv4 strings; public codes are a 10-character uppercase
// base32-ish alphanumeric alphabet derived from a hash of the internal
// id, so they never leak the underlying UUID. Two ids can map to the
// same code; the store's unique constraints on slugs and agreement
// codes reject the second one.
package ids

import (
	"crypto/sha256"
	"strings"

	"github.com/google/uuid"
)

// publicAlphabet excludes visually ambiguous characters (0/O, 1/I/L)
// so codes are easy to read aloud or transcribe by hand.
const publicAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// PublicCodeLen is the fixed length of every case/agreement public
// code.
const PublicCodeLen = 10

// New mints a fresh internal identifier.
func New() string {
	return uuid.New().String()
}

// NewPublicCode derives a PublicCodeLen-character uppercase
// alphanumeric code from seed (typically the internal id being
// published). The mapping is deterministic: the same seed always
// yields the same code, which lets callers regenerate a code for
// logging or tests without storing it separately.
func NewPublicCode(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	var b strings.Builder
	b.Grow(PublicCodeLen)
	for i := 0; i < PublicCodeLen; i++ {
		b.WriteByte(publicAlphabet[int(sum[i])%len(publicAlphabet)])
	}
	return b.String()
}

// NewWithPublicCode mints a fresh internal id and its derived public
// code together, the common case at record-creation time.
func NewWithPublicCode() (internalID, publicCode string) {
	internalID = New()
	return internalID, NewPublicCode(internalID)
}
