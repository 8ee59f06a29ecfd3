package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hasher produces a deterministic content digest for a canonicalisable
// value.
type Hasher interface {
	Hash(v interface{}) (string, error)
}

// CanonicalHasher hashes the RFC 8785 canonical JSON form of v with
// SHA-256, hex-encoded. Any two values that are deep-equal once
// unmarshalled (regardless of key order, map iteration, or struct
// field order at the call site) hash identically.
type CanonicalHasher struct{}

func NewCanonicalHasher() *CanonicalHasher {
	return &CanonicalHasher{}
}

func (h *CanonicalHasher) Hash(v interface{}) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", fmt.Errorf("canonical serialization failed: %w", err)
	}
	return HashBytesHex(b), nil
}

// sha256Sum returns the raw 32-byte SHA-256 digest, used wherever a
// signing payload is hashed to fixed-length bytes before Ed25519
// signing rather than hex-encoded for display.
func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// HashBytesHex is the raw sha256hex primitive used for body hashing in
// the signed-mutation envelope, where the input is already a fixed
// byte slice (the raw request body) rather than a Go value to
// canonicalise.
func HashBytesHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// CanonicalHashHex canonicalises v and returns its sha256 hex digest.
// Convenience wrapper around CanonicalHasher for call sites that don't
// want to carry a Hasher value around.
func CanonicalHashHex(v interface{}) (string, error) {
	return NewCanonicalHasher().Hash(v)
}
