package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalHasher_Hash_KeyOrderInvariant(t *testing.T) {
	h := NewCanonicalHasher()

	m1 := map[string]int{"a": 1, "b": 2}
	m2 := map[string]int{"b": 2, "a": 1}

	h1, err := h.Hash(m1)
	require.NoError(t, err)
	h2, err := h.Hash(m2)
	require.NoError(t, err)

	require.Equal(t, h1, h2, "maps with different key order must produce the same hash")
}

func TestCanonicalJSON_DropsOmittedFields(t *testing.T) {
	type payload struct {
		A string `json:"a"`
		B string `json:"b,omitempty"`
	}

	b, err := CanonicalJSON(payload{A: "x"})
	require.NoError(t, err)
	require.JSONEq(t, `{"a":"x"}`, string(b))
}

func TestMutationSigningString_Shape(t *testing.T) {
	s := MutationSigningString("POST", "/cases/abc/claims", 1700000000, "nonce-1", "deadbeef")
	require.Equal(t, "OCPv1|POST|/cases/abc/claims|1700000000|nonce-1|deadbeef", s)
}

func TestEd25519Signer_SignVerify(t *testing.T) {
	signer, err := NewEd25519Signer("key-1")
	require.NoError(t, err)

	data := []byte("hello world")
	sig, err := signer.Sign(data)
	require.NoError(t, err)

	pubKey := signer.PublicKey()

	valid, err := Verify(pubKey, sig, data)
	require.NoError(t, err)
	require.True(t, valid)

	valid, _ = Verify(pubKey, sig, []byte("hello world modified"))
	require.False(t, valid, "tampered data must not verify")
}

func TestVerifyMutation_RoundTrip(t *testing.T) {
	signer, err := NewEd25519Signer("key-1")
	require.NoError(t, err)

	bodyHash := HashBytesHex([]byte(`{"claimText":"breach of terms"}`))
	payload := MutationSigningString("POST", "/cases/abc/claims", 1700000000, "nonce-1", bodyHash)
	sig, err := signer.Sign([]byte(payload))
	require.NoError(t, err)

	ok, err := VerifyMutation(signer.PublicKey(), sig, "POST", "/cases/abc/claims", 1700000000, "nonce-1", bodyHash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyMutation(signer.PublicKey(), sig, "POST", "/cases/abc/claims", 1700000001, "nonce-1", bodyHash)
	require.NoError(t, err)
	require.False(t, ok, "changing any signed field must invalidate the signature")
}

func TestAgreementAttestation_RoundTrip(t *testing.T) {
	partyA, err := NewEd25519Signer("party-a")
	require.NoError(t, err)

	sig, err := SignAgreementAttestation(partyA, "prop-1", "termshash", "ABCDEFGHIJ", "agentA", "agentB", "2026-08-01T00:00:00Z")
	require.NoError(t, err)

	ok, err := VerifyAgreementAttestation(partyA.PublicKey(), sig, "prop-1", "termshash", "ABCDEFGHIJ", "agentA", "agentB", "2026-08-01T00:00:00Z")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyAgreementAttestation(partyA.PublicKey(), sig, "prop-1", "termshash-mutated", "ABCDEFGHIJ", "agentA", "agentB", "2026-08-01T00:00:00Z")
	require.NoError(t, err)
	require.False(t, ok, "mutating the terms hash must invalidate the attestation signature")
}
