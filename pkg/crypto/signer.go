package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Signer signs arbitrary byte payloads with Ed25519 and exposes its
// public key. SignAgreementAttestation takes one to sign an agreement
// attestation; the service code does not construct a Signer of its
// own, and verdict bundles are hashed, not signed.
type Signer interface {
	Sign(data []byte) (string, error)
	PublicKey() string
	PublicKeyBytes() []byte
}

// Ed25519Signer is the production Signer.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	KeyID   string
}

func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub, KeyID: keyID}, nil
}

func NewEd25519SignerFromKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		KeyID:   keyID,
	}
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	sig := ed25519.Sign(s.privKey, data)
	return hex.EncodeToString(sig), nil
}

func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

func (s *Ed25519Signer) PublicKeyBytes() []byte {
	return s.pubKey
}

func (s *Ed25519Signer) Verify(message, signature []byte) bool {
	return ed25519.Verify(s.pubKey, message, signature)
}

// Verify checks a hex-encoded Ed25519 signature against a hex-encoded
// public key, in constant time (ed25519.Verify's comparison is
// constant-time in the signature bytes). Used both for agent-supplied
// request signatures and for agreement counter-signatures, where the
// public key comes from the agent registry rather than this process's
// own Signer.
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size")
	}
	if len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid signature size")
	}
	return ed25519.Verify(pubKey, data, sig), nil
}

// VerifyAgreementAttestation re-derives the attestation payload for a
// proposed agreement and checks sig against partyPubKeyHex.
func VerifyAgreementAttestation(partyPubKeyHex, sigHex, proposalID, termsHash, agreementCode, partyA, partyB, expiresAtISO string) (bool, error) {
	payload := AgreementAttestationString(proposalID, termsHash, agreementCode, partyA, partyB, expiresAtISO)
	digest := sha256Sum([]byte(payload))
	return Verify(partyPubKeyHex, sigHex, digest)
}

// SignAgreementAttestation signs the attestation payload on behalf of
// one party, returning the hex signature to store as sigA/sigB.
func SignAgreementAttestation(s Signer, proposalID, termsHash, agreementCode, partyA, partyB, expiresAtISO string) (string, error) {
	payload := AgreementAttestationString(proposalID, termsHash, agreementCode, partyA, partyB, expiresAtISO)
	digest := sha256Sum([]byte(payload))
	return s.Sign(digest)
}

// VerifyMutation re-derives the signed-mutation signing string and
// checks it against the agent's registered public key.
func VerifyMutation(agentPubKeyHex, sigHex, method, path string, timestampSec int64, nonce, bodyHashHex string) (bool, error) {
	payload := MutationSigningString(method, path, timestampSec, nonce, bodyHashHex)
	return Verify(agentPubKeyHex, sigHex, []byte(payload))
}
