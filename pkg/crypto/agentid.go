package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
)

// EncodeAgentID base58-encodes an Ed25519 public key into the agent
// id format every signed-mutation header and store row uses.
func EncodeAgentID(pubKey ed25519.PublicKey) string {
	return base58.Encode(pubKey)
}

// DecodeAgentID reverses EncodeAgentID, validating the decoded key is
// a well-formed Ed25519 public key.
func DecodeAgentID(agentID string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(agentID)
	if err != nil {
		return nil, fmt.Errorf("invalid agent id encoding: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid agent id: decoded key is %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// VerifyMutationByAgentID is VerifyMutation taking the agent id
// directly rather than a hex public key, since every HTTP handler
// looks the signer up by agent id.
func VerifyMutationByAgentID(agentID, sigHex, method, path string, timestampSec int64, nonce, bodyHashHex string) (bool, error) {
	pubKey, err := DecodeAgentID(agentID)
	if err != nil {
		return false, err
	}
	return VerifyMutation(hex.EncodeToString(pubKey), sigHex, method, path, timestampSec, nonce, bodyHashHex)
}
