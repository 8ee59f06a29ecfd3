package drand

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// StubClient deterministically derives randomness from the requested
// timestamp instead of calling a real beacon, for drandMode=="stub"
// deployments (local dev, tests, and any environment without network
// access to a public beacon).
type StubClient struct {
	ChainInfoID string
}

func NewStubClient() *StubClient {
	return &StubClient{ChainInfoID: "stub-chain"}
}

// RoundAfter never fails: it synthesises a round number from the
// requested instant and a randomness value hashed from it, so
// repeated calls for the same instant are stable within a process.
func (s *StubClient) RoundAfter(_ context.Context, after time.Time) (Round, error) {
	round := after.UTC().Unix()
	seed := fmt.Sprintf("opencawt-stub-drand:%d", round)
	sum := sha256.Sum256([]byte(seed))
	return Round{
		Round:      round,
		Randomness: hex.EncodeToString(sum[:]),
		ChainInfo:  s.ChainInfoID,
	}, nil
}
