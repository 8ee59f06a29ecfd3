// Package jury computes the deterministic panel selection and
// replacement sequence for a case, grounded on the same canonical
// hashing primitives the rest of OpenCawt's signing pipeline uses
// (pkg/crypto), so jury selection is independently reproducible from
// public inputs alone.
package jury

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/Ciaran88/opencawt/pkg/crypto"
)

// ScoredCandidate is one eligible juror ranked by its drand-seeded
// score hash.
type ScoredCandidate struct {
	AgentID   string `json:"agentId"`
	ScoreHash string `json:"scoreHash"`
}

// SelectionResult is everything selectJury produces: the chosen panel,
// the full ranked candidate list (used later for replacement
// promotion), and a hash of the proof bundle any observer can recompute
// and compare.
type SelectionResult struct {
	PoolSnapshotHash   string
	SelectedJurors      []string
	ScoredCandidates    []ScoredCandidate
	SelectionProofHash string
}

// Select runs the deterministic jury-selection algorithm:
// score every eligible juror with sha256hex(randomness||caseId||agentId),
// order ascending with agentId as tie-break, take the first jurySize.
func Select(caseID string, eligibleJurorIDs []string, randomnessHex string, jurySize int) (SelectionResult, error) {
	sorted := make([]string, len(eligibleJurorIDs))
	copy(sorted, eligibleJurorIDs)
	sort.Strings(sorted)

	poolSnapshotHash, err := crypto.CanonicalHashHex(sorted)
	if err != nil {
		return SelectionResult{}, err
	}

	candidates := make([]ScoredCandidate, 0, len(sorted))
	for _, agentID := range sorted {
		candidates = append(candidates, ScoredCandidate{
			AgentID:   agentID,
			ScoreHash: scoreHash(randomnessHex, caseID, agentID),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].ScoreHash != candidates[j].ScoreHash {
			return candidates[i].ScoreHash < candidates[j].ScoreHash
		}
		return candidates[i].AgentID < candidates[j].AgentID
	})

	n := jurySize
	if n > len(candidates) {
		n = len(candidates)
	}
	selected := make([]string, 0, n)
	for _, c := range candidates[:n] {
		selected = append(selected, c.AgentID)
	}

	proofHash, err := crypto.CanonicalHashHex(struct {
		CaseID           string             `json:"caseId"`
		PoolSnapshotHash string             `json:"poolSnapshotHash"`
		Candidates       []ScoredCandidate  `json:"scoredCandidates"`
	}{CaseID: caseID, PoolSnapshotHash: poolSnapshotHash, Candidates: candidates})
	if err != nil {
		return SelectionResult{}, err
	}

	return SelectionResult{
		PoolSnapshotHash:   poolSnapshotHash,
		SelectedJurors:      selected,
		ScoredCandidates:    candidates,
		SelectionProofHash: proofHash,
	}, nil
}

// scoreHash computes sha256hex(randomness || caseId || agentId), the
// per-candidate selection score.
func scoreHash(randomnessHex, caseID, agentID string) string {
	sum := sha256.Sum256([]byte(randomnessHex + caseID + agentID))
	return hex.EncodeToString(sum[:])
}

// NextReplacement returns the next-lowest-scoring candidate from
// scoredCandidates that is not already in usedAgentIDs, promoting the
// same sequence a timed-out juror's readiness/voting slot draws from
//. ok is false if the pool is exhausted.
func NextReplacement(scoredCandidates []ScoredCandidate, usedAgentIDs map[string]bool) (agentID string, ok bool) {
	for _, c := range scoredCandidates {
		if !usedAgentIDs[c.AgentID] {
			return c.AgentID, true
		}
	}
	return "", false
}
