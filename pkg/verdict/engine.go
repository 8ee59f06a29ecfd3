// Package verdict tallies ballots into a per-claim finding, an overall
// case outcome, and a canonical verdict bundle hash, grounded on
// pkg/crypto's canonicalisation primitives so the bundle can be
// independently re-derived by any observer holding the same inputs.
package verdict

import (
	"sort"

	"github.com/Ciaran88/opencawt/pkg/crypto"
	"github.com/Ciaran88/opencawt/pkg/store"
)

// findingOrder is the tie-break convention applied when tallies are
// equal: proven beats not_proven beats insufficient.
var findingOrder = map[string]int{
	"proven":      0,
	"not_proven":  1,
	"insufficient": 2,
}

// ClaimVerdict is one claim's tallied outcome.
type ClaimVerdict struct {
	ClaimID           string         `json:"claimId"`
	Finding           string         `json:"finding"`
	Tally             map[string]int `json:"tally"`
	RecommendedRemedy string         `json:"recommendedRemedy,omitempty"`
}

// Bundle is the full set of integrity artefacts hashed into
// verdictHash.
type Bundle struct {
	CaseID             string         `json:"caseId"`
	JurySize           int            `json:"jurySize"`
	Participants       []string       `json:"participants"`
	DrandRound         int64          `json:"drandRound"`
	DrandRandomness    string         `json:"drandRandomness"`
	PoolSnapshotHash   string         `json:"poolSnapshotHash"`
	SelectionProofHash string         `json:"selectionProofHash"`
	SubmissionHashes   []string       `json:"submissionHashes"`
	EvidenceHashes     []string       `json:"evidenceHashes"`
	BallotHashes       []string       `json:"ballotHashes"`
	ClaimVerdicts      []ClaimVerdict `json:"claimVerdicts"`
	Outcome            string         `json:"outcome"`
	TieBreakOrder      []string       `json:"tieBreakOrder"`
	RemedyOrder         []string       `json:"remedyOrder"`
	ClosedAt            string         `json:"closedAt"`
}

// Result is the engine's full output, ready to be written back onto
// the case row.
type Result struct {
	Bundle      Bundle
	VerdictHash string
	Outcome     string // for_prosecution | for_defence | inconclusive
}

// Compute tallies every ballot into a per-claim finding and modal
// remedy, derives the overall outcome, and hashes the bundle.
func Compute(caseID string, jurySize int, participants []string, drandRound int64, drandRandomness, poolSnapshotHash, selectionProofHash string, submissionHashes, evidenceHashes []string, claims []*store.Claim, ballots []*store.Ballot, closedAtISO string) (Result, error) {
	remedyOrder := remedyAppearanceOrder(claims, ballots)

	ballotHashes := make([]string, 0, len(ballots))
	for _, b := range ballots {
		ballotHashes = append(ballotHashes, b.BallotHash)
	}
	sort.Strings(ballotHashes)

	claimVerdicts := make([]ClaimVerdict, 0, len(claims))
	provenCount, notProvenCount := 0, 0
	for _, c := range claims {
		cv := tallyClaim(c.ClaimID, ballots, remedyOrder)
		claimVerdicts = append(claimVerdicts, cv)
		switch cv.Finding {
		case "proven":
			provenCount++
		case "not_proven":
			notProvenCount++
		}
	}

	outcome := overallOutcome(len(claims), provenCount, notProvenCount)

	bundle := Bundle{
		CaseID:             caseID,
		JurySize:           jurySize,
		Participants:       participants,
		DrandRound:         drandRound,
		DrandRandomness:    drandRandomness,
		PoolSnapshotHash:   poolSnapshotHash,
		SelectionProofHash: selectionProofHash,
		SubmissionHashes:   submissionHashes,
		EvidenceHashes:     evidenceHashes,
		BallotHashes:       ballotHashes,
		ClaimVerdicts:      claimVerdicts,
		Outcome:            outcome,
		TieBreakOrder:      []string{"proven", "not_proven", "insufficient"},
		RemedyOrder:        remedyOrder,
		ClosedAt:           closedAtISO,
	}

	hash, err := crypto.CanonicalHashHex(bundle)
	if err != nil {
		return Result{}, err
	}

	return Result{Bundle: bundle, VerdictHash: hash, Outcome: outcome}, nil
}

// tallyClaim counts each ballot's finding for one claim, picks the
// majority with the proven>not_proven>insufficient tie-break, and
// resolves the modal recommended remedy among ballots that agreed with
// the finding.
func tallyClaim(claimID string, ballots []*store.Ballot, remedyOrder []string) ClaimVerdict {
	tally := map[string]int{"proven": 0, "not_proven": 0, "insufficient": 0}
	remedyVotes := map[string]map[string]int{} // finding -> remedy -> count

	for _, b := range ballots {
		for _, v := range b.Votes {
			if v.ClaimID != claimID {
				continue
			}
			tally[v.Finding]++
			if v.RecommendedRemedy != "" {
				if remedyVotes[v.Finding] == nil {
					remedyVotes[v.Finding] = map[string]int{}
				}
				remedyVotes[v.Finding][v.RecommendedRemedy]++
			}
		}
	}

	finding := majorityFinding(tally)

	remedy := ""
	if finding == "proven" {
		remedy = modalRemedy(remedyVotes[finding], remedyOrder)
	}

	return ClaimVerdict{ClaimID: claimID, Finding: finding, Tally: tally, RecommendedRemedy: remedy}
}

func majorityFinding(tally map[string]int) string {
	best := "insufficient"
	bestCount := -1
	for _, finding := range []string{"proven", "not_proven", "insufficient"} {
		count := tally[finding]
		if count > bestCount {
			bestCount = count
			best = finding
		}
	}
	return best
}

func modalRemedy(votes map[string]int, order []string) string {
	best := ""
	bestCount := -1
	for _, remedy := range order {
		count := votes[remedy]
		if count > bestCount {
			bestCount = count
			best = remedy
		}
	}
	return best
}

// remedyAppearanceOrder records the first-appearance order of
// recommendedRemedy values across the case's claims (in claim order,
// then ballot-arrival order within each claim), the deterministic
// tie-break used by the modal-remedy computation.
func remedyAppearanceOrder(claims []*store.Claim, ballots []*store.Ballot) []string {
	seen := map[string]bool{}
	var order []string
	for _, c := range claims {
		for _, b := range ballots {
			for _, v := range b.Votes {
				if v.ClaimID != c.ClaimID || v.RecommendedRemedy == "" || seen[v.RecommendedRemedy] {
					continue
				}
				seen[v.RecommendedRemedy] = true
				order = append(order, v.RecommendedRemedy)
			}
		}
	}
	return order
}

// overallOutcome is for_prosecution if a majority of claims are
// proven, for_defence if a majority are not_proven, otherwise
// inconclusive.
func overallOutcome(totalClaims, proven, notProven int) string {
	if totalClaims == 0 {
		return "inconclusive"
	}
	if proven*2 > totalClaims {
		return "for_prosecution"
	}
	if notProven*2 > totalClaims {
		return "for_defence"
	}
	return "inconclusive"
}
