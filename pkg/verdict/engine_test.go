package verdict

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Ciaran88/opencawt/pkg/store"
)

func vote(claimID, finding, remedy string) store.BallotVote {
	return store.BallotVote{ClaimID: claimID, Finding: finding, RecommendedRemedy: remedy}
}

func TestCompute_MajorityForProsecution(t *testing.T) {
	claims := []*store.Claim{
		{ClaimID: "claim-1", ClaimIndex: 0, RequestedRemedy: "refund"},
	}
	ballots := []*store.Ballot{
		{BallotID: "b1", BallotHash: "h1", Votes: []store.BallotVote{vote("claim-1", "proven", "refund")}},
		{BallotID: "b2", BallotHash: "h2", Votes: []store.BallotVote{vote("claim-1", "proven", "refund")}},
		{BallotID: "b3", BallotHash: "h3", Votes: []store.BallotVote{vote("claim-1", "not_proven", "")}},
	}

	result, err := Compute("case-1", 3, []string{"p", "d"}, 100, "abcd", "pool", "proof", nil, nil, claims, ballots, "2026-07-31T00:00:00Z")
	require.NoError(t, err)
	require.Equal(t, "for_prosecution", result.Outcome)
	require.Equal(t, "proven", result.Bundle.ClaimVerdicts[0].Finding)
	require.Equal(t, "refund", result.Bundle.ClaimVerdicts[0].RecommendedRemedy)
	require.NotEmpty(t, result.VerdictHash)
}

func TestCompute_Deterministic(t *testing.T) {
	claims := []*store.Claim{{ClaimID: "claim-1", ClaimIndex: 0, RequestedRemedy: "refund"}}
	ballots := []*store.Ballot{
		{BallotID: "b1", BallotHash: "h1", Votes: []store.BallotVote{vote("claim-1", "proven", "refund")}},
	}

	r1, err := Compute("case-1", 1, []string{"p"}, 1, "a", "p", "s", nil, nil, claims, ballots, "2026-07-31T00:00:00Z")
	require.NoError(t, err)
	r2, err := Compute("case-1", 1, []string{"p"}, 1, "a", "p", "s", nil, nil, claims, ballots, "2026-07-31T00:00:00Z")
	require.NoError(t, err)
	require.Equal(t, r1.VerdictHash, r2.VerdictHash)
}

func TestCompute_TieBreaksProvenOverNotProven(t *testing.T) {
	claims := []*store.Claim{{ClaimID: "claim-1", ClaimIndex: 0}}
	ballots := []*store.Ballot{
		{BallotID: "b1", BallotHash: "h1", Votes: []store.BallotVote{vote("claim-1", "proven", "")}},
		{BallotID: "b2", BallotHash: "h2", Votes: []store.BallotVote{vote("claim-1", "not_proven", "")}},
	}

	result, err := Compute("case-1", 2, nil, 1, "a", "p", "s", nil, nil, claims, ballots, "2026-07-31T00:00:00Z")
	require.NoError(t, err)
	require.Equal(t, "proven", result.Bundle.ClaimVerdicts[0].Finding)
}

func TestCompute_InconclusiveWhenNoMajority(t *testing.T) {
	claims := []*store.Claim{
		{ClaimID: "claim-1", ClaimIndex: 0},
		{ClaimID: "claim-2", ClaimIndex: 1},
	}
	ballots := []*store.Ballot{
		{BallotID: "b1", BallotHash: "h1", Votes: []store.BallotVote{vote("claim-1", "proven", ""), vote("claim-2", "not_proven", "")}},
	}

	result, err := Compute("case-1", 1, nil, 1, "a", "p", "s", nil, nil, claims, ballots, "2026-07-31T00:00:00Z")
	require.NoError(t, err)
	require.Equal(t, "inconclusive", result.Outcome)
}
