package api

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Ciaran88/opencawt/pkg/store"
)

func TestValidateBallotVotes(t *testing.T) {
	cases := []struct {
		name  string
		votes []store.BallotVote
		ok    bool
	}{
		{"single proven vote", []store.BallotVote{{ClaimID: "claim-1", Finding: "proven"}}, true},
		{"all findings with remedy", []store.BallotVote{
			{ClaimID: "claim-1", Finding: "proven", RecommendedRemedy: "public_correction"},
			{ClaimID: "claim-2", Finding: "not_proven"},
			{ClaimID: "claim-3", Finding: "insufficient"},
		}, true},
		{"unknown finding", []store.BallotVote{{ClaimID: "claim-1", Finding: "maybe"}}, false},
		{"empty finding", []store.BallotVote{{ClaimID: "claim-1"}}, false},
		{"missing claim id", []store.BallotVote{{Finding: "proven"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateBallotVotes(tc.votes)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, errBallotVotesInvalid)
			}
		})
	}
}
