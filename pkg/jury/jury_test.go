package jury

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func eligiblePool() []string {
	return []string{"agentF", "agentA", "agentC", "agentB", "agentE", "agentD", "agentG", "agentH", "agentI", "agentJ", "agentK", "agentL", "agentM"}
}

func TestSelect_Deterministic(t *testing.T) {
	r1, err := Select("case-1", eligiblePool(), "deadbeefcafebabe", 11)
	require.NoError(t, err)
	r2, err := Select("case-1", eligiblePool(), "deadbeefcafebabe", 11)
	require.NoError(t, err)

	require.Equal(t, r1.SelectedJurors, r2.SelectedJurors)
	require.Equal(t, r1.SelectionProofHash, r2.SelectionProofHash)
	require.Equal(t, r1.PoolSnapshotHash, r2.PoolSnapshotHash)
	require.Len(t, r1.SelectedJurors, 11)
}

func TestSelect_DifferentCaseIDDiffers(t *testing.T) {
	r1, err := Select("case-1", eligiblePool(), "deadbeefcafebabe", 11)
	require.NoError(t, err)
	r2, err := Select("case-2", eligiblePool(), "deadbeefcafebabe", 11)
	require.NoError(t, err)

	require.NotEqual(t, r1.SelectionProofHash, r2.SelectionProofHash)
}

func TestSelect_OrderedByScoreHashThenAgentID(t *testing.T) {
	r, err := Select("case-1", eligiblePool(), "deadbeefcafebabe", 11)
	require.NoError(t, err)
	for i := 1; i < len(r.ScoredCandidates); i++ {
		prev, cur := r.ScoredCandidates[i-1], r.ScoredCandidates[i]
		require.True(t, prev.ScoreHash < cur.ScoreHash || (prev.ScoreHash == cur.ScoreHash && prev.AgentID < cur.AgentID))
	}
}

func TestNextReplacement_SkipsUsed(t *testing.T) {
	r, err := Select("case-1", eligiblePool(), "deadbeefcafebabe", 3)
	require.NoError(t, err)

	used := map[string]bool{}
	for _, id := range r.SelectedJurors {
		used[id] = true
	}

	next, ok := NextReplacement(r.ScoredCandidates, used)
	require.True(t, ok)
	require.False(t, used[next])
	require.Equal(t, r.ScoredCandidates[3].AgentID, next)
}

func TestNextReplacement_ExhaustedPool(t *testing.T) {
	r, err := Select("case-1", []string{"agentA", "agentB"}, "deadbeef", 2)
	require.NoError(t, err)

	used := map[string]bool{"agentA": true, "agentB": true}
	_, ok := NextReplacement(r.ScoredCandidates, used)
	require.False(t, ok)
}
