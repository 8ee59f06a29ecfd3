package drand

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStubClient_Deterministic(t *testing.T) {
	s := NewStubClient()
	ts := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	r1, err := s.RoundAfter(context.Background(), ts)
	require.NoError(t, err)
	r2, err := s.RoundAfter(context.Background(), ts)
	require.NoError(t, err)

	require.Equal(t, r1, r2)
	require.NotEmpty(t, r1.Randomness)
}

func TestStubClient_DifferentTimestampsDiffer(t *testing.T) {
	s := NewStubClient()
	r1, err := s.RoundAfter(context.Background(), time.Unix(1000, 0))
	require.NoError(t, err)
	r2, err := s.RoundAfter(context.Background(), time.Unix(2000, 0))
	require.NoError(t, err)

	require.NotEqual(t, r1.Randomness, r2.Randomness)
	require.NotEqual(t, r1.Round, r2.Round)
}

func TestErrBeaconUnavailable_Unwraps(t *testing.T) {
	cause := context.DeadlineExceeded
	err := &ErrBeaconUnavailable{Cause: cause}
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
