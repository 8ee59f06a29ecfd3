package seal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ciaran88/opencawt/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPipeline_EnqueueAndDrive(t *testing.T) {
	s := newTestStore(t)
	p := NewPipeline(s, StubWorker{})
	p.Now = func() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }

	job, err := p.EnqueueForCase(context.Background(), "case-1", "hash-1", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, store.SealJobQueued, job.Status)

	require.NoError(t, p.Drive(context.Background(), job.JobID))

	got, err := s.Q().GetSealJob(context.Background(), job.JobID)
	require.NoError(t, err)
	require.Equal(t, store.SealJobMinted, got.Status)
	require.NotEmpty(t, got.ResponseJSON)
}

func TestPipeline_DriveIsIdempotentOnReplay(t *testing.T) {
	s := newTestStore(t)
	p := NewPipeline(s, StubWorker{})
	p.Now = func() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }

	job, err := p.EnqueueForCase(context.Background(), "case-1", "hash-1", nil)
	require.NoError(t, err)
	require.NoError(t, p.Drive(context.Background(), job.JobID))

	err = p.Drive(context.Background(), job.JobID)
	require.ErrorIs(t, err, ErrAlreadyFinalised)
}

func TestPipeline_EnqueueRejectsDuplicateCase(t *testing.T) {
	s := newTestStore(t)
	p := NewPipeline(s, StubWorker{})
	p.Now = func() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }

	_, err := p.EnqueueForCase(context.Background(), "case-1", "hash-1", nil)
	require.NoError(t, err)

	_, err = p.EnqueueForCase(context.Background(), "case-1", "hash-2", nil)
	require.ErrorIs(t, err, store.ErrConflict)
}

type failingWorker struct{}

func (failingWorker) Mint(_ context.Context, _ Request) (Response, error) {
	return Response{}, errAlwaysFails
}

var errAlwaysFails = errAlwaysFailsT("mint service unavailable")

type errAlwaysFailsT string

func (e errAlwaysFailsT) Error() string { return string(e) }

func TestPipeline_DriveMarksFailedOnWorkerError(t *testing.T) {
	s := newTestStore(t)
	p := NewPipeline(s, failingWorker{})
	p.Now = func() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }

	job, err := p.EnqueueForCase(context.Background(), "case-1", "hash-1", nil)
	require.NoError(t, err)
	require.NoError(t, p.Drive(context.Background(), job.JobID))

	got, err := s.Q().GetSealJob(context.Background(), job.JobID)
	require.NoError(t, err)
	require.Equal(t, store.SealJobFailed, got.Status)
	require.Equal(t, "mint service unavailable", got.LastError)
}
