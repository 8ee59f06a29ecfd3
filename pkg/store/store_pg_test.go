package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

// These tests pin the Postgres-backed behaviour of the store without a
// live server: the same $N-placeholder SQL runs against both backends,
// so sqlmock stands in for lib/pq where spinning up sqlite would test
// the wrong driver path.

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Store{DB: db, Driver: "postgres"}, mock
}

func TestClaimSealJob_ConditionalClaim(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE seal_jobs SET status='minting'`).
		WithArgs("2026-07-31T00:00:00Z", "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := s.Q().ClaimSealJob(context.Background(), "job-1", "2026-07-31T00:00:00Z")
	require.NoError(t, err)
	require.True(t, claimed)

	// A second picker races the same job: the conditional WHERE matches
	// zero rows and the claim is refused.
	mock.ExpectExec(`UPDATE seal_jobs SET status='minting'`).
		WithArgs("2026-07-31T00:00:01Z", "job-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err = s.Q().ClaimSealJob(context.Background(), "job-1", "2026-07-31T00:00:01Z")
	require.NoError(t, err)
	require.False(t, claimed)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordTreasuryTx_MapsDuplicateKeyToConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO used_treasury_tx`).
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "used_treasury_tx_pkey"`))

	err := s.Q().RecordTreasuryTx(context.Background(), &UsedTreasuryTx{
		TxSig: "tx-1", CaseID: "case-1", AgentID: "agent-1", AmountLamports: 100,
	})
	require.ErrorIs(t, err, ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnHandlerError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM agent_action_log`).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectRollback()

	boom := errors.New("handler failed")
	err := s.WithTx(context.Background(), func(q *Queries) error {
		if _, err := q.SweepExpiredAgentActions(context.Background(), 100); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM idempotency_records`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(q *Queries) error {
		_, err := q.SweepExpiredIdempotencyRecords(context.Background(), "2026-07-31T00:00:00Z")
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
