package reward

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendRecordReturnsID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	rec := &RewardRecord{
		UserID:       "user-1",
		ActionID:     "action-1",
		Kind:         ActionSignalReport,
		Points:       10,
		Tier:         TierBronze,
		EvidenceHash: "0xabc",
	}

	mock.ExpectQuery("INSERT INTO reward_records").
		WithArgs("user-1", "action-1", ActionSignalReport, int64(10), TierBronze,
			"0xabc", "", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	require.NoError(t, store.AppendRecord(context.Background(), rec))
	assert.Equal(t, int64(7), rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReputationNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	mock.ExpectQuery("SELECT user_id, score, tier").
		WithArgs("nobody").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}))

	_, err = store.GetReputation(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrReputationNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReputationScansRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	created := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	updated := created.Add(30 * 24 * time.Hour)

	rows := pgxmock.NewRows([]string{
		"user_id", "score", "tier", "total_points", "verified_count",
		"rejected_count", "penalty_count", "account_created_at", "suspended_until", "updated_at",
	}).AddRow("user-1", 72.5, TierSilver, int64(420), int64(40), int64(3), int64(1), created, nil, updated)

	mock.ExpectQuery("SELECT user_id, score, tier").
		WithArgs("user-1").
		WillReturnRows(rows)

	rep, err := store.GetReputation(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, TierSilver, rep.Tier)
	assert.Equal(t, int64(420), rep.TotalPoints)
	assert.Nil(t, rep.SuspendedUntil)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertReputation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	rep := &Reputation{
		UserID:           "user-1",
		Score:            50,
		Tier:             TierBronze,
		TotalPoints:      100,
		AccountCreatedAt: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec("INSERT INTO reputation_records").
		WithArgs("user-1", 50.0, TierBronze, int64(100), int64(0), int64(0), int64(0),
			rep.AccountCreatedAt, (*time.Time)(nil), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertReputation(context.Background(), rep))
	assert.False(t, rep.UpdatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryNewestFirst(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{
		"id", "user_id", "action_id", "kind", "points", "tier", "evidence_hash", "reason", "created_at",
	}).
		AddRow(int64(2), "user-1", "a2", ActionOutcomeLabel, int64(5), TierBronze, "0x2", "", now).
		AddRow(int64(1), "user-1", "a1", ActionSignalReport, int64(-20), TierBronze, "0x1", "fabricated evidence", now.Add(-time.Hour))

	mock.ExpectQuery("SELECT id, user_id, action_id").
		WithArgs("user-1", 100).
		WillReturnRows(rows)

	history, err := store.History(context.Background(), "user-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(2), history[0].ID)
	assert.Equal(t, int64(-20), history[1].Points)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	mock.ExpectQuery("SELECT id, user_id, action_id").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	_, err = store.History(context.Background(), "user-1", 10)
	assert.ErrorContains(t, err, "failed to query reward history")
	require.NoError(t, mock.ExpectationsWereMet())
}
