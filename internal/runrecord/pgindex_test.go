package runrecord

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgIndexUpsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	index := NewPgIndex(mock)
	started := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO run_index").
		WithArgs("run-1", started, StatusComplete, "EXECUTE", "new launch", "EXM", 12).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = index.Upsert(context.Background(), IndexEntry{
		ID:          "run-1",
		StartedAt:   started,
		Status:      StatusComplete,
		Decision:    "EXECUTE",
		Query:       "new launch",
		TokenSymbol: "EXM",
		EventCount:  12,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgIndexUpsertError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	index := NewPgIndex(mock)
	mock.ExpectExec("INSERT INTO run_index").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err = index.Upsert(context.Background(), IndexEntry{ID: "run-1"})
	assert.ErrorContains(t, err, "failed to upsert run index row")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgIndexListNewestFirst(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	index := NewPgIndex(mock)
	newer := time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	rows := pgxmock.NewRows([]string{"id", "started_at", "status", "decision", "query", "token_symbol", "event_count"}).
		AddRow("run-2", newer, StatusComplete, "SKIP", "", "NEW", 8).
		AddRow("run-1", older, StatusError, "", "trending", "", 3)

	mock.ExpectQuery("SELECT id, started_at, status").
		WithArgs(25).
		WillReturnRows(rows)

	entries, err := index.List(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "run-2", entries[0].ID)
	assert.Equal(t, StatusError, entries[1].Status)
	assert.Equal(t, "trending", entries[1].Query)
	require.NoError(t, mock.ExpectationsWereMet())
}
