package reward

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrReputationNotFound is returned for lookups of unknown users
var ErrReputationNotFound = errors.New("reputation not found")

// PoolInterface is the slice of pgxpool.Pool the store uses
type PoolInterface interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store persists reward records and reputations in Postgres. Records
// are append-only; reputations are upserted on every change.
type Store struct {
	pool PoolInterface
}

// NewStore creates a store over the given pool
func NewStore(pool PoolInterface) *Store {
	return &Store{pool: pool}
}

// AppendRecord writes one ledger entry and returns its id
func (s *Store) AppendRecord(ctx context.Context, rec *RewardRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO reward_records (user_id, action_id, kind, points, tier, evidence_hash, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := s.pool.QueryRow(ctx, query,
		rec.UserID, rec.ActionID, rec.Kind, rec.Points, rec.Tier,
		rec.EvidenceHash, rec.Reason, rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to append reward record: %w", err)
	}
	return nil
}

// GetReputation returns a user's standing, or ErrReputationNotFound
func (s *Store) GetReputation(ctx context.Context, userID string) (*Reputation, error) {
	query := `
		SELECT user_id, score, tier, total_points, verified_count, rejected_count,
		       penalty_count, account_created_at, suspended_until, updated_at
		FROM reputation_records
		WHERE user_id = $1
	`
	var r Reputation
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&r.UserID, &r.Score, &r.Tier, &r.TotalPoints, &r.VerifiedCount,
		&r.RejectedCount, &r.PenaltyCount, &r.AccountCreatedAt,
		&r.SuspendedUntil, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReputationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reputation: %w", err)
	}
	return &r, nil
}

// UpsertReputation writes a user's recomputed standing
func (s *Store) UpsertReputation(ctx context.Context, r *Reputation) error {
	r.UpdatedAt = time.Now().UTC()
	query := `
		INSERT INTO reputation_records (user_id, score, tier, total_points, verified_count,
		                                rejected_count, penalty_count, account_created_at,
		                                suspended_until, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			score = EXCLUDED.score,
			tier = EXCLUDED.tier,
			total_points = EXCLUDED.total_points,
			verified_count = EXCLUDED.verified_count,
			rejected_count = EXCLUDED.rejected_count,
			penalty_count = EXCLUDED.penalty_count,
			suspended_until = EXCLUDED.suspended_until,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.pool.Exec(ctx, query,
		r.UserID, r.Score, r.Tier, r.TotalPoints, r.VerifiedCount,
		r.RejectedCount, r.PenaltyCount, r.AccountCreatedAt,
		r.SuspendedUntil, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert reputation: %w", err)
	}
	return nil
}

// History returns a user's ledger entries, newest first
func (s *Store) History(ctx context.Context, userID string, limit int) ([]*RewardRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, user_id, action_id, kind, points, tier, evidence_hash, reason, created_at
		FROM reward_records
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reward history: %w", err)
	}
	defer rows.Close()

	var out []*RewardRecord
	for rows.Next() {
		var rec RewardRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ActionID, &rec.Kind,
			&rec.Points, &rec.Tier, &rec.EvidenceHash, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reward record: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reward history: %w", err)
	}
	return out, nil
}
