package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrPreviousCIDRequired is returned when a successor version omits its
// predecessor's CID.
var ErrPreviousCIDRequired = errors.New("previous cid is required for successor versions")

// ErrVersionNotFound is returned for lookups of unknown versions
var ErrVersionNotFound = errors.New("metadata version not found")

// VersionStore persists descriptor versions in Postgres
type VersionStore struct {
	pool *pgxpool.Pool
}

// NewVersionStore creates a store over the given pool
func NewVersionStore(pool *pgxpool.Pool) *VersionStore {
	return &VersionStore{pool: pool}
}

// Insert appends a new version for the token. The version number is
// assigned monotonically; any version after the first must carry the
// previous CID.
func (s *VersionStore) Insert(ctx context.Context, v *TokenMetadataVersion) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin metadata transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var latestVersion int
	var latestCID string
	err = tx.QueryRow(ctx, `
		SELECT version, cid FROM token_metadata_versions
		WHERE token = $1 AND chain_id = $2
		ORDER BY version DESC LIMIT 1
	`, v.Token, v.ChainID).Scan(&latestVersion, &latestCID)
	switch {
	case err == nil:
		if v.PreviousCID == "" {
			return ErrPreviousCIDRequired
		}
		if v.PreviousCID != latestCID {
			return fmt.Errorf("previous cid %s does not match latest %s", v.PreviousCID, latestCID)
		}
		v.Version = latestVersion + 1
	case errors.Is(err, pgx.ErrNoRows):
		v.Version = 1
	default:
		return fmt.Errorf("failed to read latest metadata version: %w", err)
	}

	body, err := json.Marshal(v.Body)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor body: %w", err)
	}
	patch, err := json.Marshal(v.Patch)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor patch: %w", err)
	}
	pins, err := json.Marshal(v.PinResults)
	if err != nil {
		return fmt.Errorf("failed to marshal pin results: %w", err)
	}

	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO token_metadata_versions
			(token, chain_id, version, cid, previous_cid, body, integrity, patch, milestone_kind, milestone_threshold, pin_results, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`, v.Token, v.ChainID, v.Version, v.CID, v.PreviousCID, body, v.Integrity, patch,
		string(v.Milestone.Kind), v.Milestone.Threshold, pins, v.CreatedAt).Scan(&v.ID)
	if err != nil {
		return fmt.Errorf("failed to insert metadata version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit metadata version: %w", err)
	}
	return nil
}

// Latest returns the newest version for a token
func (s *VersionStore) Latest(ctx context.Context, token string, chainID int64) (*TokenMetadataVersion, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, token, chain_id, version, cid, COALESCE(previous_cid, ''), body, integrity, patch,
		       milestone_kind, milestone_threshold, pin_results, created_at
		FROM token_metadata_versions
		WHERE token = $1 AND chain_id = $2
		ORDER BY version DESC LIMIT 1
	`, token, chainID)
	return scanVersion(row)
}

// History returns every version for a token, oldest first
func (s *VersionStore) History(ctx context.Context, token string, chainID int64) ([]*TokenMetadataVersion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, token, chain_id, version, cid, COALESCE(previous_cid, ''), body, integrity, patch,
		       milestone_kind, milestone_threshold, pin_results, created_at
		FROM token_metadata_versions
		WHERE token = $1 AND chain_id = $2
		ORDER BY version ASC
	`, token, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata history: %w", err)
	}
	defer rows.Close()

	var out []*TokenMetadataVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVersion(row rowScanner) (*TokenMetadataVersion, error) {
	var v TokenMetadataVersion
	var body, patch, pins []byte
	var kind string
	err := row.Scan(&v.ID, &v.Token, &v.ChainID, &v.Version, &v.CID, &v.PreviousCID,
		&body, &v.Integrity, &patch, &kind, &v.Milestone.Threshold, &pins, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("failed to scan metadata version: %w", err)
	}
	v.Milestone.Kind = MilestoneKind(kind)

	if err := json.Unmarshal(body, &v.Body); err != nil {
		return nil, fmt.Errorf("failed to unmarshal descriptor body: %w", err)
	}
	if len(patch) > 0 {
		if err := json.Unmarshal(patch, &v.Patch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal descriptor patch: %w", err)
		}
	}
	if len(pins) > 0 {
		if err := json.Unmarshal(pins, &v.PinResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pin results: %w", err)
		}
	}
	return &v, nil
}
