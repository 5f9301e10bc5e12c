package runrecord

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/config"
	"github.com/nadpilot/nadpilot/internal/metrics"
)

// ErrRecordNotFound is returned for lookups of unknown run ids
var ErrRecordNotFound = errors.New("run record not found")

// ErrDigestMismatch is returned when a record file's header digest does
// not match its body.
var ErrDigestMismatch = errors.New("run record digest mismatch")

const digestHeaderPrefix = "# sha256:"

// IndexEntry is one row of the run index used for listings
type IndexEntry struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"startedAt"`
	Status      Status    `json:"status"`
	Decision    string    `json:"decision,omitempty"`
	Query       string    `json:"query,omitempty"`
	TokenSymbol string    `json:"tokenSymbol,omitempty"`
	EventCount  int       `json:"eventCount"`
}

// Index lists records without loading their files
type Index interface {
	Upsert(ctx context.Context, entry IndexEntry) error
	List(ctx context.Context, limit int) ([]IndexEntry, error)
}

// Store persists run records as files named by run id, with a Postgres
// index row per record for listing.
type Store struct {
	dir       string
	listLimit int
	index     Index
	log       zerolog.Logger
}

// NewStore creates a store writing under cfg.Dir. index may be nil when
// running without Postgres; List then returns nothing.
func NewStore(cfg config.RecordsConfig, index Index) (*Store, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = "data/runs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run record dir: %w", err)
	}
	limit := cfg.ListLimit
	if limit <= 0 {
		limit = 50
	}
	return &Store{
		dir:       dir,
		listLimit: limit,
		index:     index,
		log:       log.With().Str("component", "runrecord").Logger(),
	}, nil
}

// Save writes the record file and its index row. The file carries a
// digest header line followed by the stable-key-order JSON body.
func (s *Store) Save(ctx context.Context, rec *RunRecord) error {
	start := time.Now()

	body, err := rec.CanonicalJSON()
	if err != nil {
		metrics.RecordRunRecordWrite("error", float64(time.Since(start).Milliseconds()))
		return err
	}
	sum := sha256.Sum256(body)

	var buf bytes.Buffer
	buf.WriteString(digestHeaderPrefix)
	buf.WriteString(hex.EncodeToString(sum[:]))
	buf.WriteByte('\n')
	buf.Write(body)
	buf.WriteByte('\n')

	path := s.path(rec.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		metrics.RecordRunRecordWrite("error", float64(time.Since(start).Milliseconds()))
		return fmt.Errorf("failed to write run record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		metrics.RecordRunRecordWrite("error", float64(time.Since(start).Milliseconds()))
		return fmt.Errorf("failed to finalize run record: %w", err)
	}

	if s.index != nil {
		entry := IndexEntry{
			ID:          rec.ID,
			StartedAt:   rec.StartedAt,
			Status:      rec.Status,
			Query:       rec.Query,
			TokenSymbol: rec.TokenSymbol,
			EventCount:  rec.EventCount(),
		}
		if rec.Decision != nil {
			entry.Decision = string(rec.Decision.Status)
		}
		if err := s.index.Upsert(ctx, entry); err != nil {
			metrics.RecordRunRecordWrite("index_error", float64(time.Since(start).Milliseconds()))
			return fmt.Errorf("failed to index run record: %w", err)
		}
	}

	metrics.RecordRunRecordWrite("ok", float64(time.Since(start).Milliseconds()))
	s.log.Debug().Str("run_id", rec.ID).Str("status", string(rec.Status)).Msg("Saved run record")
	return nil
}

// Fetch loads a record by run id and verifies its header digest
func (s *Store) Fetch(id string) (*RunRecord, error) {
	f, err := os.Open(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open run record: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	header, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read run record header: %w", err)
	}
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, digestHeaderPrefix) {
		return nil, fmt.Errorf("run record %s has no digest header", id)
	}
	want := strings.TrimPrefix(header, digestHeaderPrefix)

	var body bytes.Buffer
	if _, err := body.ReadFrom(reader); err != nil {
		return nil, fmt.Errorf("failed to read run record body: %w", err)
	}
	trimmed := bytes.TrimRight(body.Bytes(), "\n")
	sum := sha256.Sum256(trimmed)
	if hex.EncodeToString(sum[:]) != want {
		return nil, ErrDigestMismatch
	}

	var rec RunRecord
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode run record: %w", err)
	}
	if rec.Status != StatusRunning {
		rec.frozen = true
	}
	return &rec, nil
}

// List returns recent records, newest first
func (s *Store) List(ctx context.Context) ([]IndexEntry, error) {
	if s.index == nil {
		return nil, nil
	}
	return s.index.List(ctx, s.listLimit)
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// PoolInterface is the slice of pgxpool.Pool the index uses
type PoolInterface interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// PgIndex is the Postgres run index
type PgIndex struct {
	pool PoolInterface
}

// NewPgIndex creates an index over the given pool
func NewPgIndex(pool PoolInterface) *PgIndex {
	return &PgIndex{pool: pool}
}

// Upsert writes or refreshes one index row
func (i *PgIndex) Upsert(ctx context.Context, entry IndexEntry) error {
	query := `
		INSERT INTO run_index (id, started_at, status, decision, query, token_symbol, event_count)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			decision = EXCLUDED.decision,
			token_symbol = EXCLUDED.token_symbol,
			event_count = EXCLUDED.event_count
	`
	_, err := i.pool.Exec(ctx, query,
		entry.ID, entry.StartedAt, entry.Status, entry.Decision,
		entry.Query, entry.TokenSymbol, entry.EventCount,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert run index row: %w", err)
	}
	return nil
}

// List returns the newest rows first
func (i *PgIndex) List(ctx context.Context, limit int) ([]IndexEntry, error) {
	query := `
		SELECT id, started_at, status, COALESCE(decision, ''), COALESCE(query, ''),
		       COALESCE(token_symbol, ''), event_count
		FROM run_index
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := i.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run index: %w", err)
	}
	defer rows.Close()

	var out []IndexEntry
	for rows.Next() {
		var e IndexEntry
		if err := rows.Scan(&e.ID, &e.StartedAt, &e.Status, &e.Decision,
			&e.Query, &e.TokenSymbol, &e.EventCount); err != nil {
			return nil, fmt.Errorf("failed to scan run index row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run index: %w", err)
	}
	return out, nil
}
