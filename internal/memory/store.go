package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
)

// ErrAlreadyLabeled is returned when RecordOutcome hits an item whose
// outcome was already written. Labeling happens exactly once.
var ErrAlreadyLabeled = errors.New("memory item is already labeled")

// ErrNotFound is returned for lookups of unknown item ids
var ErrNotFound = errors.New("memory item not found")

// Store persists memory items in Postgres with a pgvector embedding
// column. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store over the given pool
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const itemColumns = `
	id, content_hash, content, embedding, kind, tickers,
	content_time, ingest_time, sentiment, score,
	labeled, outcome_direction, outcome_impact_pct, outcome_time_to_impact_ms, outcome_confidence,
	is_duplicate, canonical_id, embedding_model`

// Insert writes one item. The caller supplies id, hash, and embedding;
// duplicate back-pointer rows carry IsDuplicate + CanonicalID and may
// omit the embedding.
func (s *Store) Insert(ctx context.Context, item *Item) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.IngestTime.IsZero() {
		item.IngestTime = time.Now().UTC()
	}

	var embedding interface{}
	if len(item.Embedding) > 0 {
		embedding = pgvector.NewVector(item.Embedding)
	}

	var direction *string
	var impactPct, outcomeConfidence *float64
	var timeToImpact *int64
	if item.Outcome != nil {
		direction = &item.Outcome.Direction
		impactPct = &item.Outcome.ImpactPct
		timeToImpact = &item.Outcome.TimeToImpact
		outcomeConfidence = &item.Outcome.Confidence
	}

	query := `
		INSERT INTO memory_items (` + itemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err := s.pool.Exec(ctx, query,
		item.ID, item.ContentHash, item.Content, embedding, item.Kind, item.Tickers,
		item.ContentTime, item.IngestTime, item.Sentiment, item.Score,
		item.Labeled, direction, impactPct, timeToImpact, outcomeConfidence,
		item.IsDuplicate, item.CanonicalID, item.EmbeddingModel,
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory item: %w", err)
	}

	log.Debug().
		Str("id", item.ID.String()).
		Str("kind", string(item.Kind)).
		Bool("is_duplicate", item.IsDuplicate).
		Msg("Stored memory item")
	return nil
}

// FindByHash returns the canonical (non-duplicate) item for a content
// hash, or ErrNotFound.
func (s *Store) FindByHash(ctx context.Context, contentHash string) (*Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM memory_items
		WHERE content_hash = $1 AND NOT is_duplicate
		ORDER BY ingest_time ASC
		LIMIT 1
	`
	row := s.pool.QueryRow(ctx, query, contentHash)
	item, err := scanItem(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find memory item by hash: %w", err)
	}
	return item, nil
}

// NearestNeighbor returns the closest canonical item to vec plus its
// cosine similarity, or ErrNotFound when the store is empty.
func (s *Store) NearestNeighbor(ctx context.Context, vec []float32) (*Item, float64, error) {
	query := `
		SELECT ` + itemColumns + `, embedding <=> $1 AS distance
		FROM memory_items
		WHERE embedding IS NOT NULL AND NOT is_duplicate
		ORDER BY embedding <=> $1
		LIMIT 1
	`
	row := s.pool.QueryRow(ctx, query, pgvector.NewVector(vec))
	item, distance, err := scanItemWithDistance(row)
	if err != nil {
		if isNoRows(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("failed to query nearest neighbor: %w", err)
	}
	return item, 1 - distance, nil
}

// Search returns up to limit canonical items ranked by cosine
// similarity to vec, with optional filters and a minimum score.
func (s *Store) Search(ctx context.Context, vec []float32, opts SearchOptions) ([]Hit, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	whereClause := "WHERE embedding IS NOT NULL AND NOT is_duplicate"
	args := []interface{}{pgvector.NewVector(vec), limit}
	argIndex := 3

	if opts.MinScore > 0 {
		// similarity = 1 - cosine distance
		whereClause += fmt.Sprintf(" AND embedding <=> $1 <= $%d", argIndex)
		args = append(args, 1-opts.MinScore)
		argIndex++
	}

	for _, filter := range opts.Filters {
		clause, filterArgs := filter.SQL(argIndex)
		if clause != "" {
			whereClause += " AND " + clause
			args = append(args, filterArgs...)
			argIndex += len(filterArgs)
		}
	}

	query := fmt.Sprintf(`
		SELECT `+itemColumns+`, embedding <=> $1 AS distance
		FROM memory_items
		%s
		ORDER BY embedding <=> $1
		LIMIT $2
	`, whereClause)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search memory items: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		item, distance, err := scanItemWithDistance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory item: %w", err)
		}
		hits = append(hits, Hit{Item: item, Score: 1 - distance})
	}
	return hits, rows.Err()
}

// RecordOutcome writes the market-outcome label for one item. The
// labeled flag transitions false to true exactly once; a second call
// returns ErrAlreadyLabeled.
func (s *Store) RecordOutcome(ctx context.Context, id uuid.UUID, outcome OutcomeLabel) error {
	query := `
		UPDATE memory_items
		SET labeled = TRUE,
		    outcome_direction = $2,
		    outcome_impact_pct = $3,
		    outcome_time_to_impact_ms = $4,
		    outcome_confidence = $5
		WHERE id = $1 AND NOT labeled
	`
	tag, err := s.pool.Exec(ctx, query, id, outcome.Direction, outcome.ImpactPct, outcome.TimeToImpact, outcome.Confidence)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var labeled bool
		err := s.pool.QueryRow(ctx, `SELECT labeled FROM memory_items WHERE id = $1`, id).Scan(&labeled)
		if err != nil {
			if isNoRows(err) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to check memory item: %w", err)
		}
		if labeled {
			return ErrAlreadyLabeled
		}
		return ErrNotFound
	}

	log.Debug().
		Str("id", id.String()).
		Str("direction", outcome.Direction).
		Float64("impact_pct", outcome.ImpactPct).
		Msg("Recorded memory item outcome")
	return nil
}

// Count returns the number of canonical items
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memory_items WHERE NOT is_duplicate`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count memory items: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*Item, error) {
	item, _, err := scanItemFields(row, false)
	return item, err
}

func scanItemWithDistance(row rowScanner) (*Item, float64, error) {
	return scanItemFields(row, true)
}

func scanItemFields(row rowScanner, withDistance bool) (*Item, float64, error) {
	var item Item
	var embedding *pgvector.Vector
	var direction *string
	var impactPct, outcomeConfidence *float64
	var timeToImpact *int64
	var distance float64

	dest := []interface{}{
		&item.ID, &item.ContentHash, &item.Content, &embedding, &item.Kind, &item.Tickers,
		&item.ContentTime, &item.IngestTime, &item.Sentiment, &item.Score,
		&item.Labeled, &direction, &impactPct, &timeToImpact, &outcomeConfidence,
		&item.IsDuplicate, &item.CanonicalID, &item.EmbeddingModel,
	}
	if withDistance {
		dest = append(dest, &distance)
	}

	if err := row.Scan(dest...); err != nil {
		return nil, 0, err
	}

	if embedding != nil {
		item.Embedding = embedding.Slice()
	}
	if item.Labeled && direction != nil {
		item.Outcome = &OutcomeLabel{Direction: *direction}
		if impactPct != nil {
			item.Outcome.ImpactPct = *impactPct
		}
		if timeToImpact != nil {
			item.Outcome.TimeToImpact = *timeToImpact
		}
		if outcomeConfidence != nil {
			item.Outcome.Confidence = *outcomeConfidence
		}
	}
	return &item, distance, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// Filter composes into the WHERE clause of Search queries
type Filter interface {
	SQL(argIndex int) (clause string, args []interface{})
}

// KindFilter restricts results to one source kind
type KindFilter struct {
	Kind SourceKind
}

func (f KindFilter) SQL(argIndex int) (string, []interface{}) {
	return fmt.Sprintf("kind = $%d", argIndex), []interface{}{f.Kind}
}

// TickerFilter matches items tagged with the ticker
type TickerFilter struct {
	Ticker string
}

func (f TickerFilter) SQL(argIndex int) (string, []interface{}) {
	return fmt.Sprintf("$%d = ANY(tickers)", argIndex), []interface{}{f.Ticker}
}

// TimeRangeFilter restricts by content time. Zero bounds are open.
type TimeRangeFilter struct {
	From time.Time
	To   time.Time
}

func (f TimeRangeFilter) SQL(argIndex int) (string, []interface{}) {
	switch {
	case !f.From.IsZero() && !f.To.IsZero():
		return fmt.Sprintf("content_time >= $%d AND content_time <= $%d", argIndex, argIndex+1),
			[]interface{}{f.From, f.To}
	case !f.From.IsZero():
		return fmt.Sprintf("content_time >= $%d", argIndex), []interface{}{f.From}
	case !f.To.IsZero():
		return fmt.Sprintf("content_time <= $%d", argIndex), []interface{}{f.To}
	}
	return "", nil
}

// LabeledOnlyFilter restricts to items carrying a market-outcome label
type LabeledOnlyFilter struct{}

func (f LabeledOnlyFilter) SQL(argIndex int) (string, []interface{}) {
	return "labeled", nil
}
