package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/config"
	"github.com/nadpilot/nadpilot/internal/metrics"
	"github.com/nadpilot/nadpilot/internal/validation"
)

// Memory is the vector store boundary: asynchronous indexing with
// deduplication on the write side, ranked similarity with statistics on
// the read side.
type Memory struct {
	store    *Store
	embedder Embedder
	indexer  *Indexer
	log      zerolog.Logger
}

// New wires the store, embedder, and indexer pool
func New(store *Store, embedder Embedder, cfg config.MemoryConfig) *Memory {
	indexer := NewIndexer(store, embedder, IndexerConfig{
		Workers:        cfg.IndexerWorkers,
		BatchSize:      cfg.IndexerBatch,
		DedupThreshold: cfg.DedupThreshold,
	})
	return &Memory{
		store:    store,
		embedder: embedder,
		indexer:  indexer,
		log:      log.With().Str("component", "memory").Logger(),
	}
}

// Index accepts content for asynchronous indexing and returns an
// accepted receipt immediately. The returned result channel reports the
// dedup outcome when the pipeline finishes.
func (m *Memory) Index(content string, metadata Metadata) (IndexReceipt, <-chan IndexResult, error) {
	if content == "" {
		return IndexReceipt{}, nil, &validation.ValidationError{Field: "content", Message: "is required"}
	}
	if !ValidSourceKind(metadata.Kind) {
		return IndexReceipt{}, nil, &validation.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown source kind %q", metadata.Kind)}
	}
	if metadata.ContentTime.IsZero() {
		metadata.ContentTime = time.Now().UTC()
	}

	id := uuid.New()
	hash := ContentHash(content)
	done := m.indexer.Enqueue(id, content, hash, metadata)
	return IndexReceipt{ID: id, Accepted: true}, done, nil
}

// RecordOutcome attaches a market-outcome label to one item, exactly once
func (m *Memory) RecordOutcome(ctx context.Context, id uuid.UUID, outcome OutcomeLabel) error {
	return m.store.RecordOutcome(ctx, id, outcome)
}

// FindSimilar embeds the query text and returns ranked hits plus the
// statistics block.
func (m *Memory) FindSimilar(ctx context.Context, text string, opts SearchOptions) (*SearchResult, error) {
	if text == "" {
		return nil, &validation.ValidationError{Field: "text", Message: "is required"}
	}

	start := time.Now()
	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := m.store.Search(ctx, vec, opts)
	if err != nil {
		return nil, err
	}

	metrics.RecordMemorySearch(float64(time.Since(start).Milliseconds()))
	return &SearchResult{
		Hits:  hits,
		Stats: ComputeStats(hits, time.Now().UTC()),
	}, nil
}

// QueueDepth exposes the indexer backlog for health reporting
func (m *Memory) QueueDepth() int {
	return m.indexer.QueueDepth()
}

// Close drains the indexer pool
func (m *Memory) Close() {
	m.indexer.Close()
}

// ComputeStats derives the statistics block for a set of hits. Pure
// function of the hits and the reference time.
func ComputeStats(hits []Hit, now time.Time) SearchStats {
	stats := SearchStats{
		TotalResults: len(hits),
		Sentiment:    map[string]int{"positive": 0, "neutral": 0, "negative": 0},
	}
	if len(hits) == 0 {
		return stats
	}

	var scoreSum float64
	labeled := 0
	var impact ImpactBreakdown
	var impactSum, timeSum float64

	for _, hit := range hits {
		scoreSum += hit.Score

		switch {
		case hit.Item.Sentiment > 0.2:
			stats.Sentiment["positive"]++
		case hit.Item.Sentiment < -0.2:
			stats.Sentiment["negative"]++
		default:
			stats.Sentiment["neutral"]++
		}

		age := now.Sub(hit.Item.ContentTime)
		switch {
		case age <= time.Hour:
			stats.Temporal.LastHour++
		case age <= 24*time.Hour:
			stats.Temporal.LastDay++
		case age <= 7*24*time.Hour:
			stats.Temporal.LastWeek++
		default:
			stats.Temporal.Older++
		}

		if hit.Item.Labeled && hit.Item.Outcome != nil {
			labeled++
			switch hit.Item.Outcome.Direction {
			case "up":
				impact.UpCount++
			case "down":
				impact.DownCount++
			default:
				impact.NeutralCount++
			}
			impactSum += hit.Item.Outcome.ImpactPct
			timeSum += float64(hit.Item.Outcome.TimeToImpact)
		}
	}

	stats.AvgScore = scoreSum / float64(len(hits))

	// The price-impact breakdown is only meaningful when at least half
	// the hits carry outcome labels.
	if labeled*2 >= len(hits) && labeled > 0 {
		impact.MeanImpactPct = impactSum / float64(labeled)
		impact.MeanTimeToImpactMS = timeSum / float64(labeled)
		stats.Impact = &impact
	}

	return stats
}
