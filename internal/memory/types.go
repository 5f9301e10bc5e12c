package memory

import (
	"time"

	"github.com/google/uuid"
)

// SourceKind classifies where a memory item came from
type SourceKind string

const (
	SourceNews        SourceKind = "news"
	SourceSocial      SourceKind = "social"
	SourceMarket      SourceKind = "market"
	SourceTransaction SourceKind = "transaction"
	SourceDecision    SourceKind = "decision"
	SourceQuery       SourceKind = "query"
	SourceDocument    SourceKind = "document"
)

// ValidSourceKind reports whether k is a known source kind
func ValidSourceKind(k SourceKind) bool {
	switch k {
	case SourceNews, SourceSocial, SourceMarket, SourceTransaction,
		SourceDecision, SourceQuery, SourceDocument:
		return true
	}
	return false
}

// OutcomeLabel is the market outcome attached to an item once it is known.
// Direction is up, down, or neutral.
type OutcomeLabel struct {
	Direction    string  `json:"direction"`
	ImpactPct    float64 `json:"impactPct"`
	TimeToImpact int64   `json:"timeToImpactMs"`
	Confidence   float64 `json:"confidence"`
}

// Metadata is the caller-supplied context for one indexed item
type Metadata struct {
	Kind        SourceKind `json:"kind"`
	Tickers     []string   `json:"tickers,omitempty"`
	ContentTime time.Time  `json:"contentTime"`
	Sentiment   float64    `json:"sentiment"`
	Score       float64    `json:"score"`
}

// Item is one vector store row
type Item struct {
	ID             uuid.UUID     `json:"id"`
	ContentHash    string        `json:"contentHash"`
	Content        string        `json:"content"`
	Embedding      []float32     `json:"-"`
	Kind           SourceKind    `json:"kind"`
	Tickers        []string      `json:"tickers,omitempty"`
	ContentTime    time.Time     `json:"contentTime"`
	IngestTime     time.Time     `json:"ingestTime"`
	Sentiment      float64       `json:"sentiment"`
	Score          float64       `json:"score"`
	Labeled        bool          `json:"labeled"`
	Outcome        *OutcomeLabel `json:"outcome,omitempty"`
	IsDuplicate    bool          `json:"isDuplicate"`
	CanonicalID    *uuid.UUID    `json:"canonicalId,omitempty"`
	EmbeddingModel string        `json:"embeddingModel"`
}

// IndexReceipt is returned to Index callers immediately; the embedding
// and upsert happen asynchronously on the indexer pool.
type IndexReceipt struct {
	ID       uuid.UUID `json:"id"`
	Accepted bool      `json:"accepted"`
}

// IndexResult is the final outcome of one asynchronous index operation
type IndexResult struct {
	ID          uuid.UUID  `json:"id"`
	IsDuplicate bool       `json:"isDuplicate"`
	CanonicalID *uuid.UUID `json:"canonicalId,omitempty"`
	Err         error      `json:"-"`
}

// SearchOptions bounds a similarity lookup
type SearchOptions struct {
	Limit    int
	MinScore float64
	Filters  []Filter
}

// Hit is one ranked similarity result
type Hit struct {
	Item  *Item   `json:"item"`
	Score float64 `json:"score"` // cosine similarity in (0, 1]
}

// ImpactBreakdown summarizes market-outcome labels across the hits.
// Present only when at least half the returned items are labeled.
type ImpactBreakdown struct {
	UpCount            int     `json:"upCount"`
	DownCount          int     `json:"downCount"`
	NeutralCount       int     `json:"neutralCount"`
	MeanImpactPct      float64 `json:"meanImpactPct"`
	MeanTimeToImpactMS float64 `json:"meanTimeToImpactMs"`
}

// TemporalHistogram buckets hits by content age
type TemporalHistogram struct {
	LastHour int `json:"lastHour"`
	LastDay  int `json:"lastDay"`
	LastWeek int `json:"lastWeek"`
	Older    int `json:"older"`
}

// SearchStats is the statistics block attached to every similarity
// response.
type SearchStats struct {
	TotalResults int                `json:"totalResults"`
	AvgScore     float64            `json:"avgScore"`
	Impact       *ImpactBreakdown   `json:"impact,omitempty"`
	Sentiment    map[string]int     `json:"sentiment"`
	Temporal     TemporalHistogram  `json:"temporal"`
}

// SearchResult is the full similarity response
type SearchResult struct {
	Hits  []Hit       `json:"hits"`
	Stats SearchStats `json:"stats"`
}
