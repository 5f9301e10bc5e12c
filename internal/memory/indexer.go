package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/metrics"
)

// indexJob is one queued index operation
type indexJob struct {
	id       uuid.UUID
	content  string
	hash     string
	metadata Metadata
	done     chan IndexResult
}

// itemWriter is the slice of Store the indexer needs
type itemWriter interface {
	Insert(ctx context.Context, item *Item) error
	FindByHash(ctx context.Context, contentHash string) (*Item, error)
	NearestNeighbor(ctx context.Context, vec []float32) (*Item, float64, error)
}

// Indexer runs the asynchronous embed-dedup-upsert pipeline on a
// bounded worker pool. The intake is effectively unbounded: jobs that
// do not fit the channel land in an overflow slice, so producers never
// block.
type Indexer struct {
	store    itemWriter
	embedder Embedder
	log      zerolog.Logger

	workers        int
	batchSize      int
	dedupThreshold float64
	jobTimeout     time.Duration

	jobCh chan *indexJob

	mu       sync.Mutex
	overflow []*indexJob
	pending  int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// IndexerConfig tunes the worker pool
type IndexerConfig struct {
	Workers        int
	BatchSize      int
	DedupThreshold float64
	JobTimeout     time.Duration
}

// NewIndexer creates and starts the pool
func NewIndexer(store itemWriter, embedder Embedder, cfg IndexerConfig) *Indexer {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.DedupThreshold <= 0 {
		cfg.DedupThreshold = 0.99
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}

	idx := &Indexer{
		store:          store,
		embedder:       embedder,
		log:            log.With().Str("component", "memory-indexer").Logger(),
		workers:        cfg.Workers,
		batchSize:      cfg.BatchSize,
		dedupThreshold: cfg.DedupThreshold,
		jobTimeout:     cfg.JobTimeout,
		jobCh:          make(chan *indexJob, cfg.Workers*cfg.BatchSize),
		stopCh:         make(chan struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		idx.wg.Add(1)
		go idx.worker(i)
	}

	idx.log.Info().
		Int("workers", cfg.Workers).
		Int("batch_size", cfg.BatchSize).
		Float64("dedup_threshold", cfg.DedupThreshold).
		Msg("Memory indexer started")
	return idx
}

// Enqueue accepts one job without blocking. The returned channel
// receives the final IndexResult once the pipeline finishes; callers
// that do not care may discard it.
func (idx *Indexer) Enqueue(id uuid.UUID, content, hash string, metadata Metadata) <-chan IndexResult {
	job := &indexJob{
		id:       id,
		content:  content,
		hash:     hash,
		metadata: metadata,
		done:     make(chan IndexResult, 1),
	}

	idx.mu.Lock()
	idx.pending++
	depth := idx.pending
	select {
	case idx.jobCh <- job:
	default:
		idx.overflow = append(idx.overflow, job)
	}
	idx.mu.Unlock()

	metrics.UpdateIndexerQueueDepth(depth)
	return job.done
}

// QueueDepth returns the number of jobs not yet completed
func (idx *Indexer) QueueDepth() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.pending
}

// nextJob pulls from the channel, refilling it from the overflow slice
func (idx *Indexer) nextJob() (*indexJob, bool) {
	for {
		idx.refill()
		select {
		case <-idx.stopCh:
			// Drain what is already queued before exiting
			select {
			case job := <-idx.jobCh:
				return job, true
			default:
				return nil, false
			}
		case job := <-idx.jobCh:
			return job, true
		}
	}
}

func (idx *Indexer) refill() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for len(idx.overflow) > 0 {
		select {
		case idx.jobCh <- idx.overflow[0]:
			idx.overflow = idx.overflow[1:]
		default:
			return
		}
	}
}

func (idx *Indexer) worker(n int) {
	defer idx.wg.Done()
	for {
		job, ok := idx.nextJob()
		if !ok {
			return
		}
		result := idx.process(job)
		idx.finish(job, result)
	}
}

func (idx *Indexer) finish(job *indexJob, result IndexResult) {
	idx.mu.Lock()
	idx.pending--
	depth := idx.pending
	idx.mu.Unlock()
	metrics.UpdateIndexerQueueDepth(depth)

	job.done <- result
	close(job.done)
}

// process runs embed → nearest neighbor → dedup decision → insert
func (idx *Indexer) process(job *indexJob) IndexResult {
	ctx, cancel := context.WithTimeout(context.Background(), idx.jobTimeout)
	defer cancel()

	// Exact-hash duplicates short-circuit before embedding
	if existing, err := idx.store.FindByHash(ctx, job.hash); err == nil {
		return idx.writeDuplicate(ctx, job, existing.ID, nil)
	}

	vec, err := idx.embedder.Embed(ctx, job.content)
	if err != nil {
		idx.log.Warn().Err(err).Str("id", job.id.String()).Msg("Embedding failed, dropping index job")
		return IndexResult{ID: job.id, Err: err}
	}

	neighbor, similarity, err := idx.store.NearestNeighbor(ctx, vec)
	if err == nil && similarity >= idx.dedupThreshold {
		return idx.writeDuplicate(ctx, job, neighbor.ID, vec)
	}

	item := idx.buildItem(job, vec, false, nil)
	if err := idx.store.Insert(ctx, item); err != nil {
		idx.log.Error().Err(err).Str("id", job.id.String()).Msg("Failed to insert memory item")
		return IndexResult{ID: job.id, Err: err}
	}

	metrics.RecordMemoryIndexed(string(job.metadata.Kind))
	return IndexResult{ID: job.id}
}

// writeDuplicate records a back-pointer row instead of a full item
func (idx *Indexer) writeDuplicate(ctx context.Context, job *indexJob, canonicalID uuid.UUID, vec []float32) IndexResult {
	item := idx.buildItem(job, vec, true, &canonicalID)
	if err := idx.store.Insert(ctx, item); err != nil {
		idx.log.Error().Err(err).Str("id", job.id.String()).Msg("Failed to insert duplicate back-pointer")
		return IndexResult{ID: job.id, Err: err}
	}

	metrics.RecordMemoryDedupHit()
	idx.log.Debug().
		Str("id", job.id.String()).
		Str("canonical_id", canonicalID.String()).
		Msg("Memory item deduplicated")
	return IndexResult{ID: job.id, IsDuplicate: true, CanonicalID: &canonicalID}
}

func (idx *Indexer) buildItem(job *indexJob, vec []float32, duplicate bool, canonicalID *uuid.UUID) *Item {
	return &Item{
		ID:             job.id,
		ContentHash:    job.hash,
		Content:        job.content,
		Embedding:      vec,
		Kind:           job.metadata.Kind,
		Tickers:        job.metadata.Tickers,
		ContentTime:    job.metadata.ContentTime,
		IngestTime:     time.Now().UTC(),
		Sentiment:      job.metadata.Sentiment,
		Score:          job.metadata.Score,
		IsDuplicate:    duplicate,
		CanonicalID:    canonicalID,
		EmbeddingModel: idx.embedder.Model(),
	}
}

// Close stops intake and waits for in-flight jobs to finish
func (idx *Indexer) Close() {
	idx.stopOnce.Do(func() { close(idx.stopCh) })
	idx.wg.Wait()
	idx.log.Info().Msg("Memory indexer stopped")
}
