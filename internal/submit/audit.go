package submit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/metrics"
)

// AuditEntry is one submission audit fact. Every routing attempt
// produces exactly one, successes and refusals alike.
type AuditEntry struct {
	Timestamp     time.Time `json:"ts"`
	Outcome       string    `json:"outcome"` // attempt, success, failed, fallback_blocked, policy_violation, write_blocked, drained
	Route         string    `json:"route,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	PlanID        string    `json:"planId,omitempty"`
	SimulationID  string    `json:"simulationId,omitempty"`
	BundleID      string    `json:"bundleId,omitempty"`
	TxHash        string    `json:"txHash,omitempty"`
	Nonce         *uint64   `json:"nonce,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	SecurityEvent bool      `json:"securityEvent,omitempty"`
}

// AuditWriter batches entries to JSONL files partitioned by local date.
// Security entries are mirrored into a security/ sub-partition. Entries
// flush on a timer and on Close; insertion order is preserved.
type AuditWriter struct {
	dir      string
	interval time.Duration
	now      func() time.Time
	loc      *time.Location
	log      zerolog.Logger

	mu      sync.Mutex
	pending []AuditEntry
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewAuditWriter creates the audit writer and starts its flush loop
func NewAuditWriter(dir string, flushInterval time.Duration) (*AuditWriter, error) {
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	if err := os.MkdirAll(filepath.Join(dir, "security"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	w := &AuditWriter{
		dir:      dir,
		interval: flushInterval,
		now:      func() time.Time { return time.Now().UTC() },
		loc:      time.Local,
		log:      log.With().Str("component", "audit-writer").Logger(),
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.flushLoop()
	return w, nil
}

// Write queues one entry for the next flush
func (w *AuditWriter) Write(entry AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = w.now()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.log.Error().Str("outcome", entry.Outcome).Msg("Audit entry dropped after close")
		return
	}
	w.pending = append(w.pending, entry)
}

// Flush writes every pending entry to disk immediately
func (w *AuditWriter) Flush() error {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	started := time.Now()
	err := w.writeBatch(batch)
	metrics.RecordAuditLog("submission", err == nil, float64(time.Since(started).Milliseconds()))
	if err != nil {
		metrics.RecordAuditLogFailure("write", "submission")
		w.log.Error().Err(err).Int("entries", len(batch)).Msg("Audit flush failed")
		return err
	}
	return nil
}

func (w *AuditWriter) writeBatch(batch []AuditEntry) error {
	byFile := make(map[string][]AuditEntry)
	order := make([]string, 0, 2)
	appendTo := func(path string, entry AuditEntry) {
		if _, ok := byFile[path]; !ok {
			order = append(order, path)
		}
		byFile[path] = append(byFile[path], entry)
	}

	for _, entry := range batch {
		date := entry.Timestamp.In(w.loc).Format("2006-01-02")
		appendTo(filepath.Join(w.dir, fmt.Sprintf("audit-%s.jsonl", date)), entry)
		if entry.SecurityEvent {
			appendTo(filepath.Join(w.dir, "security", fmt.Sprintf("audit-%s.jsonl", date)), entry)
		}
	}

	for _, path := range order {
		if err := appendLines(path, byFile[path]); err != nil {
			return err
		}
	}
	return nil
}

func appendLines(path string, entries []AuditEntry) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit file %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("failed to encode audit entry: %w", err)
		}
	}
	return nil
}

func (w *AuditWriter) flushLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = w.Flush()
		case <-w.done:
			return
		}
	}
}

// Close flushes remaining entries and stops the writer
func (w *AuditWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	return w.Flush()
}
