package runrecord

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nadpilot/nadpilot/internal/agents"
	"github.com/nadpilot/nadpilot/internal/consensus"
	"github.com/nadpilot/nadpilot/internal/events"
)

// SchemaVersion is written into every new record. Replay refuses
// records whose major version differs.
const SchemaVersion = "1.0.0"

// ErrFrozen is returned for writes to a completed record
var ErrFrozen = errors.New("run record is frozen")

// Status of a run record
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// RunRecord is the append-only per-run artifact. Only the owning run
// writes it; once frozen it is immutable and content-addressed.
type RunRecord struct {
	mu     sync.Mutex
	frozen bool

	ID            string              `json:"id"`
	SchemaVersion string              `json:"schemaVersion"`
	CorrelationID string              `json:"correlationId"`
	Query         string              `json:"query,omitempty"`
	Token         string              `json:"token,omitempty"`
	TokenSymbol   string              `json:"tokenSymbol,omitempty"`
	StartedAt     time.Time           `json:"startedAt"`
	CompletedAt   *time.Time          `json:"completedAt,omitempty"`
	Status        Status              `json:"status"`
	Opinions      []agents.Opinion    `json:"opinions,omitempty"`
	Decision      *consensus.Decision `json:"decision,omitempty"`
	Events        []events.Event      `json:"events,omitempty"`
	Error         string              `json:"error,omitempty"`
	ContentHash   string              `json:"contentHash,omitempty"`
}

// New creates a running record for the given run
func New(runID, correlationID, query string) *RunRecord {
	return &RunRecord{
		ID:            runID,
		SchemaVersion: SchemaVersion,
		CorrelationID: correlationID,
		Query:         query,
		StartedAt:     time.Now().UTC(),
		Status:        StatusRunning,
	}
}

// SetToken records the token under evaluation
func (r *RunRecord) SetToken(address, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	r.Token = address
	r.TokenSymbol = symbol
	return nil
}

// AppendOpinion appends one agent opinion. Callers append in the order
// agents complete, which the record preserves.
func (r *RunRecord) AppendOpinion(op agents.Opinion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	r.Opinions = append(r.Opinions, op)
	return nil
}

// AppendEvent appends one bus event to the record's stream
func (r *RunRecord) AppendEvent(e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	r.Events = append(r.Events, e)
	return nil
}

// SetDecision records the consensus outcome
func (r *RunRecord) SetDecision(d consensus.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	r.Decision = &d
	return nil
}

// Complete freezes the record as successful and content-addresses it
func (r *RunRecord) Complete() error {
	return r.freeze(StatusComplete, "")
}

// Fail freezes the record in the error state. Opinions appended before
// the failure stay in the record.
func (r *RunRecord) Fail(message string) error {
	return r.freeze(StatusError, message)
}

func (r *RunRecord) freeze(status Status, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	now := time.Now().UTC()
	r.Status = status
	r.CompletedAt = &now
	r.Error = message

	hash, err := r.contentHashLocked()
	if err != nil {
		return err
	}
	r.ContentHash = hash
	r.frozen = true
	return nil
}

// Frozen reports whether the record accepts further writes
func (r *RunRecord) Frozen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen
}

// EventCount returns the number of recorded events
func (r *RunRecord) EventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Events)
}

// ContentAddress recomputes the record's digest. For a frozen record it
// matches ContentHash.
func (r *RunRecord) ContentAddress() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contentHashLocked()
}

// contentHashLocked digests the record body minus the contentHash field
// itself. Marshaling through a map gives stable key order.
func (r *RunRecord) contentHashLocked() (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal run record: %w", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("failed to canonicalize run record: %w", err)
	}
	delete(body, "contentHash")
	canonical, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal canonical record: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalJSON returns the stable-key-order body written to disk
func (r *RunRecord) CanonicalJSON() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run record: %w", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to canonicalize run record: %w", err)
	}
	return json.MarshalIndent(body, "", "  ")
}
