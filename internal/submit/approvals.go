package submit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/events"
)

// ApprovalStatus tracks an operator decision over a held submission
type ApprovalStatus string

const (
	ApprovalPending      ApprovalStatus = "pending"
	ApprovalApproved     ApprovalStatus = "approved"
	ApprovalRejected     ApprovalStatus = "rejected"
	ApprovalExpired      ApprovalStatus = "expired"
	ApprovalAutoApproved ApprovalStatus = "auto_approved"
	ApprovalAutoRejected ApprovalStatus = "auto_rejected"
)

// Approval is one held decision awaiting an operator
type Approval struct {
	DecisionID  string         `json:"decisionId"`
	RunID       string         `json:"runId,omitempty"`
	Status      ApprovalStatus `json:"status"`
	RequestedAt time.Time      `json:"requestedAt"`
	ExpiresAt   time.Time      `json:"expiresAt"`
	ResolvedAt  *time.Time     `json:"resolvedAt,omitempty"`
	Actor       string         `json:"actor,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

// ApprovalRegistry holds pending approvals keyed by decision id. An
// entry past its expiry resolves to expired on the next read; expired
// decisions never execute. Registries attached to NATS mirror every
// state change, so the API process and the orchestrator's router
// resolve against the same approvals.
type ApprovalRegistry struct {
	now    func() time.Time
	log    zerolog.Logger
	origin string

	mu        sync.Mutex
	nc        *nats.Conn
	approvals map[string]*Approval
}

// NewApprovalRegistry creates an empty registry
func NewApprovalRegistry() *ApprovalRegistry {
	return &ApprovalRegistry{
		now:       func() time.Time { return time.Now().UTC() },
		log:       log.With().Str("component", "approval-registry").Logger(),
		origin:    uuid.NewString(),
		approvals: make(map[string]*Approval),
	}
}

// approvalSync is the wire form of one mirrored state change. Origin
// lets a registry skip its own broadcasts.
type approvalSync struct {
	Origin   string   `json:"origin"`
	Approval Approval `json:"approval"`
}

// Attach mirrors the registry over the shared approvals subject. The
// caller owns the returned subscription.
func (r *ApprovalRegistry) Attach(nc *nats.Conn) (*nats.Subscription, error) {
	r.mu.Lock()
	r.nc = nc
	r.mu.Unlock()

	sub, err := nc.Subscribe(events.SubjectApprovals, func(msg *nats.Msg) {
		var in approvalSync
		if err := json.Unmarshal(msg.Data, &in); err != nil {
			r.log.Error().Err(err).Msg("Failed to decode approval broadcast")
			return
		}
		if in.Origin == r.origin {
			return
		}
		r.apply(in.Approval)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to approval subject: %w", err)
	}
	return sub, nil
}

// apply merges one remote approval. A resolution wins over a local
// pending entry; a locally resolved entry never flips back.
func (r *ApprovalRegistry) apply(in Approval) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.approvals[in.DecisionID]
	if !ok {
		a := in
		r.approvals[in.DecisionID] = &a
		return
	}
	r.refreshLocked(existing)
	if existing.Status == ApprovalPending && in.Status != ApprovalPending {
		*existing = in
	}
}

// broadcastLocked mirrors one state change to the attached conn
func (r *ApprovalRegistry) broadcastLocked(a *Approval) {
	if r.nc == nil {
		return
	}
	data, err := json.Marshal(approvalSync{Origin: r.origin, Approval: *a})
	if err != nil {
		r.log.Error().Err(err).Str("decision_id", a.DecisionID).Msg("Failed to encode approval broadcast")
		return
	}
	if err := r.nc.Publish(events.SubjectApprovals, data); err != nil {
		r.log.Error().Err(err).Str("decision_id", a.DecisionID).Msg("Failed to broadcast approval")
	}
}

// Request registers a pending approval for a decision. Requesting an
// already-registered decision returns the existing entry.
func (r *ApprovalRegistry) Request(decisionID, runID string, expiresAt time.Time) Approval {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.approvals[decisionID]; ok {
		return *r.refreshLocked(existing)
	}

	a := &Approval{
		DecisionID:  decisionID,
		RunID:       runID,
		Status:      ApprovalPending,
		RequestedAt: r.now(),
		ExpiresAt:   expiresAt,
	}
	r.approvals[decisionID] = a
	r.broadcastLocked(a)
	r.log.Info().Str("decision_id", decisionID).Time("expires_at", expiresAt).Msg("Approval requested")
	return *a
}

// Approve resolves a pending approval in the operator's favor
func (r *ApprovalRegistry) Approve(decisionID, actor string) (Approval, error) {
	return r.resolve(decisionID, actor, "", ApprovalApproved)
}

// Reject resolves a pending approval against execution
func (r *ApprovalRegistry) Reject(decisionID, actor, reason string) (Approval, error) {
	return r.resolve(decisionID, actor, reason, ApprovalRejected)
}

func (r *ApprovalRegistry) resolve(decisionID, actor, reason string, status ApprovalStatus) (Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.approvals[decisionID]
	if !ok {
		return Approval{}, fmt.Errorf("no approval registered for decision %s", decisionID)
	}
	r.refreshLocked(a)
	if a.Status != ApprovalPending {
		return *a, fmt.Errorf("decision %s already resolved as %s", decisionID, a.Status)
	}

	now := r.now()
	a.Status = status
	a.ResolvedAt = &now
	a.Actor = actor
	a.Reason = reason
	r.broadcastLocked(a)
	r.log.Info().
		Str("decision_id", decisionID).
		Str("status", string(status)).
		Str("actor", actor).
		Msg("Approval resolved")
	return *a, nil
}

// Status returns the current state of an approval
func (r *ApprovalRegistry) Status(decisionID string) (Approval, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.approvals[decisionID]
	if !ok {
		return Approval{}, false
	}
	return *r.refreshLocked(a), true
}

// Pending lists every approval still waiting on an operator
func (r *ApprovalRegistry) Pending() []Approval {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Approval
	for _, a := range r.approvals {
		if r.refreshLocked(a).Status == ApprovalPending {
			out = append(out, *a)
		}
	}
	return out
}

// refreshLocked lazily expires a pending approval past its window
func (r *ApprovalRegistry) refreshLocked(a *Approval) *Approval {
	if a.Status == ApprovalPending && !a.ExpiresAt.IsZero() && !r.now().Before(a.ExpiresAt) {
		now := r.now()
		a.Status = ApprovalExpired
		a.ResolvedAt = &now
	}
	return a
}
