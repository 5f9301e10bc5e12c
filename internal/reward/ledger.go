package reward

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/config"
	"github.com/nadpilot/nadpilot/internal/events"
	"github.com/nadpilot/nadpilot/internal/metrics"
)

// ErrUserSuspended is returned when a suspended user submits an action
var ErrUserSuspended = errors.New("user is suspended")

// ErrQueueFull is returned when the action queue is at capacity
var ErrQueueFull = errors.New("reward queue is full")

// ledgerStore is the persistence surface the ledger needs
type ledgerStore interface {
	AppendRecord(ctx context.Context, rec *RewardRecord) error
	GetReputation(ctx context.Context, userID string) (*Reputation, error)
	UpsertReputation(ctx context.Context, r *Reputation) error
}

// Ledger verifies submitted actions through an oracle and maintains the
// append-only reward ledger plus per-user reputations. Actions are
// consumed asynchronously by a worker pool.
type Ledger struct {
	oracle Oracle
	store  ledgerStore
	bus    *events.Bus
	now    func() time.Time
	log    zerolog.Logger

	queue   chan Action
	workers int
	wg      sync.WaitGroup
	once    sync.Once

	mu sync.Mutex // serializes reputation read-modify-write per process
}

// NewLedger creates a ledger; Start launches the workers
func NewLedger(cfg config.RewardConfig, oracle Oracle, store ledgerStore, bus *events.Bus) *Ledger {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 4
	}
	return &Ledger{
		oracle:  oracle,
		store:   store,
		bus:     bus,
		now:     time.Now,
		log:     log.With().Str("component", "reward").Logger(),
		queue:   make(chan Action, queueSize),
		workers: workers,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled
// or Close is called.
func (l *Ledger) Start(ctx context.Context) {
	for i := 0; i < l.workers; i++ {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case action, ok := <-l.queue:
					if !ok {
						return
					}
					if err := l.Process(ctx, action); err != nil {
						l.log.Error().Err(err).
							Str("action_id", action.ID).
							Str("user_id", action.UserID).
							Msg("Failed to process reward action")
					}
				}
			}
		}()
	}
}

// Close stops accepting actions and waits for in-flight work
func (l *Ledger) Close() {
	l.once.Do(func() { close(l.queue) })
	l.wg.Wait()
}

// Submit enqueues an action for asynchronous processing. Suspended
// users are refused before the action enters the queue.
func (l *Ledger) Submit(ctx context.Context, action Action) error {
	rep, err := l.store.GetReputation(ctx, action.UserID)
	if err != nil && !errors.Is(err, ErrReputationNotFound) {
		return fmt.Errorf("failed to check reputation: %w", err)
	}
	if rep != nil && rep.Suspended(l.now()) {
		metrics.RecordRewardEvent(string(action.Kind), "refused_suspended")
		return ErrUserSuspended
	}

	if action.SubmittedAt.IsZero() {
		action.SubmittedAt = l.now().UTC()
	}
	select {
	case l.queue <- action:
		return nil
	default:
		metrics.RecordRewardEvent(string(action.Kind), "queue_full")
		return ErrQueueFull
	}
}

// QueueDepth returns the number of actions waiting for a worker
func (l *Ledger) QueueDepth() int {
	return len(l.queue)
}

// Process verifies one action and applies the outcome. It is called by
// the workers but is exported for synchronous paths and tests.
func (l *Ledger) Process(ctx context.Context, action Action) error {
	if _, ok := basePoints[action.Kind]; !ok {
		return fmt.Errorf("unknown action kind %s", action.Kind)
	}

	verification, err := l.oracle.Verify(ctx, action)
	if err != nil {
		metrics.RecordRewardEvent(string(action.Kind), "oracle_error")
		return fmt.Errorf("oracle verification failed: %w", err)
	}

	if verification.Verified {
		return l.credit(ctx, action, verification)
	}
	return l.Penalize(ctx, action.UserID, action.ID, PenaltyRejected, verification.Reason)
}

func (l *Ledger) credit(ctx context.Context, action Action, verification Verification) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rep, err := l.reputationLocked(ctx, action.UserID)
	if err != nil {
		return err
	}

	points := int64(float64(basePoints[action.Kind]) * TierMultiplier(rep.Tier))
	rec := &RewardRecord{
		UserID:       action.UserID,
		ActionID:     action.ID,
		Kind:         action.Kind,
		Points:       points,
		Tier:         rep.Tier,
		EvidenceHash: verification.EvidenceHash,
		CreatedAt:    l.now().UTC(),
	}
	if err := l.store.AppendRecord(ctx, rec); err != nil {
		return err
	}

	rep.TotalPoints += points
	rep.VerifiedCount++
	if err := l.recomputeLocked(ctx, rep); err != nil {
		return err
	}

	metrics.RecordRewardEvent(string(action.Kind), "credited")
	l.publish(action.UserID, string(action.Kind), map[string]interface{}{
		"actionId": action.ID,
		"points":   points,
		"tier":     string(rep.Tier),
		"score":    rep.Score,
	})
	l.log.Info().
		Str("user_id", action.UserID).
		Str("kind", string(action.Kind)).
		Int64("points", points).
		Str("tier", string(rep.Tier)).
		Msg("Credited reward")
	return nil
}

// Penalize applies the penalty table row for the given reason
func (l *Ledger) Penalize(ctx context.Context, userID, actionID string, reason PenaltyReason, detail string) error {
	penalty, ok := penaltyTable[reason]
	if !ok {
		return fmt.Errorf("unknown penalty reason %s", reason)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rep, err := l.reputationLocked(ctx, userID)
	if err != nil {
		return err
	}

	rec := &RewardRecord{
		UserID:    userID,
		ActionID:  actionID,
		Kind:      ActionKind(string(reason)),
		Points:    -penalty.Points,
		Tier:      rep.Tier,
		Reason:    detail,
		CreatedAt: l.now().UTC(),
	}
	if err := l.store.AppendRecord(ctx, rec); err != nil {
		return err
	}

	rep.TotalPoints -= penalty.Points
	rep.RejectedCount++
	rep.PenaltyCount++
	if penalty.Suspension > 0 {
		until := l.now().UTC().Add(penalty.Suspension)
		rep.SuspendedUntil = &until
	}
	if err := l.recomputeLocked(ctx, rep); err != nil {
		return err
	}

	metrics.RecordPenalty(string(reason))
	details := map[string]interface{}{
		"actionId": actionID,
		"reason":   string(reason),
		"points":   -penalty.Points,
		"score":    rep.Score,
	}
	if rep.SuspendedUntil != nil {
		details["suspendedUntil"] = rep.SuspendedUntil.Format(time.RFC3339)
	}
	l.publish(userID, "penalty", details)
	l.log.Warn().
		Str("user_id", userID).
		Str("reason", string(reason)).
		Int64("points", penalty.Points).
		Msg("Applied penalty")
	return nil
}

// Reputation returns a user's current standing
func (l *Ledger) Reputation(ctx context.Context, userID string) (*Reputation, error) {
	return l.store.GetReputation(ctx, userID)
}

func (l *Ledger) reputationLocked(ctx context.Context, userID string) (*Reputation, error) {
	rep, err := l.store.GetReputation(ctx, userID)
	if errors.Is(err, ErrReputationNotFound) {
		now := l.now().UTC()
		return &Reputation{
			UserID:           userID,
			Tier:             TierBronze,
			AccountCreatedAt: now,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return rep, nil
}

func (l *Ledger) recomputeLocked(ctx context.Context, rep *Reputation) error {
	rep.Score = ComputeScore(*rep, l.now())
	rep.Tier = TierForScore(rep.Score)
	if err := l.store.UpsertReputation(ctx, rep); err != nil {
		return err
	}
	return nil
}

func (l *Ledger) publish(userID, kind string, data map[string]interface{}) {
	if l.bus == nil {
		return
	}
	data["userId"] = userID
	l.bus.Publish(events.Event{
		Type:     events.TypeRewardEvent,
		Severity: events.SeverityInfo,
		Message:  fmt.Sprintf("Reward event %s for user %s", kind, userID),
		Data:     data,
	})
}
