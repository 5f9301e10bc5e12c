package submit

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/bundle"
	"github.com/nadpilot/nadpilot/internal/events"
	"github.com/nadpilot/nadpilot/internal/guard"
	"github.com/nadpilot/nadpilot/internal/metrics"
)

// RoutePolicy is one row of the policy table
type RoutePolicy struct {
	Enabled     bool
	MaxValueWei *big.Int // nil means unlimited
}

// Policy maps route name to its policy row
type Policy map[string]RoutePolicy

// Request is one submission handed to the router
type Request struct {
	Bundle        *bundle.AtomicBundle
	Receipt       *bundle.SimulationReceipt
	RawTx         []byte
	CorrelationID string
	PlanID        string
	DecisionID    string

	// RequiresApproval marks a MANUAL_REVIEW decision; the router
	// refuses until the approval registry resolves in favor.
	RequiresApproval bool

	// DecisionExpiresAt bounds the approval window; past it the held
	// decision expires unresolved. Zero falls back to the default window.
	DecisionExpiresAt time.Time
}

// Result is a completed routing attempt
type Result struct {
	Route     string      `json:"route"`
	Status    string      `json:"status"` // submitted, queued, simulated
	TxHash    common.Hash `json:"txHash"`
	Nonce     uint64      `json:"nonce"`
	Simulated bool        `json:"simulated"`
}

// BlockReader supplies the current chain head for staleness checks
type BlockReader func(ctx context.Context) (uint64, error)

// Router picks a transport for each bundle under the policy table and
// never downgrades to the public mempool silently.
type Router struct {
	private   Route
	deferred  *DeferredRoute
	public    Route
	policy    Policy
	enforcer  *bundle.Enforcer
	nonces    *NonceManager
	audit     *AuditWriter
	guard     *guard.Guard
	approvals *ApprovalRegistry
	headBlock BlockReader
	bus       *events.Bus
	log       zerolog.Logger
}

// RouterOptions wires the router's collaborators
type RouterOptions struct {
	Private   Route
	Deferred  *DeferredRoute
	Public    Route
	Policy    Policy
	Enforcer  *bundle.Enforcer
	Nonces    *NonceManager
	Audit     *AuditWriter
	Guard     *guard.Guard
	Approvals *ApprovalRegistry
	HeadBlock BlockReader
	Bus       *events.Bus
}

// NewRouter creates the submission router. The guard kill-switch hook
// draining the deferred queue is registered here.
func NewRouter(opts RouterOptions) *Router {
	r := &Router{
		private:   opts.Private,
		deferred:  opts.Deferred,
		public:    opts.Public,
		policy:    opts.Policy,
		enforcer:  opts.Enforcer,
		nonces:    opts.Nonces,
		audit:     opts.Audit,
		guard:     opts.Guard,
		approvals: opts.Approvals,
		headBlock: opts.HeadBlock,
		bus:       opts.Bus,
		log:       log.With().Str("component", "submission-router").Logger(),
	}
	if r.guard != nil && r.deferred != nil {
		r.guard.OnKillSwitch(r.drainDeferred)
	}
	return r
}

// Submit validates, enforces, routes, and audits one bundle. Every
// outcome, refusals included, leaves exactly one primary audit entry.
func (r *Router) Submit(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	b := req.Bundle

	entry := AuditEntry{
		CorrelationID: req.CorrelationID,
		PlanID:        req.PlanID,
		BundleID:      b.ID,
	}
	if req.Receipt != nil {
		entry.SimulationID = req.Receipt.ID
	}

	// Write gate first. A denied write is terminal.
	decision := r.guard.Validate(guard.KindWrite, "submit_bundle")
	if !decision.Allowed {
		entry.Outcome = "write_blocked"
		entry.Detail = decision.Reason
		entry.SecurityEvent = true
		r.audit.Write(entry)
		return Result{}, fmt.Errorf("submission refused: %s", decision.Reason)
	}
	if decision.Simulated {
		entry.Outcome = "success"
		entry.Detail = "demo mode: submission simulated"
		r.audit.Write(entry)
		return Result{Status: "simulated", Simulated: true}, nil
	}

	requiresApproval := req.RequiresApproval || decision.RequiresApproval
	if requiresApproval {
		if err := r.checkApproval(req); err != nil {
			entry.Outcome = "failed"
			entry.Detail = err.Error()
			r.audit.Write(entry)
			return Result{}, err
		}
	}

	head, err := r.headBlock(ctx)
	if err != nil {
		entry.Outcome = "failed"
		entry.Detail = fmt.Sprintf("failed to read chain head: %v", err)
		r.audit.Write(entry)
		return Result{}, fmt.Errorf("failed to read chain head: %w", err)
	}

	// The approval, once granted, satisfies the enforcer's manual gate.
	enforced := *b
	enforced.RequiresApproval = false
	verdict := r.enforcer.Enforce(&enforced, req.Receipt, head)
	if !verdict.CanExecute {
		entry.Outcome = "failed"
		entry.Detail = fmt.Sprintf("enforcer rejected bundle: %v", violationSummary(verdict.Violations))
		r.audit.Write(entry)
		return Result{}, fmt.Errorf("enforcer rejected bundle %s: %s", b.ID, violationSummary(verdict.Violations))
	}

	route, routeErr := r.selectRoute(ctx, b)
	if routeErr != nil {
		entry.Detail = routeErr.Error()
		switch routeErr.(type) {
		case *SecurityBreachError:
			entry.Outcome = "fallback_blocked"
			entry.SecurityEvent = true
			if r.bus != nil {
				r.bus.PublishSecurityEvent(events.SecurityRouteFallbackDenied, "submission-router",
					routeErr.Error(), map[string]interface{}{
						"bundleId":      b.ID,
						"correlationId": req.CorrelationID,
					})
			}
		default:
			entry.Outcome = "policy_violation"
		}
		r.audit.Write(entry)
		return Result{}, routeErr
	}
	entry.Route = route.Name()

	nonce, err := r.nonces.Reserve(ctx, b.Account)
	if err != nil {
		entry.Outcome = "failed"
		entry.Detail = err.Error()
		r.audit.Write(entry)
		return Result{}, err
	}
	entry.Nonce = &nonce

	txHash, err := route.Submit(ctx, req.RawTx)
	durationMs := float64(time.Since(started).Milliseconds())
	if err != nil {
		_ = r.nonces.Release(b.Account, nonce)
		metrics.RecordSubmission(route.Name(), "failed", durationMs)
		entry.Outcome = "failed"
		entry.Detail = err.Error()
		r.audit.Write(entry)
		return Result{}, fmt.Errorf("submission on %s failed: %w", route.Name(), err)
	}

	if err := r.nonces.Confirm(b.Account, nonce, txHash); err != nil {
		r.log.Error().Err(err).Uint64("nonce", nonce).Msg("Nonce confirmation failed after submission")
	}

	status := "submitted"
	if route.Name() == RouteDeferred {
		status = "queued"
	}
	metrics.RecordSubmission(route.Name(), status, durationMs)

	entry.Outcome = "success"
	entry.TxHash = txHash.Hex()
	r.audit.Write(entry)

	if r.bus != nil {
		r.bus.Publish(events.Event{
			Type:     events.TypeSubmissionResult,
			Agent:    events.AgentSystem,
			Severity: events.SeverityInfo,
			Message:  fmt.Sprintf("bundle %s %s via %s", b.ID, status, route.Name()),
			Data: map[string]interface{}{
				"bundleId": b.ID,
				"route":    route.Name(),
				"txHash":   txHash.Hex(),
				"status":   status,
			},
		})
	}

	r.log.Info().
		Str("bundle_id", b.ID).
		Str("route", route.Name()).
		Str("tx_hash", txHash.Hex()).
		Uint64("nonce", nonce).
		Msg("Bundle submitted")

	return Result{Route: route.Name(), Status: status, TxHash: txHash, Nonce: nonce}, nil
}

// defaultApprovalWindow bounds held decisions that carry no expiry,
// matching the decision TTL.
const defaultApprovalWindow = 30 * time.Minute

// checkApproval requires an explicit approved resolution; pending,
// rejected, and expired all refuse. The first refusal registers the
// pending entry operators resolve through the approvals API.
func (r *Router) checkApproval(req Request) error {
	if req.DecisionID == "" {
		return &ApprovalRequiredError{Status: ApprovalPending}
	}
	a, ok := r.approvals.Status(req.DecisionID)
	if !ok {
		expiry := req.DecisionExpiresAt
		if expiry.IsZero() {
			expiry = time.Now().UTC().Add(defaultApprovalWindow)
		}
		a = r.approvals.Request(req.DecisionID, req.CorrelationID, expiry)
	}
	switch a.Status {
	case ApprovalApproved, ApprovalAutoApproved:
		return nil
	default:
		return &ApprovalRequiredError{DecisionID: req.DecisionID, Status: a.Status}
	}
}

// selectRoute walks the preference order. A private route that is
// enabled but unhealthy blocks any downgrade past the public policy;
// the public mempool is reachable only under its explicit allowance.
func (r *Router) selectRoute(ctx context.Context, b *bundle.AtomicBundle) (Route, error) {
	privateUnhealthy := false

	for _, route := range []Route{r.private, r.deferredRoute()} {
		if route == nil {
			continue
		}
		pol, ok := r.policy[route.Name()]
		if !ok || !pol.Enabled {
			continue
		}
		if err := route.Health(ctx); err != nil {
			r.log.Warn().Err(err).Str("route", route.Name()).Msg("Route unhealthy")
			privateUnhealthy = true
			continue
		}
		return route, nil
	}

	pol, ok := r.policy[RoutePublicRPC]
	if !ok || !pol.Enabled || r.public == nil {
		return nil, &SecurityBreachError{
			Route:  RoutePublicRPC,
			Detail: "no private route is healthy and the public mempool is not allowed",
		}
	}

	value := b.TotalValue()
	if pol.MaxValueWei != nil && value.Cmp(pol.MaxValueWei) > 0 {
		if privateUnhealthy {
			return nil, &SecurityBreachError{
				Route:  RoutePublicRPC,
				Detail: fmt.Sprintf("required private route offline; value %s wei exceeds public limit %s", value, pol.MaxValueWei),
			}
		}
		return nil, &PolicyViolationError{
			Route:  RoutePublicRPC,
			Detail: fmt.Sprintf("value %s wei exceeds public limit %s", value, pol.MaxValueWei),
		}
	}

	if err := r.public.Health(ctx); err != nil {
		return nil, &SecurityBreachError{Route: RoutePublicRPC, Detail: fmt.Sprintf("public rpc unhealthy: %v", err)}
	}
	return r.public, nil
}

func (r *Router) deferredRoute() Route {
	if r.deferred == nil {
		return nil
	}
	return r.deferred
}

// drainDeferred empties the deferred queue when the kill switch flips,
// auditing every dropped submission.
func (r *Router) drainDeferred(reason string) {
	dropped := r.deferred.Drain(reason)
	for range dropped {
		r.audit.Write(AuditEntry{
			Outcome:       "drained",
			Route:         RouteDeferred,
			Detail:        "kill switch: " + reason,
			SecurityEvent: true,
		})
	}
}

func violationSummary(violations []bundle.Violation) string {
	if len(violations) == 0 {
		return "no violations"
	}
	out := ""
	for i, v := range violations {
		if i > 0 {
			out += "; "
		}
		out += v.Check
	}
	return out
}
