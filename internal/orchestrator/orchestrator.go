package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/nadpilot/nadpilot/internal/adversarial"
	"github.com/nadpilot/nadpilot/internal/agents"
	"github.com/nadpilot/nadpilot/internal/chain"
	"github.com/nadpilot/nadpilot/internal/consensus"
	"github.com/nadpilot/nadpilot/internal/events"
	"github.com/nadpilot/nadpilot/internal/guard"
	"github.com/nadpilot/nadpilot/internal/indicators"
	"github.com/nadpilot/nadpilot/internal/llm"
	"github.com/nadpilot/nadpilot/internal/memory"
	"github.com/nadpilot/nadpilot/internal/metrics"
	"github.com/nadpilot/nadpilot/internal/runrecord"
)

// ErrEmptyTrigger is returned when a trigger names neither a query nor
// a token.
var ErrEmptyTrigger = errors.New("trigger carries no query or token")

// ErrNoSignals is returned when the gather phase produces an empty
// bundle. A run cannot proceed without input.
var ErrNoSignals = errors.New("no signals gathered")

type memorySearcher interface {
	FindSimilar(ctx context.Context, text string, opts memory.SearchOptions) (*memory.SearchResult, error)
}

type tokenDirectory interface {
	TokenByAddress(ctx context.Context, address string) (*chain.TokenData, error)
	SearchTokens(ctx context.Context, query string, limit int) ([]chain.TokenData, error)
	TokenTrades(ctx context.Context, address string, limit int) ([]chain.TradeRecord, error)
}

type agentRunner interface {
	Run(ctx context.Context, in agents.Input, obs agents.Observer) []agents.Opinion
}

type decisionEngine interface {
	Evaluate(opinions []agents.Opinion, manualApproval bool) consensus.Decision
}

type recordSaver interface {
	Save(ctx context.Context, rec *runrecord.RunRecord) error
}

// Executor receives EXECUTE decisions. The submission pipeline behind
// it applies its own mode guard and policy checks.
type Executor interface {
	Execute(ctx context.Context, rec *runrecord.RunRecord, decision consensus.Decision) error
}

// Trigger starts one run
type Trigger struct {
	Source       string // manual | sweep | event
	Query        string
	TokenAddress string

	// Bundle carries pre-gathered signals from external triggers. When
	// set, the gather phase enriches it instead of building from scratch.
	Bundle *agents.SignalBundle
}

// Options wires the orchestrator's collaborators
type Options struct {
	Guard    *guard.Guard
	Bus      *events.Bus
	Scanner  *adversarial.Scanner
	Provider chain.Provider
	Tokens   tokenDirectory
	Memory   memorySearcher
	Runner   agentRunner
	Engine   decisionEngine
	Records  recordSaver
	Executor Executor

	// RunDeadline bounds one full run (default 120 s)
	RunDeadline time.Duration
}

// Orchestrator drives the run state machine: initialize, gather
// signals, run agents, build consensus, persist. Every downstream call
// and event carries the run's correlation id.
type Orchestrator struct {
	guard    *guard.Guard
	bus      *events.Bus
	scanner  *adversarial.Scanner
	provider chain.Provider
	tokens   tokenDirectory
	memory   memorySearcher
	runner   agentRunner
	engine   decisionEngine
	records  recordSaver
	executor Executor
	deadline time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	active int
}

// New creates an orchestrator
func New(opts Options) *Orchestrator {
	deadline := opts.RunDeadline
	if deadline <= 0 {
		deadline = 120 * time.Second
	}
	return &Orchestrator{
		guard:    opts.Guard,
		bus:      opts.Bus,
		scanner:  opts.Scanner,
		provider: opts.Provider,
		tokens:   opts.Tokens,
		memory:   opts.Memory,
		runner:   opts.Runner,
		engine:   opts.Engine,
		records:  opts.Records,
		executor: opts.Executor,
		deadline: deadline,
		log:      log.With().Str("component", "orchestrator").Logger(),
	}
}

// runState accumulates outputs as phases advance
type runState struct {
	trigger  Trigger
	record   *runrecord.RunRecord
	bundle   *agents.SignalBundle
	token    *chain.TokenData
	launch   llm.LaunchContext
	memory   []llm.MemoryHighlight
	findings []string
	opinions []agents.Opinion
	decision consensus.Decision
}

// Run executes one evaluation end to end and returns the frozen record.
// The record is persisted in both the complete and error outcomes.
func (o *Orchestrator) Run(ctx context.Context, trig Trigger) (*runrecord.RunRecord, error) {
	runID := uuid.NewString()
	rec := runrecord.New(runID, uuid.NewString(), trig.Query)

	ctx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	o.trackActive(1)
	defer o.trackActive(-1)
	metrics.RecordRunStarted(trig.Source)
	start := time.Now()

	state := &runState{trigger: trig, record: rec}
	phase := PhaseInitialize
	for !Terminal(phase) {
		phaseStart := time.Now()
		var err error
		switch phase {
		case PhaseInitialize:
			err = o.initialize(state)
		case PhaseGatherSignals:
			err = o.gatherSignals(ctx, state)
		case PhaseRunAgents:
			err = o.runAgents(ctx, state)
		case PhaseBuildConsensus:
			err = o.buildConsensus(state)
		case PhasePersist:
			err = o.persist(ctx, state, start)
		default:
			err = fmt.Errorf("unknown phase %s", phase)
		}
		metrics.RecordPhase(string(phase), float64(time.Since(phaseStart).Milliseconds()))
		if err != nil {
			return rec, o.failRun(state, phase, start, err)
		}

		next := Next(phase)
		o.emit(rec, events.Event{
			Type:    events.TypePhaseChanged,
			Message: fmt.Sprintf("Phase %s complete", phase),
			Data:    map[string]interface{}{"from": string(phase), "to": string(next)},
		})
		phase = next
	}

	o.handoff(state)
	return rec, nil
}

func (o *Orchestrator) initialize(state *runState) error {
	trig := state.trigger
	if trig.Query == "" && trig.TokenAddress == "" && trig.Bundle == nil {
		return ErrEmptyTrigger
	}
	o.emit(state.record, events.Event{
		Type:    events.TypeRunStarted,
		Message: fmt.Sprintf("Run started (%s)", trig.Source),
		Data: map[string]interface{}{
			"source": trig.Source,
			"query":  trig.Query,
			"token":  trig.TokenAddress,
		},
	})
	o.log.Info().
		Str("run_id", state.record.ID).
		Str("correlation_id", state.record.CorrelationID).
		Str("source", trig.Source).
		Msg("Run started")
	return nil
}

// gatherSignals fans out memory similarity, token lookup, and the
// on-chain snapshot in parallel. Individual source failures degrade the
// bundle; only a fully empty bundle fails the run.
func (o *Orchestrator) gatherSignals(ctx context.Context, state *runState) error {
	bundle := state.trigger.Bundle
	if bundle == nil {
		bundle = &agents.SignalBundle{}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		token, err := o.lookupToken(gctx, state.trigger)
		if err != nil {
			o.log.Warn().Err(err).Msg("Token lookup failed")
			return nil
		}
		state.token = token
		return nil
	})

	var hits *memory.SearchResult
	g.Go(func() error {
		if o.memory == nil {
			return nil
		}
		query := state.trigger.Query
		if query == "" {
			query = state.trigger.TokenAddress
		}
		result, err := o.memory.FindSimilar(gctx, query, memory.SearchOptions{Limit: 5})
		if err != nil {
			o.log.Warn().Err(err).Msg("Memory similarity lookup failed")
			return nil
		}
		hits = result
		return nil
	})

	var network *chain.NetworkState
	g.Go(func() error {
		if o.provider == nil {
			return nil
		}
		ns, err := o.provider.NetworkState(gctx)
		if err != nil {
			o.log.Warn().Err(err).Msg("Network state unavailable")
			return nil
		}
		network = ns
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if state.token != nil {
		o.snapshotToken(ctx, state, bundle, network)
		if err := state.record.SetToken(state.token.Address, state.token.Symbol); err != nil {
			return err
		}
	} else if network != nil {
		bundle.OnChain = &agents.OnChainSnapshot{
			ChainID:     network.ChainID,
			BlockHeight: network.BlockNumber,
			GasPriceWei: network.GasPriceWei,
		}
	}

	if hits != nil {
		for _, hit := range hits.Hits {
			sim := agents.MemorySimilarity{
				Fingerprint: hit.Item.ContentHash,
				Score:       hit.Score,
			}
			highlight := llm.MemoryHighlight{
				Kind:      string(hit.Item.Kind),
				Summary:   hit.Item.Content,
				Score:     hit.Score,
				Sentiment: hit.Item.Sentiment,
				AgeHours:  time.Since(hit.Item.ContentTime).Hours(),
			}
			if hit.Item.Outcome != nil {
				sim.ImpactLabel = hit.Item.Outcome.Direction
				sim.ImpactPct = &hit.Item.Outcome.ImpactPct
				highlight.Outcome = hit.Item.Outcome.Direction
			}
			bundle.Memory = append(bundle.Memory, sim)
			state.memory = append(state.memory, highlight)
		}
	}

	if len(bundle.News) == 0 && len(bundle.Social) == 0 && bundle.OnChain == nil && len(bundle.Memory) == 0 {
		return ErrNoSignals
	}
	state.bundle = bundle
	return nil
}

func (o *Orchestrator) lookupToken(ctx context.Context, trig Trigger) (*chain.TokenData, error) {
	if o.tokens == nil {
		return nil, nil
	}
	if trig.TokenAddress != "" {
		return o.tokens.TokenByAddress(ctx, trig.TokenAddress)
	}
	if trig.Query == "" {
		return nil, nil
	}
	results, err := o.tokens.SearchTokens(ctx, trig.Query, 1)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// snapshotToken fills the on-chain snapshot and launch context for a
// resolved token. Each read is independent; failures leave gaps.
func (o *Orchestrator) snapshotToken(ctx context.Context, state *runState, bundle *agents.SignalBundle, network *chain.NetworkState) {
	token := state.token
	launch := llm.LaunchContext{
		TokenAddress: token.Address,
		Symbol:       token.Symbol,
		Name:         token.Name,
	}
	if token.PriceMon != nil {
		launch.PriceNative = *token.PriceMon
	}
	if token.LiquidityMon != nil {
		launch.LiquidityNative = *token.LiquidityMon
	}
	if created, err := time.Parse(time.RFC3339, token.CreatedAt); err == nil {
		launch.AgeMinutes = time.Since(created).Minutes()
	}

	snapshot := &agents.OnChainSnapshot{TokenAddress: token.Address}
	if network != nil {
		snapshot.ChainID = network.ChainID
		snapshot.BlockHeight = network.BlockNumber
		snapshot.GasPriceWei = network.GasPriceWei
	}
	if token.IsGraduated {
		snapshot.CurvePct = 100
		launch.GraduationPct = 100
	} else {
		pct := curveProgress(token)
		snapshot.CurvePct = pct
		launch.GraduationPct = pct
		launch.BondingCurve = true
	}

	if o.provider != nil {
		if pool, err := o.provider.PoolLiquidity(ctx, token.Address); err == nil && pool != nil {
			snapshot.PoolLiquidity = pool.ReserveNative
			launch.BondingCurve = pool.BondingCurve
			if pool.PriceNative > 0 {
				launch.PriceNative = pool.PriceNative
			}
		}
		if holders, err := o.provider.HolderAnalysis(ctx, token.Address); err == nil && holders != nil {
			snapshot.HolderCount = holders.HolderCount
			launch.HolderCount = int64(holders.HolderCount)
			launch.CreatorPct = holders.CreatorPct
			launch.Concentration = holders.ConcentrationRisk
		}
		if radar, err := o.provider.AnalyzeBotActivity(ctx, token.Address); err == nil && radar != nil {
			launch.TxCount = radar.TxCount
			launch.BotRiskScore = radar.RiskScore
			launch.BotRiskLevel = radar.Level
		}
	}

	if o.tokens != nil {
		if trades, err := o.tokens.TokenTrades(ctx, token.Address, 50); err == nil {
			if tape := tradeTape(trades); len(tape) > 0 {
				launch.Indicators = indicators.LaunchFeatures(tape)
			}
		}
	}

	bundle.OnChain = snapshot
	state.launch = launch
}

// tradeTape derives per-trade prices, oldest first, from the launchpad
// trade history. Trades with an unparseable side are skipped.
func tradeTape(trades []chain.TradeRecord) []float64 {
	tape := make([]float64, 0, len(trades))
	for i := len(trades) - 1; i >= 0; i-- {
		native, okN := new(big.Float).SetString(trades[i].AmountNative)
		tokens, okT := new(big.Float).SetString(trades[i].AmountToken)
		if !okN || !okT || tokens.Sign() <= 0 {
			continue
		}
		price, _ := new(big.Float).Quo(native, tokens).Float64()
		tape = append(tape, price)
	}
	return tape
}

// curveProgress estimates bonding-curve fill from the real and virtual
// native reserves. Unparseable reserves yield zero.
func curveProgress(token *chain.TokenData) float64 {
	reserve, okR := new(big.Float).SetString(token.ReserveNative)
	virtual, okV := new(big.Float).SetString(token.VirtualNative)
	if !okR || !okV || reserve.Sign() <= 0 || virtual.Sign() <= 0 {
		return 0
	}
	total := new(big.Float).Add(reserve, virtual)
	pct, _ := new(big.Float).Quo(reserve, total).Float64()
	return pct * 100
}

// runAgents scans the bundle's free text, then fans the five analyzers
// out over the shared input. Opinions land on the record in completion
// order.
func (o *Orchestrator) runAgents(ctx context.Context, state *runState) error {
	if o.scanner != nil {
		scan := o.scanner.ScanAll(state.bundle.FreeTexts()...)
		for _, m := range scan.Matches {
			state.findings = append(state.findings,
				fmt.Sprintf("%s [%s/%s]: %s", m.RuleID, m.Category, m.Severity, m.Excerpt))
		}
		if scan.Blocked && o.bus != nil {
			o.bus.PublishSecurityEvent(events.SecurityAdversarialBlocked, "orchestrator",
				"Adversarial content detected in signal bundle", map[string]interface{}{
					"runId":    state.record.ID,
					"matches":  len(scan.Matches),
					"severity": string(scan.HighestSeverity),
				})
		}
	}

	in := agents.Input{
		RunID:         state.record.ID,
		CorrelationID: state.record.CorrelationID,
		Query:         state.trigger.Query,
		Bundle:        state.bundle,
		Launch:        state.launch,
		Memory:        state.memory,
		ScanFindings:  state.findings,
	}

	rec := state.record
	state.opinions = o.runner.Run(ctx, in, agents.Observer{
		OnStart: func(role llm.Role) {
			o.emit(rec, events.Event{
				Type:    events.TypeAgentStarted,
				Agent:   string(role),
				Message: fmt.Sprintf("Analyzer %s started", role),
			})
		},
		OnOpinion: func(op agents.Opinion) {
			if err := rec.AppendOpinion(op); err != nil {
				o.log.Error().Err(err).Str("role", string(op.Role)).Msg("Failed to append opinion")
			}
			o.emit(rec, events.Event{
				Type:           events.TypeAgentOpinion,
				Agent:          string(op.Role),
				Message:        fmt.Sprintf("Analyzer %s recommends %s", op.Role, op.Recommendation),
				ChainOfThought: op.ChainOfThought,
				Data: map[string]interface{}{
					"recommendation": string(op.Recommendation),
					"confidence":     op.Confidence,
					"riskScore":      op.RiskScore,
					"degraded":       op.Degraded,
				},
			})
		},
	})
	return nil
}

func (o *Orchestrator) buildConsensus(state *runState) error {
	if o.guard != nil && o.guard.KillSwitchActive() {
		return errors.New("kill switch active during consensus")
	}

	manualApproval := o.guard != nil && o.guard.Mode() == guard.ModeManualApproval
	state.decision = o.engine.Evaluate(state.opinions, manualApproval)
	if err := state.record.SetDecision(state.decision); err != nil {
		return err
	}

	e := events.Event{
		Type:    events.TypeConsensusDecision,
		Message: fmt.Sprintf("Consensus: %s (%s)", state.decision.Status, state.decision.Reason),
		Data: map[string]interface{}{
			"status":             string(state.decision.Status),
			"agreement":          state.decision.Agreement,
			"averagedConfidence": state.decision.AveragedConfidence,
			"averagedRisk":       state.decision.AveragedRisk,
			"adversarialVeto":    state.decision.AdversarialVeto,
		},
	}
	if state.decision.Status == consensus.StatusManualReview {
		e.Type = events.TypeApprovalRequired
		e.Severity = events.SeverityWarn
		e.ActionCard = &events.ActionCard{
			Kind:        "approval",
			ReferenceID: state.record.ID,
			Label:       "Review pending decision",
			ExpiresAt:   &state.decision.ExpiresAt,
		}
	}
	o.emit(state.record, e)
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, state *runState, start time.Time) error {
	o.emit(state.record, events.Event{
		Type:    events.TypeRunCompleted,
		Message: fmt.Sprintf("Run complete: %s", state.decision.Status),
		Data: map[string]interface{}{
			"decision":   string(state.decision.Status),
			"durationMs": time.Since(start).Milliseconds(),
		},
	})
	if err := state.record.Complete(); err != nil {
		return err
	}
	if o.records != nil {
		if err := o.records.Save(ctx, state.record); err != nil {
			return fmt.Errorf("failed to persist run record: %w", err)
		}
	}
	metrics.RecordRunCompleted("complete", float64(time.Since(start).Milliseconds()))
	o.log.Info().
		Str("run_id", state.record.ID).
		Str("decision", string(state.decision.Status)).
		Dur("duration", time.Since(start)).
		Msg("Run complete")
	return nil
}

// failRun freezes the record in the error state with partial opinions
// preserved, saves it best-effort, and emits the terminal event.
func (o *Orchestrator) failRun(state *runState, phase Phase, start time.Time, cause error) error {
	rec := state.record
	o.emit(rec, events.Event{
		Type:     events.TypeRunError,
		Severity: events.SeverityError,
		Message:  fmt.Sprintf("Run failed in %s: %v", phase, cause),
		Data:     map[string]interface{}{"phase": string(phase)},
	})
	if err := rec.Fail(cause.Error()); err != nil && !errors.Is(err, runrecord.ErrFrozen) {
		o.log.Error().Err(err).Str("run_id", rec.ID).Msg("Failed to freeze errored record")
	}
	if o.records != nil {
		// Persisting the error record uses a fresh context: the run's may
		// already be past its deadline.
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.records.Save(saveCtx, rec); err != nil {
			o.log.Error().Err(err).Str("run_id", rec.ID).Msg("Failed to persist errored record")
		}
	}
	metrics.RecordRunCompleted("error", float64(time.Since(start).Milliseconds()))
	o.log.Error().Err(cause).
		Str("run_id", rec.ID).
		Str("phase", string(phase)).
		Msg("Run failed")
	return fmt.Errorf("run failed in %s: %w", phase, cause)
}

// handoff forwards an EXECUTE decision to the submission pipeline. The
// record is already frozen; submission failures surface as events and
// audit entries, not record mutations.
func (o *Orchestrator) handoff(state *runState) {
	if o.executor == nil || state.decision.Status != consensus.StatusExecute {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.executor.Execute(ctx, state.record, state.decision); err != nil {
		o.log.Warn().Err(err).Str("run_id", state.record.ID).Msg("Execution handoff refused")
	}
}

func (o *Orchestrator) emit(rec *runrecord.RunRecord, e events.Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.RunID = rec.ID
	if e.Data == nil {
		e.Data = map[string]interface{}{}
	}
	e.Data["correlationId"] = rec.CorrelationID
	if err := rec.AppendEvent(e); err != nil && !errors.Is(err, runrecord.ErrFrozen) {
		o.log.Error().Err(err).Str("run_id", rec.ID).Msg("Failed to append event to record")
	}
	if o.bus != nil {
		o.bus.Publish(e)
	}
}

func (o *Orchestrator) trackActive(delta int) {
	o.mu.Lock()
	o.active += delta
	count := o.active
	o.mu.Unlock()
	metrics.UpdateActiveRuns(count)
}

// ActiveRuns returns the number of runs currently in flight
func (o *Orchestrator) ActiveRuns() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}
