package agents

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/nadpilot/nadpilot/internal/llm"
	"github.com/nadpilot/nadpilot/internal/metrics"
)

// Roles is the fixed analyzer graph, in fan-out order
var Roles = []llm.Role{llm.RoleScout, llm.RoleMacro, llm.RoleOnchain, llm.RoleRisk, llm.RoleAdversarial}

// Observer receives analyzer lifecycle callbacks during a run. Both
// callbacks are optional.
type Observer struct {
	OnStart   func(role llm.Role)
	OnOpinion func(op Opinion)
}

// Runner fans the analyzers out in parallel over one shared input and
// collects opinions in completion order. Deadline or provider failure
// degrades the affected opinion instead of failing the run.
type Runner struct {
	analyzers    []Analyzer
	agentTimeout time.Duration
	log          zerolog.Logger
}

// NewRunner creates a runner over the given analyzers
func NewRunner(analyzers []Analyzer, agentTimeout time.Duration) *Runner {
	if agentTimeout <= 0 {
		agentTimeout = 45 * time.Second
	}
	return &Runner{
		analyzers:    analyzers,
		agentTimeout: agentTimeout,
		log:          log.With().Str("component", "agent-runner").Logger(),
	}
}

// NewLLMRunner builds the standard five-analyzer graph over one client
func NewLLMRunner(client llm.CompletionClient, agentTimeout time.Duration) *Runner {
	analyzers := make([]Analyzer, 0, len(Roles))
	for _, role := range Roles {
		analyzers = append(analyzers, NewLLMAnalyzer(role, client))
	}
	return NewRunner(analyzers, agentTimeout)
}

// NewHeuristicRunner builds the provider-free five-analyzer graph
func NewHeuristicRunner(agentTimeout time.Duration) *Runner {
	analyzers := make([]Analyzer, 0, len(Roles))
	for _, role := range Roles {
		analyzers = append(analyzers, NewHeuristicAnalyzer(role))
	}
	return NewRunner(analyzers, agentTimeout)
}

// Run executes every analyzer in parallel and returns their opinions in
// completion order. The slice always holds one opinion per analyzer;
// failures appear as degraded opinions with confidence 0.
func (r *Runner) Run(ctx context.Context, in Input, obs Observer) []Opinion {
	var mu sync.Mutex
	opinions := make([]Opinion, 0, len(r.analyzers))

	g, gctx := errgroup.WithContext(ctx)
	for _, analyzer := range r.analyzers {
		g.Go(func() error {
			if obs.OnStart != nil {
				obs.OnStart(analyzer.Role())
			}

			opinion := r.runOne(gctx, analyzer, in)

			mu.Lock()
			opinions = append(opinions, opinion)
			mu.Unlock()

			if obs.OnOpinion != nil {
				obs.OnOpinion(opinion)
			}
			// Analyzer failures degrade the opinion rather than
			// cancelling the sibling analyzers.
			return nil
		})
	}
	_ = g.Wait()

	return opinions
}

func (r *Runner) runOne(ctx context.Context, analyzer Analyzer, in Input) Opinion {
	role := analyzer.Role()
	started := time.Now().UTC()

	actx, cancel := context.WithTimeout(ctx, r.agentTimeout)
	defer cancel()

	type result struct {
		opinion Opinion
		err     error
	}
	resCh := make(chan result, 1)
	go func() {
		op, err := analyzer.Analyze(actx, in)
		resCh <- result{op, err}
	}()

	var opinion Opinion
	var err error
	select {
	case res := <-resCh:
		opinion, err = res.opinion, res.err
	case <-actx.Done():
		err = actx.Err()
	}

	duration := time.Since(started)
	metrics.RecordAnalyzerDuration(string(role), float64(duration.Milliseconds()))

	if err != nil {
		metrics.RecordDegradedOpinion(string(role))
		r.log.Warn().
			Err(err).
			Str("role", string(role)).
			Dur("duration", duration).
			Msg("Analyzer degraded")
		return degradedOpinion(role, started, err.Error())
	}

	return opinion
}

// degradedOpinion is the stand-in for an analyzer that could not
// produce a verdict. Confidence 0 excludes it from consensus.
func degradedOpinion(role llm.Role, started time.Time, reason string) Opinion {
	return Opinion{
		Role:           role,
		Recommendation: RecommendHold,
		Confidence:     0,
		RiskScore:      1,
		StartedAt:      started,
		CompletedAt:    time.Now().UTC(),
		Degraded:       true,
		DegradedReason: reason,
	}
}
