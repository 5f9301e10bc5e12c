package metadata

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MilestoneKind classifies what tripped a metadata update
type MilestoneKind string

const (
	MilestonePoolFill   MilestoneKind = "pool_fill"
	MilestoneHolders    MilestoneKind = "holders"
	MilestoneGraduation MilestoneKind = "graduation"
	MilestoneStatus     MilestoneKind = "status"
)

// Milestone is one trigger observation
type Milestone struct {
	Kind      MilestoneKind `json:"kind"`
	Threshold string        `json:"threshold"`
}

func (m Milestone) key() string {
	return string(m.Kind) + ":" + m.Threshold
}

// poolFillThresholds are the curve-progress percentages that trigger a
// descriptor update.
var poolFillThresholds = []float64{25, 50, 75, 90, 100}

// holderThresholds are the holder-count lines that trigger an update
var holderThresholds = []uint64{100, 500, 1000, 5000, 10000}

// tokenKey identifies a tracked token on a chain
type tokenKey struct {
	token   string
	chainID int64
}

// Tracker remembers which milestones have fired per (token, chain).
// A fired milestone never fires again for the same pair.
type Tracker struct {
	log zerolog.Logger

	mu    sync.Mutex
	fired map[tokenKey]map[string]struct{}
	state map[tokenKey]string
}

// NewTracker creates an empty milestone tracker
func NewTracker() *Tracker {
	return &Tracker{
		log:   log.With().Str("component", "milestone-tracker").Logger(),
		fired: make(map[tokenKey]map[string]struct{}),
		state: make(map[tokenKey]string),
	}
}

// Observation is the current on-chain view the tracker evaluates
type Observation struct {
	Token       string
	ChainID     int64
	CurvePct    float64
	HolderCount uint64
	Graduated   bool
	Status      string
}

// Evaluate returns every milestone newly crossed by the observation,
// marking each as fired.
func (t *Tracker) Evaluate(obs Observation) []Milestone {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := tokenKey{token: obs.Token, chainID: obs.ChainID}
	fired, ok := t.fired[key]
	if !ok {
		fired = make(map[string]struct{})
		t.fired[key] = fired
	}

	var crossed []Milestone
	consider := func(m Milestone) {
		if _, done := fired[m.key()]; done {
			return
		}
		fired[m.key()] = struct{}{}
		crossed = append(crossed, m)
	}

	for _, pct := range poolFillThresholds {
		if obs.CurvePct >= pct {
			consider(Milestone{Kind: MilestonePoolFill, Threshold: fmt.Sprintf("%.0f", pct)})
		}
	}
	for _, count := range holderThresholds {
		if obs.HolderCount >= count {
			consider(Milestone{Kind: MilestoneHolders, Threshold: fmt.Sprintf("%d", count)})
		}
	}
	if obs.Graduated {
		consider(Milestone{Kind: MilestoneGraduation, Threshold: "graduated"})
	}
	if obs.Status != "" {
		if previous, ok := t.state[key]; !ok || previous != obs.Status {
			t.state[key] = obs.Status
			if ok {
				consider(Milestone{Kind: MilestoneStatus, Threshold: obs.Status})
			}
		}
	}

	if len(crossed) > 0 {
		t.log.Debug().
			Str("token", obs.Token).
			Int("crossed", len(crossed)).
			Msg("Milestones crossed")
	}
	return crossed
}
