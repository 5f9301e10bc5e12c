package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Source tags for latency figures. Clients must surface the tag alongside
// the number so a simulated figure is never mistaken for a measured one.
const (
	SourceMeasured  = "measured"
	SourceConfigRef = "config-ref"
	SourceSimulated = "simulated"
	SourceEstimated = "estimated"
)

const (
	// Ring buffer size per phase
	maxSamples = 1024

	// Window for recentAvg and trend detection
	recentWindow = 32

	// Relative change beyond which the trend is no longer "stable"
	trendThreshold = 0.10
)

// PhaseStats summarizes the latency samples of one pipeline phase.
type PhaseStats struct {
	Count     int     `json:"count"`
	Avg       float64 `json:"avg"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	P50       float64 `json:"p50"`
	P95       float64 `json:"p95"`
	P99       float64 `json:"p99"`
	RecentAvg float64 `json:"recentAvg"`
	Trend     string  `json:"trend"`
	Source    string  `json:"source"`
}

// ChainComparison holds block timing figures for one chain, for side-by-side
// display. Reference chains carry config-ref values; the active chain's row
// switches to measured once samples exist.
type ChainComparison struct {
	Chain       string  `json:"chain"`
	BlockTimeMS float64 `json:"blockTimeMs"`
	FinalityMS  float64 `json:"finalityMs"`
	Source      string  `json:"source"`
}

// TrackerSummary aggregates across all tracked phases.
type TrackerSummary struct {
	PhasesTracked int     `json:"phasesTracked"`
	TotalSamples  int     `json:"totalSamples"`
	OverallAvgMS  float64 `json:"overallAvgMs"`
	SlowestPhase  string  `json:"slowestPhase"`
	FastestPhase  string  `json:"fastestPhase"`
}

// TrackerSnapshot is the JSON body served by the API metrics endpoint.
type TrackerSnapshot struct {
	LatencyStats     map[string]PhaseStats `json:"latencyStats"`
	ChainComparisons []ChainComparison     `json:"chainComparisons"`
	GaugeData        map[string]float64    `json:"gaugeData"`
	Summary          TrackerSummary        `json:"summary"`
	GeneratedAt      time.Time             `json:"generatedAt"`
}

type phaseSamples struct {
	samples []float64
	next    int
	full    bool
	count   int
	sum     float64
	min     float64
	max     float64
	source  string
}

// LatencyTracker accumulates per-phase latency samples in memory and renders
// the JSON stats for the API metrics endpoint. Prometheus histograms cover
// scrape-based monitoring; this tracker exists so the dashboard can show
// percentiles and trends without a Prometheus query layer.
type LatencyTracker struct {
	mu     sync.RWMutex
	phases map[string]*phaseSamples
	chains []ChainComparison
	gauges map[string]float64
}

// NewLatencyTracker creates an empty latency tracker.
func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{
		phases: make(map[string]*phaseSamples),
		gauges: make(map[string]float64),
	}
}

var (
	defaultTracker     *LatencyTracker
	defaultTrackerOnce sync.Once
)

// DefaultTracker returns the process-wide latency tracker.
func DefaultTracker() *LatencyTracker {
	defaultTrackerOnce.Do(func() {
		defaultTracker = NewLatencyTracker()
	})
	return defaultTracker
}

// Record adds a latency sample for a phase. The source tag describes where
// the figure came from; mixing sources within one phase keeps the most
// recently recorded tag.
func (t *LatencyTracker) Record(phase string, durationMs float64, source string) {
	if durationMs < 0 || math.IsNaN(durationMs) || math.IsInf(durationMs, 0) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.phases[phase]
	if !ok {
		ps = &phaseSamples{
			samples: make([]float64, maxSamples),
			min:     math.MaxFloat64,
		}
		t.phases[phase] = ps
	}

	ps.samples[ps.next] = durationMs
	ps.next = (ps.next + 1) % maxSamples
	if ps.next == 0 {
		ps.full = true
	}
	ps.count++
	ps.sum += durationMs
	if durationMs < ps.min {
		ps.min = durationMs
	}
	if durationMs > ps.max {
		ps.max = durationMs
	}
	ps.source = source
}

// SetChainReference registers a chain comparison row with config-ref figures.
// Calling it again for the same chain replaces the row.
func (t *LatencyTracker) SetChainReference(chain string, blockTimeMs, finalityMs float64, source string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.chains {
		if t.chains[i].Chain == chain {
			t.chains[i] = ChainComparison{Chain: chain, BlockTimeMS: blockTimeMs, FinalityMS: finalityMs, Source: source}
			return
		}
	}
	t.chains = append(t.chains, ChainComparison{Chain: chain, BlockTimeMS: blockTimeMs, FinalityMS: finalityMs, Source: source})
}

// SetGauge stores a named point-in-time figure for the snapshot's gaugeData.
func (t *LatencyTracker) SetGauge(name string, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gauges[name] = value
}

// Snapshot renders the current stats. Safe to call concurrently with Record.
func (t *LatencyTracker) Snapshot() TrackerSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := make(map[string]PhaseStats, len(t.phases))
	summary := TrackerSummary{}
	var totalSum float64
	slowestAvg := -1.0
	fastestAvg := math.MaxFloat64

	for phase, ps := range t.phases {
		s := t.computeStats(ps)
		stats[phase] = s

		summary.PhasesTracked++
		summary.TotalSamples += s.Count
		totalSum += ps.sum
		if s.Avg > slowestAvg {
			slowestAvg = s.Avg
			summary.SlowestPhase = phase
		}
		if s.Avg < fastestAvg {
			fastestAvg = s.Avg
			summary.FastestPhase = phase
		}
	}

	if summary.TotalSamples > 0 {
		summary.OverallAvgMS = round2(totalSum / float64(summary.TotalSamples))
	}

	chains := make([]ChainComparison, len(t.chains))
	copy(chains, t.chains)

	gauges := make(map[string]float64, len(t.gauges))
	for k, v := range t.gauges {
		gauges[k] = v
	}

	return TrackerSnapshot{
		LatencyStats:     stats,
		ChainComparisons: chains,
		GaugeData:        gauges,
		Summary:          summary,
		GeneratedAt:      time.Now().UTC(),
	}
}

// Reset clears all samples, chain rows, and gauges.
func (t *LatencyTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phases = make(map[string]*phaseSamples)
	t.chains = nil
	t.gauges = make(map[string]float64)
}

func (t *LatencyTracker) computeStats(ps *phaseSamples) PhaseStats {
	n := ps.next
	if ps.full {
		n = maxSamples
	}

	sorted := make([]float64, n)
	copy(sorted, ps.samples[:n])
	sort.Float64s(sorted)

	avg := 0.0
	if ps.count > 0 {
		avg = ps.sum / float64(ps.count)
	}

	// Mean of the most recent window, walking backwards from the write cursor
	recent := 0.0
	window := recentWindow
	if window > n {
		window = n
	}
	if window > 0 {
		idx := ps.next
		for i := 0; i < window; i++ {
			idx--
			if idx < 0 {
				idx = maxSamples - 1
			}
			recent += ps.samples[idx]
		}
		recent /= float64(window)
	}

	trend := "stable"
	if avg > 0 && window >= 4 {
		delta := (recent - avg) / avg
		if delta > trendThreshold {
			trend = "degrading"
		} else if delta < -trendThreshold {
			trend = "improving"
		}
	}

	minVal := ps.min
	if ps.count == 0 {
		minVal = 0
	}

	return PhaseStats{
		Count:     ps.count,
		Avg:       round2(avg),
		Min:       round2(minVal),
		Max:       round2(ps.max),
		P50:       round2(percentile(sorted, 0.50)),
		P95:       round2(percentile(sorted, 0.95)),
		P99:       round2(percentile(sorted, 0.99)),
		RecentAvg: round2(recent),
		Trend:     trend,
		Source:    ps.source,
	}
}

// percentile returns the nearest-rank percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
