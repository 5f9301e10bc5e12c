package orchestrator

// Phase is one state of the run graph
type Phase string

const (
	PhaseInitialize     Phase = "initialize"
	PhaseGatherSignals  Phase = "gather_signals"
	PhaseRunAgents      Phase = "run_agents"
	PhaseBuildConsensus Phase = "build_consensus"
	PhasePersist        Phase = "persist"
	PhaseComplete       Phase = "complete"
	PhaseError          Phase = "error"
)

// transitions is the forward edge of the run graph. Error is reachable
// from every phase and is handled outside the table.
var transitions = map[Phase]Phase{
	PhaseInitialize:     PhaseGatherSignals,
	PhaseGatherSignals:  PhaseRunAgents,
	PhaseRunAgents:      PhaseBuildConsensus,
	PhaseBuildConsensus: PhasePersist,
	PhasePersist:        PhaseComplete,
}

// Next returns the successor phase, or error for unknown phases
func Next(p Phase) Phase {
	next, ok := transitions[p]
	if !ok {
		return PhaseError
	}
	return next
}

// Terminal reports whether p ends the run
func Terminal(p Phase) bool {
	return p == PhaseComplete || p == PhaseError
}
