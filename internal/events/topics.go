package events

// NATS subjects. Pipeline stages publish domain messages on the fixed
// subjects; the bus mirror publishes the live stream per run.
const (
	SubjectRunsStarted        = "nadpilot.runs.started"
	SubjectAgentOpinions      = "nadpilot.agents.opinions"
	SubjectConsensusDecisions = "nadpilot.consensus.decisions"
	SubjectSubmissions        = "nadpilot.submissions"
	SubjectSecurityEvents     = "nadpilot.security.events"
	SubjectControl            = "nadpilot.orchestrator.control"
	SubjectApprovals          = "nadpilot.orchestrator.approvals"
	SubjectHeartbeat          = "nadpilot.system.heartbeat"

	runEventSubjectPrefix = "nadpilot.events.run."
	systemEventSubject    = "nadpilot.events.system"
)

// RunEventSubject returns the mirror subject for one run's live events
func RunEventSubject(runID string) string {
	if runID == "" {
		return systemEventSubject
	}
	return runEventSubjectPrefix + runID
}
