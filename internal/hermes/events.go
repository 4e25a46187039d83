package hermes

const (
	SubjectAnalysisRequested = "swarm.antiphon.analysis.requested"
	SubjectAnalysisStarted   = "swarm.antiphon.analysis.started"
	SubjectAnalysisCompleted = "swarm.antiphon.analysis.completed"
	SubjectAnalysisFailed    = "swarm.antiphon.analysis.failed"
	SubjectRegistered        = "swarm.agent.antiphon.registered"
)

// QueueAnalysis is the queue group replicas share so each request runs once.
const QueueAnalysis = "antiphon-analysis"

// AnalysisEvent is published when an analysis run changes state.
type AnalysisEvent struct {
	SessionID string  `json:"session_id"`
	Stage     string  `json:"stage"`
	Sections  int     `json:"sections,omitempty"`
	Pairs     int     `json:"pairs,omitempty"`
	Error     string  `json:"error,omitempty"`
	Seconds   float64 `json:"seconds,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// Subject maps the event's stage to the subject it is published on.
func (e AnalysisEvent) Subject() string {
	switch e.Stage {
	case "complete":
		return SubjectAnalysisCompleted
	case "error":
		return SubjectAnalysisFailed
	default:
		return SubjectAnalysisStarted
	}
}

// AnalysisRequest asks the service to run analysis for a session.
type AnalysisRequest struct {
	SessionID  string           `json:"session_id"`
	References []ReferenceEvent `json:"references,omitempty"`
}

type ReferenceEvent struct {
	Label string  `json:"label"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}
