package session

import "github.com/runframe/agentrelay/internal/events"

// AgentStatus is what the agent appears to be doing right now.
type AgentStatus string

const (
	StatusIdle       AgentStatus = "idle"
	StatusThinking   AgentStatus = "thinking"
	StatusEvaluating AgentStatus = "evaluating"
	StatusFailed     AgentStatus = "failed"
	StatusCompleted  AgentStatus = "completed"
)

func (s AgentStatus) valid() bool {
	switch s {
	case StatusIdle, StatusThinking, StatusEvaluating, StatusFailed, StatusCompleted:
		return true
	}
	return false
}

// Activity derives AgentStatus from the inbound stream. It starts idle.
type Activity struct {
	status AgentStatus
}

func NewActivity() Activity {
	return Activity{status: StatusIdle}
}

func (a *Activity) Status() AgentStatus {
	return a.status
}

// Apply updates the status for ev and reports whether it changed. Types
// without a rule leave the status alone.
func (a *Activity) Apply(p events.Payload) bool {
	switch v := p.(type) {
	case events.StateTransition:
		switch v.To {
		case events.StateThinking:
			return a.set(StatusThinking)
		case events.StateIdle:
			return a.set(StatusIdle)
		}
	case events.EvaluationUpdate:
		switch v.Status {
		case events.EvaluationRunning:
			return a.set(StatusEvaluating)
		case events.EvaluationPass:
			return a.set(StatusIdle)
		case events.EvaluationFail:
			return a.set(StatusFailed)
		}
	case events.ArtifactUpdated, events.AuthorityRequired, events.HILRequest:
		return a.set(StatusIdle)
	case events.Error:
		return a.set(StatusFailed)
	case events.SystemState:
		if s := AgentStatus(v.AgentStatus); s.valid() {
			return a.set(s)
		}
	}
	return false
}

func (a *Activity) set(s AgentStatus) bool {
	if a.status == s {
		return false
	}
	a.status = s
	return true
}
