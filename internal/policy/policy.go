package policy

import (
	"fmt"

	"github.com/MikeSquared-Agency/sage/internal/domain"
)

// Action is the outcome of a policy decision.
type Action string

const (
	ActionAnswer   Action = "answer"
	ActionEscalate Action = "escalate"
	ActionRefuse   Action = "refuse"
)

const (
	DefaultEscalateThreshold = 0.6
	DefaultRefuseThreshold   = 0.3
)

const (
	RefusalMessage   = "I'm sorry, I couldn't find a reliable answer to your question. A member of our team will follow up with you."
	EscalationNotice = "I've also asked a member of our team to review this and follow up with you."
)

// Policy maps a confidence value to an action.
type Policy struct {
	EscalateThreshold float64
	RefuseThreshold   float64
}

// Decision is what the caller should show and whether to escalate.
type Decision struct {
	Action   Action `json:"action"`
	Escalate bool   `json:"escalate"`
	Message  string `json:"message,omitempty"`
}

// New validates thresholds: 0 <= refuse < escalate <= 1.
func New(escalate, refuse float64) (Policy, error) {
	if refuse < 0 || escalate > 1 || refuse >= escalate {
		return Policy{}, fmt.Errorf("%w: thresholds refuse=%.3f escalate=%.3f", domain.ErrInvalidInput, refuse, escalate)
	}
	return Policy{EscalateThreshold: escalate, RefuseThreshold: refuse}, nil
}

// Default returns the policy with default thresholds.
func Default() Policy {
	return Policy{EscalateThreshold: DefaultEscalateThreshold, RefuseThreshold: DefaultRefuseThreshold}
}

// Decide classifies confidence. Refuse is strictly below the refuse
// threshold, answer is at or above the escalate threshold.
func (p Policy) Decide(confidence float64) Decision {
	switch {
	case confidence < p.RefuseThreshold:
		return Decision{Action: ActionRefuse, Escalate: true, Message: RefusalMessage}
	case confidence < p.EscalateThreshold:
		return Decision{Action: ActionEscalate, Escalate: true, Message: EscalationNotice}
	default:
		return Decision{Action: ActionAnswer}
	}
}

// Render returns the text shown to the user for a generated answer.
func (d Decision) Render(answer string) string {
	switch d.Action {
	case ActionRefuse:
		return d.Message
	case ActionEscalate:
		if answer == "" {
			return d.Message
		}
		return answer + "\n\n" + d.Message
	default:
		return answer
	}
}
