// Package session holds the training-session model and its persistence
// contract. A Session is owned by exactly one state machine instance; every
// other component sees it only through message payloads, never through shared
// memory. Stores persist sessions as JSON documents keyed by id.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Phase is the state-machine state governing what kind of narrative turn is
// produced next.
type Phase string

const (
	PhaseIntro            Phase = "intro"
	PhaseScenarioActive   Phase = "scenario_active"
	PhaseAwaitingDecision Phase = "awaiting_decision"
	PhaseScenarioComplete Phase = "scenario_complete"
	PhaseCompleted        Phase = "completed"
)

// Completion reasons recorded when a session reaches PhaseCompleted.
const (
	ReasonFinished       = "finished"
	ReasonMaxTurns       = "max_turns"
	ReasonError          = "error"
	ReasonSystemShutdown = "system_shutdown"
)

// Turn is one entry of the conversation transcript.
type Turn struct {
	Role      string    `json:"role"` // "narrator", "user", "system"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// DecisionPoint captures one classified user decision. Immutable once
// appended to a session.
//
// RiskImpact is stored on the 0..1 scale (0 = no added risk, 1 = maximal);
// presentation layers that want a signed delta derive it as 1 - 2*RiskImpact.
type DecisionPoint struct {
	Turn          int       `json:"turn"`
	Vulnerability string    `json:"vulnerability"`
	UserChoice    string    `json:"user_choice"`
	CorrectChoice string    `json:"correct_choice"`
	RiskImpact    float64   `json:"risk_impact"`
	ResponseTime  float64   `json:"response_time_seconds"`
	Confidence    *float64  `json:"confidence,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Correct reports whether the user picked the optimal action.
func (d DecisionPoint) Correct() bool {
	return d.UserChoice == d.CorrectChoice
}

// Session is one user's run through a scenario.
type Session struct {
	ID               string          `json:"session_id"`
	UserID           string          `json:"user_id"`
	UserRole         string          `json:"user_role,omitempty"`
	ScenarioType     string          `json:"scenario_type"`
	Phase            Phase           `json:"phase"`
	Turns            []Turn          `json:"turns"`
	Decisions        []DecisionPoint `json:"decisions"`
	HintsUsed        int             `json:"hints_used"`
	Difficulty       int             `json:"difficulty"` // ordinal 1..5
	StartedAt        time.Time       `json:"started_at"`
	EndedAt          time.Time       `json:"ended_at,omitempty"`
	CompletionReason string          `json:"completion_reason,omitempty"`

	// Scenario holds the active scenario content as delivered by the
	// content agent (or the fallback catalog).
	Scenario map[string]any `json:"scenario,omitempty"`
}

// New creates a session in the intro phase with a fresh id.
func New(userID, scenarioType string, difficulty int) *Session {
	if difficulty < 1 {
		difficulty = 1
	}
	if difficulty > 5 {
		difficulty = 5
	}
	return &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		ScenarioType: scenarioType,
		Phase:        PhaseIntro,
		Difficulty:   difficulty,
		StartedAt:    time.Now().UTC(),
	}
}

// AppendTurn records one transcript entry.
func (s *Session) AppendTurn(role, text string) {
	s.Turns = append(s.Turns, Turn{Role: role, Text: text, Timestamp: time.Now().UTC()})
}

// AppendDecision records a classified decision. The turn index is the
// transcript position at the time of the decision.
func (s *Session) AppendDecision(d DecisionPoint) {
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	if d.Turn == 0 {
		d.Turn = len(s.Turns)
	}
	s.Decisions = append(s.Decisions, d)
}

// Complete marks the session terminal. Idempotent: the first completion wins.
func (s *Session) Complete(reason string) {
	if s.Terminal() {
		return
	}
	s.Phase = PhaseCompleted
	s.CompletionReason = reason
	s.EndedAt = time.Now().UTC()
}

// Terminal reports whether the session has ended. A session is terminal once
// its end timestamp is set.
func (s *Session) Terminal() bool {
	return !s.EndedAt.IsZero()
}

// Clone returns a deep copy safe to hand across goroutines.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Turns = append([]Turn(nil), s.Turns...)
	cp.Decisions = append([]DecisionPoint(nil), s.Decisions...)
	if s.Scenario != nil {
		cp.Scenario = make(map[string]any, len(s.Scenario))
		for k, v := range s.Scenario {
			cp.Scenario[k] = v
		}
	}
	return &cp
}
