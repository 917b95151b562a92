// Package protocol defines the agent-to-agent (A2A) message envelope and the
// dispatch machinery shared by every agent in the system.
//
// The envelope field set is fixed: sender, recipient, message_type, payload,
// session_id, correlation_id, timestamp. The payload is an open structured
// map; receivers ignore keys they do not understand so the contract stays
// forward-compatible.
package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message types recognized by the core agents. The enum is open: agents
// answer unknown types with a TypeError response, never a crash.
const (
	TypePing    = "ping"
	TypePong    = "pong"
	TypeError   = "error"
	TypeAck     = "acknowledged"

	// Evaluation agent
	TypeTrackDecision     = "track_decision"
	TypeDecisionMade      = "decision_made"
	TypeEvaluateSession   = "evaluate_session"
	TypeGetEvaluation     = "get_evaluation"
	TypeGetRiskAssessment = "get_risk_assessment"
	TypeRequestDifficulty = "request_difficulty"
	TypeSessionStarted    = "session_started"
	TypeSessionCompleted  = "session_completed"

	// Threat actor agents
	TypeGenerateScenario = "generate_scenario"
	TypeAdaptScenario    = "adapt_scenario"

	// Memory agent
	TypeCreateSession  = "create_session"
	TypeUpdateSession  = "update_session"
	TypeGetSession     = "get_session"
	TypeStoreSession   = "store_session"
	TypeGetUserProfile = "get_user_profile"
	TypeUpdateProfile  = "update_profile"
)

// Payload is the open structured map carried by every message.
type Payload map[string]any

// Message is the A2A envelope. The correlation id is generated when the
// request is built and echoed unchanged in the response; a response always
// carries the session id of its request.
type Message struct {
	Sender        string  `json:"sender"`
	Recipient     string  `json:"recipient"`
	Type          string  `json:"message_type"`
	Payload       Payload `json:"payload"`
	SessionID     string  `json:"session_id"`
	CorrelationID string  `json:"correlation_id"`
	Timestamp     float64 `json:"timestamp"`
}

// NewMessage builds a request envelope with a fresh correlation id.
func NewMessage(sender, recipient, msgType, sessionID string, payload Payload) *Message {
	if payload == nil {
		payload = Payload{}
	}
	return &Message{
		Sender:        sender,
		Recipient:     recipient,
		Type:          msgType,
		Payload:       payload,
		SessionID:     sessionID,
		CorrelationID: uuid.NewString(),
		Timestamp:     float64(time.Now().UnixNano()) / float64(time.Second),
	}
}

// Respond builds the response envelope for a request, echoing the
// correlation id and session id and swapping sender/recipient.
func (m *Message) Respond(msgType string, payload Payload) *Message {
	if payload == nil {
		payload = Payload{}
	}
	return &Message{
		Sender:        m.Recipient,
		Recipient:     m.Sender,
		Type:          msgType,
		Payload:       payload,
		SessionID:     m.SessionID,
		CorrelationID: m.CorrelationID,
		Timestamp:     float64(time.Now().UnixNano()) / float64(time.Second),
	}
}

// RespondError builds a structured error response.
func (m *Message) RespondError(format string, args ...interface{}) *Message {
	return m.Respond(TypeError, Payload{"error": fmt.Sprintf(format, args...)})
}

// Validate checks the required envelope fields. A failed validation is a
// caller error surfaced as a value, never a fault.
func (m *Message) Validate() error {
	switch {
	case m == nil:
		return fmt.Errorf("message is nil")
	case m.Recipient == "":
		return &ValidationError{Field: "recipient"}
	case m.Type == "":
		return &ValidationError{Field: "message_type"}
	case m.SessionID == "":
		return &ValidationError{Field: "session_id"}
	}
	return nil
}

// IsError reports whether the message is an error response.
func (m *Message) IsError() bool {
	return m != nil && m.Type == TypeError
}

// ValidationError describes a missing or invalid envelope/payload field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("missing required field %q", e.Field)
}

// CopyPayload returns a shallow copy of the payload. Broadcast legs each get
// their own copy so no two recipients share a mutable map.
func (m *Message) CopyPayload() Payload {
	out := make(Payload, len(m.Payload))
	for k, v := range m.Payload {
		out[k] = v
	}
	return out
}
