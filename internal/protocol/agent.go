package protocol

import (
	"context"
	"fmt"
)

// Agent is a named participant addressed by the router. ProcessMessage is the
// single entry point: a request envelope in, a response envelope out. Agents
// return an error only for transport-level faults; validation and domain
// failures travel back as TypeError responses.
type Agent interface {
	Name() string
	ProcessMessage(ctx context.Context, msg *Message) (*Message, error)
}

// HandlerFunc handles one message type for an agent.
type HandlerFunc func(ctx context.Context, msg *Message) (*Message, error)

// HandlerMux maps message types to handlers. Agents embed one and register
// handlers at construction; Dispatch answers unregistered types with the
// standard error response instead of crashing.
type HandlerMux struct {
	agentName string
	handlers  map[string]HandlerFunc
}

// NewHandlerMux creates a dispatch table for the named agent. Every agent
// answers ping with pong so health probes work uniformly.
func NewHandlerMux(agentName string) *HandlerMux {
	mux := &HandlerMux{
		agentName: agentName,
		handlers:  make(map[string]HandlerFunc),
	}
	mux.Handle(TypePing, func(_ context.Context, msg *Message) (*Message, error) {
		return msg.Respond(TypePong, Payload{"agent": agentName, "status": "healthy"}), nil
	})
	return mux
}

// Handle registers a handler for a message type. Later registrations replace
// earlier ones.
func (h *HandlerMux) Handle(msgType string, fn HandlerFunc) {
	h.handlers[msgType] = fn
}

// Dispatch routes a message to its registered handler.
func (h *HandlerMux) Dispatch(ctx context.Context, msg *Message) (*Message, error) {
	if err := msg.Validate(); err != nil {
		return msg.RespondError("%v", err), nil
	}
	fn, ok := h.handlers[msg.Type]
	if !ok {
		return msg.RespondError("Unknown message type: %s", msg.Type), nil
	}
	return fn(ctx, msg)
}

// Name returns the owning agent's name.
func (h *HandlerMux) Name() string {
	return h.agentName
}

// Field helpers. Payload values arrive as whatever encoding/json produced, so
// numeric fields tolerate both float64 and int.

// StringField extracts a string payload field.
func StringField(p Payload, key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", &ValidationError{Field: key}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ValidationError{Field: key, Reason: fmt.Sprintf("expected string, got %T", v)}
	}
	return s, nil
}

// StringFieldOr extracts a string payload field with a default.
func StringFieldOr(p Payload, key, def string) string {
	if s, err := StringField(p, key); err == nil {
		return s
	}
	return def
}

// FloatField extracts a numeric payload field.
func FloatField(p Payload, key string) (float64, error) {
	v, ok := p[key]
	if !ok {
		return 0, &ValidationError{Field: key}
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, &ValidationError{Field: key, Reason: fmt.Sprintf("expected number, got %T", v)}
}

// FloatFieldOr extracts a numeric payload field with a default.
func FloatFieldOr(p Payload, key string, def float64) float64 {
	if f, err := FloatField(p, key); err == nil {
		return f
	}
	return def
}

// IntFieldOr extracts an integer payload field with a default.
func IntFieldOr(p Payload, key string, def int) int {
	if f, err := FloatField(p, key); err == nil {
		return int(f)
	}
	return def
}

// MapField extracts a nested payload map.
func MapField(p Payload, key string) (Payload, error) {
	v, ok := p[key]
	if !ok {
		return nil, &ValidationError{Field: key}
	}
	switch m := v.(type) {
	case Payload:
		return m, nil
	case map[string]any:
		return Payload(m), nil
	}
	return nil, &ValidationError{Field: key, Reason: fmt.Sprintf("expected object, got %T", v)}
}
