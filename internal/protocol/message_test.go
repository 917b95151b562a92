package protocol

import (
	"context"
	"strings"
	"testing"
)

func TestNewMessage_CorrelationIDs(t *testing.T) {
	a := NewMessage("game_master", "evaluation_agent", TypeTrackDecision, "s1", nil)
	b := NewMessage("game_master", "evaluation_agent", TypeTrackDecision, "s1", nil)

	if a.CorrelationID == "" {
		t.Fatal("expected non-empty correlation id")
	}
	if a.CorrelationID == b.CorrelationID {
		t.Error("correlation ids must be unique per request")
	}
}

func TestRespond_EchoesCorrelationAndSession(t *testing.T) {
	req := NewMessage("game_master", "evaluation_agent", TypeTrackDecision, "s1", Payload{"k": "v"})
	resp := req.Respond("decision_tracked", Payload{"status": "recorded"})

	if resp.CorrelationID != req.CorrelationID {
		t.Errorf("correlation id not echoed: got %s want %s", resp.CorrelationID, req.CorrelationID)
	}
	if resp.SessionID != req.SessionID {
		t.Errorf("session id not echoed: got %s want %s", resp.SessionID, req.SessionID)
	}
	if resp.Sender != "evaluation_agent" || resp.Recipient != "game_master" {
		t.Errorf("sender/recipient not swapped: %s -> %s", resp.Sender, resp.Recipient)
	}
}

func TestValidate_MissingFields(t *testing.T) {
	tests := []struct {
		name  string
		msg   *Message
		field string
	}{
		{"no recipient", &Message{Type: TypePing, SessionID: "s"}, "recipient"},
		{"no type", &Message{Recipient: "a", SessionID: "s"}, "message_type"},
		{"no session", &Message{Recipient: "a", Type: TypePing}, "session_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name field %q", err, tt.field)
			}
		})
	}
}

func TestHandlerMux_UnknownType(t *testing.T) {
	mux := NewHandlerMux("test_agent")

	msg := NewMessage("x", "test_agent", "no_such_type", "s1", nil)
	resp, err := mux.Dispatch(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.IsError() {
		t.Fatalf("expected error response, got %s", resp.Type)
	}
	want := "Unknown message type: no_such_type"
	if got, _ := StringField(resp.Payload, "error"); got != want {
		t.Errorf("error payload = %q, want %q", got, want)
	}
}

func TestHandlerMux_PingPong(t *testing.T) {
	mux := NewHandlerMux("test_agent")

	msg := NewMessage("router", "test_agent", TypePing, "health_check", nil)
	resp, err := mux.Dispatch(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Type != TypePong {
		t.Errorf("expected pong, got %s", resp.Type)
	}
}

func TestCopyPayload_Isolated(t *testing.T) {
	msg := NewMessage("a", "b", TypePing, "s", Payload{"n": 1})
	cp := msg.CopyPayload()
	cp["n"] = 2

	if msg.Payload["n"] != 1 {
		t.Error("CopyPayload must not alias the original map")
	}
}

func TestFieldHelpers(t *testing.T) {
	p := Payload{"s": "str", "f": 1.5, "i": 3, "m": map[string]any{"k": "v"}}

	if v, err := StringField(p, "s"); err != nil || v != "str" {
		t.Errorf("StringField = %v, %v", v, err)
	}
	if _, err := StringField(p, "missing"); err == nil {
		t.Error("expected error for missing field")
	}
	if v, err := FloatField(p, "f"); err != nil || v != 1.5 {
		t.Errorf("FloatField = %v, %v", v, err)
	}
	if v := IntFieldOr(p, "i", 0); v != 3 {
		t.Errorf("IntFieldOr = %d", v)
	}
	if m, err := MapField(p, "m"); err != nil || m["k"] != "v" {
		t.Errorf("MapField = %v, %v", m, err)
	}
	if v := StringFieldOr(p, "absent", "dflt"); v != "dflt" {
		t.Errorf("StringFieldOr = %q", v)
	}
}
