package session

import (
	"context"
	"testing"
	"time"
)

func TestNew_ClampsDifficulty(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 1},
		{-3, 1},
		{3, 3},
		{9, 5},
	}
	for _, tt := range tests {
		if got := New("u1", "phishing", tt.in).Difficulty; got != tt.want {
			t.Errorf("New difficulty %d = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSession_CompleteIsIdempotent(t *testing.T) {
	s := New("u1", "phishing", 3)
	s.Complete(ReasonFinished)
	first := s.EndedAt

	s.Complete(ReasonSystemShutdown)
	if s.CompletionReason != ReasonFinished {
		t.Errorf("second completion overwrote reason: %s", s.CompletionReason)
	}
	if !s.EndedAt.Equal(first) {
		t.Error("second completion moved end timestamp")
	}
	if !s.Terminal() {
		t.Error("completed session must be terminal")
	}
}

func TestSession_AppendDecisionDefaults(t *testing.T) {
	s := New("u1", "phishing", 3)
	s.AppendTurn("narrator", "You receive an email.")
	s.AppendTurn("user", "hmm")

	s.AppendDecision(DecisionPoint{
		Vulnerability: "phishing_link",
		UserChoice:    "report_suspicious",
		CorrectChoice: "report_suspicious",
		ResponseTime:  12.0,
	})

	d := s.Decisions[0]
	if d.Turn != 2 {
		t.Errorf("turn index = %d, want 2", d.Turn)
	}
	if d.Timestamp.IsZero() {
		t.Error("timestamp not defaulted")
	}
	if !d.Correct() {
		t.Error("matching choices should classify as correct")
	}
}

func TestSession_CloneIsolation(t *testing.T) {
	s := New("u1", "phishing", 3)
	s.AppendTurn("narrator", "intro")
	s.Scenario = map[string]any{"subject": "Urgent"}

	cp := s.Clone()
	cp.AppendTurn("user", "reply")
	cp.Scenario["subject"] = "changed"

	if len(s.Turns) != 1 {
		t.Error("clone mutation leaked into original turns")
	}
	if s.Scenario["subject"] != "Urgent" {
		t.Error("clone mutation leaked into original scenario")
	}
}

func TestMemoryStore_RoundTripAndActiveListing(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	a := New("u1", "phishing", 2)
	b := New("u2", "vishing", 3)
	b.Complete(ReasonFinished)
	if err := st.Save(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := st.Save(ctx, b); err != nil {
		t.Fatal(err)
	}

	got, err := st.Load(ctx, a.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.UserID != "u1" || got.Phase != PhaseIntro {
		t.Errorf("round trip mismatch: %+v", got)
	}

	// Loaded copy must not alias the stored one.
	got.AppendTurn("user", "aside")
	reload, _ := st.Load(ctx, a.ID)
	if len(reload.Turns) != 0 {
		t.Error("store handed out an aliased session")
	}

	ids, err := st.ListActiveIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != a.ID {
		t.Errorf("active ids = %v, want [%s]", ids, a.ID)
	}

	if _, err := st.Load(ctx, "missing"); err != ErrNotFound {
		t.Errorf("Load(missing) = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	s := New("u1", "phishing", 2)
	if err := st.Save(ctx, s); err != nil {
		t.Fatal(err)
	}

	// Fresh sessions survive a generous TTL.
	n, err := st.CleanupExpired(ctx, time.Hour)
	if err != nil || n != 0 {
		t.Fatalf("CleanupExpired = %d, %v; want 0, nil", n, err)
	}

	// A zero TTL sweeps everything idle.
	n, err = st.CleanupExpired(ctx, -time.Second)
	if err != nil || n != 1 {
		t.Fatalf("CleanupExpired = %d, %v; want 1, nil", n, err)
	}
	ids, _ := st.ListActiveIDs(ctx)
	if len(ids) != 0 {
		t.Errorf("swept session still listed active: %v", ids)
	}
}
