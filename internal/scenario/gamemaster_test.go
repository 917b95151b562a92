package scenario

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"cyberguard/internal/protocol"
	"cyberguard/internal/session"
)

// fakeRouter records every send and can be scripted to fail per destination.
type fakeRouter struct {
	mu          sync.Mutex
	sent        []*protocol.Message
	failTargets map[string]bool
	dropped     []string
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{failTargets: make(map[string]bool)}
}

func (f *fakeRouter) Send(_ context.Context, dest string, msg *protocol.Message, _ time.Duration, _ int) (*protocol.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	fail := f.failTargets[dest]
	f.mu.Unlock()
	if fail {
		return nil, errors.New("destination unreachable")
	}
	switch msg.Type {
	case protocol.TypeGenerateScenario:
		return msg.Respond("scenario_generated", protocol.Payload{
			"scenario": map[string]any{
				"email": map[string]any{
					"subject": "Generated Subject",
					"body":    "Generated body with a link.",
					"sender":  map[string]any{"display_name": "HR <hr@company-updates.com>"},
				},
			},
		}), nil
	default:
		return msg.Respond(protocol.TypeAck, nil), nil
	}
}

func (f *fakeRouter) DropSession(sessionID string) {
	f.mu.Lock()
	f.dropped = append(f.dropped, sessionID)
	f.mu.Unlock()
}

func (f *fakeRouter) lastOfType(dest, msgType string) *protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Recipient == dest && f.sent[i].Type == msgType {
			return f.sent[i]
		}
	}
	return nil
}

func (f *fakeRouter) sentTypes(dest string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []string
	for _, m := range f.sent {
		if m.Recipient == dest {
			types = append(types, m.Type)
		}
	}
	return types
}

func newTestGM(router *fakeRouter) *GameMaster {
	cfg := DefaultConfig()
	cfg.TrackTimeout = time.Second
	return New(cfg, router, session.NewMemoryStore(), NewNarrator(1))
}

func start(t *testing.T, gm *GameMaster) *session.Session {
	t.Helper()
	sess, err := gm.StartScenario(context.Background(), "u1", "phishing", "general", 3, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return sess
}

func TestStartScenario_OpensInIntro(t *testing.T) {
	gm := newTestGM(newFakeRouter())
	sess := start(t, gm)

	if sess.Phase != session.PhaseIntro {
		t.Errorf("phase = %s, want intro", sess.Phase)
	}
	if len(sess.Turns) != 1 || sess.Turns[0].Role != AgentName {
		t.Errorf("opening turn missing: %+v", sess.Turns)
	}
	if sess.Scenario["threat_pattern"] == "" {
		t.Error("no threat pattern selected")
	}
}

func TestHandleInput_IntroRequestsContentAndActivates(t *testing.T) {
	router := newFakeRouter()
	gm := newTestGM(router)
	sess := start(t, gm)

	resp, err := gm.HandleUserInput(context.Background(), sess.ID, "I'm ready, let's start", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.State != session.PhaseScenarioActive {
		t.Errorf("state = %s, want scenario_active", resp.State)
	}
	if !strings.Contains(resp.Content, "Generated Subject") {
		t.Errorf("threat content not presented: %.80q", resp.Content)
	}
	if types := router.sentTypes("phishing_agent"); len(types) != 1 || types[0] != protocol.TypeGenerateScenario {
		t.Errorf("content agent requests = %v", types)
	}
}

func TestHandleInput_ContentAgentDownFallsBack(t *testing.T) {
	router := newFakeRouter()
	router.failTargets["phishing_agent"] = true
	gm := newTestGM(router)
	sess := start(t, gm)

	resp, err := gm.HandleUserInput(context.Background(), sess.ID, "go ahead", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.State != session.PhaseScenarioActive {
		t.Errorf("state = %s, want scenario_active despite agent failure", resp.State)
	}
	if !strings.Contains(resp.Content, "suspicious activity") {
		t.Errorf("fallback narrative missing: %.80q", resp.Content)
	}
}

func TestHandleInput_FullDecisionFlow(t *testing.T) {
	router := newFakeRouter()
	gm := newTestGM(router)
	sess := start(t, gm)
	ctx := context.Background()

	// intro -> scenario_active
	if _, err := gm.HandleUserInput(ctx, sess.ID, "show me", 10, nil); err != nil {
		t.Fatal(err)
	}
	// active -> awaiting_decision
	resp, err := gm.HandleUserInput(ctx, sess.ID, "hmm, that looks odd", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.State != session.PhaseAwaitingDecision {
		t.Errorf("state = %s, want awaiting_decision", resp.State)
	}
	// decision -> completed with learning moment and debrief
	resp, err = gm.HandleUserInput(ctx, sess.ID, "I would verify the sender first", 12, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.ScenarioComplete {
		t.Fatal("security decision should complete the scenario")
	}
	if resp.Completion == nil {
		t.Fatal("completion result missing")
	}
	if resp.Completion.Reason != session.ReasonFinished {
		t.Errorf("reason = %s, want finished", resp.Completion.Reason)
	}
	if resp.Completion.Evaluation.DecisionsTracked == 0 {
		t.Error("decision not folded into the evaluation")
	}
	if !strings.Contains(resp.Completion.Debrief.Content, "Session Debrief") {
		t.Error("debrief missing")
	}

	// Completed sessions leave the active set, their router records drop.
	if _, err := gm.Session(sess.ID); err == nil {
		t.Error("completed session still active")
	}
	if len(router.dropped) != 1 || router.dropped[0] != sess.ID {
		t.Errorf("router records not dropped: %v", router.dropped)
	}

	gm.reports.Wait()
	evalTypes := router.sentTypes("evaluation_agent")
	hasTrack, hasEval := false, false
	for _, tp := range evalTypes {
		if tp == protocol.TypeTrackDecision {
			hasTrack = true
		}
		if tp == protocol.TypeEvaluateSession {
			hasEval = true
		}
	}
	if !hasTrack || !hasEval {
		t.Errorf("evaluation agent traffic = %v, want track_decision and evaluate_session", evalTypes)
	}
	if types := router.sentTypes("memory_agent"); len(types) == 0 || types[len(types)-1] != protocol.TypeStoreSession {
		t.Errorf("memory agent traffic = %v, want final store_session", types)
	}
}

// Completion must hand the evaluation agent the authoritative decision list
// and release its per-session ledger, whichever path finished the session.
func TestCompletion_ReleasesEvaluationLedger(t *testing.T) {
	router := newFakeRouter()
	gm := newTestGM(router)
	sess := start(t, gm)
	ctx := context.Background()

	if _, err := gm.HandleUserInput(ctx, sess.ID, "go ahead", 10, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := gm.HandleUserInput(ctx, sess.ID, "hmm, that domain is strange", 10, nil); err != nil {
		t.Fatal(err)
	}
	resp, err := gm.HandleUserInput(ctx, sess.ID, "I would verify the sender first", 9, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.ScenarioComplete {
		t.Fatal("security decision should complete the scenario")
	}

	evalMsg := router.lastOfType("evaluation_agent", protocol.TypeEvaluateSession)
	if evalMsg == nil {
		t.Fatal("no evaluate_session request sent")
	}
	decisions, ok := evalMsg.Payload["decisions"].([]session.DecisionPoint)
	if !ok || len(decisions) == 0 {
		t.Errorf("evaluate_session must carry the session's decisions, got %T", evalMsg.Payload["decisions"])
	}

	done := router.lastOfType("evaluation_agent", protocol.TypeSessionCompleted)
	if done == nil {
		t.Fatal("evaluation ledger never released")
	}
	if done.SessionID != sess.ID {
		t.Errorf("session_completed for %s, want %s", done.SessionID, sess.ID)
	}
}

func TestHandleInput_HintsAreCapped(t *testing.T) {
	router := newFakeRouter()
	gm := newTestGM(router)
	cfg := DefaultConfig()
	cfg.MaxTurns = 100 // keep the ceiling out of the way
	gm.cfg = cfg
	sess := start(t, gm)
	ctx := context.Background()

	if _, err := gm.HandleUserInput(ctx, sess.ID, "start", 10, nil); err != nil {
		t.Fatal(err)
	}

	// Struggling but non-committal input keeps the session cycling without
	// ever committing to a decision.
	for i := 0; i < 6; i++ {
		if _, err := gm.HandleUserInput(ctx, sess.ID, "help, I'm confused about this", 10, nil); err != nil {
			t.Fatal(err)
		}
	}
	cur, err := gm.Session(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.HintsUsed > MaxHintsPerSession {
		t.Errorf("hints used = %d, cap is %d", cur.HintsUsed, MaxHintsPerSession)
	}
}

func TestHandleInput_MaxTurnsForcesCompletion(t *testing.T) {
	router := newFakeRouter()
	gm := newTestGM(router)
	cfg := DefaultConfig()
	cfg.MaxTurns = 5
	gm.cfg = cfg
	sess := start(t, gm)
	ctx := context.Background()

	var last Response
	for i := 0; i < 10; i++ {
		resp, err := gm.HandleUserInput(ctx, sess.ID, "what is this thing", 10, nil)
		if err != nil {
			break
		}
		last = resp
		if resp.ScenarioComplete {
			break
		}
	}
	if !last.ScenarioComplete {
		t.Fatal("turn ceiling never forced completion")
	}
	if last.Completion == nil || last.Completion.Reason != session.ReasonMaxTurns {
		t.Errorf("completion = %+v, want reason max_turns", last.Completion)
	}
}

func TestHandleInput_UnknownSession(t *testing.T) {
	gm := newTestGM(newFakeRouter())
	_, err := gm.HandleUserInput(context.Background(), "missing", "hello", 10, nil)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestShutdown_CompletesActiveSessions(t *testing.T) {
	router := newFakeRouter()
	gm := newTestGM(router)
	store := session.NewMemoryStore()
	gm.store = store

	a := start(t, gm)
	b := start(t, gm)

	if err := gm.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(gm.ActiveSessionIDs()); got != 0 {
		t.Fatalf("active sessions after shutdown = %d", got)
	}
	released := make(map[string]bool)
	router.mu.Lock()
	for _, m := range router.sent {
		if m.Type == protocol.TypeSessionCompleted {
			released[m.SessionID] = true
		}
	}
	router.mu.Unlock()

	for _, id := range []string{a.ID, b.ID} {
		stored, err := store.Load(context.Background(), id)
		if err != nil {
			t.Fatalf("session %s not persisted: %v", id, err)
		}
		if stored.CompletionReason != session.ReasonSystemShutdown {
			t.Errorf("session %s reason = %s, want system_shutdown", id, stored.CompletionReason)
		}
		if !released[id] {
			t.Errorf("session %s evaluation ledger never released", id)
		}
	}
}

func TestCompleteScenario_Idempotent(t *testing.T) {
	gm := newTestGM(newFakeRouter())
	sess := start(t, gm)
	ctx := context.Background()

	if _, err := gm.CompleteScenario(ctx, sess.ID, session.ReasonFinished); err != nil {
		t.Fatal(err)
	}
	if _, err := gm.CompleteScenario(ctx, sess.ID, session.ReasonFinished); err == nil {
		t.Error("second completion should fail: session no longer active")
	}
}
