package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"cyberguard/internal/protocol"
)

// fakeClock advances instantly instead of sleeping, and records every delay
// the router requested.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) sleepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sleeps)
}

// scriptedAgent fails the first failN deliveries, then succeeds.
type scriptedAgent struct {
	name  string
	failN int32
	calls int32
	block time.Duration // optional per-call delay honoring ctx
}

func (a *scriptedAgent) Name() string { return a.name }

func (a *scriptedAgent) ProcessMessage(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	n := atomic.AddInt32(&a.calls, 1)
	if a.block > 0 {
		select {
		case <-time.After(a.block):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n <= atomic.LoadInt32(&a.failN) {
		return nil, errors.New("collaborator busy")
	}
	if msg.Type == protocol.TypePing {
		return msg.Respond(protocol.TypePong, nil), nil
	}
	return msg.Respond(protocol.TypeAck, protocol.Payload{"agent": a.name}), nil
}

func (a *scriptedAgent) callCount() int32 { return atomic.LoadInt32(&a.calls) }

func newTestRouter(clock Clock) *Router {
	cfg := DefaultConfig()
	cfg.Clock = clock
	cfg.BreakerCoolDown = time.Minute
	return New(cfg)
}

func TestSend_SuccessRecordsCompletion(t *testing.T) {
	clock := newFakeClock()
	r := newTestRouter(clock)
	agent := &scriptedAgent{name: "evaluation_agent"}
	r.Register(agent)

	msg := protocol.NewMessage("game_master", "evaluation_agent", protocol.TypeTrackDecision, "s1", nil)
	resp, err := r.Send(context.Background(), "evaluation_agent", msg, time.Second, 3)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.CorrelationID != msg.CorrelationID {
		t.Error("response correlation id mismatch")
	}

	rec, ok := r.Record(msg.CorrelationID)
	if !ok {
		t.Fatal("coordination record missing")
	}
	snap := rec.Snapshot()
	if snap.Status != CoordinationCompleted {
		t.Errorf("record status = %s, want completed", snap.Status)
	}
	if snap.Attempts != 1 {
		t.Errorf("record attempts = %d, want 1", snap.Attempts)
	}
}

func TestSend_RetriesWithBackoffThenSucceeds(t *testing.T) {
	clock := newFakeClock()
	r := newTestRouter(clock)
	agent := &scriptedAgent{name: "phishing_agent", failN: 2}
	r.Register(agent)

	msg := protocol.NewMessage("game_master", "phishing_agent", protocol.TypeGenerateScenario, "s1", nil)
	resp, err := r.Send(context.Background(), "phishing_agent", msg, time.Second, 3)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.IsError() {
		t.Fatalf("unexpected error response: %v", resp.Payload)
	}
	if got := agent.callCount(); got != 3 {
		t.Errorf("delivery attempts = %d, want 3", got)
	}
	if clock.sleepCount() != 2 {
		t.Errorf("backoff sleeps = %d, want 2", clock.sleepCount())
	}

	// Success resets the breaker failure counter.
	if snap := r.BreakerSnapshot("phishing_agent"); snap.State != BreakerClosed || snap.Failures != 0 {
		t.Errorf("breaker after success = %+v, want closed/0", snap)
	}
}

func TestSend_ExhaustedReturnsDeliveryFailed(t *testing.T) {
	clock := newFakeClock()
	r := newTestRouter(clock)
	agent := &scriptedAgent{name: "memory_agent", failN: 100}
	r.Register(agent)

	msg := protocol.NewMessage("game_master", "memory_agent", protocol.TypeStoreSession, "s1", nil)
	_, err := r.Send(context.Background(), "memory_agent", msg, time.Second, 2)

	var dfe *DeliveryFailedError
	if !errors.As(err, &dfe) {
		t.Fatalf("error = %v, want DeliveryFailedError", err)
	}
	if dfe.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", dfe.Attempts)
	}
	if dfe.LastErr == nil {
		t.Error("last error not carried")
	}

	rec, _ := r.Record(msg.CorrelationID)
	if snap := rec.Snapshot(); snap.Status != CoordinationFailed {
		t.Errorf("record status = %s, want failed", snap.Status)
	}
}

func TestSend_BreakerOpensAfterThresholdAndFailsFast(t *testing.T) {
	clock := newFakeClock()
	r := newTestRouter(clock)
	agent := &scriptedAgent{name: "vishing_agent", failN: 100}
	r.Register(agent)

	// 3 consecutive failures inside one send opens the breaker.
	msg := protocol.NewMessage("game_master", "vishing_agent", protocol.TypeGenerateScenario, "s1", nil)
	if _, err := r.Send(context.Background(), "vishing_agent", msg, time.Second, 2); err == nil {
		t.Fatal("expected delivery failure")
	}
	if snap := r.BreakerSnapshot("vishing_agent"); snap.State != BreakerOpen {
		t.Fatalf("breaker = %v, want open", snap.State)
	}

	// Subsequent send fails immediately without a delivery attempt.
	before := agent.callCount()
	msg2 := protocol.NewMessage("game_master", "vishing_agent", protocol.TypeGenerateScenario, "s1", nil)
	_, err := r.Send(context.Background(), "vishing_agent", msg2, time.Second, 2)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}
	if agent.callCount() != before {
		t.Error("open breaker must not attempt delivery")
	}

	// After the cool-down a half-open trial goes through; make it succeed.
	atomic.StoreInt32(&agent.failN, 0)
	clock.advance(2 * time.Minute)
	msg3 := protocol.NewMessage("game_master", "vishing_agent", protocol.TypeGenerateScenario, "s1", nil)
	if _, err := r.Send(context.Background(), "vishing_agent", msg3, time.Second, 0); err != nil {
		t.Fatalf("half-open trial failed: %v", err)
	}
	if snap := r.BreakerSnapshot("vishing_agent"); snap.State != BreakerClosed {
		t.Errorf("breaker after trial success = %v, want closed", snap.State)
	}
}

func TestSend_CircuitOpenFastFailIsRecorded(t *testing.T) {
	clock := newFakeClock()
	r := newTestRouter(clock)
	r.Register(&scriptedAgent{name: "bec_agent", failN: 100})

	open := protocol.NewMessage("game_master", "bec_agent", protocol.TypeGenerateScenario, "s1", nil)
	if _, err := r.Send(context.Background(), "bec_agent", open, time.Second, 2); err == nil {
		t.Fatal("expected delivery failure")
	}

	// The fast-failed send still lands in the coordination record table.
	fast := protocol.NewMessage("game_master", "bec_agent", protocol.TypeGenerateScenario, "s1", nil)
	if _, err := r.Send(context.Background(), "bec_agent", fast, time.Second, 2); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}

	rec, ok := r.Record(fast.CorrelationID)
	if !ok {
		t.Fatal("circuit-open send left no coordination record")
	}
	snap := rec.Snapshot()
	if snap.Status != CoordinationFailed {
		t.Errorf("record status = %s, want failed", snap.Status)
	}
	if snap.Attempts != 0 {
		t.Errorf("record attempts = %d, want 0", snap.Attempts)
	}
	if !strings.Contains(snap.Err, "circuit breaker open") {
		t.Errorf("record error = %q, want circuit-open cause", snap.Err)
	}
}

func TestSend_UnknownAgent(t *testing.T) {
	r := newTestRouter(newFakeClock())
	msg := protocol.NewMessage("game_master", "nobody", protocol.TypePing, "s1", nil)
	_, err := r.Send(context.Background(), "nobody", msg, time.Second, 0)
	if !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("error = %v, want ErrUnknownAgent", err)
	}
}

func TestBroadcast_WaitForAllReturnsEntryPerDestination(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := DefaultConfig()
	cfg.Backoff = BackoffPolicy{BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 2 * time.Millisecond}
	r := New(cfg)

	ok1 := &scriptedAgent{name: "a1"}
	ok2 := &scriptedAgent{name: "a2"}
	slow := &scriptedAgent{name: "a3", block: 500 * time.Millisecond}
	r.Register(ok1)
	r.Register(ok2)
	r.Register(slow)

	msg := protocol.NewMessage("game_master", "", protocol.TypeSessionStarted, "s1", protocol.Payload{"k": "v"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Give the slow leg a tiny attempt timeout so it times out rather than
	// stalling the test.
	r.cfg.DefaultTimeout = 50 * time.Millisecond
	results := r.Broadcast(ctx, msg, []string{"a1", "a2", "a3"}, true)

	if len(results) != 3 {
		t.Fatalf("results = %d entries, want 3", len(results))
	}
	if results["a1"].Err != nil || results["a2"].Err != nil {
		t.Errorf("healthy legs errored: %v %v", results["a1"].Err, results["a2"].Err)
	}
	if results["a3"].Err == nil {
		t.Error("slow leg should surface an error result")
	}
}

func TestBroadcast_LegsGetIsolatedPayloads(t *testing.T) {
	r := New(DefaultConfig())
	seen := make(chan *protocol.Message, 2)
	for _, name := range []string{"b1", "b2"} {
		r.Register(&captureAgent{name: name, seen: seen})
	}

	msg := protocol.NewMessage("game_master", "", protocol.TypeSessionStarted, "s1", protocol.Payload{"k": "v"})
	r.Broadcast(context.Background(), msg, []string{"b1", "b2"}, true)

	m1, m2 := <-seen, <-seen
	if m1.CorrelationID == m2.CorrelationID {
		t.Error("broadcast legs must not share a correlation id")
	}
	if m1.SessionID != "s1" || m2.SessionID != "s1" {
		t.Error("broadcast legs must carry the original session id")
	}
}

type captureAgent struct {
	name string
	seen chan *protocol.Message
}

func (a *captureAgent) Name() string { return a.name }

func (a *captureAgent) ProcessMessage(_ context.Context, msg *protocol.Message) (*protocol.Message, error) {
	a.seen <- msg
	return msg.Respond(protocol.TypeAck, nil), nil
}

func TestBroadcast_BoundedWaitCancelsPending(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := DefaultConfig()
	cfg.BroadcastWindow = 50 * time.Millisecond
	cfg.DefaultTimeout = 5 * time.Second
	r := New(cfg)

	fast := &scriptedAgent{name: "fast"}
	slow := &scriptedAgent{name: "slow", block: 10 * time.Second}
	r.Register(fast)
	r.Register(slow)

	msg := protocol.NewMessage("game_master", "", protocol.TypePing, "s1", nil)
	start := time.Now()
	results := r.Broadcast(context.Background(), msg, []string{"fast", "slow"}, false)

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("bounded broadcast took %v", elapsed)
	}
	if _, ok := results["fast"]; !ok {
		t.Error("fast leg result missing")
	}
	if _, ok := results["slow"]; ok {
		t.Error("slow leg should have been cancelled, not collected")
	}

	// The cancelled leg must wind down on its own; goleak verifies above.
	time.Sleep(100 * time.Millisecond)
}

func TestCheckAvailability_ProbesDoNotTripBreakers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProbeTimeout = 20 * time.Millisecond
	cfg.Backoff = BackoffPolicy{BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 2 * time.Millisecond}
	r := New(cfg)

	up := &scriptedAgent{name: "up"}
	down := &scriptedAgent{name: "down", failN: 100}
	r.Register(up)
	r.Register(down)

	available := r.CheckAvailability(context.Background(), []string{"up", "down"})
	if len(available) != 1 || available[0] != "up" {
		t.Fatalf("available = %v, want [up]", available)
	}

	// Probe failures must not have opened the breaker for real traffic.
	if snap := r.BreakerSnapshot("down"); snap.State != BreakerClosed || snap.Failures != 0 {
		t.Errorf("breaker after probes = %+v, want untouched", snap)
	}
}

func TestDropSession_DiscardsRecords(t *testing.T) {
	r := newTestRouter(newFakeClock())
	r.Register(&scriptedAgent{name: "a"})

	m1 := protocol.NewMessage("gm", "a", protocol.TypePing, "s1", nil)
	m2 := protocol.NewMessage("gm", "a", protocol.TypePing, "s2", nil)
	r.Send(context.Background(), "a", m1, time.Second, 0)
	r.Send(context.Background(), "a", m2, time.Second, 0)

	r.DropSession("s1")
	if _, ok := r.Record(m1.CorrelationID); ok {
		t.Error("s1 record should be dropped")
	}
	if _, ok := r.Record(m2.CorrelationID); !ok {
		t.Error("s2 record should survive")
	}
}

func TestRecord_ResolvesExactlyOnce(t *testing.T) {
	now := time.Now()
	rec := &CoordinationRecord{Status: CoordinationPending, StartedAt: now}

	rec.resolve(CoordinationCompleted, now, protocol.Payload{"ok": true}, "", 1)
	rec.resolve(CoordinationFailed, now.Add(time.Second), nil, "late cancellation", 2)

	snap := rec.Snapshot()
	if snap.Status != CoordinationCompleted {
		t.Errorf("status = %s, want completed (first resolution wins)", snap.Status)
	}
	if snap.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", snap.Attempts)
	}
}
