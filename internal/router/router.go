// Package router delivers A2A request envelopes to named agents and returns
// their responses, masking transient failures. It owns retry with capped
// exponential backoff, per-destination circuit breakers, fan-out broadcast,
// and the coordination-record audit table.
//
// The reference transport is in-process dispatch; a production variant would
// swap the delivery step without changing the protocol.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cyberguard/internal/logging"
	"cyberguard/internal/protocol"
)

// ErrCircuitOpen is returned when a destination's breaker is open: the
// destination is known-bad and the send fails fast without consuming the
// retry budget.
var ErrCircuitOpen = errors.New("circuit breaker open")

// ErrUnknownAgent is returned for destinations not present in the registry.
var ErrUnknownAgent = errors.New("unknown agent")

// DeliveryFailedError reports a send whose retry budget is exhausted.
type DeliveryFailedError struct {
	Destination string
	Attempts    int
	LastErr     error
}

func (e *DeliveryFailedError) Error() string {
	return fmt.Sprintf("delivery to %s failed after %d attempts: %v", e.Destination, e.Attempts, e.LastErr)
}

func (e *DeliveryFailedError) Unwrap() error { return e.LastErr }

// Config configures the router.
type Config struct {
	// BreakerThreshold is the consecutive-failure count that opens a
	// destination's breaker.
	BreakerThreshold int
	// BreakerCoolDown is how long an open breaker waits before admitting a
	// half-open trial delivery.
	BreakerCoolDown time.Duration
	// Backoff is the retry delay policy.
	Backoff BackoffPolicy
	// DefaultTimeout bounds a single delivery attempt when the caller
	// passes zero.
	DefaultTimeout time.Duration
	// ProbeTimeout bounds one health-probe attempt.
	ProbeTimeout time.Duration
	// BroadcastWindow bounds how long Broadcast waits for stragglers when
	// the caller did not ask to wait for all destinations.
	BroadcastWindow time.Duration
	// Clock is injectable for tests; nil means the wall clock.
	Clock Clock
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BreakerThreshold: 3,
		BreakerCoolDown:  5 * time.Minute,
		Backoff:          DefaultBackoffPolicy(),
		DefaultTimeout:   30 * time.Second,
		ProbeTimeout:     5 * time.Second,
		BroadcastWindow:  10 * time.Second,
	}
}

// AgentHealth is the last observed delivery outcome for a destination.
type AgentHealth struct {
	Status    string
	LastCheck time.Time
	Failures  int
	LastError string
}

// Router is the central A2A delivery point. The agent registry is injected
// explicitly (no module-level state) so tests can substitute fakes.
type Router struct {
	cfg   Config
	clock Clock

	mu       sync.RWMutex
	agents   map[string]protocol.Agent
	breakers map[string]*circuitBreaker
	health   map[string]AgentHealth

	records *recordTable
}

// New creates a router with an empty registry.
func New(cfg Config) *Router {
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 3
	}
	if cfg.BreakerCoolDown <= 0 {
		cfg.BreakerCoolDown = 5 * time.Minute
	}
	if cfg.Backoff == (BackoffPolicy{}) {
		cfg.Backoff = DefaultBackoffPolicy()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.BroadcastWindow <= 0 {
		cfg.BroadcastWindow = 10 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock()
	}
	return &Router{
		cfg:      cfg,
		clock:    clock,
		agents:   make(map[string]protocol.Agent),
		breakers: make(map[string]*circuitBreaker),
		health:   make(map[string]AgentHealth),
		records:  newRecordTable(),
	}
}

// Register adds an agent to the registry under its own name.
func (r *Router) Register(agent protocol.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agent.Name()] = agent
	logging.Router("registered agent %s", agent.Name())
}

// Registered lists the registry contents.
func (r *Router) Registered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	return names
}

func (r *Router) lookup(destination string) (protocol.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[destination]
	return agent, ok
}

// breaker returns the destination's breaker, creating it on first use.
func (r *Router) breaker(destination string) *circuitBreaker {
	r.mu.RLock()
	b, ok := r.breakers[destination]
	r.mu.RUnlock()
	if ok {
		return b
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[destination]; ok {
		return b
	}
	b = newCircuitBreaker(r.cfg.BreakerThreshold, r.cfg.BreakerCoolDown)
	r.breakers[destination] = b
	return b
}

// Send delivers a request to the named destination and returns its response.
// timeout bounds a single delivery attempt (zero means the configured
// default); maxRetries is the number of retries after the first attempt.
// Transient failures are retried with capped exponential backoff; the caller
// only sees DeliveryFailedError once the budget is exhausted, or
// ErrCircuitOpen when the destination is known-bad.
func (r *Router) Send(ctx context.Context, destination string, msg *protocol.Message, timeout time.Duration, maxRetries int) (*protocol.Message, error) {
	return r.send(ctx, destination, msg, timeout, maxRetries, true)
}

func (r *Router) send(ctx context.Context, destination string, msg *protocol.Message, timeout time.Duration, maxRetries int, trackBreaker bool) (*protocol.Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}

	agent, ok := r.lookup(destination)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, destination)
	}

	// Every send is logged in the record table, fast-fails included.
	rec := r.records.open(msg, destination, r.clock.Now())

	breaker := r.breaker(destination)
	if trackBreaker && !breaker.allow(r.clock.Now()) {
		logging.Router("breaker open for %s, failing %s fast", destination, msg.Type)
		err := fmt.Errorf("%w: %s", ErrCircuitOpen, destination)
		rec.resolve(CoordinationFailed, r.clock.Now(), nil, err.Error(), 0)
		return nil, err
	}
	logging.RouterDebug("send %s -> %s (type=%s corr=%s retries=%d)",
		msg.Sender, destination, msg.Type, msg.CorrelationID, maxRetries)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := r.clock.Sleep(ctx, r.cfg.Backoff.Delay(attempt)); err != nil {
				rec.resolve(CoordinationFailed, r.clock.Now(), nil, err.Error(), attempt)
				return nil, err
			}
		}

		resp, err := r.deliver(ctx, agent, msg, timeout)
		if err == nil {
			if trackBreaker {
				breaker.recordSuccess()
			}
			r.noteHealth(destination, "healthy", nil)
			rec.resolve(CoordinationCompleted, r.clock.Now(), resp.Payload, "", attempt+1)
			return resp, nil
		}

		lastErr = err
		if trackBreaker {
			breaker.recordFailure(r.clock.Now())
		}
		r.noteHealth(destination, "error", err)
		logging.Router("attempt %d/%d to %s failed: %v", attempt+1, maxRetries+1, destination, err)
	}

	rec.resolve(CoordinationFailed, r.clock.Now(), nil, lastErr.Error(), maxRetries+1)
	return nil, &DeliveryFailedError{Destination: destination, Attempts: maxRetries + 1, LastErr: lastErr}
}

// deliver runs one delivery attempt bounded by timeout. The agent call runs
// in its own goroutine so a destination that ignores its context cannot
// stall the sender past the attempt deadline.
func (r *Router) deliver(ctx context.Context, agent protocol.Agent, msg *protocol.Message, timeout time.Duration) (*protocol.Message, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		resp *protocol.Message
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := agent.ProcessMessage(attemptCtx, msg)
		done <- outcome{resp, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		if out.resp == nil {
			return nil, fmt.Errorf("agent %s returned no response", agent.Name())
		}
		return out.resp, nil
	case <-attemptCtx.Done():
		return nil, attemptCtx.Err()
	}
}

func (r *Router) noteHealth(destination, status string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.health[destination]
	h.Status = status
	h.LastCheck = r.clock.Now()
	if err != nil {
		h.Failures++
		h.LastError = err.Error()
	} else {
		h.Failures = 0
		h.LastError = ""
	}
	r.health[destination] = h
}

// BroadcastResult is one destination's outcome from a Broadcast.
type BroadcastResult struct {
	Response *protocol.Message
	Err      error
}

// Broadcast sends the same logical message to each destination concurrently.
// Every leg gets its own envelope with a fresh correlation id and a copied
// payload. With waitForAll the returned map has exactly one entry per
// destination; otherwise results are collected up to the broadcast window and
// still-pending legs are cancelled without leaking.
func (r *Router) Broadcast(ctx context.Context, msg *protocol.Message, destinations []string, waitForAll bool) map[string]BroadcastResult {
	logging.Router("broadcast %s to %d agents (wait_for_all=%v)", msg.Type, len(destinations), waitForAll)

	type legResult struct {
		dest string
		res  BroadcastResult
	}

	if waitForAll {
		results := make(map[string]BroadcastResult, len(destinations))
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		for _, dest := range destinations {
			leg := protocol.NewMessage(msg.Sender, dest, msg.Type, msg.SessionID, msg.CopyPayload())
			g.Go(func() error {
				resp, err := r.Send(gctx, dest, leg, 0, 0)
				mu.Lock()
				results[dest] = BroadcastResult{Response: resp, Err: err}
				mu.Unlock()
				return nil
			})
		}
		g.Wait()
		return results
	}

	winCtx, cancel := context.WithTimeout(ctx, r.cfg.BroadcastWindow)
	defer cancel()

	// Buffered so a leg finishing after the window has closed can still
	// deposit its result and exit instead of blocking forever.
	ch := make(chan legResult, len(destinations))
	for _, dest := range destinations {
		leg := protocol.NewMessage(msg.Sender, dest, msg.Type, msg.SessionID, msg.CopyPayload())
		go func() {
			resp, err := r.Send(winCtx, dest, leg, 0, 0)
			ch <- legResult{dest: dest, res: BroadcastResult{Response: resp, Err: err}}
		}()
	}

	results := make(map[string]BroadcastResult, len(destinations))
	for len(results) < len(destinations) {
		select {
		case lr := <-ch:
			results[lr.dest] = lr.res
		case <-winCtx.Done():
			logging.Router("broadcast window elapsed with %d/%d responses", len(results), len(destinations))
			return results
		}
	}
	return results
}

// CheckAvailability probes each destination with a ping and returns the
// reachable ones. Probes use a short timeout and a single retry, and do not
// touch the circuit breakers that govern real traffic.
func (r *Router) CheckAvailability(ctx context.Context, destinations []string) []string {
	var mu sync.Mutex
	available := make([]string, 0, len(destinations))

	g, gctx := errgroup.WithContext(ctx)
	for _, dest := range destinations {
		g.Go(func() error {
			ping := protocol.NewMessage("router", dest, protocol.TypePing, "health_check",
				protocol.Payload{"timestamp": float64(r.clock.Now().UnixNano()) / float64(time.Second)})
			resp, err := r.send(gctx, dest, ping, r.cfg.ProbeTimeout, 1, false)
			if err == nil && !resp.IsError() {
				mu.Lock()
				available = append(available, dest)
				mu.Unlock()
				r.noteHealth(dest, "available", nil)
			} else if err != nil {
				r.noteHealth(dest, "unavailable", err)
			}
			return nil
		})
	}
	g.Wait()
	return available
}

// Record returns the coordination record for a correlation id.
func (r *Router) Record(correlationID string) (*CoordinationRecord, bool) {
	return r.records.get(correlationID)
}

// DropSession discards the coordination records of a finished session.
func (r *Router) DropSession(sessionID string) {
	n := r.records.dropSession(sessionID)
	logging.RouterDebug("dropped %d coordination records for session %s", n, sessionID)
}

// BreakerSnapshot returns the breaker state for one destination.
func (r *Router) BreakerSnapshot(destination string) BreakerSnapshot {
	return r.breaker(destination).snapshot()
}

// Status is an operator-facing summary of the router's view of the system.
type Status struct {
	RegisteredAgents int
	TrackedRequests  int
	Breakers         map[string]BreakerSnapshot
	Health           map[string]AgentHealth
}

// Status reports registry size, record count, breaker and health state.
func (r *Router) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Status{
		RegisteredAgents: len(r.agents),
		TrackedRequests:  r.records.len(),
		Breakers:         make(map[string]BreakerSnapshot, len(r.breakers)),
		Health:           make(map[string]AgentHealth, len(r.health)),
	}
	for name, b := range r.breakers {
		st.Breakers[name] = b.snapshot()
	}
	for name, h := range r.health {
		st.Health[name] = h
	}
	return st
}
