// Package orchestrator wires the CyberGuard agents together: the message
// router, the Game Master, the evaluation and memory agents and the threat
// content generators. It is the composition root - nothing below it knows
// about config files or about which concrete store backs sessions.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"cyberguard/internal/config"
	"cyberguard/internal/evaluation"
	"cyberguard/internal/logging"
	"cyberguard/internal/profile"
	"cyberguard/internal/protocol"
	"cyberguard/internal/router"
	"cyberguard/internal/scenario"
	"cyberguard/internal/session"
	"cyberguard/internal/threat"
)

// senderName identifies the orchestrator in broadcast envelopes.
const senderName = "orchestrator"

// Orchestrator owns the assembled system.
type Orchestrator struct {
	cfg    *config.Config
	router *router.Router
	store  session.Store

	gm      *scenario.GameMaster
	memory  *profile.Agent
	watcher *threat.TemplateWatcher
}

// New assembles the system from configuration. The returned orchestrator is
// ready to create sessions; call Shutdown to release it.
func New(ctx context.Context, cfg *config.Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	r := router.New(router.Config{
		BreakerThreshold: cfg.Router.BreakerThreshold,
		BreakerCoolDown:  cfg.GetBreakerCoolDown(),
		DefaultTimeout:   cfg.GetDefaultTimeout(),
		ProbeTimeout:     cfg.GetProbeTimeout(),
		BroadcastWindow:  cfg.GetBroadcastWindow(),
	})

	genOpts := []threat.GeneratorOption{
		threat.WithSafeRedirectBase(cfg.Threat.SafeRedirectBase),
	}
	if cfg.LLM.Enabled {
		llm, err := threat.NewGeminiClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("llm client: %w", err)
		}
		genOpts = append(genOpts, threat.WithLLM(llm))
	}
	gen := threat.NewGenerator(genOpts...)

	var watcher *threat.TemplateWatcher
	if cfg.Threat.TemplateDir != "" {
		watcher, err = threat.NewTemplateWatcher(cfg.Threat.TemplateDir, gen)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("template watcher: %w", err)
		}
		if err := watcher.Start(); err != nil {
			store.Close()
			return nil, fmt.Errorf("template watcher: %w", err)
		}
	}

	memory := profile.NewAgent(store)
	r.Register(evaluation.NewAgent())
	r.Register(memory)
	r.Register(threat.NewAgent(gen))

	gm := scenario.New(scenario.Config{
		MaxTurns:       cfg.Scenario.MaxTurns,
		RequestTimeout: cfg.GetRequestTimeout(),
		RequestRetries: cfg.Scenario.RequestRetries,
		TrackTimeout:   cfg.GetTrackTimeout(),
	}, r, store, scenario.NewNarrator(0))

	logging.Get(logging.CategoryBoot).Info("system assembled (agents=%v)", r.Registered())
	return &Orchestrator{
		cfg:     cfg,
		router:  r,
		store:   store,
		gm:      gm,
		memory:  memory,
		watcher: watcher,
	}, nil
}

func openStore(cfg *config.Config) (session.Store, error) {
	path := cfg.Storage.DatabasePath
	if path == "" {
		return session.NewMemoryStore(), nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
	}
	return session.OpenSQLite(path)
}

// CreateSession starts a training session for a user. A zero difficulty means
// "use the profile's adaptive difficulty"; role defaults the same way.
func (o *Orchestrator) CreateSession(ctx context.Context, userID, scenarioType, role string) (*session.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id required")
	}
	if scenarioType == "" {
		scenarioType = "phishing"
	}

	p := o.memory.Profile(userID)
	if role == "" {
		role = p.Role
	}
	if role == "" {
		role = threat.RoleGeneral
	}

	sess, err := o.gm.StartScenario(ctx, userID, scenarioType, role,
		p.CurrentDifficulty, p.RecentPatterns, p.VulnerabilityPatterns)
	if err != nil {
		return nil, err
	}

	// Announce the session so trackers initialize their per-session state.
	// Bounded wait: a slow tracker must not stall session creation.
	announce := protocol.NewMessage(senderName, "", protocol.TypeSessionStarted, sess.ID, protocol.Payload{
		"user_id":       userID,
		"user_role":     role,
		"scenario_type": scenarioType,
		"difficulty":    sess.Difficulty,
	})
	o.router.Broadcast(ctx, announce, []string{evaluation.AgentName, profile.AgentName}, false)

	return sess, nil
}

// ProcessUserAction advances a session by one turn.
func (o *Orchestrator) ProcessUserAction(ctx context.Context, sessionID, input string, responseTime float64, confidence *float64) (scenario.Response, error) {
	return o.gm.HandleUserInput(ctx, sessionID, input, responseTime, confidence)
}

// CompleteSession force-completes an active session. The Game Master owns
// end-of-session cleanup (evaluation ledger, coordination records).
func (o *Orchestrator) CompleteSession(ctx context.Context, sessionID string) (*scenario.CompletionResult, error) {
	return o.gm.CompleteScenario(ctx, sessionID, session.ReasonFinished)
}

// Session returns a copy of an active session.
func (o *Orchestrator) Session(sessionID string) (*session.Session, error) {
	return o.gm.Session(sessionID)
}

// Profile returns the cross-session profile for a user.
func (o *Orchestrator) Profile(userID string) *profile.UserProfile {
	return o.memory.Profile(userID)
}

// Status reports the system's health.
type Status struct {
	ActiveSessions []string
	Agents         []string
	Router         router.Status
}

// Status snapshots the running system.
func (o *Orchestrator) Status() Status {
	return Status{
		ActiveSessions: o.gm.ActiveSessionIDs(),
		Agents:         o.router.Registered(),
		Router:         o.router.Status(),
	}
}

// StoredSessions lists ids of sessions the store still considers active,
// including ones interrupted by an earlier process.
func (o *Orchestrator) StoredSessions(ctx context.Context) ([]string, error) {
	return o.store.ListActiveIDs(ctx)
}

// CleanupExpired completes sessions idle past the configured TTL.
func (o *Orchestrator) CleanupExpired(ctx context.Context) (int, error) {
	return o.store.CleanupExpired(ctx, o.cfg.GetSessionTTL())
}

// Shutdown completes active sessions, stops the template watcher and closes
// the store. Safe to call once.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := o.gm.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if o.watcher != nil {
		o.watcher.Stop()
	}
	if err := o.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	logging.Get(logging.CategoryBoot).Info("system shut down")
	return firstErr
}
