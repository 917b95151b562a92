package profile

import (
	"context"
	"sync"

	"cyberguard/internal/evaluation"
	"cyberguard/internal/logging"
	"cyberguard/internal/protocol"
	"cyberguard/internal/session"
)

// AgentName is the routable name of the memory agent.
const AgentName = "memory_agent"

// Agent owns session persistence and user profiles. Profiles live in memory
// for the life of the process; sessions go through the configured store.
type Agent struct {
	*protocol.HandlerMux
	store session.Store

	mu       sync.RWMutex
	profiles map[string]*UserProfile
}

// NewAgent creates the memory agent around a session store.
func NewAgent(store session.Store) *Agent {
	a := &Agent{
		HandlerMux: protocol.NewHandlerMux(AgentName),
		store:      store,
		profiles:   make(map[string]*UserProfile),
	}
	a.Handle(protocol.TypeSessionStarted, a.handleSessionStarted)
	a.Handle(protocol.TypeStoreSession, a.handleStoreSession)
	a.Handle(protocol.TypeGetUserProfile, a.handleGetProfile)
	a.Handle(protocol.TypeUpdateProfile, a.handleUpdateProfile)
	a.Handle(protocol.TypeCreateSession, a.handleCreateSession)
	a.Handle(protocol.TypeUpdateSession, a.handleUpdateSession)
	a.Handle(protocol.TypeGetSession, a.handleGetSession)
	return a
}

// ProcessMessage implements protocol.Agent.
func (a *Agent) ProcessMessage(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	return a.Dispatch(ctx, msg)
}

// Profile returns a copy of a user's profile, creating the default on first
// sight. Callers use it to seed new sessions with the adaptive difficulty.
func (a *Agent) Profile(userID string) *UserProfile {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.profileLocked(userID).clone()
}

func (a *Agent) profileLocked(userID string) *UserProfile {
	p, ok := a.profiles[userID]
	if !ok {
		p = newProfile(userID)
		a.profiles[userID] = p
	}
	return p
}

// handleSessionStarted notes the session's user context so the profile
// exists before the first store_session arrives.
func (a *Agent) handleSessionStarted(_ context.Context, msg *protocol.Message) (*protocol.Message, error) {
	userID, err := protocol.StringField(msg.Payload, "user_id")
	if err != nil {
		return msg.RespondError("%v", err), nil
	}
	a.mu.Lock()
	p := a.profileLocked(userID)
	if role, err := protocol.StringField(msg.Payload, "user_role"); err == nil && role != "" {
		p.Role = role
	}
	a.mu.Unlock()
	return msg.Respond(protocol.TypeAck, protocol.Payload{"user_id": userID}), nil
}

// handleStoreSession persists a completed session and folds its evaluation
// into the user's profile.
func (a *Agent) handleStoreSession(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	sess, ok := msg.Payload["session"].(*session.Session)
	if !ok {
		return msg.RespondError("store_session requires a session payload"), nil
	}
	result, _ := msg.Payload["evaluation"].(evaluation.Result)

	if err := a.store.Save(ctx, sess); err != nil {
		logging.Profile("session %s: store failed: %v", sess.ID, err)
		return msg.RespondError("session store failed: %v", err), nil
	}

	a.mu.Lock()
	p := a.profileLocked(sess.UserID)
	p.absorb(sess, result)
	snapshot := p.clone()
	a.mu.Unlock()

	logging.Profile("user %s: session %s stored (sessions=%d avg=%.2f difficulty=%d)",
		sess.UserID, sess.ID, snapshot.TotalSessions, snapshot.AverageScore, snapshot.CurrentDifficulty)
	return msg.Respond("session_stored", protocol.Payload{
		"session_id": sess.ID,
		"profile":    snapshot,
	}), nil
}

func (a *Agent) handleGetProfile(_ context.Context, msg *protocol.Message) (*protocol.Message, error) {
	userID, err := protocol.StringField(msg.Payload, "user_id")
	if err != nil {
		return msg.RespondError("%v", err), nil
	}
	return msg.Respond("user_profile", protocol.Payload{"profile": a.Profile(userID)}), nil
}

// handleUpdateProfile applies caller-supplied overrides: role and difficulty.
func (a *Agent) handleUpdateProfile(_ context.Context, msg *protocol.Message) (*protocol.Message, error) {
	userID, err := protocol.StringField(msg.Payload, "user_id")
	if err != nil {
		return msg.RespondError("%v", err), nil
	}

	a.mu.Lock()
	p := a.profileLocked(userID)
	if role, err := protocol.StringField(msg.Payload, "role"); err == nil {
		p.Role = role
	}
	if d := protocol.IntFieldOr(msg.Payload, "difficulty", 0); d >= 1 && d <= 5 {
		p.CurrentDifficulty = d
	}
	snapshot := p.clone()
	a.mu.Unlock()

	return msg.Respond("profile_updated", protocol.Payload{"profile": snapshot}), nil
}

// handleCreateSession opens a bare session record. The state machine normally
// creates sessions itself; this path serves external callers that want a
// persisted placeholder before the first turn.
func (a *Agent) handleCreateSession(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	userID, err := protocol.StringField(msg.Payload, "user_id")
	if err != nil {
		return msg.RespondError("%v", err), nil
	}
	scenarioType := protocol.StringFieldOr(msg.Payload, "scenario_type", "phishing")
	difficulty := protocol.IntFieldOr(msg.Payload, "difficulty", a.Profile(userID).CurrentDifficulty)

	sess := session.New(userID, scenarioType, difficulty)
	if err := a.store.Save(ctx, sess); err != nil {
		return msg.RespondError("session store failed: %v", err), nil
	}
	logging.Profile("user %s: created session %s (%s, difficulty %d)", userID, sess.ID, scenarioType, sess.Difficulty)
	return msg.Respond("session_created", protocol.Payload{"session_id": sess.ID, "session": sess}), nil
}

func (a *Agent) handleUpdateSession(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	sess, ok := msg.Payload["session"].(*session.Session)
	if !ok {
		return msg.RespondError("update_session requires a session payload"), nil
	}
	if err := a.store.Save(ctx, sess); err != nil {
		return msg.RespondError("session store failed: %v", err), nil
	}
	return msg.Respond(protocol.TypeAck, protocol.Payload{"session_id": sess.ID}), nil
}

func (a *Agent) handleGetSession(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	id := protocol.StringFieldOr(msg.Payload, "session_id", msg.SessionID)
	sess, err := a.store.Load(ctx, id)
	if err != nil {
		return msg.RespondError("session %s: %v", id, err), nil
	}
	return msg.Respond("session_data", protocol.Payload{"session": sess}), nil
}
