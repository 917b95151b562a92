package scenario

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cyberguard/internal/evaluation"
	"cyberguard/internal/logging"
	"cyberguard/internal/protocol"
	"cyberguard/internal/session"
	"cyberguard/internal/threat"
)

// AgentName identifies the Game Master as a message sender.
const AgentName = "game_master"

// Sender is the slice of the router the Game Master depends on.
type Sender interface {
	Send(ctx context.Context, destination string, msg *protocol.Message, timeout time.Duration, maxRetries int) (*protocol.Message, error)
	DropSession(sessionID string)
}

// Config tunes the state machine.
type Config struct {
	// MaxTurns is the conversation ceiling; reaching it forces completion.
	MaxTurns int
	// RequestTimeout bounds one collaborator request attempt.
	RequestTimeout time.Duration
	// RequestRetries is the retry budget for content generation.
	RequestRetries int
	// TrackTimeout bounds the best-effort decision report.
	TrackTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxTurns:       15,
		RequestTimeout: 30 * time.Second,
		RequestRetries: 2,
		TrackTimeout:   5 * time.Second,
	}
}

// managedSession owns one session's mutable state. The per-session mutex
// makes the state machine the single writer the model requires while letting
// unrelated sessions progress concurrently.
type managedSession struct {
	mu         sync.Mutex
	sess       *session.Session
	lastPrompt time.Time
}

// Response is the Game Master's answer to one user input.
type Response struct {
	Content          string
	State            session.Phase
	RequiresDecision bool
	ScenarioComplete bool
	Completion       *CompletionResult
}

// CompletionResult wraps up a finished session.
type CompletionResult struct {
	SessionID  string
	Reason     string
	Debrief    Debrief
	Evaluation evaluation.Result
	Duration   time.Duration
}

// GameMaster runs the scenario state machine for every active session.
type GameMaster struct {
	cfg      Config
	router   Sender
	store    session.Store
	narrator *Narrator

	mu     sync.RWMutex
	active map[string]*managedSession

	reports sync.WaitGroup // in-flight best-effort decision reports
}

// New creates a Game Master.
func New(cfg Config, router Sender, store session.Store, narrator *Narrator) *GameMaster {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 15
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.TrackTimeout <= 0 {
		cfg.TrackTimeout = 5 * time.Second
	}
	if narrator == nil {
		narrator = NewNarrator(0)
	}
	return &GameMaster{
		cfg:      cfg,
		router:   router,
		store:    store,
		narrator: narrator,
		active:   make(map[string]*managedSession),
	}
}

// StartScenario creates a session, selects its scenario shape and produces
// the opening narrative.
func (gm *GameMaster) StartScenario(ctx context.Context, userID, scenarioType, role string, difficulty int, recentlySeen, weakAreas []string) (*session.Session, error) {
	sel := SelectScenario(role, difficulty, recentlySeen, weakAreas)

	sess := session.New(userID, scenarioType, difficulty)
	sess.UserRole = role
	sess.Scenario = map[string]any{"threat_pattern": sel.ThreatPattern}
	sess.AppendTurn(AgentName, gm.narrator.Opening(scenarioType, role, sess.Difficulty))

	ms := &managedSession{sess: sess, lastPrompt: time.Now()}
	gm.mu.Lock()
	gm.active[sess.ID] = ms
	gm.mu.Unlock()

	gm.persist(ctx, sess)
	logging.Scenario("session %s started (user=%s type=%s pattern=%s difficulty=%d)",
		sess.ID, userID, scenarioType, sel.ThreatPattern, sess.Difficulty)
	return sess.Clone(), nil
}

// ErrSessionNotFound is returned for inputs against unknown or finished sessions.
var ErrSessionNotFound = fmt.Errorf("session not found")

func (gm *GameMaster) lookup(sessionID string) (*managedSession, error) {
	gm.mu.RLock()
	defer gm.mu.RUnlock()
	ms, ok := gm.active[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return ms, nil
}

// HandleUserInput advances the state machine by one turn. responseTime is the
// user's decision latency in seconds; zero means "measure from the last
// prompt". confidence is the optional self-reported 0..1 value.
func (gm *GameMaster) HandleUserInput(ctx context.Context, sessionID, input string, responseTime float64, confidence *float64) (Response, error) {
	ms, err := gm.lookup(sessionID)
	if err != nil {
		return Response{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	sess := ms.sess

	if responseTime <= 0 {
		responseTime = time.Since(ms.lastPrompt).Seconds()
	}
	sess.AppendTurn("user", input)

	analysis := gm.narrator.Analyze(input, sess.ScenarioType)
	if analysis.IsDecisionPoint {
		gm.recordDecision(sess, analysis, responseTime, confidence)
	}

	var resp Response
	switch sess.Phase {
	case session.PhaseIntro:
		resp = gm.handleIntro(ctx, sess, input)
	case session.PhaseScenarioActive:
		resp = gm.handleActive(sess, analysis)
	case session.PhaseAwaitingDecision:
		resp = gm.handleDecision(sess, analysis)
	default:
		resp = Response{Content: gm.narrator.GeneralResponse(), State: sess.Phase}
	}

	sess.AppendTurn(AgentName, resp.Content)
	ms.lastPrompt = time.Now()

	reason := ""
	switch {
	case resp.ScenarioComplete:
		reason = session.ReasonFinished
	case len(sess.Turns) >= gm.cfg.MaxTurns:
		reason = session.ReasonMaxTurns
	}
	if reason != "" {
		completion, err := gm.completeLocked(ctx, ms, reason)
		if err != nil {
			logging.Scenario("session %s completion failed: %v", sess.ID, err)
		} else {
			resp.Completion = completion
		}
		resp.ScenarioComplete = true
		resp.State = sess.Phase
		return resp, nil
	}

	gm.persist(ctx, sess)
	resp.State = sess.Phase
	return resp, nil
}

// recordDecision classifies and appends the decision, then reports it to the
// evaluation agent without blocking the turn.
func (gm *GameMaster) recordDecision(sess *session.Session, analysis Analysis, responseTime float64, confidence *float64) {
	d := session.DecisionPoint{
		Turn:          len(sess.Turns),
		Vulnerability: analysis.Vulnerability,
		UserChoice:    analysis.UserAction,
		CorrectChoice: analysis.OptimalAction,
		ResponseTime:  responseTime,
		Confidence:    confidence,
	}
	d.RiskImpact = evaluation.Classify(d).RiskImpact
	sess.AppendDecision(d)

	payload := protocol.Payload{
		"decision": protocol.Payload{
			"turn":           d.Turn,
			"vulnerability":  d.Vulnerability,
			"user_choice":    d.UserChoice,
			"correct_choice": d.CorrectChoice,
			"response_time":  d.ResponseTime,
		},
		"user_profile": protocol.Payload{"role": sess.UserRole},
	}
	if confidence != nil {
		payload["decision"].(protocol.Payload)["confidence"] = *confidence
	}
	msg := protocol.NewMessage(AgentName, evaluation.AgentName, protocol.TypeTrackDecision, sess.ID, payload)

	gm.reports.Add(1)
	go func() {
		defer gm.reports.Done()
		ctx, cancel := context.WithTimeout(context.Background(), gm.cfg.TrackTimeout)
		defer cancel()
		if _, err := gm.router.Send(ctx, evaluation.AgentName, msg, gm.cfg.TrackTimeout, 1); err != nil {
			logging.Scenario("session %s: decision report dropped: %v", sess.ID, err)
		}
	}()
}

// handleIntro requests threat content and moves to the active phase. A
// failing or unknown content agent degrades to the built-in fallback.
func (gm *GameMaster) handleIntro(ctx context.Context, sess *session.Session, input string) Response {
	target := sess.ScenarioType + "_agent"
	pattern, _ := sess.Scenario["threat_pattern"].(string)
	if pattern == "" {
		pattern = threat.PatternUrgency
	}

	req := protocol.NewMessage(AgentName, target, protocol.TypeGenerateScenario, sess.ID, protocol.Payload{
		"threat_pattern": pattern,
		"user_role":      sess.UserRole,
		"difficulty":     sess.Difficulty,
		"user_context":   input,
	})

	var narrative string
	resp, err := gm.router.Send(ctx, target, req, gm.cfg.RequestTimeout, gm.cfg.RequestRetries)
	if err != nil || resp.IsError() {
		logging.Scenario("session %s: content agent %s unavailable, using fallback: %v", sess.ID, target, err)
		narrative = gm.narrator.FallbackScenario(sess.ScenarioType)
	} else {
		content := scenarioContent(resp.Payload)
		sess.Scenario["content"] = content
		narrative = gm.narrator.ThreatPresentation(content)
	}

	sess.Phase = session.PhaseScenarioActive
	return Response{Content: narrative, RequiresDecision: true}
}

// scenarioContent normalizes the content agent's payload to nested maps so
// the narrator and the store see one shape regardless of transport.
func scenarioContent(p protocol.Payload) map[string]any {
	switch sc := p["scenario"].(type) {
	case map[string]any:
		return sc
	case *threat.Scenario:
		return map[string]any{
			"scenario_id": sc.ID,
			"email": map[string]any{
				"subject": sc.Email.Subject,
				"body":    sc.Email.Body,
				"sender": map[string]any{
					"display_name": sc.Email.Sender.DisplayName,
					"email":        sc.Email.Sender.Email,
				},
			},
			"link": map[string]any{
				"display_url": sc.Link.DisplayURL,
				"actual_url":  sc.Link.ActualURL,
			},
		}
	default:
		return map[string]any{}
	}
}

func (gm *GameMaster) handleActive(sess *session.Session, analysis Analysis) Response {
	content := ""
	if analysis.UserStruggling && sess.HintsUsed < MaxHintsPerSession {
		if hint := HintFor(analysis.Vulnerability, sess.HintsUsed); hint != "" {
			sess.HintsUsed++
			content = hint + "\n\n"
		}
	}
	content += gm.narrator.AdaptiveResponse(analysis.DecisionQuality)

	if analysis.ScenarioResolved {
		sess.Phase = session.PhaseScenarioComplete
		return Response{Content: content, ScenarioComplete: true}
	}
	sess.Phase = session.PhaseAwaitingDecision
	return Response{Content: content, RequiresDecision: true}
}

func (gm *GameMaster) handleDecision(sess *session.Session, analysis Analysis) Response {
	if analysis.IsSecurityDecision {
		content := gm.narrator.LearningMoment(analysis.UserAction, analysis.OptimalAction, analysis.Vulnerability)
		sess.Phase = session.PhaseScenarioComplete
		return Response{Content: content, ScenarioComplete: true}
	}
	return Response{Content: gm.narrator.Clarification(), RequiresDecision: true}
}

// CompleteScenario finishes a session: evaluation, debrief, persistence and
// removal from the active set.
func (gm *GameMaster) CompleteScenario(ctx context.Context, sessionID, reason string) (*CompletionResult, error) {
	ms, err := gm.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return gm.completeLocked(ctx, ms, reason)
}

func (gm *GameMaster) completeLocked(ctx context.Context, ms *managedSession, reason string) (*CompletionResult, error) {
	sess := ms.sess
	if sess.Terminal() {
		return nil, fmt.Errorf("session %s already completed", sess.ID)
	}
	sess.Complete(reason)
	logging.Scenario("session %s completing (reason=%s turns=%d decisions=%d)",
		sess.ID, reason, len(sess.Turns), len(sess.Decisions))

	result := gm.evaluate(ctx, sess)
	debrief := BuildDebrief(sess, result, reason)
	sess.AppendTurn(AgentName, debrief.Content)

	gm.storeFinal(ctx, sess, result)
	gm.releaseTrackers(ctx, sess.ID, reason)

	gm.mu.Lock()
	delete(gm.active, sess.ID)
	gm.mu.Unlock()
	gm.router.DropSession(sess.ID)

	return &CompletionResult{
		SessionID:  sess.ID,
		Reason:     reason,
		Debrief:    debrief,
		Evaluation: result,
		Duration:   sess.EndedAt.Sub(sess.StartedAt),
	}, nil
}

// evaluate asks the evaluation agent for the full-session score, computing
// it locally from the decision list if the agent cannot be reached.
func (gm *GameMaster) evaluate(ctx context.Context, sess *session.Session) evaluation.Result {
	msg := protocol.NewMessage(AgentName, evaluation.AgentName, protocol.TypeEvaluateSession, sess.ID, protocol.Payload{
		"user_id":            sess.UserID,
		"scenario_type":      sess.ScenarioType,
		"current_difficulty": sess.Difficulty,
		// Authoritative decision list: the async track_decision reports may
		// not all have landed by completion time.
		"decisions": append([]session.DecisionPoint(nil), sess.Decisions...),
	})
	resp, err := gm.router.Send(ctx, evaluation.AgentName, msg, gm.cfg.RequestTimeout, 1)
	if err == nil && !resp.IsError() {
		if result, ok := resp.Payload["evaluation"].(evaluation.Result); ok {
			return result
		}
	}
	logging.Scenario("session %s: evaluation agent unavailable, scoring locally: %v", sess.ID, err)
	return evaluation.Evaluate(sess.ID, sess.UserID, sess.ScenarioType, sess.Difficulty, sess.Decisions)
}

// releaseTrackers tells the evaluation agent the session is over so its
// per-session ledger is discarded. Must run before the coordination records
// drop; the notification itself is tracked under the session.
func (gm *GameMaster) releaseTrackers(ctx context.Context, sessionID, reason string) {
	msg := protocol.NewMessage(AgentName, evaluation.AgentName, protocol.TypeSessionCompleted, sessionID,
		protocol.Payload{"reason": reason})
	if _, err := gm.router.Send(ctx, evaluation.AgentName, msg, gm.cfg.TrackTimeout, 0); err != nil {
		logging.Scenario("session %s: tracker release failed: %v", sessionID, err)
	}
}

// storeFinal persists the completed session and hands it to the memory agent
// for profile updates. Store failures are surfaced in logs, not to the user.
func (gm *GameMaster) storeFinal(ctx context.Context, sess *session.Session, result evaluation.Result) {
	if err := gm.store.Save(ctx, sess); err != nil {
		logging.Scenario("session %s: final save failed: %v", sess.ID, err)
	}
	msg := protocol.NewMessage(AgentName, "memory_agent", protocol.TypeStoreSession, sess.ID, protocol.Payload{
		"session":    sess.Clone(),
		"evaluation": result,
	})
	if _, err := gm.router.Send(ctx, "memory_agent", msg, gm.cfg.RequestTimeout, 1); err != nil {
		logging.Scenario("session %s: memory agent store failed: %v", sess.ID, err)
	}
}

// persist saves mid-session state. Fire and forget: failures never fail the
// current turn.
func (gm *GameMaster) persist(ctx context.Context, sess *session.Session) {
	if err := gm.store.Save(ctx, sess); err != nil {
		logging.Scenario("session %s: save failed: %v", sess.ID, err)
	}
}

// Session returns a copy of an active session.
func (gm *GameMaster) Session(sessionID string) (*session.Session, error) {
	ms, err := gm.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.sess.Clone(), nil
}

// ActiveSessionIDs lists sessions still in flight.
func (gm *GameMaster) ActiveSessionIDs() []string {
	gm.mu.RLock()
	defer gm.mu.RUnlock()
	ids := make([]string, 0, len(gm.active))
	for id := range gm.active {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown completes every active session with the shutdown reason and waits
// for in-flight decision reports to settle.
func (gm *GameMaster) Shutdown(ctx context.Context) error {
	for _, id := range gm.ActiveSessionIDs() {
		if _, err := gm.CompleteScenario(ctx, id, session.ReasonSystemShutdown); err != nil {
			logging.Scenario("shutdown: session %s: %v", id, err)
		}
	}
	gm.reports.Wait()
	return nil
}
