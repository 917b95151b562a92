package evaluation

import (
	"context"
	"sync"

	"cyberguard/internal/logging"
	"cyberguard/internal/protocol"
	"cyberguard/internal/session"
)

// AgentName is the registry name the router delivers to.
const AgentName = "evaluation_agent"

// tracked pairs a decision with its classification so risk assessments and
// difficulty requests never re-classify.
type tracked struct {
	decision session.DecisionPoint
	class    Classification
}

// sessionLedger is the per-session decision history plus bookkeeping shared
// with evaluate_session and get_evaluation.
type sessionLedger struct {
	userID       string
	scenarioType string
	difficulty   int
	decisions    []tracked
	lastResult   *Result
}

// Agent is the adaptive evaluation engine. It keeps a per-session ledger of
// classified decisions and answers scoring requests over it.
type Agent struct {
	mux *protocol.HandlerMux

	mu      sync.RWMutex
	ledgers map[string]*sessionLedger
}

// NewAgent creates the evaluation agent with its dispatch table.
func NewAgent() *Agent {
	a := &Agent{
		mux:     protocol.NewHandlerMux(AgentName),
		ledgers: make(map[string]*sessionLedger),
	}
	a.mux.Handle(protocol.TypeSessionStarted, a.handleSessionStarted)
	a.mux.Handle(protocol.TypeSessionCompleted, a.handleSessionCompleted)
	a.mux.Handle(protocol.TypeTrackDecision, a.handleTrackDecision)
	a.mux.Handle(protocol.TypeDecisionMade, a.handleTrackDecision)
	a.mux.Handle(protocol.TypeEvaluateSession, a.handleEvaluateSession)
	a.mux.Handle(protocol.TypeGetEvaluation, a.handleGetEvaluation)
	a.mux.Handle(protocol.TypeGetRiskAssessment, a.handleRiskAssessment)
	a.mux.Handle(protocol.TypeRequestDifficulty, a.handleDifficultyRequest)
	return a
}

func (a *Agent) Name() string { return AgentName }

func (a *Agent) ProcessMessage(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	return a.mux.Dispatch(ctx, msg)
}

func (a *Agent) ledger(sessionID string) *sessionLedger {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.ledgers[sessionID]
	if !ok {
		l = &sessionLedger{difficulty: 3}
		a.ledgers[sessionID] = l
	}
	return l
}

func (a *Agent) handleSessionStarted(_ context.Context, msg *protocol.Message) (*protocol.Message, error) {
	l := a.ledger(msg.SessionID)
	a.mu.Lock()
	l.userID = protocol.StringFieldOr(msg.Payload, "user_id", l.userID)
	l.scenarioType = protocol.StringFieldOr(msg.Payload, "scenario_type", l.scenarioType)
	l.difficulty = protocol.IntFieldOr(msg.Payload, "difficulty", l.difficulty)
	a.mu.Unlock()
	logging.Eval("session %s started (user=%s type=%s)", msg.SessionID, l.userID, l.scenarioType)
	return msg.Respond(protocol.TypeAck, protocol.Payload{"status": "tracking"}), nil
}

// handleSessionCompleted discards the finished session's ledger. Sent by the
// session owner once the final evaluation has been produced.
func (a *Agent) handleSessionCompleted(_ context.Context, msg *protocol.Message) (*protocol.Message, error) {
	a.Forget(msg.SessionID)
	logging.EvalDebug("session %s ledger released", msg.SessionID)
	return msg.Respond(protocol.TypeAck, protocol.Payload{"status": "released"}), nil
}

// handleTrackDecision records one decision and returns its classification.
// Expected payload: {decision: {vulnerability, user_choice, correct_choice,
// response_time, confidence?}}.
func (a *Agent) handleTrackDecision(_ context.Context, msg *protocol.Message) (*protocol.Message, error) {
	dp, err := protocol.MapField(msg.Payload, "decision")
	if err != nil {
		return msg.RespondError("%v", err), nil
	}
	d := session.DecisionPoint{
		Vulnerability: protocol.StringFieldOr(dp, "vulnerability", "unknown"),
		UserChoice:    protocol.StringFieldOr(dp, "user_choice", ""),
		CorrectChoice: protocol.StringFieldOr(dp, "correct_choice", ""),
		ResponseTime:  protocol.FloatFieldOr(dp, "response_time", 30.0),
		Turn:          protocol.IntFieldOr(dp, "turn", 0),
	}
	if c, err := protocol.FloatField(dp, "confidence"); err == nil {
		d.Confidence = &c
	}
	class := Classify(d)
	d.RiskImpact = class.RiskImpact

	l := a.ledger(msg.SessionID)
	a.mu.Lock()
	l.decisions = append(l.decisions, tracked{decision: d, class: class})
	count := len(l.decisions)
	a.mu.Unlock()

	logging.EvalDebug("session %s decision %d: %s on %s (risk=%.2f)",
		msg.SessionID, count, class.Outcome, d.Vulnerability, class.RiskImpact)

	return msg.Respond("decision_tracked", protocol.Payload{
		"status":         "tracked",
		"outcome":        string(class.Outcome),
		"risk_impact":    class.RiskImpact,
		"time_category":  string(class.TimeCategory),
		"decision_count": count,
	}), nil
}

func (a *Agent) handleEvaluateSession(_ context.Context, msg *protocol.Message) (*protocol.Message, error) {
	l := a.ledger(msg.SessionID)

	a.mu.Lock()
	userID := protocol.StringFieldOr(msg.Payload, "user_id", l.userID)
	scenarioType := protocol.StringFieldOr(msg.Payload, "scenario_type", l.scenarioType)
	difficulty := protocol.IntFieldOr(msg.Payload, "current_difficulty", l.difficulty)
	decisions := make([]session.DecisionPoint, len(l.decisions))
	for i, t := range l.decisions {
		decisions[i] = t.decision
	}
	a.mu.Unlock()

	// The requester's own decision list is authoritative when provided:
	// best-effort track_decision reports may still be in flight.
	if ds, ok := msg.Payload["decisions"].([]session.DecisionPoint); ok {
		decisions = ds
	}

	result := Evaluate(msg.SessionID, userID, scenarioType, difficulty, decisions)

	a.mu.Lock()
	l.lastResult = &result
	a.mu.Unlock()

	logging.Eval("session %s evaluated: overall=%.2f risk=%s over %d decisions",
		msg.SessionID, result.Overall, result.RiskLevel, result.DecisionsTracked)

	return msg.Respond("evaluation_complete", protocol.Payload{"evaluation": result}), nil
}

func (a *Agent) handleGetEvaluation(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	a.mu.RLock()
	l, ok := a.ledgers[msg.SessionID]
	var last *Result
	if ok {
		last = l.lastResult
	}
	a.mu.RUnlock()

	if last != nil {
		return msg.Respond("evaluation_complete", protocol.Payload{"evaluation": *last}), nil
	}
	// No cached result yet; compute one on demand.
	return a.handleEvaluateSession(ctx, msg)
}

// handleRiskAssessment averages the risk impact of the last five decisions.
func (a *Agent) handleRiskAssessment(_ context.Context, msg *protocol.Message) (*protocol.Message, error) {
	a.mu.RLock()
	l, ok := a.ledgers[msg.SessionID]
	var recent []tracked
	if ok {
		recent = l.decisions
	}
	a.mu.RUnlock()

	if len(recent) == 0 {
		return msg.Respond("risk_assessment", protocol.Payload{
			"risk_level": "unknown",
			"risk_score": 0.0,
		}), nil
	}
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	sum := 0.0
	for _, t := range recent {
		sum += t.decision.RiskImpact
	}
	avg := sum / float64(len(recent))

	return msg.Respond("risk_assessment", protocol.Payload{
		"session_id":         msg.SessionID,
		"risk_score":         avg,
		"risk_level":         RiskLevel(avg),
		"decisions_analyzed": len(recent),
	}), nil
}

// handleDifficultyRequest recommends a difficulty from the running success
// rate, keeping the current level until at least three decisions exist.
func (a *Agent) handleDifficultyRequest(_ context.Context, msg *protocol.Message) (*protocol.Message, error) {
	current := protocol.IntFieldOr(msg.Payload, "current_difficulty", 3)

	a.mu.RLock()
	l, ok := a.ledgers[msg.SessionID]
	var decisions []tracked
	if ok {
		decisions = l.decisions
	}
	a.mu.RUnlock()

	if len(decisions) < 3 {
		return msg.Respond("difficulty_recommendation", protocol.Payload{
			"recommendation": current,
			"reason":         "insufficient_data",
		}), nil
	}

	correct := 0
	for _, t := range decisions {
		if t.class.Correct {
			correct++
		}
	}
	successRate := float64(correct) / float64(len(decisions))

	recommended, reason := current, "optimal_difficulty"
	if successRate > 0.85 {
		recommended = min(current+1, 5)
		reason = "user_performing_well"
	} else if successRate < 0.55 {
		recommended = max(current-1, 1)
		reason = "user_struggling"
	}

	return msg.Respond("difficulty_recommendation", protocol.Payload{
		"session_id":         msg.SessionID,
		"current_difficulty": current,
		"recommendation":     recommended,
		"reason":             reason,
		"success_rate":       successRate,
	}), nil
}

// Forget discards the ledger of a finished session.
func (a *Agent) Forget(sessionID string) {
	a.mu.Lock()
	delete(a.ledgers, sessionID)
	a.mu.Unlock()
}
