package threat

import (
	"context"
	"strings"
	"sync"

	"cyberguard/internal/logging"
	"cyberguard/internal/protocol"
)

// AgentName is the registry name the router delivers to.
const AgentName = "phishing_agent"

// Agent is the phishing threat actor. It answers scenario generation and
// adaptation requests and keeps the active scenarios for analytics.
type Agent struct {
	mux *protocol.HandlerMux
	gen *Generator

	mu        sync.RWMutex
	scenarios map[string]*Scenario // by scenario id
}

// NewAgent creates the phishing agent around a content generator.
func NewAgent(gen *Generator) *Agent {
	a := &Agent{
		mux:       protocol.NewHandlerMux(AgentName),
		gen:       gen,
		scenarios: make(map[string]*Scenario),
	}
	a.mux.Handle(protocol.TypeGenerateScenario, a.handleGenerate)
	a.mux.Handle(protocol.TypeAdaptScenario, a.handleAdapt)
	a.mux.Handle("get_scenario_analytics", a.handleAnalytics)
	return a
}

func (a *Agent) Name() string { return AgentName }

func (a *Agent) ProcessMessage(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	return a.mux.Dispatch(ctx, msg)
}

func (a *Agent) handleGenerate(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	pattern := protocol.StringFieldOr(msg.Payload, "threat_pattern", PatternUrgency)
	role := protocol.StringFieldOr(msg.Payload, "user_role", RoleGeneral)
	difficulty := protocol.IntFieldOr(msg.Payload, "difficulty", 3)

	sc := a.gen.GenerateScenario(ctx, pattern, role, difficulty, msg.SessionID)

	a.mu.Lock()
	a.scenarios[sc.ID] = sc
	a.mu.Unlock()

	logging.Threat("generated scenario %s (pattern=%s role=%s difficulty=%d)",
		sc.ID, pattern, role, difficulty)

	return msg.Respond("scenario_generated", protocol.Payload{"scenario": sc}), nil
}

// handleAdapt escalates or softens an active scenario based on the user's
// latest response and the performance hint from the evaluation side.
func (a *Agent) handleAdapt(_ context.Context, msg *protocol.Message) (*protocol.Message, error) {
	userResponse := protocol.StringFieldOr(msg.Payload, "user_response", "")
	hint := protocol.StringFieldOr(msg.Payload, "performance_hint", "")

	analysis := analyzeResponse(userResponse)
	strategy := adaptationStrategy(analysis, hint)
	content := adaptedContent(strategy)

	logging.Threat("adapt session %s: %s -> %s", msg.SessionID, analysis, strategy)

	return msg.Respond("scenario_adapted", protocol.Payload{
		"adaptation_type": strategy,
		"content":         content,
		"reasoning":       "Adapted based on " + analysis + " and " + hint,
		"session_id":      msg.SessionID,
	}), nil
}

func (a *Agent) handleAnalytics(_ context.Context, msg *protocol.Message) (*protocol.Message, error) {
	a.mu.RLock()
	byPattern := make(map[string]int)
	for _, sc := range a.scenarios {
		byPattern[sc.Metadata.Pattern]++
	}
	total := len(a.scenarios)
	a.mu.RUnlock()

	return msg.Respond("analytics_data", protocol.Payload{
		"active_scenarios":   total,
		"techniques_summary": byPattern,
	}), nil
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func analyzeResponse(response string) string {
	r := strings.ToLower(response)
	switch {
	case containsAny(r, "suspicious", "fake", "phishing", "don't trust"):
		return "user_identified_threat"
	case containsAny(r, "click", "login", "update", "comply"):
		return "user_falling_for_threat"
	case containsAny(r, "check", "verify", "investigate", "unsure"):
		return "user_investigating"
	default:
		return "user_response_unclear"
	}
}

func adaptationStrategy(analysis, hint string) string {
	switch analysis {
	case "user_identified_threat":
		if strings.Contains(hint, "increase_difficulty") {
			return "escalate_threat"
		}
		return "provide_confirmation"
	case "user_falling_for_threat":
		if strings.Contains(hint, "decrease_difficulty") {
			return "add_obvious_red_flags"
		}
		return "provide_subtle_warning"
	case "user_investigating":
		return "provide_investigative_clues"
	default:
		return "provide_clarification"
	}
}

func adaptedContent(strategy string) protocol.Payload {
	switch strategy {
	case "escalate_threat":
		return protocol.Payload{
			"type":            "follow_up_email",
			"content":         "You received a follow-up message: 'We notice you haven't verified yet. Your account will be permanently deleted in 30 minutes.'",
			"red_flags_added": []string{"extreme_urgency", "deletion_threat"},
		}
	case "provide_confirmation":
		return protocol.Payload{
			"type":            "positive_feedback",
			"content":         "Good instincts! You correctly identified this as a phishing attempt.",
			"learning_points": []string{"Always verify sender", "Check for urgency pressure"},
		}
	case "add_obvious_red_flags":
		return protocol.Payload{
			"type":            "modified_email",
			"content":         "The email now shows obvious spelling errors: 'Pleas verify you're acount immediatly'",
			"red_flags_added": []string{"spelling_errors", "grammar_mistakes"},
		}
	default:
		return protocol.Payload{
			"type":    "guidance",
			"content": "Take a closer look at the sender's email address and the urgency of the request.",
			"hints":   []string{"Check domain carefully", "Question urgent requests"},
		}
	}
}
