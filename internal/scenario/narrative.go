// Package scenario drives training sessions: the Game Master state machine,
// narrative generation, scenario selection, hints and debriefs.
package scenario

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Analysis is the narrator's read of one user input.
type Analysis struct {
	IsDecisionPoint    bool
	IsSecurityDecision bool
	UserAction         string
	DecisionQuality    string // excellent / good / acceptable / poor / neutral
	Vulnerability      string
	OptimalAction      string
	Explanation        string
	UserStruggling     bool
	ScenarioResolved   bool
}

// Narrator turns scenario content and user actions into conversational turns.
type Narrator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewNarrator creates a narrator. Seed zero means non-deterministic phrasing.
func NewNarrator(seed int64) *Narrator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Narrator{rng: rand.New(rand.NewSource(seed))}
}

func (n *Narrator) choose(options []string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return options[n.rng.Intn(len(options))]
}

var securityActions = map[string][]string{
	"verify":  {"verify", "check", "confirm", "validate"},
	"report":  {"report", "forward", "escalate", "notify"},
	"ignore":  {"ignore", "delete", "discard", "skip"},
	"click":   {"click", "open", "download", "access"},
	"respond": {"reply", "respond", "answer", "send"},
}

// Ordered so detection is deterministic when an input matches several actions.
var actionOrder = []string{"verify", "report", "ignore", "click", "respond"}

var struggleIndicators = []string{"help", "confused", "not sure", "don't know", "unclear"}
var resolutionIndicators = []string{"done", "finished", "complete", "end"}

// Analyze classifies a user input against the active scenario type.
func (n *Narrator) Analyze(input, scenarioType string) Analysis {
	a := Analysis{
		UserAction:      "unclear",
		DecisionQuality: "neutral",
		Vulnerability:   "none",
		OptimalAction:   "none",
	}
	lower := strings.ToLower(input)

	for _, action := range actionOrder {
		for _, kw := range securityActions[action] {
			if strings.Contains(lower, kw) {
				a.UserAction = action
				break
			}
		}
		if a.UserAction != "unclear" {
			break
		}
	}
	a.IsDecisionPoint = a.UserAction != "unclear"
	switch a.UserAction {
	case "verify", "report", "ignore", "click":
		a.IsSecurityDecision = true
	}

	if scenarioType == "phishing" && a.IsDecisionPoint {
		n.analyzePhishing(&a)
	}

	for _, ind := range struggleIndicators {
		if strings.Contains(lower, ind) {
			a.UserStruggling = true
			break
		}
	}
	for _, ind := range resolutionIndicators {
		if strings.Contains(lower, ind) {
			a.ScenarioResolved = true
			break
		}
	}
	return a
}

func (n *Narrator) analyzePhishing(a *Analysis) {
	a.Vulnerability = "phishing_email"
	a.OptimalAction = "verify"
	switch a.UserAction {
	case "click":
		a.DecisionQuality = "poor"
		a.Explanation = "Clicking suspicious links without verification creates high risk"
	case "verify":
		a.DecisionQuality = "excellent"
		a.Explanation = "Verification is the optimal security practice"
	case "report":
		a.DecisionQuality = "good"
		a.Explanation = "Reporting suspicious content helps protect others"
	case "ignore":
		a.DecisionQuality = "acceptable"
		a.Explanation = "Ignoring is safe but doesn't help prevent future attacks"
	}
}

// Opening introduces the session before any threat content exists.
func (n *Narrator) Opening(scenarioType, role string, difficulty int) string {
	return fmt.Sprintf(
		"Welcome to your security awareness session. You'll work through a realistic %s "+
			"situation tailored to your role (%s, level %d). Respond the way you would at "+
			"your real desk. Ready when you are - describe what you do first.",
		scenarioType, role, difficulty)
}

// ThreatPresentation folds generated threat content into the narrative.
// content is the scenario payload delivered by the content agent.
func (n *Narrator) ThreatPresentation(content map[string]any) string {
	subject, _ := dig(content, "email", "subject").(string)
	if subject == "" {
		subject = "Important Message"
	}
	body, _ := dig(content, "email", "body").(string)
	if body == "" {
		body = "Please review the attached information."
	}
	from, _ := dig(content, "email", "sender", "display_name").(string)
	if from == "" {
		from = "IT-Security@company-alerts.net"
	}
	return fmt.Sprintf(`As you settle in to work, you notice a new email in your inbox that seems urgent:

**From:** %s
**To:** You
**Subject:** %s

%s

What would you like to do?`, from, subject, body)
}

// dig walks nested maps, tolerating both map[string]any and typed payloads.
func dig(m map[string]any, keys ...string) any {
	var cur any = m
	for _, k := range keys {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = mm[k]
	}
	return cur
}

var fallbackScenarios = map[string]string{
	"phishing": `You're reviewing your email when you notice a message from what appears to be your bank, asking you to verify your account information due to "suspicious activity".

The email looks legitimate but something feels off about the urgency and the request.

How would you handle this situation?`,
	"vishing": `You receive a phone call from someone claiming to be from your IT department. They say there's been a security breach and they need you to provide your login credentials to "secure your account".

The caller seems to know some details about your company but the request feels unusual.

What would you do?`,
	"bec": `You receive an email that appears to be from your CEO asking you to urgently process a confidential wire transfer to a new vendor. The email emphasizes secrecy and immediate action.

While the email address looks correct, the request is outside normal procedures.

How would you respond?`,
}

// FallbackScenario covers the content agent being unreachable.
func (n *Narrator) FallbackScenario(scenarioType string) string {
	if s, ok := fallbackScenarios[scenarioType]; ok {
		return s
	}
	return "A security situation has emerged that requires your attention..."
}

// AdaptiveResponse reacts to the quality of the user's last action.
func (n *Narrator) AdaptiveResponse(quality string) string {
	switch quality {
	case "excellent":
		return n.choose([]string{
			"Excellent instincts! You took exactly the right approach by verifying first.",
			"Perfect response! That's exactly what security-aware professionals do.",
			"Outstanding! Your verification step shows strong security awareness.",
		})
	case "good":
		return n.choose([]string{
			"Good thinking! That's a solid security practice.",
			"Nice work! You're demonstrating good security awareness.",
			"Well done! That response shows you're thinking about security.",
		})
	case "poor":
		return n.choose([]string{
			"That action would have significant security implications. Let's explore what happened...",
			"Interesting choice. This situation had some important security considerations...",
			"That's a common reaction, but there were some red flags to consider...",
		})
	default:
		return n.choose([]string{
			"Let me help clarify the situation...",
			"There are a few things to consider here...",
			"This is a good opportunity to think through the security aspects...",
		})
	}
}

// LearningMoment closes a decision with its educational payoff.
func (n *Narrator) LearningMoment(userAction, optimalAction, vulnerability string) string {
	if vulnerability == "phishing_email" {
		if userAction == optimalAction {
			return `Great job! You handled that phishing attempt perfectly. Here's what made it suspicious:

**Red Flags You Caught:**
- External email address despite claiming to be internal
- Urgent language designed to bypass careful thinking
- Request for sensitive information or immediate action

**Your Response:** Verifying the sender before taking action is exactly the right approach.

**Key Takeaway:** When in doubt, verify independently through known channels.`
		}
		return `This was actually a phishing attempt! Here's what happened:

**Red Flags in This Message:**
- The sender's email domain didn't match the claimed organization
- Urgent language designed to create time pressure
- Request for immediate action without proper verification

**The Risk:** Clicking that link would have led to a credential harvesting site.

**Better Approach:** Always verify suspicious requests through independent channels before taking action.`
	}
	return fmt.Sprintf(`**Learning Moment**

Your response: %s
Optimal approach: %s

This scenario highlighted important security considerations. When in doubt, verify through known channels.`, userAction, optimalAction)
}

// Clarification nudges a user who hasn't committed to a decision yet.
func (n *Narrator) Clarification() string {
	return n.choose([]string{
		"Take your time. What specifically about this situation would you check first?",
		"Think about what a careful response looks like here - what's your next step?",
		"Consider the sender, the urgency and what's being asked of you. What do you do?",
	})
}

// GeneralResponse covers inputs outside any decision flow.
func (n *Narrator) GeneralResponse() string {
	return n.choose([]string{
		"Noted. Let's stay focused on the situation in front of you.",
		"Understood. Keep the security angle in mind as you decide what to do next.",
	})
}
