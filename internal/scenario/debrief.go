package scenario

import (
	"fmt"
	"strings"

	"cyberguard/internal/evaluation"
	"cyberguard/internal/session"
)

// Debrief is the post-session summary presented as the final narrative turn.
type Debrief struct {
	Content      string   `json:"content"`
	KeyLearnings []string `json:"key_learnings"`
	Score        float64  `json:"score"`
	RiskLevel    string   `json:"risk_level"`
}

// signedImpact maps the stored 0..1 risk impact onto the presentation scale,
// where +1 is the safest possible decision and -1 the riskiest.
func signedImpact(riskImpact float64) float64 {
	return 1 - 2*riskImpact
}

// BuildDebrief folds the evaluation into a readable wrap-up.
func BuildDebrief(sess *session.Session, result evaluation.Result, reason string) Debrief {
	var b strings.Builder
	b.WriteString("**Session Debrief**\n\n")

	switch reason {
	case session.ReasonMaxTurns:
		b.WriteString("The scenario reached its turn limit, so let's review where things stood.\n\n")
	case session.ReasonSystemShutdown:
		b.WriteString("The session was interrupted; here is a summary of your progress so far.\n\n")
	case session.ReasonError:
		b.WriteString("The session ended early; here is a summary of your progress so far.\n\n")
	}

	if result.DecisionsTracked == 0 {
		b.WriteString("No security decisions were recorded this session. ")
		b.WriteString("Next time, commit to an action - verify, report, ignore or respond - so we can measure your instincts.\n")
		return Debrief{
			Content:      b.String(),
			KeyLearnings: result.Recommendations,
			RiskLevel:    result.RiskLevel,
		}
	}

	fmt.Fprintf(&b, "You made %d security decisions, %d of them optimal. Overall score: %.0f%% (risk level: %s).\n\n",
		result.DecisionsTracked, result.CorrectDecisions, result.Overall*100, result.RiskLevel)

	if len(sess.Decisions) > 0 {
		b.WriteString("**Decision review:**\n")
		for _, d := range sess.Decisions {
			verdict := "risky"
			if signedImpact(d.RiskImpact) > 0 {
				verdict = "safe"
			}
			fmt.Fprintf(&b, "- Turn %d (%s): you chose %q - %s (impact %+.1f)\n",
				d.Turn, d.Vulnerability, d.UserChoice, verdict, signedImpact(d.RiskImpact))
		}
		b.WriteString("\n")
	}

	if len(result.Strengths) > 0 {
		fmt.Fprintf(&b, "**Strengths:** %s\n", strings.Join(result.Strengths, ", "))
	}
	if len(result.Weaknesses) > 0 {
		fmt.Fprintf(&b, "**Areas to work on:** %s\n", strings.Join(result.Weaknesses, ", "))
	}
	if len(result.Recommendations) > 0 {
		b.WriteString("\n**Recommendations:**\n")
		for _, r := range result.Recommendations {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	fmt.Fprintf(&b, "\nSuggested difficulty for your next session: %d (%s).\n",
		result.Difficulty.Recommended, result.Difficulty.Adjustment)

	return Debrief{
		Content:      b.String(),
		KeyLearnings: result.Recommendations,
		Score:        result.Overall,
		RiskLevel:    result.RiskLevel,
	}
}
