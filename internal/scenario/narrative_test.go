package scenario

import (
	"strings"
	"testing"

	"cyberguard/internal/evaluation"
	"cyberguard/internal/session"
	"cyberguard/internal/threat"
)

func TestAnalyze_ActionDetection(t *testing.T) {
	n := NewNarrator(1)
	tests := []struct {
		input        string
		wantAction   string
		wantDecision bool
		wantSecurity bool
	}{
		{"let me verify the sender", "verify", true, true},
		{"I'll report this to IT", "report", true, true},
		{"just delete it", "ignore", true, true},
		{"I click the link", "click", true, true},
		{"I'll reply to them", "respond", true, false},
		{"what a strange morning", "unclear", false, false},
	}
	for _, tt := range tests {
		a := n.Analyze(tt.input, "phishing")
		if a.UserAction != tt.wantAction {
			t.Errorf("%q action = %s, want %s", tt.input, a.UserAction, tt.wantAction)
		}
		if a.IsDecisionPoint != tt.wantDecision {
			t.Errorf("%q decision point = %v", tt.input, a.IsDecisionPoint)
		}
		if a.IsSecurityDecision != tt.wantSecurity {
			t.Errorf("%q security decision = %v", tt.input, a.IsSecurityDecision)
		}
	}
}

func TestAnalyze_PhishingQuality(t *testing.T) {
	n := NewNarrator(1)
	tests := []struct {
		input       string
		wantQuality string
	}{
		{"I'd verify with the helpdesk", "excellent"},
		{"forward it to security", "good"},
		{"ignore and move on", "acceptable"},
		{"open the attachment", "poor"},
	}
	for _, tt := range tests {
		a := n.Analyze(tt.input, "phishing")
		if a.DecisionQuality != tt.wantQuality {
			t.Errorf("%q quality = %s, want %s", tt.input, a.DecisionQuality, tt.wantQuality)
		}
		if a.Vulnerability != "phishing_email" {
			t.Errorf("%q vulnerability = %s", tt.input, a.Vulnerability)
		}
	}
}

func TestAnalyze_StruggleAndResolution(t *testing.T) {
	n := NewNarrator(1)
	if a := n.Analyze("I'm not sure, can you help?", "phishing"); !a.UserStruggling {
		t.Error("struggle indicators missed")
	}
	if a := n.Analyze("ok I'm done here", "phishing"); !a.ScenarioResolved {
		t.Error("resolution indicators missed")
	}
}

func TestThreatPresentation_UsesContentOrDefaults(t *testing.T) {
	n := NewNarrator(1)
	out := n.ThreatPresentation(map[string]any{
		"email": map[string]any{
			"subject": "Quarterly Update",
			"body":    "Open immediately.",
			"sender":  map[string]any{"display_name": "CFO <cfo@corp.example>"},
		},
	})
	for _, want := range []string{"Quarterly Update", "Open immediately.", "CFO <cfo@corp.example>"} {
		if !strings.Contains(out, want) {
			t.Errorf("presentation missing %q", want)
		}
	}

	// Empty content still renders a complete prompt.
	out = n.ThreatPresentation(map[string]any{})
	if !strings.Contains(out, "Important Message") {
		t.Error("default subject missing")
	}
}

func TestFallbackScenario(t *testing.T) {
	n := NewNarrator(1)
	if s := n.FallbackScenario("phishing"); !strings.Contains(s, "bank") {
		t.Errorf("phishing fallback = %.60q", s)
	}
	if s := n.FallbackScenario("unknown_type"); !strings.Contains(s, "security situation") {
		t.Errorf("generic fallback = %.60q", s)
	}
}

func TestLearningMoment(t *testing.T) {
	n := NewNarrator(1)
	good := n.LearningMoment("verify", "verify", "phishing_email")
	if !strings.Contains(good, "Great job") {
		t.Errorf("optimal decision moment = %.60q", good)
	}
	bad := n.LearningMoment("click", "verify", "phishing_email")
	if !strings.Contains(bad, "phishing attempt") {
		t.Errorf("poor decision moment = %.60q", bad)
	}
}

func TestSelectScenario_Preferences(t *testing.T) {
	// Weak unseen pattern wins.
	sel := SelectScenario("general", 3, []string{threat.PatternUrgency}, []string{threat.PatternCuriosity})
	if sel.ThreatPattern != threat.PatternCuriosity {
		t.Errorf("pattern = %s, want curiosity (weak and unseen)", sel.ThreatPattern)
	}
	// Otherwise first unseen.
	sel = SelectScenario("general", 3, []string{threat.PatternUrgency}, nil)
	if sel.ThreatPattern != threat.PatternAuthority {
		t.Errorf("pattern = %s, want authority", sel.ThreatPattern)
	}
	// All seen: deterministic fallback.
	sel = SelectScenario("general", 3,
		[]string{threat.PatternUrgency, threat.PatternAuthority, threat.PatternCuriosity}, nil)
	if sel.ThreatPattern != threat.PatternUrgency {
		t.Errorf("pattern = %s, want urgency fallback", sel.ThreatPattern)
	}
}

func TestHintFor_LadderAndCap(t *testing.T) {
	first := HintFor("phishing_email", 0)
	second := HintFor("phishing_email", 1)
	third := HintFor("phishing_email", 2)
	if first == "" || second == "" || third == "" {
		t.Fatal("ladder hints missing")
	}
	if first == second || second == third {
		t.Error("hints should escalate, not repeat")
	}
	if HintFor("phishing_email", MaxHintsPerSession) != "" {
		t.Error("cap not enforced")
	}
	if HintFor("unknown_vuln", 0) == "" {
		t.Error("unknown vulnerability should use the generic ladder")
	}
}

func TestBuildDebrief(t *testing.T) {
	sess := session.New("u1", "phishing", 3)
	sess.AppendDecision(session.DecisionPoint{
		Turn: 3, Vulnerability: "phishing_email",
		UserChoice: "verify", CorrectChoice: "verify",
		RiskImpact: 0.0, ResponseTime: 12,
	})
	result := evaluation.Evaluate(sess.ID, "u1", "phishing", 3, sess.Decisions)

	d := BuildDebrief(sess, result, session.ReasonFinished)
	if !strings.Contains(d.Content, "1 security decisions") {
		t.Errorf("decision count missing: %.120q", d.Content)
	}
	// Stored risk 0.0 presents as the maximally safe +1.0 delta.
	if !strings.Contains(d.Content, "+1.0") {
		t.Errorf("signed impact missing: %q", d.Content)
	}
	if d.Score != result.Overall {
		t.Errorf("score = %v, want %v", d.Score, result.Overall)
	}

	// No decisions: the debrief says so instead of inventing scores.
	empty := session.New("u2", "phishing", 3)
	emptyResult := evaluation.Evaluate(empty.ID, "u2", "phishing", 3, nil)
	d = BuildDebrief(empty, emptyResult, session.ReasonMaxTurns)
	if !strings.Contains(d.Content, "No security decisions") {
		t.Errorf("empty debrief = %.120q", d.Content)
	}
	if !strings.Contains(d.Content, "turn limit") {
		t.Error("max-turns framing missing")
	}
}
