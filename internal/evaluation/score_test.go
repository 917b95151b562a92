package evaluation

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"cyberguard/internal/session"
)

func decision(vuln, user, correct string, seconds float64) session.DecisionPoint {
	return session.DecisionPoint{
		Vulnerability: vuln,
		UserChoice:    user,
		CorrectChoice: correct,
		ResponseTime:  seconds,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		d        session.DecisionPoint
		outcome  Outcome
		risk     float64
		timeCat  TimeCategory
	}{
		{
			name:    "hasty wrong click carries full risk",
			d:       decision("phishing_link", "click_link", "report_suspicious", 2.0),
			outcome: OutcomeIncorrectHasty,
			risk:    1.0, // 1.0 base + 0.1 penalty, clamped
			timeCat: TimeHasty,
		},
		{
			name:    "quick correct",
			d:       decision("phishing_link", "report_suspicious", "report_suspicious", 12.0),
			outcome: OutcomeCorrectQuick,
			risk:    0.0,
			timeCat: TimeOptimal,
		},
		{
			name:    "correct but hasty keeps the penalty",
			d:       decision("phishing_link", "report_suspicious", "report_suspicious", 2.0),
			outcome: OutcomeCorrectQuick,
			risk:    0.1,
			timeCat: TimeHasty,
		},
		{
			name:    "correct but slow",
			d:       decision("phishing_link", "report_suspicious", "report_suspicious", 90.0),
			outcome: OutcomeCorrect,
			risk:    0.05,
			timeCat: TimeSlow,
		},
		{
			name:    "deliberate wrong",
			d:       decision("urgency_pressure", "comply", "verify_sender", 45.0),
			outcome: OutcomeIncorrect,
			risk:    1.0,
			timeCat: TimeDeliberate,
		},
		{
			name:    "choice comparison ignores case",
			d:       decision("phishing_link", "Report_Suspicious", "report_suspicious", 10.0),
			outcome: OutcomeCorrectQuick,
			risk:    0.0,
			timeCat: TimeOptimal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.d)
			if got.Outcome != tt.outcome {
				t.Errorf("outcome = %s, want %s", got.Outcome, tt.outcome)
			}
			if math.Abs(got.RiskImpact-tt.risk) > 1e-9 {
				t.Errorf("risk = %v, want %v", got.RiskImpact, tt.risk)
			}
			if got.TimeCategory != tt.timeCat {
				t.Errorf("time category = %s, want %s", got.TimeCategory, tt.timeCat)
			}
		})
	}
}

func TestCategorizeTimeBoundaries(t *testing.T) {
	tests := []struct {
		seconds float64
		want    TimeCategory
	}{
		{4.99, TimeHasty},
		{5.0, TimeOptimal},
		{30.0, TimeOptimal},
		{30.01, TimeDeliberate},
		{60.0, TimeDeliberate},
		{60.01, TimeSlow},
	}
	for _, tt := range tests {
		if got := categorizeTime(tt.seconds); got != tt.want {
			t.Errorf("categorizeTime(%v) = %s, want %s", tt.seconds, got, tt.want)
		}
	}
}

func TestRiskLevelThresholds(t *testing.T) {
	tests := []struct {
		risk float64
		want string
	}{
		{0.95, "critical"},
		{0.8, "critical"},
		{0.79, "high"},
		{0.6, "high"},
		{0.59, "medium"},
		{0.4, "medium"},
		{0.39, "low"},
		{0.2, "low"},
		{0.19, "minimal"},
		{0.0, "minimal"},
	}
	for _, tt := range tests {
		if got := RiskLevel(tt.risk); got != tt.want {
			t.Errorf("RiskLevel(%v) = %s, want %s", tt.risk, got, tt.want)
		}
	}
}

func TestEvaluate_EmptyPlaceholder(t *testing.T) {
	r := Evaluate("s1", "u1", "phishing", 3, nil)
	if r.RiskLevel != "unknown" {
		t.Errorf("risk level = %s, want unknown", r.RiskLevel)
	}
	if r.Overall != 0 || r.Risk != 0 || r.DecisionsTracked != 0 {
		t.Errorf("placeholder carries scores: %+v", r)
	}
	if r.Difficulty.Recommended != 3 || r.Difficulty.Reason != "insufficient_data" {
		t.Errorf("placeholder difficulty = %+v", r.Difficulty)
	}
	if len(r.Recommendations) == 0 {
		t.Error("placeholder must still recommend next steps")
	}
}

func TestEvaluate_ComponentScoresAndRisk(t *testing.T) {
	conf := func(v float64) *float64 { return &v }
	decisions := []session.DecisionPoint{
		decision("phishing_link", "report_suspicious", "report_suspicious", 12.0), // correct_quick, optimal
		decision("phishing_link", "click_link", "report_suspicious", 2.0),         // incorrect_hasty, hasty
		decision("urgency_pressure", "verify_sender", "verify_sender", 45.0),      // correct (deliberate)
		decision("urgency_pressure", "comply", "verify_sender", 20.0),             // incorrect, optimal
	}
	decisions[0].Confidence = conf(0.9) // high + correct: calibrated
	decisions[1].Confidence = conf(0.8) // high + incorrect: miscalibrated

	r := Evaluate("s1", "u1", "phishing", 3, decisions)

	// recognition 2/4, response-time 2/4 optimal, quality (1.0+0.2+0.9+0)/4,
	// confidence 1/2 calibrated.
	wantComp := ComponentScores{
		Recognition:   0.5,
		ResponseTime:  0.5,
		ActionQuality: 0.525,
		Confidence:    0.5,
	}
	if diff := cmp.Diff(wantComp, r.Components); diff != "" {
		t.Errorf("component scores mismatch (-want +got):\n%s", diff)
	}

	wantOverall := 0.5*0.40 + 0.5*0.20 + 0.525*0.30 + 0.5*0.10
	if math.Abs(r.Overall-wantOverall) > 1e-9 {
		t.Errorf("overall = %v, want %v", r.Overall, wantOverall)
	}
	if math.Abs(r.Risk-(1-wantOverall)) > 1e-9 {
		t.Errorf("risk = %v, want %v", r.Risk, 1-wantOverall)
	}
	if r.CorrectDecisions != 2 || r.DecisionsTracked != 4 {
		t.Errorf("counts = %d/%d, want 2/4", r.CorrectDecisions, r.DecisionsTracked)
	}
}

func TestEvaluate_ConfidenceDefaultsNeutral(t *testing.T) {
	r := Evaluate("s1", "u1", "phishing", 3, []session.DecisionPoint{
		decision("phishing_link", "report_suspicious", "report_suspicious", 12.0),
	})
	if r.Components.Confidence != 0.5 {
		t.Errorf("confidence with no data = %v, want 0.5", r.Components.Confidence)
	}
}

func TestEvaluate_VulnerabilityPatternsAndGaps(t *testing.T) {
	decisions := []session.DecisionPoint{
		// authority_spoofing: 0/3 correct -> weakness, high severity gap.
		decision("authority_spoofing", "comply", "verify", 20),
		decision("authority_spoofing", "comply", "verify", 20),
		decision("authority_spoofing", "comply", "verify", 20),
		// phishing_link: 2/2 -> strength.
		decision("phishing_link", "report", "report", 15),
		decision("phishing_link", "report", "report", 15),
		// urgency_pressure: 1/2 = 0.5 -> weakness, medium severity.
		decision("urgency_pressure", "verify", "verify", 15),
		decision("urgency_pressure", "comply", "verify", 15),
	}
	r := Evaluate("s1", "u1", "phishing", 3, decisions)

	wantStrengths := []string{"phishing_link"}
	wantWeaknesses := []string{"authority_spoofing", "urgency_pressure"}
	if diff := cmp.Diff(wantStrengths, r.Strengths); diff != "" {
		t.Errorf("strengths (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantWeaknesses, r.Weaknesses); diff != "" {
		t.Errorf("weaknesses (-want +got):\n%s", diff)
	}

	if len(r.KnowledgeGaps) != 2 {
		t.Fatalf("gaps = %d, want 2", len(r.KnowledgeGaps))
	}
	if r.KnowledgeGaps[0].GapType != "authority_spoofing" || r.KnowledgeGaps[0].Severity != "high" {
		t.Errorf("gap[0] = %+v, want authority_spoofing/high", r.KnowledgeGaps[0])
	}
	if r.KnowledgeGaps[1].GapType != "urgency_pressure" || r.KnowledgeGaps[1].Severity != "medium" {
		t.Errorf("gap[1] = %+v, want urgency_pressure/medium", r.KnowledgeGaps[1])
	}
}

func TestEvaluate_DifficultyRecommendation(t *testing.T) {
	perfect := decision("phishing_link", "report", "report", 12)
	wrong := decision("phishing_link", "click", "report", 12)

	tests := []struct {
		name        string
		decisions   []session.DecisionPoint
		current     int
		wantLevel   int
		wantAdjust  string
	}{
		{"high score steps up", []session.DecisionPoint{perfect, perfect, perfect, perfect}, 3, 4, "increase"},
		{"capped at five", []session.DecisionPoint{perfect, perfect, perfect, perfect}, 5, 5, "increase"},
		{"low score steps down", []session.DecisionPoint{wrong, wrong, wrong, wrong}, 3, 2, "decrease"},
		{"floored at one", []session.DecisionPoint{wrong, wrong, wrong, wrong}, 1, 1, "decrease"},
		{"middling holds", []session.DecisionPoint{perfect, perfect, wrong, wrong}, 3, 3, "maintain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Evaluate("s1", "u1", "phishing", tt.current, tt.decisions)
			if r.Difficulty.Recommended != tt.wantLevel {
				t.Errorf("recommended = %d, want %d (overall=%v)", r.Difficulty.Recommended, tt.wantLevel, r.Overall)
			}
			if r.Difficulty.Adjustment != tt.wantAdjust {
				t.Errorf("adjustment = %s, want %s", r.Difficulty.Adjustment, tt.wantAdjust)
			}
		})
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	decisions := []session.DecisionPoint{
		decision("urgency_pressure", "comply", "verify", 3),
		decision("phishing_link", "report", "report", 15),
		decision("authority_spoofing", "comply", "verify", 70),
		decision("phishing_link", "click", "report", 25),
	}
	a := Evaluate("s1", "u1", "phishing", 3, decisions)
	b := Evaluate("s1", "u1", "phishing", 3, decisions)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("repeated evaluation differs (-first +second):\n%s", diff)
	}
}
