// Package evaluation scores user decisions and whole sessions. Scoring is a
// pure function of the decision list so repeated evaluation of an unchanged
// session yields identical results.
package evaluation

import (
	"fmt"
	"sort"
	"strings"

	"cyberguard/internal/session"
)

// Component weights for the overall score.
const (
	weightRecognition   = 0.40
	weightResponseTime  = 0.20
	weightActionQuality = 0.30
	weightConfidence    = 0.10
)

// Response time thresholds in seconds.
const (
	thresholdHasty   = 5.0  // below: too quick, not thinking
	thresholdOptimal = 30.0 // 5-30s: good thinking time
	thresholdSlow    = 60.0 // 30-60s: deliberate; beyond: slow
)

// Outcome categorizes one decision.
type Outcome string

const (
	OutcomeCorrectQuick   Outcome = "correct_quick"
	OutcomeCorrect        Outcome = "correct"
	OutcomeIncorrectHasty Outcome = "incorrect_hasty"
	OutcomeIncorrect      Outcome = "incorrect"
)

// TimeCategory buckets a response latency.
type TimeCategory string

const (
	TimeHasty      TimeCategory = "hasty"
	TimeOptimal    TimeCategory = "optimal"
	TimeDeliberate TimeCategory = "deliberate"
	TimeSlow       TimeCategory = "slow"
)

func categorizeTime(seconds float64) TimeCategory {
	switch {
	case seconds < thresholdHasty:
		return TimeHasty
	case seconds <= thresholdOptimal:
		return TimeOptimal
	case seconds <= thresholdSlow:
		return TimeDeliberate
	default:
		return TimeSlow
	}
}

// Classification is the per-decision scoring outcome.
type Classification struct {
	Outcome      Outcome
	Correct      bool
	RiskImpact   float64 // 0..1
	TimeCategory TimeCategory
}

// Classify scores a single decision. The choice comparison is
// case-insensitive. Risk impact starts at 0 for a correct choice and 1 for an
// incorrect one, with a penalty for acting hastily (+0.10) or slowly (+0.05),
// clamped to 1.
func Classify(d session.DecisionPoint) Classification {
	correct := strings.EqualFold(d.UserChoice, d.CorrectChoice)

	base := 1.0
	if correct {
		base = 0.0
	}
	penalty := 0.0
	if d.ResponseTime < thresholdHasty {
		penalty = 0.10
	} else if d.ResponseTime > thresholdSlow {
		penalty = 0.05
	}
	risk := base + penalty
	if risk > 1.0 {
		risk = 1.0
	}

	var outcome Outcome
	switch {
	case correct && d.ResponseTime < thresholdOptimal:
		outcome = OutcomeCorrectQuick
	case correct:
		outcome = OutcomeCorrect
	case d.ResponseTime < thresholdHasty:
		outcome = OutcomeIncorrectHasty
	default:
		outcome = OutcomeIncorrect
	}

	return Classification{
		Outcome:      outcome,
		Correct:      correct,
		RiskImpact:   risk,
		TimeCategory: categorizeTime(d.ResponseTime),
	}
}

// RiskLevel categorizes a 0..1 risk score.
func RiskLevel(risk float64) string {
	switch {
	case risk >= 0.8:
		return "critical"
	case risk >= 0.6:
		return "high"
	case risk >= 0.4:
		return "medium"
	case risk >= 0.2:
		return "low"
	default:
		return "minimal"
	}
}

// ComponentScores are the four weighted session score components, each 0..1.
type ComponentScores struct {
	Recognition   float64 `json:"recognition"`
	ResponseTime  float64 `json:"response_time"`
	ActionQuality float64 `json:"action_quality"`
	Confidence    float64 `json:"confidence"`
}

// VulnerabilityStat is per-vulnerability-type performance.
type VulnerabilityStat struct {
	Vulnerability string  `json:"vulnerability"`
	Attempts      int     `json:"attempts"`
	Correct       int     `json:"correct"`
	SuccessRate   float64 `json:"success_rate"`
}

// KnowledgeGap flags a vulnerability type the user keeps missing.
type KnowledgeGap struct {
	GapType     string  `json:"gap_type"`
	Severity    string  `json:"severity"` // "high" below 40% success, else "medium"
	Attempts    int     `json:"attempts"`
	SuccessRate float64 `json:"success_rate"`
}

// DifficultyRecommendation is the adaptive difficulty suggestion.
type DifficultyRecommendation struct {
	Current     int    `json:"current"`
	Recommended int    `json:"recommended"`
	Adjustment  string `json:"adjustment"` // increase / decrease / maintain
	Reason      string `json:"reason"`
}

// Result is a full-session evaluation.
type Result struct {
	SessionID        string                   `json:"session_id"`
	UserID           string                   `json:"user_id"`
	ScenarioType     string                   `json:"scenario_type"`
	Overall          float64                  `json:"overall_score"`
	Risk             float64                  `json:"risk_score"`
	RiskLevel        string                   `json:"risk_level"`
	Components       ComponentScores          `json:"component_scores"`
	DecisionsTracked int                      `json:"decisions_tracked"`
	CorrectDecisions int                      `json:"correct_decisions"`
	Vulnerabilities  []VulnerabilityStat      `json:"vulnerability_analysis"`
	Strengths        []string                 `json:"strengths"`
	Weaknesses       []string                 `json:"weaknesses"`
	KnowledgeGaps    []KnowledgeGap           `json:"knowledge_gaps"`
	Recommendations  []string                 `json:"recommendations"`
	Difficulty       DifficultyRecommendation `json:"difficulty_recommendation"`
}

// Evaluate scores a complete decision list. It is deterministic: vulnerability
// stats, strengths, weaknesses and gaps come out sorted, and nothing in the
// result depends on the clock.
func Evaluate(sessionID, userID, scenarioType string, currentDifficulty int, decisions []session.DecisionPoint) Result {
	if len(decisions) == 0 {
		return emptyResult(sessionID, userID, scenarioType, currentDifficulty)
	}

	classes := make([]Classification, len(decisions))
	for i, d := range decisions {
		classes[i] = Classify(d)
	}

	var correctCount, optimalCount int
	var qualitySum float64
	for _, c := range classes {
		if c.Correct {
			correctCount++
		}
		if c.TimeCategory == TimeOptimal {
			optimalCount++
		}
		switch c.Outcome {
		case OutcomeCorrectQuick:
			qualitySum += 1.0
		case OutcomeCorrect:
			qualitySum += 0.9
		case OutcomeIncorrectHasty:
			qualitySum += 0.2 // at least they responded
		}
	}
	n := float64(len(decisions))

	comp := ComponentScores{
		Recognition:   float64(correctCount) / n,
		ResponseTime:  float64(optimalCount) / n,
		ActionQuality: qualitySum / n,
		Confidence:    confidenceScore(decisions, classes),
	}
	overall := comp.Recognition*weightRecognition +
		comp.ResponseTime*weightResponseTime +
		comp.ActionQuality*weightActionQuality +
		comp.Confidence*weightConfidence
	risk := 1.0 - overall

	stats, strengths, weaknesses := vulnerabilityPatterns(decisions, classes)
	gaps := knowledgeGaps(stats, weaknesses)

	return Result{
		SessionID:        sessionID,
		UserID:           userID,
		ScenarioType:     scenarioType,
		Overall:          overall,
		Risk:             risk,
		RiskLevel:        RiskLevel(risk),
		Components:       comp,
		DecisionsTracked: len(decisions),
		CorrectDecisions: correctCount,
		Vulnerabilities:  stats,
		Strengths:        strengths,
		Weaknesses:       weaknesses,
		KnowledgeGaps:    gaps,
		Recommendations:  recommendations(risk, gaps),
		Difficulty:       recommendDifficulty(overall, currentDifficulty),
	}
}

// confidenceScore measures calibration over decisions that carry a
// self-reported confidence: high confidence on a correct choice or low
// confidence on an incorrect one counts as calibrated. With no confidence
// data the score is a neutral 0.5.
func confidenceScore(decisions []session.DecisionPoint, classes []Classification) float64 {
	withConfidence, calibrated := 0, 0
	for i, d := range decisions {
		if d.Confidence == nil {
			continue
		}
		withConfidence++
		c := *d.Confidence
		if (c > 0.7 && classes[i].Correct) || (c < 0.5 && !classes[i].Correct) {
			calibrated++
		}
	}
	if withConfidence == 0 {
		return 0.5
	}
	return float64(calibrated) / float64(withConfidence)
}

func vulnerabilityPatterns(decisions []session.DecisionPoint, classes []Classification) ([]VulnerabilityStat, []string, []string) {
	byType := make(map[string]*VulnerabilityStat)
	for i, d := range decisions {
		st, ok := byType[d.Vulnerability]
		if !ok {
			st = &VulnerabilityStat{Vulnerability: d.Vulnerability}
			byType[d.Vulnerability] = st
		}
		st.Attempts++
		if classes[i].Correct {
			st.Correct++
		}
	}

	names := make([]string, 0, len(byType))
	for name := range byType {
		names = append(names, name)
	}
	sort.Strings(names)

	stats := make([]VulnerabilityStat, 0, len(names))
	var strengths, weaknesses []string
	for _, name := range names {
		st := byType[name]
		st.SuccessRate = float64(st.Correct) / float64(st.Attempts)
		stats = append(stats, *st)
		if st.SuccessRate >= 0.8 {
			strengths = append(strengths, name)
		}
		if st.SuccessRate < 0.6 {
			weaknesses = append(weaknesses, name)
		}
	}
	return stats, strengths, weaknesses
}

func knowledgeGaps(stats []VulnerabilityStat, weaknesses []string) []KnowledgeGap {
	weak := make(map[string]bool, len(weaknesses))
	for _, w := range weaknesses {
		weak[w] = true
	}
	var gaps []KnowledgeGap
	for _, st := range stats {
		if !weak[st.Vulnerability] {
			continue
		}
		severity := "medium"
		if st.SuccessRate < 0.4 {
			severity = "high"
		}
		gaps = append(gaps, KnowledgeGap{
			GapType:     st.Vulnerability,
			Severity:    severity,
			Attempts:    st.Attempts,
			SuccessRate: st.SuccessRate,
		})
	}
	return gaps
}

func recommendations(risk float64, gaps []KnowledgeGap) []string {
	var recs []string
	if risk > 0.6 {
		recs = append(recs, "Consider reviewing fundamental security awareness training materials.")
	}
	top := gaps
	if len(top) > 3 {
		top = top[:3]
	}
	for _, gap := range top {
		switch {
		case strings.Contains(gap.GapType, "phishing"):
			recs = append(recs, fmt.Sprintf(
				"Focus on %s recognition training - current success rate: %.0f%%",
				gap.GapType, gap.SuccessRate*100))
		case strings.Contains(gap.GapType, "urgency"):
			recs = append(recs, "Practice identifying urgency-based social engineering tactics")
		case strings.Contains(gap.GapType, "authority"):
			recs = append(recs, "Learn to verify authority claims before taking action")
		}
	}
	if len(recs) == 0 {
		recs = append(recs, "Continue current training path - showing consistent performance")
	}
	return recs
}

// recommendDifficulty targets roughly a 70% success rate: above 85% overall
// the challenge steps up, below 55% it steps down.
func recommendDifficulty(overall float64, current int) DifficultyRecommendation {
	rec := DifficultyRecommendation{Current: current, Recommended: current}
	switch {
	case overall > 0.85:
		rec.Recommended = min(current+1, 5)
		rec.Adjustment = "increase"
		rec.Reason = "User consistently exceeding expectations"
	case overall < 0.55:
		rec.Recommended = max(current-1, 1)
		rec.Adjustment = "decrease"
		rec.Reason = "User struggling with current difficulty"
	default:
		rec.Adjustment = "maintain"
		rec.Reason = "Optimal challenge level achieved"
	}
	return rec
}

func emptyResult(sessionID, userID, scenarioType string, currentDifficulty int) Result {
	return Result{
		SessionID:    sessionID,
		UserID:       userID,
		ScenarioType: scenarioType,
		RiskLevel:    "unknown",
		Recommendations: []string{
			"Complete more scenarios to generate meaningful insights",
		},
		Difficulty: DifficultyRecommendation{
			Current:     currentDifficulty,
			Recommended: currentDifficulty,
			Adjustment:  "maintain",
			Reason:      "insufficient_data",
		},
	}
}
