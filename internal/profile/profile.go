// Package profile tracks what the system knows about each user across
// sessions: how many they have run, how well they score, which threat
// patterns they keep falling for, and what difficulty their next session
// should open at. The memory agent in this package is the only writer.
package profile

import (
	"time"

	"cyberguard/internal/evaluation"
	"cyberguard/internal/session"
)

// DefaultDifficulty is where new users start, mid-scale.
const DefaultDifficulty = 3

// recentPatternWindow bounds how far back scenario variety looks.
const recentPatternWindow = 5

// UserProfile is the cross-session record for one user.
type UserProfile struct {
	UserID                string    `json:"user_id"`
	Role                  string    `json:"role,omitempty"`
	TotalSessions         int       `json:"total_sessions"`
	AverageScore          float64   `json:"average_score"`
	CurrentDifficulty     int       `json:"current_difficulty"`
	VulnerabilityPatterns []string  `json:"vulnerability_patterns,omitempty"`
	RecentPatterns        []string  `json:"recent_patterns,omitempty"`
	LastSessionAt         time.Time `json:"last_session_at,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func newProfile(userID string) *UserProfile {
	now := time.Now().UTC()
	return &UserProfile{
		UserID:            userID,
		CurrentDifficulty: DefaultDifficulty,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// clone returns a copy safe to hand outside the agent's lock.
func (p *UserProfile) clone() *UserProfile {
	cp := *p
	cp.VulnerabilityPatterns = append([]string(nil), p.VulnerabilityPatterns...)
	cp.RecentPatterns = append([]string(nil), p.RecentPatterns...)
	return &cp
}

// absorb folds one completed session's evaluation into the profile. The
// average is a running mean over all sessions; difficulty follows the
// evaluation's recommendation when one exists.
func (p *UserProfile) absorb(sess *session.Session, result evaluation.Result) {
	n := float64(p.TotalSessions)
	p.AverageScore = (p.AverageScore*n + result.Overall) / (n + 1)
	p.TotalSessions++
	if result.Difficulty.Recommended >= 1 && result.Difficulty.Recommended <= 5 {
		p.CurrentDifficulty = result.Difficulty.Recommended
	}
	if sess.UserRole != "" {
		p.Role = sess.UserRole
	}

	// Weak areas accumulate; a vulnerability leaves the list only when a
	// later evaluation stops flagging it.
	p.VulnerabilityPatterns = mergeWeaknesses(p.VulnerabilityPatterns, result)

	if pattern, ok := sess.Scenario["threat_pattern"].(string); ok && pattern != "" {
		p.RecentPatterns = append(p.RecentPatterns, pattern)
		if len(p.RecentPatterns) > recentPatternWindow {
			p.RecentPatterns = p.RecentPatterns[len(p.RecentPatterns)-recentPatternWindow:]
		}
	}

	if sess.EndedAt.After(p.LastSessionAt) {
		p.LastSessionAt = sess.EndedAt
	}
	p.UpdatedAt = time.Now().UTC()
}

func mergeWeaknesses(existing []string, result evaluation.Result) []string {
	cleared := make(map[string]bool, len(result.Strengths))
	for _, s := range result.Strengths {
		cleared[s] = true
	}
	keep := existing[:0:0]
	seen := make(map[string]bool)
	for _, w := range existing {
		if !cleared[w] && !seen[w] {
			keep = append(keep, w)
			seen[w] = true
		}
	}
	for _, w := range result.Weaknesses {
		if !seen[w] {
			keep = append(keep, w)
			seen[w] = true
		}
	}
	return keep
}
