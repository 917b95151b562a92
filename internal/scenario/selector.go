package scenario

import (
	"cyberguard/internal/threat"
)

// Selection is the chosen scenario shape for a new session.
type Selection struct {
	ThreatPattern string
	UserRole      string
	Difficulty    int
}

// SelectScenario picks the threat pattern for a session, preferring patterns
// targeting the user's known weak areas and avoiding recently seen ones for
// variety. Deterministic given the same inputs.
func SelectScenario(role string, difficulty int, recentlySeen, vulnerabilityAreas []string) Selection {
	candidates := []string{threat.PatternUrgency, threat.PatternAuthority, threat.PatternCuriosity}

	seen := make(map[string]bool, len(recentlySeen))
	for _, p := range recentlySeen {
		seen[p] = true
	}
	weak := make(map[string]bool, len(vulnerabilityAreas))
	for _, v := range vulnerabilityAreas {
		weak[v] = true
	}

	// First preference: an unseen pattern the user is weak on.
	for _, p := range candidates {
		if weak[p] && !seen[p] {
			return Selection{ThreatPattern: p, UserRole: role, Difficulty: difficulty}
		}
	}
	// Then any unseen pattern.
	for _, p := range candidates {
		if !seen[p] {
			return Selection{ThreatPattern: p, UserRole: role, Difficulty: difficulty}
		}
	}
	// Everything seen recently: fall back to the default rotation start.
	return Selection{ThreatPattern: candidates[0], UserRole: role, Difficulty: difficulty}
}
