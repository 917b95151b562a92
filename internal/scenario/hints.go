package scenario

// MaxHintsPerSession caps how much help one session hands out.
const MaxHintsPerSession = 3

// hintLadder escalates from subtle to explicit as the user keeps struggling.
var hintLadder = map[string][]string{
	"phishing_email": {
		"Something about this message deserves a second look. What do you usually trust an email by?",
		"Compare the sender's actual address with the organization it claims to be from. Do they match?",
		"This is a phishing attempt: the domain is spoofed and the urgency is manufactured. Verify through a known channel, then report it.",
	},
	"none": {
		"Slow down and look at the details of what you've been sent.",
		"Ask yourself: who is really asking, and why the time pressure?",
		"Treat this as hostile until verified through an independent channel.",
	},
}

// HintFor returns the next hint for a struggling user, or empty when the
// session has used up its allowance. hintsUsed is the count before this hint.
func HintFor(vulnerability string, hintsUsed int) string {
	if hintsUsed >= MaxHintsPerSession {
		return ""
	}
	ladder, ok := hintLadder[vulnerability]
	if !ok {
		ladder = hintLadder["none"]
	}
	if hintsUsed >= len(ladder) {
		hintsUsed = len(ladder) - 1
	}
	return ladder[hintsUsed]
}
