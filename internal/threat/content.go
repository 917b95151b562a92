// Package threat generates the attacker-side content for training scenarios:
// phishing emails, spoofed links and forged headers. Everything produced is
// synthetic and points at the safe-redirect training endpoint; the red flags
// embedded in each artifact drive the downstream evaluation.
package threat

// Social engineering patterns.
const (
	PatternUrgency   = "urgency"
	PatternAuthority = "authority"
	PatternCuriosity = "curiosity"
)

// Target user roles.
const (
	RoleGeneral = "general"
	RoleFinance = "finance"
	RoleITAdmin = "it_admin"
	RoleHR      = "hr"
	RoleManager = "manager"
)

// RedFlag is one detectable tell embedded in generated content.
type RedFlag struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Severity    string `json:"severity"` // low / medium / high
	Location    string `json:"location"`
}

// Sender is the forged originator of a phishing email.
type Sender struct {
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Flags       []string `json:"red_flags"`
}

// Email is one generated phishing email.
type Email struct {
	Sender      Sender            `json:"sender"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	Headers     map[string]string `json:"headers"`
	Attachments []Attachment      `json:"attachments"`
	RedFlags    []RedFlag         `json:"red_flags"`
}

// Attachment is safe attachment metadata; no file ever exists.
type Attachment struct {
	Filename string   `json:"filename"`
	Size     string   `json:"size"`
	Flags    []string `json:"red_flags"`
}

// Link is a spoofed URL whose actual target is the safe training redirect.
type Link struct {
	DisplayURL string            `json:"display_url"`
	ActualURL  string            `json:"actual_url"`
	Parameters map[string]string `json:"parameters"`
	RedFlags   []RedFlag         `json:"red_flags"`
}

// Scenario is a complete generated phishing scenario.
type Scenario struct {
	ID       string    `json:"scenario_id"`
	Email    Email     `json:"email"`
	Link     Link      `json:"link"`
	RedFlags []RedFlag `json:"red_flags"`
	Metadata Metadata  `json:"metadata"`
}

// Metadata describes how a scenario was produced.
type Metadata struct {
	Pattern    string   `json:"threat_pattern"`
	Difficulty int      `json:"difficulty_level"`
	TargetRole string   `json:"target_role"`
	Objectives []string `json:"educational_objectives"`
}

// AllRedFlags flattens the flags from every artifact of the scenario.
func (s *Scenario) AllRedFlags() []RedFlag {
	out := make([]RedFlag, 0, len(s.Email.RedFlags)+len(s.Link.RedFlags)+len(s.RedFlags))
	out = append(out, s.Email.RedFlags...)
	out = append(out, s.Link.RedFlags...)
	out = append(out, s.RedFlags...)
	return out
}
