package threat

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cyberguard/internal/logging"
)

// DefaultSafeRedirectBase is where every generated link actually lands.
const DefaultSafeRedirectBase = "https://training.cyberguard.local/redirect"

// LLMClient produces free-text enrichment for generated scenarios. The
// deterministic template pipeline works without one; when present it only
// rewrites the narrative framing, never the red flags.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Generator assembles complete phishing scenarios from the template catalogs.
type Generator struct {
	safeRedirectBase string
	llm              LLMClient

	mu  sync.Mutex
	rng *rand.Rand

	// Template overrides installed by the watcher; nil falls through to the
	// built-in catalogs.
	subjectOverrides map[string][]string
	bodyOverrides    map[string]string
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithSeed makes generation deterministic.
func WithSeed(seed int64) GeneratorOption {
	return func(g *Generator) { g.rng = rand.New(rand.NewSource(seed)) }
}

// WithSafeRedirectBase overrides the training redirect endpoint.
func WithSafeRedirectBase(base string) GeneratorOption {
	return func(g *Generator) { g.safeRedirectBase = base }
}

// WithLLM enables narrative enrichment through the given client.
func WithLLM(c LLMClient) GeneratorOption {
	return func(g *Generator) { g.llm = c }
}

// NewGenerator creates a scenario generator.
func NewGenerator(opts ...GeneratorOption) *Generator {
	g := &Generator{
		safeRedirectBase: DefaultSafeRedirectBase,
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetTemplateOverrides installs subject and body templates loaded from disk,
// replacing any previous override set. Passing empty maps reverts to the
// built-in catalogs.
func (g *Generator) SetTemplateOverrides(subjects map[string][]string, bodies map[string]string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(subjects) == 0 {
		g.subjectOverrides = nil
	} else {
		g.subjectOverrides = subjects
	}
	if len(bodies) == 0 {
		g.bodyOverrides = nil
	} else {
		g.bodyOverrides = bodies
	}
}

func (g *Generator) subjectsFor(pattern string) []string {
	g.mu.Lock()
	if s, ok := g.subjectOverrides[pattern]; ok && len(s) > 0 {
		g.mu.Unlock()
		return s
	}
	g.mu.Unlock()
	return subjectCatalog[pattern]
}

func (g *Generator) bodyFor(scenario string) (string, bool) {
	g.mu.Lock()
	if b, ok := g.bodyOverrides[scenario]; ok && b != "" {
		g.mu.Unlock()
		return b, true
	}
	g.mu.Unlock()
	b, ok := bodyCatalog[scenario]
	return b, ok
}

func (g *Generator) pick(n int) int {
	if n <= 1 {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Intn(n)
}

// GenerateScenario builds a full scenario: email, spoofed link integrated
// into the body, forged headers, and the combined red-flag set.
func (g *Generator) GenerateScenario(ctx context.Context, pattern, role string, difficulty int, sessionID string) *Scenario {
	email := g.GenerateEmail(pattern, role, difficulty)
	link := g.GenerateLink(pattern, role, difficulty, sessionID)
	headers, headerFlags := g.GenerateHeaders(email.Sender, difficulty)

	email.Headers = headers
	email.Body = integrateLink(email.Body, link.DisplayURL)

	tpl := selectEmailTemplate(pattern, role)
	sc := &Scenario{
		ID:       uuid.NewString(),
		Email:    email,
		Link:     link,
		RedFlags: headerFlags,
		Metadata: Metadata{
			Pattern:    pattern,
			Difficulty: difficulty,
			TargetRole: role,
			Objectives: tpl.Objectives,
		},
	}

	if g.llm != nil {
		g.enrich(ctx, sc)
	}
	return sc
}

// integrateLink replaces the call-to-action placeholder with the spoofed URL.
func integrateLink(body, displayURL string) string {
	for _, placeholder := range []string{
		"[VERIFY ACCOUNT NOW]", "[AUTHORIZE PAYMENT]", "[UPDATE PASSWORD]", "[CLAIM BONUS]",
	} {
		if strings.Contains(body, placeholder) {
			return strings.Replace(body, placeholder, displayURL, 1)
		}
	}
	return body + "\n\n" + displayURL
}

// enrich asks the LLM to rewrite the email body in a more natural register.
// Failures fall back to the template body; content generation never blocks a
// scenario on the model being unavailable.
func (g *Generator) enrich(ctx context.Context, sc *Scenario) {
	prompt := "Rewrite the following training-scenario phishing email so the tone " +
		"is natural, keeping every factual element, link and red flag intact:\n\n" + sc.Email.Body
	text, err := g.llm.Generate(ctx, prompt)
	if err != nil {
		logging.Threat("llm enrichment skipped: %v", err)
		return
	}
	if strings.TrimSpace(text) == "" || !strings.Contains(text, sc.Link.DisplayURL) {
		logging.Threat("llm enrichment discarded: rewrite dropped the scenario link")
		return
	}
	sc.Email.Body = text
}
