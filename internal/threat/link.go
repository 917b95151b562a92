package threat

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// linkTemplate groups the legitimate domains a role's attackers imitate.
type linkTemplate struct {
	Domains    []string
	Techniques []string
	Paths      []string
}

var linkTemplates = map[string]linkTemplate{
	"banking_spoofs": {
		Domains:    []string{"bankofamerica.com", "chase.com", "wellsfargo.com"},
		Techniques: []string{"character_substitution", "subdomain_spoofing", "domain_extension"},
		Paths:      []string{"/login", "/security", "/verify", "/account"},
	},
	"tech_company_spoofs": {
		Domains:    []string{"microsoft.com", "google.com", "apple.com"},
		Techniques: []string{"homograph_attack", "subdomain_spoofing", "typosquatting"},
		Paths:      []string{"/signin", "/security", "/account", "/support"},
	},
	"company_spoofs": {
		Domains:    []string{"company.com", "yourcompany.com", "corporate.com"},
		Techniques: []string{"subdomain_spoofing", "domain_variation"},
		Paths:      []string{"/portal", "/hr", "/it", "/security"},
	},
}

var roleLinkCategory = map[string]string{
	RoleFinance: "banking_spoofs",
	RoleITAdmin: "tech_company_spoofs",
	RoleHR:      "company_spoofs",
	RoleManager: "company_spoofs",
	RoleGeneral: "tech_company_spoofs",
}

var patternPaths = map[string][]string{
	PatternUrgency:   {"/urgent-verify", "/security-alert", "/immediate-action"},
	PatternAuthority: {"/admin-required", "/policy-update", "/compliance"},
	PatternCuriosity: {"/confidential", "/bonus-info", "/exclusive"},
}

// GenerateLink builds a spoofed URL whose actual target is the safe redirect
// endpoint. Difficulty controls how detectable the spoofing is.
func (g *Generator) GenerateLink(pattern, role string, difficulty int, sessionID string) Link {
	category := roleLinkCategory[role]
	if category == "" {
		category = "tech_company_spoofs"
	}
	tpl := linkTemplates[category]

	base := tpl.Domains[g.pick(len(tpl.Domains))]
	technique := tpl.Techniques[g.pick(len(tpl.Techniques))]
	domain := g.spoofDomain(base, technique, difficulty)

	paths := append(append([]string{}, tpl.Paths...), patternPaths[pattern]...)
	path := paths[g.pick(len(paths))]

	params := map[string]string{
		"token":      uuid.NewString()[:16],
		"ref":        "email",
		"utm_source": "security_alert",
	}
	if sessionID != "" {
		short := sessionID
		if len(short) > 8 {
			short = short[:8]
		}
		params["session"] = short
	}

	display := buildURL(domain, path, params)
	redirectID := uuid.NewString()
	actual := fmt.Sprintf("%s?redirect_id=%s&type=phishing_training", g.safeRedirectBase, redirectID)

	return Link{
		DisplayURL: display,
		ActualURL:  actual,
		Parameters: params,
		RedFlags:   linkRedFlags(domain, display),
	}
}

func (g *Generator) spoofDomain(domain, technique string, difficulty int) string {
	switch {
	case difficulty <= 1:
		// Obvious variants for beginner detection practice.
		variants := []string{
			"fake-" + domain,
			domain + ".security-alert.net",
			strings.Replace(domain, ".com", ".net", 1),
			strings.NewReplacer("o", "0", "e", "3").Replace(domain),
		}
		return variants[g.pick(len(variants))]
	case difficulty <= 3:
		switch technique {
		case "character_substitution":
			for old, sub := range map[string]string{"rn": "m", "cl": "d", "vv": "w"} {
				if strings.Contains(domain, old) {
					return strings.Replace(domain, old, sub, 1)
				}
			}
		case "subdomain_spoofing":
			return "security." + domain + ".verify-account.net"
		case "domain_extension":
			return strings.Replace(domain, ".com", ".co", 1)
		}
		return "secure-" + domain
	default:
		switch technique {
		case "homograph_attack":
			// Cyrillic lookalikes.
			return strings.NewReplacer("o", "о", "a", "а").Replace(domain)
		case "subdomain_spoofing":
			return "portal." + strings.SplitN(domain, ".", 2)[0] + "-security.com"
		}
		return g.spoofDomain(domain, technique, 3)
	}
}

func buildURL(domain, path string, params map[string]string) string {
	base := "https://" + domain + path
	if len(params) == 0 {
		return base
	}
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return base + "?" + q.Encode()
}

func linkRedFlags(domain, display string) []RedFlag {
	var flags []RedFlag
	if strings.ContainsAny(domain, "03-") || strings.Contains(domain, "fake") {
		flags = append(flags, RedFlag{
			Type:        "suspicious_domain",
			Description: "Domain contains suspicious characters or keywords",
			Severity:    "high",
			Location:    "domain_name",
		})
	}
	if strings.Count(domain, ".") > 2 {
		flags = append(flags, RedFlag{
			Type:        "nested_subdomains",
			Description: "Unusually deep subdomain chain hides the real domain",
			Severity:    "medium",
			Location:    "domain_name",
		})
	}
	if strings.Contains(display, "urgent") || strings.Contains(display, "immediate") {
		flags = append(flags, RedFlag{
			Type:        "urgency_path",
			Description: "URL path itself pushes urgency",
			Severity:    "low",
			Location:    "url_path",
		})
	}
	return flags
}
