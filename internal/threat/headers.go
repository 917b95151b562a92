package threat

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateHeaders forges an email header set for the sender. Difficulty
// controls how consistent the headers look: beginner-level mail has a
// mismatched From/Reply-To pair and failing authentication results.
func (g *Generator) GenerateHeaders(sender Sender, difficulty int) (map[string]string, []RedFlag) {
	domain := domainOf(sender.Email)
	headers := map[string]string{
		"Message-ID":   fmt.Sprintf("<%s@%s>", uuid.NewString(), domain),
		"Date":         time.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05 +0000"),
		"From":         sender.DisplayName,
		"Reply-To":     sender.Email,
		"MIME-Version": "1.0",
		"Content-Type": "text/html; charset=UTF-8",
	}

	switch {
	case difficulty <= 1:
		headers["From"] = "IT Security Team <suspicious@fake-domain.net>"
		headers["Reply-To"] = "noreply@suspicious-site.com"
		headers["X-Mailer"] = "BulkMailer Pro 2.1"
		headers["Authentication-Results"] = "spf=fail dkim=fail dmarc=fail"
	case difficulty <= 3:
		headers["Reply-To"] = strings.Replace(sender.Email, domain, "mail-"+domain, 1)
		headers["X-Mailer"] = "Microsoft Outlook 16.0"
		headers["Authentication-Results"] = "spf=softfail dkim=none dmarc=none"
	default:
		headers["X-Mailer"] = "Microsoft Outlook 16.0"
		headers["Authentication-Results"] = "spf=pass dkim=pass dmarc=bestguesspass"
	}

	return headers, headerRedFlags(headers)
}

func headerRedFlags(headers map[string]string) []RedFlag {
	var flags []RedFlag
	auth := headers["Authentication-Results"]
	if strings.Contains(auth, "fail") || strings.Contains(auth, "none") {
		flags = append(flags, RedFlag{
			Type:        "authentication_failure",
			Description: "SPF/DKIM/DMARC checks did not pass",
			Severity:    "high",
			Location:    "headers",
		})
	}
	from, replyTo := headers["From"], headers["Reply-To"]
	if replyTo != "" && !strings.Contains(from, replyTo) {
		flags = append(flags, RedFlag{
			Type:        "reply_to_mismatch",
			Description: "Reply-To differs from the From address",
			Severity:    "medium",
			Location:    "headers",
		})
	}
	if strings.Contains(headers["X-Mailer"], "BulkMailer") {
		flags = append(flags, RedFlag{
			Type:        "bulk_mailer",
			Description: "Sent through a bulk mailing tool, not a corporate mail system",
			Severity:    "low",
			Location:    "headers",
		})
	}
	return flags
}
