package threat

import (
	"fmt"
	"strings"
)

// emailTemplate is one pattern/role entry of the catalog.
type emailTemplate struct {
	Scenario   string
	SenderType string
	Objectives []string
}

var emailTemplates = map[string]map[string]emailTemplate{
	PatternUrgency: {
		RoleGeneral: {
			Scenario:   "account_suspension",
			SenderType: "security_team",
			Objectives: []string{"verify_sender", "check_urgency_claims"},
		},
		RoleFinance: {
			Scenario:   "payment_verification",
			SenderType: "bank_security",
			Objectives: []string{"verify_financial_requests", "check_domain"},
		},
	},
	PatternAuthority: {
		RoleGeneral: {
			Scenario:   "it_policy_update",
			SenderType: "it_admin",
			Objectives: []string{"verify_authority", "check_internal_processes"},
		},
	},
	PatternCuriosity: {
		RoleGeneral: {
			Scenario:   "bonus_announcement",
			SenderType: "hr_team",
			Objectives: []string{"verify_hr_communications", "be_suspicious_of_unexpected_news"},
		},
	},
}

var senderCatalog = map[string]Sender{
	"security_team": {
		Name:        "IT Security Team",
		Email:       "security@company-alerts.net",
		DisplayName: "Corporate Security <security@company-alerts.net>",
		Flags:       []string{"domain_variation"},
	},
	"it_admin": {
		Name:        "System Administrator",
		Email:       "admin@company-it.org",
		DisplayName: "IT Admin <admin@company-it.org>",
		Flags:       []string{"generic_title", "domain_variation"},
	},
	"bank_security": {
		Name:        "Bank Security Alert",
		Email:       "alerts@bank-security.net",
		DisplayName: "Bank Security <alerts@bank-security.net>",
		Flags:       []string{"external_domain"},
	},
	"hr_team": {
		Name:        "Human Resources",
		Email:       "hr@company-updates.com",
		DisplayName: "HR Team <hr@company-updates.com>",
		Flags:       []string{"domain_variation"},
	},
}

var subjectCatalog = map[string][]string{
	PatternUrgency: {
		"URGENT: Account Suspension Notice",
		"IMMEDIATE ACTION REQUIRED - Security Alert",
		"Your account will be closed in 24 hours",
		"FINAL NOTICE: Verify your account immediately",
	},
	PatternAuthority: {
		"New IT Policy - Immediate Compliance Required",
		"CEO Directive: Update Your Credentials",
		"System Administrator: Mandatory Password Reset",
		"IT Security: Policy Violation Detected",
	},
	PatternCuriosity: {
		"Confidential: Your 2024 Bonus Information",
		"You've received a confidential message",
		"Private: Important update about your role",
		"Exclusive: Company announcement inside",
	},
}

var bodyCatalog = map[string]string{
	"account_suspension": `Dear User,

We have detected suspicious activity on your account that requires immediate verification.

Your account will be suspended within 24 hours unless you verify your identity by clicking the link below:

[VERIFY ACCOUNT NOW]

If you do not complete verification, you will lose access to all company systems.

Best regards,
IT Security Team`,
	"payment_verification": `Dear Finance Team Member,

We have flagged a payment transaction that requires your immediate attention.

Transaction: $2,847.99 - Requires Authorization
Status: PENDING VERIFICATION

Please verify this transaction immediately: [AUTHORIZE PAYMENT]

Failure to respond within 2 hours will result in account restrictions.

Security Team
First National Bank`,
	"it_policy_update": `Dear Employee,

As part of our new cybersecurity policy, all employees must update their login credentials.

This is a mandatory update required by our security compliance team.

Update your credentials here: [UPDATE PASSWORD]

Employees who do not complete this update by end of day will be locked out of systems.

IT Administrator
Corporate IT Department`,
	"bonus_announcement": `Dear Team Member,

Congratulations! You have been selected for a special bonus program.

Your bonus amount: $1,250.00
Eligibility expires: Today

View your bonus details: [CLAIM BONUS]

This information is confidential - please do not share with other employees.

Human Resources Department`,
}

// GenerateEmail builds a phishing email for the pattern/role/difficulty.
// Lower difficulty produces louder tells (all-caps subject, spelling errors).
func (g *Generator) GenerateEmail(pattern, role string, difficulty int) Email {
	tpl := selectEmailTemplate(pattern, role)
	sender, ok := senderCatalog[tpl.SenderType]
	if !ok {
		sender = senderCatalog["security_team"]
	}

	subjects := g.subjectsFor(pattern)
	if len(subjects) == 0 {
		subjects = subjectCatalog[PatternUrgency]
	}
	subject := subjects[g.pick(len(subjects))]
	if difficulty <= 1 && !strings.Contains(subject, "URGENT") {
		subject = "URGENT!!! " + subject
	}

	body, ok := g.bodyFor(tpl.Scenario)
	if !ok {
		body = bodyCatalog["account_suspension"]
	}
	if difficulty <= 1 {
		body = strings.ReplaceAll(body, "suspicious", "suspicous")
		body = strings.ReplaceAll(body, "immediately", "immediatley")
		body += "\n\nSend us your password to: security@temp-mail.com"
	}

	var attachments []Attachment
	if difficulty >= 3 {
		attachments = append(attachments, Attachment{
			Filename: "invoice_details.pdf.exe",
			Size:     "247 KB",
			Flags:    []string{"double_extension", "executable_disguised_as_pdf"},
		})
	}

	return Email{
		Sender:      sender,
		Subject:     subject,
		Body:        body,
		Attachments: attachments,
		RedFlags:    emailRedFlags(sender, subject, body),
	}
}

func selectEmailTemplate(pattern, role string) emailTemplate {
	byRole, ok := emailTemplates[pattern]
	if !ok {
		byRole = emailTemplates[PatternUrgency]
	}
	if tpl, ok := byRole[role]; ok {
		return tpl
	}
	if tpl, ok := byRole[RoleGeneral]; ok {
		return tpl
	}
	return emailTemplates[PatternUrgency][RoleGeneral]
}

func emailRedFlags(sender Sender, subject, body string) []RedFlag {
	var flags []RedFlag
	for _, f := range sender.Flags {
		if f == "domain_variation" || f == "external_domain" {
			flags = append(flags, RedFlag{
				Type:        "sender_domain",
				Description: fmt.Sprintf("Sender domain %s does not match the claimed organization", domainOf(sender.Email)),
				Severity:    "high",
				Location:    "sender",
			})
			break
		}
	}
	if strings.Contains(subject, "URGENT") || strings.Contains(subject, "IMMEDIATE") || strings.Contains(subject, "FINAL NOTICE") {
		flags = append(flags, RedFlag{
			Type:        "urgency_pressure",
			Description: "Subject line manufactures time pressure",
			Severity:    "medium",
			Location:    "subject",
		})
	}
	if strings.Contains(body, "password") {
		flags = append(flags, RedFlag{
			Type:        "credential_request",
			Description: "Asks for credentials over email",
			Severity:    "high",
			Location:    "body",
		})
	}
	if strings.Contains(body, "suspicous") || strings.Contains(body, "immediatley") {
		flags = append(flags, RedFlag{
			Type:        "spelling_errors",
			Description: "Body contains spelling mistakes unusual for official mail",
			Severity:    "low",
			Location:    "body",
		})
	}
	return flags
}

func domainOf(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[i+1:]
	}
	return email
}
