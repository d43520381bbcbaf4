// internal/services/notification_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/mc-review-history/internal/config"
	"github.com/javajoker/mc-review-history/internal/models"
)

// NotificationService emails state contacts and the CMS review team when a submission is
// submitted or unlocked.
type NotificationService struct {
	config *config.Config
	send   func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

type EmailTemplate struct {
	Subject string
	Body    string
}

type emailMessage struct {
	To      []string
	Subject string
	Body    string
}

func NewNotificationService(config *config.Config) *NotificationService {
	return &NotificationService{
		config: config,
		send:   smtp.SendMail,
	}
}

func (s *NotificationService) ContractSubmitted(ctx context.Context, contract *ContractWithHistory) error {
	pkg := contract.LatestSubmission()
	if pkg == nil {
		return fmt.Errorf("contract %s has no submission to announce", contract.Contract.ID)
	}

	rates := make([]string, len(pkg.RateRevisions))
	for i, rate := range pkg.RateRevisions {
		rates[i] = rate.FormData.RateCertificationName
	}
	data := map[string]interface{}{
		"Name":        contract.Contract.Name(),
		"Status":      contract.Status,
		"Description": pkg.ContractRevision.FormData.SubmissionDescription,
		"SubmittedBy": pkg.SubmitInfo.UpdatedByEmail,
		"SubmittedAt": pkg.SubmitInfo.UpdatedAt.Format("01/02/2006 15:04 MST"),
		"Reason":      pkg.SubmitInfo.UpdatedReason,
		"Rates":       rates,
		"URL":         s.contractURL(contract),
	}

	recipients := append(contactEmails(pkg.ContractRevision.FormData.StateContacts), pkg.SubmitInfo.UpdatedByEmail)
	return s.notify(ctx, "contract_submitted", recipients, data)
}

func (s *NotificationService) ContractUnlocked(ctx context.Context, contract *ContractWithHistory) error {
	draft := contract.DraftRevision
	if draft == nil || draft.UnlockInfo == nil {
		return fmt.Errorf("contract %s has no unlocked draft to announce", contract.Contract.ID)
	}

	data := map[string]interface{}{
		"Name":       contract.Contract.Name(),
		"UnlockedBy": draft.UnlockInfo.UpdatedByEmail,
		"UnlockedAt": draft.UnlockInfo.UpdatedAt.Format("01/02/2006 15:04 MST"),
		"Reason":     draft.UnlockInfo.UpdatedReason,
		"URL":        s.contractURL(contract),
	}

	return s.notify(ctx, "contract_unlocked", contactEmails(draft.FormData.StateContacts), data)
}

func (s *NotificationService) RateSubmitted(ctx context.Context, rate *RateWithHistory) error {
	if len(rate.Submissions) == 0 {
		return fmt.Errorf("rate %s has no submission to announce", rate.Rate.ID)
	}
	latest := rate.Submissions[0]

	data := map[string]interface{}{
		"Name":          rate.Rate.Name(),
		"Certification": latest.RateRevision.FormData.RateCertificationName,
		"SubmittedBy":   latest.SubmitInfo.UpdatedByEmail,
		"SubmittedAt":   latest.SubmitInfo.UpdatedAt.Format("01/02/2006 15:04 MST"),
		"Reason":        latest.SubmitInfo.UpdatedReason,
		"URL":           fmt.Sprintf("%s/rates/%s", s.config.Frontend.BaseURL, rate.Rate.ID),
	}

	recipients := append(contactEmails(latest.RateRevision.FormData.CertifyingActuaries), latest.SubmitInfo.UpdatedByEmail)
	return s.notify(ctx, "rate_submitted", recipients, data)
}

func (s *NotificationService) RateUnlocked(ctx context.Context, rate *RateWithHistory) error {
	draft := rate.DraftRevision
	if draft == nil || draft.UnlockInfo == nil {
		return fmt.Errorf("rate %s has no unlocked draft to announce", rate.Rate.ID)
	}

	data := map[string]interface{}{
		"Name":       rate.Rate.Name(),
		"UnlockedBy": draft.UnlockInfo.UpdatedByEmail,
		"UnlockedAt": draft.UnlockInfo.UpdatedAt.Format("01/02/2006 15:04 MST"),
		"Reason":     draft.UnlockInfo.UpdatedReason,
		"URL":        fmt.Sprintf("%s/rates/%s", s.config.Frontend.BaseURL, rate.Rate.ID),
	}

	return s.notify(ctx, "rate_unlocked", contactEmails(draft.FormData.CertifyingActuaries), data)
}

// notify renders one template and sends it to the given recipients plus the review team.
func (s *NotificationService) notify(ctx context.Context, templateType string, recipients []string, data map[string]interface{}) error {
	tmpl := s.getEmailTemplate(templateType)

	subject, err := s.renderTemplate(tmpl.Subject, data)
	if err != nil {
		return fmt.Errorf("failed to render email subject: %w", err)
	}
	body, err := s.renderTemplate(tmpl.Body, data)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	to := dedupeEmails(append(recipients, s.config.Email.ReviewTeamEmails...))
	if len(to) == 0 {
		logrus.WithField("template", templateType).Warn("No recipients for notification")
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return s.sendEmail(emailMessage{To: to, Subject: subject, Body: body})
}

// Helper methods
func (s *NotificationService) sendEmail(msg emailMessage) error {
	if s.config.Email.SMTPHost == "" {
		// Email not configured, just log
		logrus.WithFields(logrus.Fields{
			"to":      strings.Join(msg.To, ","),
			"subject": msg.Subject,
		}).Info("Email not configured, skipping send")
		return nil
	}

	// Setup authentication
	auth := smtp.PlainAuth("", s.config.Email.SMTPUsername, s.config.Email.SMTPPassword, s.config.Email.SMTPHost)

	// Compose message
	from := fmt.Sprintf("%s <%s>", s.config.Email.FromName, s.config.Email.FromEmail)
	raw := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s",
		from, strings.Join(msg.To, ", "), msg.Subject, msg.Body))

	// Send email
	addr := fmt.Sprintf("%s:%s", s.config.Email.SMTPHost, s.config.Email.SMTPPort)
	return s.send(addr, auth, s.config.Email.FromEmail, msg.To, raw)
}

func (s *NotificationService) renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("email").Parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func (s *NotificationService) contractURL(contract *ContractWithHistory) string {
	return fmt.Sprintf("%s/submissions/%s", s.config.Frontend.BaseURL, contract.Contract.ID)
}

func (s *NotificationService) getEmailTemplate(templateType string) EmailTemplate {
	templates := map[string]EmailTemplate{
		"contract_submitted": {
			Subject: "{{.Name}} was {{if eq .Status \"RESUBMITTED\"}}resubmitted{{else}}submitted{{end}}",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>{{.Name}}</h2>
	<p>Submitted by {{.SubmittedBy}} on {{.SubmittedAt}}.</p>
	<p>Reason: {{.Reason}}</p>
	<p>{{.Description}}</p>
	{{if .Rates}}<p>Rate certifications:</p>
	<ul>{{range .Rates}}<li>{{.}}</li>{{end}}</ul>{{end}}
	<a href="{{.URL}}">View submission</a>
</body>
</html>`,
		},
		"contract_unlocked": {
			Subject: "{{.Name}} was unlocked",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>{{.Name}} was unlocked</h2>
	<p>Unlocked by {{.UnlockedBy}} on {{.UnlockedAt}}.</p>
	<p>Reason: {{.Reason}}</p>
	<p>Make the requested changes and resubmit.</p>
	<a href="{{.URL}}">Open submission</a>
</body>
</html>`,
		},
		"rate_submitted": {
			Subject: "{{.Name}} was submitted",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>{{.Name}} ({{.Certification}})</h2>
	<p>Submitted by {{.SubmittedBy}} on {{.SubmittedAt}}.</p>
	<p>Reason: {{.Reason}}</p>
	<a href="{{.URL}}">View rate</a>
</body>
</html>`,
		},
		"rate_unlocked": {
			Subject: "{{.Name}} was unlocked",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>{{.Name}} was unlocked</h2>
	<p>Unlocked by {{.UnlockedBy}} on {{.UnlockedAt}}.</p>
	<p>Reason: {{.Reason}}</p>
	<a href="{{.URL}}">Open rate</a>
</body>
</html>`,
		},
	}

	if template, exists := templates[templateType]; exists {
		return template
	}

	// Default template
	return EmailTemplate{
		Subject: "MC-Review notification",
		Body:    "<p>{{.Name}}</p>",
	}
}

func contactEmails(contacts []models.Contact) []string {
	out := make([]string, 0, len(contacts))
	for _, contact := range contacts {
		out = append(out, contact.Email)
	}
	return out
}

func dedupeEmails(emails []string) []string {
	seen := make(map[string]bool, len(emails))
	out := make([]string, 0, len(emails))
	for _, email := range emails {
		key := strings.ToLower(strings.TrimSpace(email))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(email))
	}
	return out
}
