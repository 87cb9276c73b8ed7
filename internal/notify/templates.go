package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

// Site carries the sender identity injected into every message.
type Site struct {
	Name  string
	Email string
}

// Composer renders the registry's transactional emails.
type Composer struct {
	site Site
}

func NewComposer(site Site) *Composer {
	if strings.TrimSpace(site.Name) == "" {
		site.Name = "Member Registry"
	}
	return &Composer{site: site}
}

func (c *Composer) Site() Site {
	return c.site
}

// ReferralStatus tells the applicant that a referee confirmed or rejected them.
func (c *Composer) ReferralStatus(to, company, message string) (Email, error) {
	return c.compose("referral_status.html", to, c.site.Name+" membership referral update", map[string]any{
		"Company": company,
		"Message": message,
	})
}

// PasswordReset carries the reset link.
func (c *Composer) PasswordReset(to, link string) (Email, error) {
	return c.compose("password_reset.html", to, c.site.Name+" password reset", map[string]any{
		"Link": link,
	})
}

// RegistrationStarted tells the applicant their referees were contacted.
func (c *Composer) RegistrationStarted(to, company string) (Email, error) {
	return c.compose("registration_started.html", to, c.site.Name+" registration process has begun", map[string]any{
		"Company": company,
	})
}

// RefereeAlert asks a referee to approve or reject an applicant.
func (c *Composer) RefereeAlert(to, company, approveURL, rejectURL string) (Email, error) {
	return c.compose("referee_alert.html", to, c.site.Name+" referral request for "+company, map[string]any{
		"Company":    company,
		"ApproveURL": approveURL,
		"RejectURL":  rejectURL,
	})
}

func (c *Composer) compose(name, to, subject string, data map[string]any) (Email, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return Email{}, ErrNoRecipients
	}
	data["SiteName"] = c.site.Name
	data["SiteEmail"] = c.site.Email

	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, name, data); err != nil {
		return Email{}, fmt.Errorf("render %s: %w", name, err)
	}

	return Email{
		From:     c.site.Email,
		FromName: c.site.Name,
		To:       []string{to},
		Subject:  subject,
		HTMLBody: body.String(),
	}, nil
}
