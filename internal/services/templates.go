package services

import (
	"bytes"
	"fmt"
	"html/template"

	"ssl-monitor/internal/models"

	"github.com/Masterminds/sprig/v3"
	"github.com/dustin/go-humanize"
)

const reminderHTML = `<div style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; padding: 20px;">
  <h2 style="color: #d32f2f;">SSL Certificate Expiry Notice</h2>
  <p>Dear {{ default "Site Manager" .Cert.SiteManager }},</p>
  <p>The SSL certificate for <strong>{{ .Cert.URL }}</strong> {{ if .Expired }}has expired{{ else }}is set to expire soon{{ end }}.</p>
  <table style="width: 100%; border-collapse: collapse; margin-top: 10px;">
    <tr><td style="padding: 8px; border: 1px solid #ddd;"><strong>Website URL:</strong></td><td style="padding: 8px; border: 1px solid #ddd;">{{ .Cert.URL }}</td></tr>
    <tr><td style="padding: 8px; border: 1px solid #ddd;"><strong>Issued To:</strong></td><td style="padding: 8px; border: 1px solid #ddd;">{{ .Cert.IssuedToCommonName }} ({{ .Cert.IssuedToOrganization }})</td></tr>
    <tr><td style="padding: 8px; border: 1px solid #ddd;"><strong>Issued By:</strong></td><td style="padding: 8px; border: 1px solid #ddd;">{{ .Cert.IssuedByCommonName }} ({{ .Cert.IssuedByOrganization }})</td></tr>
    <tr><td style="padding: 8px; border: 1px solid #ddd;"><strong>Valid From:</strong></td><td style="padding: 8px; border: 1px solid #ddd;">{{ .Cert.ValidFrom | date "2006-01-02 15:04 MST" }}</td></tr>
    <tr><td style="padding: 8px; border: 1px solid #ddd;"><strong>Valid To:</strong></td><td style="padding: 8px; border: 1px solid #ddd; color: #d32f2f;"><strong>{{ .Cert.ValidTo | date "2006-01-02 15:04 MST" }} ({{ if .Expired }}Expired {{ relative .Cert.ValidTo }}{{ else }}{{ .DaysRemaining }} {{ plural "day" "days" .DaysRemaining }} remaining{{ end }})</strong></td></tr>
  </table>
  <p style="margin-top: 15px;">To avoid any service disruptions, we strongly recommend renewing the SSL certificate at your earliest convenience.</p>
  <p>If you have already initiated the renewal process, please disregard this message.</p>
  <p>Best Regards,<br><strong>Your IT Security Team</strong></p>
</div>`

var reminderTemplate = template.Must(template.New("reminder").
	Funcs(sprig.FuncMap()).
	Funcs(template.FuncMap{
		"relative": humanize.Time,
	}).
	Parse(reminderHTML))

type reminderData struct {
	Cert          *models.Certificate
	Tier          models.Tier
	DaysRemaining int
	Expired       bool
}

// RenderReminder builds the subject and HTML body of a tier reminder
func RenderReminder(cert *models.Certificate, tier models.Tier, daysRemaining int) (string, string, error) {
	subject := fmt.Sprintf("Urgent: SSL Certificate Expiry Notification for %s", cert.URL)

	var buf bytes.Buffer
	if err := reminderTemplate.Execute(&buf, reminderData{
		Cert:          cert,
		Tier:          tier,
		DaysRemaining: daysRemaining,
		Expired:       daysRemaining <= 0,
	}); err != nil {
		return "", "", fmt.Errorf("failed to render %s reminder: %w", tier, err)
	}
	return subject, buf.String(), nil
}

const managerHTML = `<div style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; padding: 20px;">
  <h2 style="color: #1976d2;">SSL Certificate Details</h2>
  <p>Dear {{ default "Site Manager" .SiteManager }},</p>
  <p>You have been assigned as the site manager for <strong>{{ .URL }}</strong>. Expiry reminders for this certificate will be sent to this address.</p>
  <table style="width: 100%; border-collapse: collapse; margin-top: 10px;">
    <tr><td style="padding: 8px; border: 1px solid #ddd;"><strong>Website URL:</strong></td><td style="padding: 8px; border: 1px solid #ddd;">{{ .URL }}</td></tr>
    <tr><td style="padding: 8px; border: 1px solid #ddd;"><strong>Issued To:</strong></td><td style="padding: 8px; border: 1px solid #ddd;">{{ .IssuedToCommonName }} ({{ .IssuedToOrganization }})</td></tr>
    <tr><td style="padding: 8px; border: 1px solid #ddd;"><strong>Issued By:</strong></td><td style="padding: 8px; border: 1px solid #ddd;">{{ .IssuedByCommonName }} ({{ .IssuedByOrganization }})</td></tr>
    <tr><td style="padding: 8px; border: 1px solid #ddd;"><strong>Valid From:</strong></td><td style="padding: 8px; border: 1px solid #ddd;">{{ .ValidFrom | date "2006-01-02 15:04 MST" }}</td></tr>
    <tr><td style="padding: 8px; border: 1px solid #ddd;"><strong>Valid To:</strong></td><td style="padding: 8px; border: 1px solid #ddd;">{{ .ValidTo | date "2006-01-02 15:04 MST" }}</td></tr>
    <tr><td style="padding: 8px; border: 1px solid #ddd;"><strong>Site Manager:</strong></td><td style="padding: 8px; border: 1px solid #ddd;">{{ .SiteManager }} &lt;{{ .Email }}&gt;</td></tr>
  </table>
  <p>Best Regards,<br><strong>Your IT Security Team</strong></p>
</div>`

var managerTemplate = template.Must(template.New("manager").Funcs(sprig.FuncMap()).Parse(managerHTML))

// RenderManagerDetails builds the message sent when a site manager is assigned
func RenderManagerDetails(cert *models.Certificate) (string, string, error) {
	subject := fmt.Sprintf("SSL Certificate Details for %s", cert.URL)

	var buf bytes.Buffer
	if err := managerTemplate.Execute(&buf, cert); err != nil {
		return "", "", fmt.Errorf("failed to render certificate details: %w", err)
	}
	return subject, buf.String(), nil
}
