package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

const (
	TemplateExpirationReminder = "expiration_reminder"
	TemplateOverdueNotice      = "overdue_notice"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var defaultSubjects = map[string]string{
	TemplateExpirationReminder: "Reminder: your gym membership expires soon",
	TemplateOverdueNotice:      "Your gym membership has expired",
}

// render executes the named template. A "subject" entry in data overrides
// the template's default subject.
func render(templateName string, data map[string]any) (string, string, error) {
	tmpl := templates.Lookup(templateName + ".html")
	if tmpl == nil {
		return "", "", fmt.Errorf("email template %q not found", templateName)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("failed to execute template: %w", err)
	}

	subject := defaultSubjects[templateName]
	if subj, ok := data["subject"].(string); ok && subj != "" {
		subject = subj
	}
	if subject == "" {
		subject = "Notification from your gym"
	}
	return subject, body.String(), nil
}
