package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

const (
	TemplatePaymentSucceeded = "payment_succeeded"
	TemplateAddonPurchased   = "addon_purchased"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("email").ParseFS(templateFS, "templates/*.html"))

var defaultSubjects = map[string]string{
	TemplatePaymentSucceeded: "Your subscription is active",
	TemplateAddonPurchased:   "Your add-on is ready",
}

// Render executes a named template and returns the subject and HTML body.
// A "subject" entry in data overrides the template default.
func Render(templateName string, data map[string]any) (string, string, error) {
	t := templates.Lookup(templateName + ".html")
	if t == nil {
		return "", "", fmt.Errorf("unknown email template %q", templateName)
	}

	var body bytes.Buffer
	if err := t.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("failed to execute template: %w", err)
	}

	subject := defaultSubjects[templateName]
	if subj, ok := data["subject"].(string); ok && subj != "" {
		subject = subj
	}
	if subject == "" {
		subject = "Notification from PayMatch"
	}
	return subject, body.String(), nil
}
