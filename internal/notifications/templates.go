package notifications

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// DefaultTemplateManager implements the TemplateManager interface with the
// built-in message templates
type DefaultTemplateManager struct {
	templates map[string]*template.Template
}

// NewDefaultTemplateManager creates a template manager with the default
// templates loaded
func NewDefaultTemplateManager() *DefaultTemplateManager {
	tm := &DefaultTemplateManager{
		templates: make(map[string]*template.Template),
	}

	tm.loadDefaultTemplates()
	return tm
}

// RenderRunCompleted renders a run completed notification
func (tm *DefaultTemplateManager) RenderRunCompleted(notification RunCompletedNotification, format string) (Message, error) {
	data := map[string]interface{}{
		"RunID":       notification.RunID.String(),
		"TestID":      notification.TestID,
		"Name":        notification.Name,
		"Environment": notification.Environment,
		"Status":      notification.Status,
		"Duration":    formatDuration(notification.Duration),
		"Steps":       notification.Steps,
		"RunURL":      notification.RunURL,
		"Timestamp":   time.Now().UTC().Format("2006-01-02 15:04:05 UTC"),
	}

	subject, body, err := tm.renderTemplate("run_completed", format, data)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Subject: subject,
		Body:    body,
		Format:  format,
		Metadata: map[string]interface{}{
			"event_type":  "run_completed",
			"run_id":      notification.RunID.String(),
			"test_id":     notification.TestID,
			"environment": notification.Environment,
			"status":      notification.Status,
			"steps":       notification.Steps,
			"run_url":     notification.RunURL,
			"duration":    formatDuration(notification.Duration),
		},
	}, nil
}

// RenderRunFailed renders a run failed notification
func (tm *DefaultTemplateManager) RenderRunFailed(notification RunFailedNotification, format string) (Message, error) {
	data := map[string]interface{}{
		"RunID":             notification.RunID.String(),
		"TestID":            notification.TestID,
		"Name":              notification.Name,
		"Environment":       notification.Environment,
		"FailureReason":     notification.FailureReason,
		"FailureType":       notification.FailureType,
		"Severity":          notification.Severity,
		"Duration":          formatDuration(notification.Duration),
		"Steps":             notification.Steps,
		"RecoveryApplied":   notification.RecoveryApplied,
		"RollbackPerformed": notification.RollbackPerformed,
		"RunURL":            notification.RunURL,
		"Timestamp":         time.Now().UTC().Format("2006-01-02 15:04:05 UTC"),
	}

	subject, body, err := tm.renderTemplate("run_failed", format, data)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Subject: subject,
		Body:    body,
		Format:  format,
		Metadata: map[string]interface{}{
			"event_type":   "run_failed",
			"run_id":       notification.RunID.String(),
			"test_id":      notification.TestID,
			"environment":  notification.Environment,
			"status":       "FAILED",
			"failure_type": notification.FailureType,
			"severity":     notification.Severity,
			"steps":        notification.Steps,
			"run_url":      notification.RunURL,
			"duration":     formatDuration(notification.Duration),
		},
	}, nil
}

// RenderRecoveryEscalated renders a recovery escalation notification
func (tm *DefaultTemplateManager) RenderRecoveryEscalated(notification RecoveryEscalatedNotification, format string) (Message, error) {
	rollback := "not performed"
	if notification.RollbackPerformed {
		rollback = "performed"
		if notification.RollbackSucceeded != nil && !*notification.RollbackSucceeded {
			rollback = "performed with failures"
		}
	}

	data := map[string]interface{}{
		"RunID":            notification.RunID.String(),
		"TestID":           notification.TestID,
		"Environment":      notification.Environment,
		"FailureType":      notification.FailureType,
		"Severity":         notification.Severity,
		"DegradationLevel": notification.DegradationLevel,
		"Rollback":         rollback,
		"RunURL":           notification.RunURL,
		"Timestamp":        time.Now().UTC().Format("2006-01-02 15:04:05 UTC"),
	}

	subject, body, err := tm.renderTemplate("recovery_escalated", format, data)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Subject: subject,
		Body:    body,
		Format:  format,
		Metadata: map[string]interface{}{
			"event_type":        "recovery_escalated",
			"run_id":            notification.RunID.String(),
			"test_id":           notification.TestID,
			"environment":       notification.Environment,
			"failure_type":      notification.FailureType,
			"severity":          notification.Severity,
			"degradation_level": notification.DegradationLevel,
			"run_url":           notification.RunURL,
		},
	}, nil
}

// renderTemplate renders the named subject and body templates. Markdown and
// plain text share the same templates.
func (tm *DefaultTemplateManager) renderTemplate(templateName, format string, data map[string]interface{}) (string, string, error) {
	switch format {
	case "markdown", "text":
	default:
		return "", "", fmt.Errorf("unsupported format: %s", format)
	}

	subjectTemplate, exists := tm.templates[templateName+"_subject"]
	if !exists {
		return "", "", fmt.Errorf("subject template not found: %s", templateName)
	}

	bodyTemplate, exists := tm.templates[templateName+"_body"]
	if !exists {
		return "", "", fmt.Errorf("body template not found: %s", templateName)
	}

	var subjectBuf, bodyBuf bytes.Buffer
	if err := subjectTemplate.Execute(&subjectBuf, data); err != nil {
		return "", "", fmt.Errorf("failed to execute subject template: %w", err)
	}
	if err := bodyTemplate.Execute(&bodyBuf, data); err != nil {
		return "", "", fmt.Errorf("failed to execute body template: %w", err)
	}

	return strings.TrimSpace(subjectBuf.String()), bodyBuf.String(), nil
}

// loadDefaultTemplates loads the default notification templates
func (tm *DefaultTemplateManager) loadDefaultTemplates() {
	// Run Completed Templates
	tm.templates["run_completed_subject"] = template.Must(template.New("run_completed_subject").Parse(
		"✅ Test run {{.TestID}} finished: {{.Status}}",
	))

	tm.templates["run_completed_body"] = template.Must(template.New("run_completed_body").Parse(
		`**Test Run Finished**

Test: {{.TestID}}{{if .Name}} ({{.Name}}){{end}}
Environment: {{.Environment}}
Status: {{.Status}}
Duration: {{.Duration}}

**Step Summary:**
- Passed: {{.Steps.Passed}}
- Failed: {{.Steps.Failed}}
- Skipped: {{.Steps.Skipped}}
- Total: {{.Steps.Total}}

{{if .RunURL}}[View Run]({{.RunURL}}){{end}}

Finished at {{.Timestamp}}`,
	))

	// Run Failed Templates
	tm.templates["run_failed_subject"] = template.Must(template.New("run_failed_subject").Parse(
		"❌ Test run {{.TestID}} failed",
	))

	tm.templates["run_failed_body"] = template.Must(template.New("run_failed_body").Parse(
		`**Test Run Failed**

Test: {{.TestID}}{{if .Name}} ({{.Name}}){{end}}
Environment: {{.Environment}}
Duration: {{.Duration}}

**Step Summary:**
- Passed: {{.Steps.Passed}}
- Failed: {{.Steps.Failed}}
- Skipped: {{.Steps.Skipped}}
- Total: {{.Steps.Total}}

**Failure:**
{{.FailureReason}}
{{if .FailureType}}
Classified as {{.FailureType}}{{if .Severity}} ({{.Severity}}){{end}}.{{end}}
{{- if .RecoveryApplied}}
Graceful degradation was applied.{{end}}
{{- if .RollbackPerformed}}
Rollback actions were executed.{{end}}

{{if .RunURL}}[View Run]({{.RunURL}}){{end}}

Failed at {{.Timestamp}}`,
	))

	// Recovery Escalated Templates
	tm.templates["recovery_escalated_subject"] = template.Must(template.New("recovery_escalated_subject").Parse(
		"🚨 Recovery escalated for test {{.TestID}}",
	))

	tm.templates["recovery_escalated_body"] = template.Must(template.New("recovery_escalated_body").Parse(
		`**Recovery Escalated**

Test: {{.TestID}}
Environment: {{.Environment}}
Failure Type: {{.FailureType}}
Severity: {{.Severity}}
Degradation Level: {{.DegradationLevel}}
Rollback: {{.Rollback}}

{{if .RunURL}}[View Run]({{.RunURL}}){{end}}

Escalated at {{.Timestamp}}`,
	))
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	} else {
		return fmt.Sprintf("%.1fh", d.Hours())
	}
}
