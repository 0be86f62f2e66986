package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"text/template"
)

// DefaultTemplate is the plain-text alert body.
const DefaultTemplate = `[Billing Shadowrun Alert]
Tenant: {{.TenantID}}
Period: {{.Period}}
Report: {{.ReportID}}
{{- if .ReportURL}}
Report URL: {{.ReportURL}}
{{- end}}
Suggested: {{.RecommendedAction}}
{{- if .DiffSummary}}
Diff Summary: {{.DiffSummary}}
{{- end}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	TenantID          string
	Period            string
	ReportID          string
	ReportURL         string
	RecommendedAction string
	DiffSummary       string
	JobID             string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if strings.TrimSpace(tpl) == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("shadowrun-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to msg.
func (t *Template) Render(msg AlertMessage) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("shadowrun template: nil")
	}
	data := TemplateData{
		TenantID:          msg.TenantID,
		Period:            msg.Period,
		ReportID:          msg.ReportID,
		ReportURL:         msg.ReportURL,
		RecommendedAction: msg.RecommendedAction,
		JobID:             msg.Meta["job_id"],
	}
	if len(msg.DiffSummary) > 0 {
		if raw, err := json.Marshal(msg.DiffSummary); err == nil {
			data.DiffSummary = string(raw)
		}
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
