package automation

import (
	"bytes"
	"fmt"
	"text/template"
)

// RenderData is what templates can reference.
type RenderData struct {
	LeadID    int64
	LeadName  string
	LeadEmail string
	Company   string
	LeadValue float64
	Stage     Stage
	Position  int // zero-based
	Number    int // Position + 1
}

// Render executes the subject and body of t against data.
func Render(t Template, data RenderData) (subject, body string, err error) {
	data.Number = data.Position + 1
	subject, err = execute(t.Key+":subject", t.Subject, data)
	if err != nil {
		return "", "", err
	}
	body, err = execute(t.Key+":body", t.Body, data)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

func execute(name, src string, data RenderData) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(src)
	if err != nil {
		return "", fmt.Errorf("error parsing template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("error executing template %s: %w", name, err)
	}
	return buf.String(), nil
}
