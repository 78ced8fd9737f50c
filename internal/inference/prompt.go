package inference

import (
	"bytes"
	"fmt"
	"os"
	"text/template"
	"time"

	"smart-event-relay/internal/parser"
)

const defaultPrompt = `You are an expert at parsing email content to extract event information.
Today is {{.Today}}.

Extract the following information from the email:
- title: Event name/title
- start_date: Start date (YYYY-MM-DD format)
- start_time: Start time (HH:MM format, 24-hour)
- end_date: End date (YYYY-MM-DD format, can be same as start)
- end_time: End time (HH:MM format, 24-hour)
- location: Event location/venue
- prep_items: List of items to bring/prepare

Return ONLY a valid JSON object with these fields. If information is not available, use null.

Email content:
Subject: {{.Subject}}

Body:
{{.Body}}
`

type promptData struct {
	Subject string
	Body    string
	Today   string
}

// loadPrompt parses the prompt template from path, or the built-in one when path is empty
func loadPrompt(path string) (*template.Template, error) {
	text := defaultPrompt
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt file: %w", err)
		}
		text = string(raw)
	}
	tmpl, err := template.New("event").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}
	return tmpl, nil
}

func renderPrompt(tmpl *template.Template, msg parser.Message, loc *time.Location) (string, error) {
	ref := msg.ReceivedAt
	if ref.IsZero() {
		ref = time.Now()
	}
	var buf bytes.Buffer
	err := tmpl.Execute(&buf, promptData{
		Subject: msg.Subject,
		Body:    parser.BodyText(msg.Body),
		Today:   ref.In(loc).Format("2006-01-02 (Monday)"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return buf.String(), nil
}
