// Package notify announces finished builds to chat webhooks and email.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"
	"time"

	"github.com/ehrlich-b/shiplog/internal/report"
)

// Event is what notifiers receive once the build document is stored.
type Event struct {
	Build report.BuildDocument
	URL   string
}

// Notifier announces one finished build.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Multi fans an event out to several notifiers, trying all of them
// even when some fail.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// defaultTemplate is the one-line message used unless a notifier is
// configured with its own.
const defaultTemplate = `{{.Org}}/{{.Project}} {{.Branch}}: build {{.Status}} in {{.Duration}}` +
	`{{if .Tests}}, tests {{.Tests.Passed}}/{{.Tests.Total}} passed{{end}}` +
	`{{if .URL}} {{.URL}}{{end}}`

// messageData is the flattened view exposed to message templates.
type messageData struct {
	BuildID  string
	Org      string
	Project  string
	Branch   string
	Status   report.BuildStatus
	Duration time.Duration
	Tests    *report.TestSummary
	URL      string
}

func dataFor(ev Event) messageData {
	b := ev.Build
	return messageData{
		BuildID:  b.ID,
		Org:      b.Build.Org,
		Project:  b.Build.Project,
		Branch:   b.Build.Branch,
		Status:   b.Build.Status,
		Duration: (time.Duration(b.Build.DurationMs) * time.Millisecond).Round(100 * time.Millisecond),
		Tests:    b.Test,
		URL:      ev.URL,
	}
}

func renderMessage(tmplText string, ev Event) (string, error) {
	if tmplText == "" {
		tmplText = defaultTemplate
	}
	tmpl, err := template.New("message").Parse(tmplText)
	if err != nil {
		return "", fmt.Errorf("parse message template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, dataFor(ev)); err != nil {
		return "", fmt.Errorf("render message: %w", err)
	}
	return buf.String(), nil
}
