package notify

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// Email sends the build summary over SMTP.
type Email struct {
	// Addr is the SMTP server as host:port.
	Addr string

	From string
	To   []string

	// Username/Password enable PLAIN auth when set.
	Username string
	Password string

	// Template overrides the default message line.
	Template string
}

// Notify sends the mail. net/smtp has no context support, so ctx only
// guards the work done before dialing.
func (e *Email) Notify(ctx context.Context, ev Event) error {
	msg, err := e.buildMail(ev)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if e.Username != "" {
		host, _, err := net.SplitHostPort(e.Addr)
		if err != nil {
			return fmt.Errorf("smtp addr %q: %w", e.Addr, err)
		}
		auth = smtp.PlainAuth("", e.Username, e.Password, host)
	}
	return smtp.SendMail(e.Addr, auth, e.From, e.To, msg)
}

func (e *Email) buildMail(ev Event) ([]byte, error) {
	body, err := renderMessage(e.Template, ev)
	if err != nil {
		return nil, err
	}

	b := ev.Build.Build
	subject := fmt.Sprintf("shiplog: %s %s/%s on %s", b.Status, b.Org, b.Project, b.Branch)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", e.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(e.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)
	buf.WriteString("\r\n")
	return buf.Bytes(), nil
}
