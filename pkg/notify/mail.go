package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"github.com/wneessen/go-mail"
)

// MailConfig holds SMTP settings.
type MailConfig struct {
	Host     string
	Port     int
	Secure   bool
	Username string
	Password string
	Sender   string
	// TLSPolicy is one of "mandatory", "opportunistic" or "none". It is
	// ignored when Secure is set.
	TLSPolicy string
}

// Enabled reports whether enough is configured to send mail.
func (c MailConfig) Enabled() bool {
	return c.Host != "" && c.Sender != ""
}

const defaultTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: "Segoe UI", Roboto, sans-serif; color: #333; }
    .container { max-width: 600px; margin: 40px auto; padding: 24px 32px; }
    .message { font-size: 16px; white-space: pre-wrap; }
    .footer { font-size: 13px; color: #777; border-top: 1px solid #eee; }
  </style>
</head>
<body>
<div class="container">
<h2>{{.Title}}</h2>
<div class="message">{{.Message}}</div>
<div class="footer">This is an automated message from the Xel package registry.</div>
</div>
</body>
</html>
`

// MailNotifier sends notifications as HTML mail over SMTP.
type MailNotifier struct {
	cfg    MailConfig
	tmpl   *template.Template
	opts   []mail.Option
	logger *slog.Logger
}

// NewMailNotifier creates a MailNotifier. An empty tmpl selects the built-in
// template; custom templates receive .Title and .Message.
func NewMailNotifier(cfg MailConfig, tmpl string, logger *slog.Logger) (*MailNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled() {
		return nil, errors.New("mail host and sender are required")
	}
	if tmpl == "" {
		tmpl = defaultTemplate
	}
	t, err := template.New("notification").Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse mail template: %w", err)
	}

	opts := []mail.Option{}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Secure {
		opts = append(opts, mail.WithSSL())
	} else {
		policy, err := tlsPolicy(cfg.TLSPolicy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, mail.WithTLSPolicy(policy))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	return &MailNotifier{cfg: cfg, tmpl: t, opts: opts, logger: logger}, nil
}

func tlsPolicy(name string) (mail.TLSPolicy, error) {
	switch strings.ToLower(name) {
	case "", "mandatory":
		return mail.TLSMandatory, nil
	case "opportunistic":
		return mail.TLSOpportunistic, nil
	case "none":
		return mail.NoTLS, nil
	default:
		return mail.NoTLS, fmt.Errorf("unknown TLS policy %q", name)
	}
}

// Render returns the HTML body for a message. The message is escaped.
func (n *MailNotifier) Render(subject, message string) (string, error) {
	var buf bytes.Buffer
	if err := n.tmpl.Execute(&buf, struct{ Title, Message string }{subject, message}); err != nil {
		return "", fmt.Errorf("render mail template: %w", err)
	}
	return buf.String(), nil
}

// Notify renders the message and sends it to address.
func (n *MailNotifier) Notify(ctx context.Context, address, subject, body string) error {
	html, err := n.Render(subject, body)
	if err != nil {
		return err
	}

	msg := mail.NewMsg()
	if err := msg.From(n.cfg.Sender); err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if err := msg.To(address); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, html)
	msg.AddAlternativeString(mail.TypeTextPlain, body)

	client, err := mail.NewClient(n.cfg.Host, n.opts...)
	if err != nil {
		return fmt.Errorf("create mail client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", address, err)
	}
	n.logger.Debug("sent notification", "to", address, "subject", subject)
	return nil
}
