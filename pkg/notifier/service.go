// Package notifier sends email notifications on non-duplicate scout
// completions. Delivery is fire-and-forget: errors are logged and never
// affect run status.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/scoutwatch/scoutd/pkg/config"
)

// SuccessInput contains the data needed to render and send a success
// notification.
type SuccessInput struct {
	To             string
	ScoutTitle     string
	ResultsSummary string
	ExecutionID    string
}

// Service sends email notifications. Nil-safe: every method is a no-op
// when the receiver is nil, so a misconfigured SMTP setup degrades to
// silent non-delivery rather than aborting runs.
type Service struct {
	cfg    config.SMTPConfig
	logger *slog.Logger
}

// NewService creates a Service. Returns nil if Host is empty, mirroring the
// fail-open construction of other notification services in this codebase.
func NewService(cfg config.SMTPConfig) *Service {
	if cfg.Host == "" {
		return nil
	}
	return &Service{
		cfg:    cfg,
		logger: slog.Default().With("component", "notifier"),
	}
}

// SendSuccess sends a "new finding" email. Fail-open: errors are logged,
// never returned.
func (s *Service) SendSuccess(ctx context.Context, input SuccessInput) {
	if s == nil {
		return
	}
	if input.To == "" {
		s.logger.Warn("skipping notification, no recipient", "execution_id", input.ExecutionID)
		return
	}

	subject := fmt.Sprintf("Scout update: %s", input.ScoutTitle)
	body := buildSuccessHTML(input)

	if err := s.send(ctx, input.To, subject, body); err != nil {
		s.logger.Error("failed to send notification",
			"execution_id", input.ExecutionID,
			"to", input.To,
			"error", err)
	}
}

func (s *Service) send(_ context.Context, to, subject, html string) error {
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)

	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s",
		s.cfg.From, to, subject, html)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

func buildSuccessHTML(input SuccessInput) string {
	return fmt.Sprintf(
		"<h2>%s</h2><p>%s</p><p><small>execution %s</small></p>",
		escapeHTML(input.ScoutTitle), escapeHTML(input.ResultsSummary), input.ExecutionID)
}

// escapeHTML performs the minimal escaping needed for values interpolated
// into the notification body; content always originates from the model's
// own summary text, never raw user HTML.
func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)
