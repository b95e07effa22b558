package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/okibo/skein/internal/ratelimit"
)

// Message is one outbound email.
type Message struct {
	To          []string
	Subject     string
	Body        string
	Attachments []string // file references, counted in node metadata
}

// Mailer is the delivery collaborator. The engine only depends on this
// contract; SMTPMailer is the reference implementation.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer delivers mail through a plain SMTP endpoint.
type SMTPMailer struct {
	Addr string // host:port
	From string
	Auth smtp.Auth // nil for unauthenticated relays
}

func (m *SMTPMailer) Send(_ context.Context, msg Message) error {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)

	if err := smtp.SendMail(m.Addr, m.Auth, m.From, msg.To, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// EmailResult reports one send attempt. A rate-limit denial is a normal
// structured outcome, not an error.
type EmailResult struct {
	Sent        bool          `json:"sent"`
	RateLimited bool          `json:"rate_limited,omitempty"`
	RetryAfter  time.Duration `json:"-"`
	Recipients  int           `json:"recipients"`
	Attachments int           `json:"attachments"`
}

// EmailSender gates outbound email through a per-workflow rolling-hour
// limit before delegating to the Mailer.
type EmailSender struct {
	mailer    Mailer
	limiter   *ratelimit.Limiter
	hourLimit int
	logger    *slog.Logger
}

// NewEmailSender creates a sender. hourLimit <= 0 disables the gate.
func NewEmailSender(mailer Mailer, limiter *ratelimit.Limiter, hourLimit int, logger *slog.Logger) *EmailSender {
	return &EmailSender{
		mailer:    mailer,
		limiter:   limiter,
		hourLimit: hourLimit,
		logger:    logger,
	}
}

// Send checks the workflow's hourly budget, then delivers. The returned
// error is reserved for delivery failures from the Mailer.
func (s *EmailSender) Send(ctx context.Context, workflowID string, msg Message) (EmailResult, error) {
	result := EmailResult{
		Recipients:  len(msg.To),
		Attachments: len(msg.Attachments),
	}

	d := s.limiter.Check(workflowID, 0, s.hourLimit)
	if !d.Allowed {
		result.RateLimited = true
		result.RetryAfter = d.RetryAfter
		s.logger.WarnContext(ctx, "email rate limit exceeded",
			slog.String("workflow_id", workflowID),
			slog.Duration("retry_after", d.RetryAfter))
		return result, nil
	}

	if err := s.mailer.Send(ctx, msg); err != nil {
		return result, err
	}
	result.Sent = true
	return result, nil
}
