package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"
	"golang.org/x/time/rate"
)

// Sender delivers one rendered notification to a set of recipients.
type Sender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// LogSender logs notifications instead of sending them; used in ENV=local.
type LogSender struct {
	logger *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, to []string, subject, body string) error {
	s.logger.InfoContext(ctx, "rotation notice (local dev)", "to", to, "subject", subject, "body", body)
	return nil
}

// ResendSender sends email via the Resend API; used in staging/production.
// The limiter paces dispatches so a large sweep in per-owner mode cannot
// trip provider rate limits.
type ResendSender struct {
	client  *resend.Client
	from    string
	limiter *rate.Limiter
}

func (s *ResendSender) Send(ctx context.Context, to []string, subject, body string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      to,
		Subject: subject,
		Text:    body,
	}
	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("send notice: %w", err)
	}
	return nil
}

// NewSender returns a LogSender for ENV=local, ResendSender otherwise.
func NewSender(env, apiKey, from string, ratePerSec float64, logger *slog.Logger) Sender {
	if env == "local" {
		return &LogSender{logger: logger}
	}
	return &ResendSender{
		client:  resend.NewClient(apiKey),
		from:    from,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
	}
}
