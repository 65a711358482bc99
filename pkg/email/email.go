// Package email abstracts outbound mail. Delivery infrastructure lives
// elsewhere; auth flows only need a Sender to hand verification and reset
// tokens to.
package email

import (
	"context"

	"github.com/paddleraise/authcore/pkg/observability"
)

// Template identifiers understood by the delivery system
const (
	TemplateVerifyEmail   = "verify_email"
	TemplatePasswordReset = "password_reset"
)

// Sender delivers a templated email. Implementations handle retries
// internally; callers fire and forget.
type Sender interface {
	Send(ctx context.Context, to, templateID string, vars map[string]string) error
}

// LogSender is the development Sender: it logs that a send happened without
// the variable payload, since vars carry single-use tokens.
type LogSender struct {
	logger *observability.Logger
}

// NewLogSender creates a log-only sender
func NewLogSender(logger *observability.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send implements Sender
func (s *LogSender) Send(ctx context.Context, to, templateID string, vars map[string]string) error {
	s.logger.
		WithField("to", to).
		WithField("template", templateID).
		Info("email queued")
	return nil
}
