// Package mail defines the outbound mail collaborator. Delivery itself is
// handled outside this service.
package mail

import (
	"context"

	"go.uber.org/zap"
)

// Mailer delivers the email-verification link to a new account.
type Mailer interface {
	SendVerifyEmail(ctx context.Context, to, username, link string) error
}

// LogMailer records messages in the log instead of sending them. The link
// carries a live token, so it is only written at debug level.
type LogMailer struct {
	logger *zap.SugaredLogger
}

func NewLogMailer(logger *zap.SugaredLogger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendVerifyEmail(_ context.Context, to, username, link string) error {
	m.logger.Infow("verify email queued", "to", to, "username", username)
	m.logger.Debugw("verify email link", "to", to, "link", link)
	return nil
}

var _ Mailer = (*LogMailer)(nil)
