package mailer

import (
	"context"
	"time"

	"github.com/pjuts-monitor/pjutsauth"
	"go.uber.org/zap"
)

// LogMailer logs reset emails instead of sending them. The link is redacted
// unless revealLinks is set, which only the development server does.
type LogMailer struct {
	logger      *zap.Logger
	revealLinks bool
}

var _ pjutsauth.Mailer = (*LogMailer)(nil)

func NewLogMailer(logger *zap.Logger, revealLinks bool) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger.Named("mailer"), revealLinks: revealLinks}
}

func (m *LogMailer) SendPasswordReset(_ context.Context, to, resetURL string, expiresAt time.Time) error {
	link := "[redacted]"
	if m.revealLinks {
		link = resetURL
	}
	m.logger.Info("password reset email",
		zap.String("to", to),
		zap.String("reset_url", link),
		zap.Time("expires_at", expiresAt),
	)
	return nil
}
