package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/optlsnd/helpscout-automation/internal/helpscout"
	"github.com/optlsnd/helpscout-automation/internal/schedule"
	"github.com/optlsnd/helpscout-automation/pkg/logging"
)

// AbandonAlerter emails an operator when a scheduled reopen is given up on.
type AbandonAlerter struct {
	email  EmailSender
	to     string
	logger *logging.Logger
}

// NewAbandonAlerter returns nil when no recipient or sender is configured;
// a nil *AbandonAlerter is safe to call.
func NewAbandonAlerter(email EmailSender, to string, logger *logging.Logger) *AbandonAlerter {
	to = strings.TrimSpace(to)
	if email == nil || to == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AbandonAlerter{email: email, to: to, logger: logger}
}

// ReopenAbandoned sends the alert for s.
func (a *AbandonAlerter) ReopenAbandoned(ctx context.Context, s schedule.ScheduledReopen) error {
	if a == nil {
		return nil
	}
	link := helpscout.ConversationURL(s.ConversationID)
	body := fmt.Sprintf(
		"Conversation %s was scheduled to reopen on %s but could not be reopened after %d attempt(s).\n\nLast error: %s\n\nOpen it manually: %s\n",
		s.ConversationID, s.DueAt.UTC().Format(time.RFC1123), s.Attempts, s.LastError, link,
	)
	err := a.email.Send(ctx, EmailMessage{
		To:             a.to,
		Subject:        fmt.Sprintf("Scheduled reopen abandoned for conversation %s", s.ConversationID),
		Text:           body,
		ConversationID: s.ConversationID,
	})
	if err != nil {
		a.logger.Error("notify: abandon alert failed", "conversation_id", s.ConversationID, "error", err)
		return fmt.Errorf("notify: abandon alert: %w", err)
	}
	return nil
}
