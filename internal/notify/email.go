package notify

import (
	"context"
	netmail "net/mail"
	"strings"

	"github.com/optlsnd/helpscout-automation/pkg/logging"
)

const (
	// DefaultFromName is used when EMAIL_FROM_NAME is unset.
	DefaultFromName = "Help Scout Automation"
	// SubjectPrefix marks every operator alert so inbox rules can route it.
	SubjectPrefix = "[helpscout-automation] "
)

// EmailSender delivers operator alerts.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is a plain-text operator alert.
type EmailMessage struct {
	To      string
	Subject string
	Text    string
	// ConversationID tags the message with the conversation it concerns,
	// as a SendGrid custom arg or an SES message tag.
	ConversationID string
}

// Sender is the From identity shared by every provider.
type Sender struct {
	Address string
	Name    string
}

func (s Sender) withDefaults() Sender {
	s.Address = strings.TrimSpace(s.Address)
	if strings.TrimSpace(s.Name) == "" {
		s.Name = DefaultFromName
	}
	return s
}

// Header renders s as an RFC 5322 address.
func (s Sender) Header() string {
	return (&netmail.Address{Name: s.Name, Address: s.Address}).String()
}

func prefixed(subject string) string {
	if strings.HasPrefix(subject, SubjectPrefix) {
		return subject
	}
	return SubjectPrefix + subject
}

// StubEmailSender logs alerts instead of sending them.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	s.logger.Info("notify: email disabled, alert logged only",
		"to", msg.To, "subject", prefixed(msg.Subject), "conversation_id", msg.ConversationID)
	return nil
}

var _ EmailSender = (*StubEmailSender)(nil)
