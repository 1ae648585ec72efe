package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
)

// EmailSender represents an interface for sending emails.
type EmailSender interface {
	SendEmail(ctx context.Context, params SendEmailParams) error
}

// SendEmailParams represents the parameters for sending an email.
type SendEmailParams struct {
	SendTo   string `json:"send_to"`
	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html"`
	Tag      string `json:"tag,omitempty"`
	// Metadata is attached to the provider message for later lookup, e.g. the tenant id.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate checks that the recipient is a single address and the message is not empty.
func (p SendEmailParams) Validate() error {
	if _, err := mail.ParseAddress(p.SendTo); err != nil {
		return fmt.Errorf("%w: send_to: %v", ErrInvalidParams, err)
	}
	if p.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidParams)
	}
	if p.BodyHTML == "" {
		return fmt.Errorf("%w: body_html is required", ErrInvalidParams)
	}
	return nil
}

// New returns the Postmark sender when it is configured and a log sender otherwise.
func New(cfg Config, log *slog.Logger) (EmailSender, error) {
	if !cfg.PostmarkEnabled() {
		return NewLogSender(log), nil
	}
	return NewPostmarkClient(cfg)
}

type logSender struct {
	log *slog.Logger
}

// NewLogSender creates a sender that only logs messages. Used in development.
func NewLogSender(log *slog.Logger) EmailSender {
	if log == nil {
		log = slog.Default()
	}
	return &logSender{log: log}
}

func (s *logSender) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "email not sent, postmark is not configured",
		slog.String("to", params.SendTo),
		slog.String("subject", params.Subject),
		slog.String("tag", params.Tag),
		slog.Any("metadata", params.Metadata))
	return nil
}
