package email

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"github.com/mrz1836/postmark"
)

type postmarkClient struct {
	client  *postmark.Client
	from    string
	replyTo string
	stream  string
}

// NewPostmarkClient creates a Postmark-backed email sender.
func NewPostmarkClient(cfg Config) (EmailSender, error) {
	var errs []error
	if cfg.PostmarkServerToken == "" {
		errs = append(errs, errors.New("postmark server token is required"))
	}
	if cfg.PostmarkAccountToken == "" {
		errs = append(errs, errors.New("postmark account token is required"))
	}
	if _, err := mail.ParseAddress(cfg.SenderEmail); err != nil {
		errs = append(errs, fmt.Errorf("sender email: %w", err))
	}
	if _, err := mail.ParseAddress(cfg.SupportEmail); err != nil {
		errs = append(errs, fmt.Errorf("support email: %w", err))
	}
	if len(errs) > 0 {
		return nil, errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}

	stream := cfg.MessageStream
	if stream == "" {
		stream = "outbound"
	}
	return &postmarkClient{
		client:  postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		from:    cfg.SenderEmail,
		replyTo: cfg.SupportEmail,
		stream:  stream,
	}, nil
}

// SendEmail delivers params through the transactional stream. Replies go to the support address.
func (c *postmarkClient) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	resp, err := c.client.SendEmail(ctx, postmark.Email{
		From:          c.from,
		ReplyTo:       c.replyTo,
		To:            params.SendTo,
		Subject:       params.Subject,
		Tag:           params.Tag,
		HTMLBody:      params.BodyHTML,
		Metadata:      params.Metadata,
		MessageStream: c.stream,
	})
	if err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("%w: postmark error %d: %s", ErrFailedToSendEmail, resp.ErrorCode, resp.Message)
	}
	return nil
}
