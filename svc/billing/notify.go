package billing

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/email"
	"github.com/dmitrymomot/billingkit/pkg/queue"
)

// NotificationKind selects the merchant email template.
type NotificationKind string

const (
	NotifyActivated  NotificationKind = "activated"
	NotifyPastDue    NotificationKind = "past_due"
	NotifyCancelling NotificationKind = "cancelling"
	NotifyExpired    NotificationKind = "expired"
)

// NotificationTask is the queued payload of a merchant notification.
type NotificationTask struct {
	TenantID     string           `json:"tenant_id"`
	Kind         NotificationKind `json:"kind"`
	Email        string           `json:"email"`
	Plan         string           `json:"plan,omitempty"`
	CycleResetAt *time.Time       `json:"cycle_reset_at,omitempty"`
}

var notificationSubjects = map[NotificationKind]string{
	NotifyActivated:  "Your subscription is active",
	NotifyPastDue:    "We could not process your payment",
	NotifyCancelling: "Your subscription has been cancelled",
	NotifyExpired:    "Your subscription has ended",
}

var notificationTemplate = template.Must(template.New("notification").Parse(`<!doctype html>
<html><body>
{{- if eq .Kind "activated" }}
<p>Your {{ .Plan }} plan is now active.{{ with .CycleResetAt }} Your next renewal is on {{ .Format "2 January 2006" }}.{{ end }}</p>
{{- else if eq .Kind "past_due" }}
<p>Your latest subscription payment failed and messaging has been paused. Please update your payment method to restore access.</p>
{{- else if eq .Kind "cancelling" }}
<p>Your subscription was cancelled.{{ with .CycleResetAt }} Access remains active until {{ .Format "2 January 2006" }}.{{ end }}</p>
{{- else if eq .Kind "expired" }}
<p>Your subscription period has ended and messaging is now disabled. You can subscribe again at any time.</p>
{{- end }}
</body></html>`))

func renderNotification(n NotificationTask) (email.SendEmailParams, error) {
	subject, ok := notificationSubjects[n.Kind]
	if !ok {
		return email.SendEmailParams{}, fmt.Errorf("unknown notification kind %q", n.Kind)
	}
	var buf bytes.Buffer
	if err := notificationTemplate.Execute(&buf, n); err != nil {
		return email.SendEmailParams{}, fmt.Errorf("render %s notification: %w", n.Kind, err)
	}
	return email.SendEmailParams{
		SendTo:   n.Email,
		Subject:  subject,
		BodyHTML: buf.String(),
		Tag:      "billing-" + string(n.Kind),
		Metadata: map[string]string{"tenant_id": n.TenantID, "kind": string(n.Kind)},
	}, nil
}

// NewNotificationHandler returns the queue handler delivering merchant notifications.
func NewNotificationHandler(sender email.EmailSender) queue.Handler {
	return queue.NewTaskHandler(func(ctx context.Context, n NotificationTask) error {
		params, err := renderNotification(n)
		if err != nil {
			return err
		}
		return sender.SendEmail(ctx, params)
	})
}
