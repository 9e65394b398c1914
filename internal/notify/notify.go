// Package notify sends operator alerts when a task marked
// WithNotifyOnFailure reaches a terminal failure. It adapts the
// teacher's transactional-email sender (originally used for magic-link
// auth emails) into an operational notification side-channel, per
// SPEC_FULL.md's domain stack.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nullcrew/taskforge/task"
	"github.com/resend/resend-go/v2"
)

// Sender delivers a single notification message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender logs notifications instead of sending them — used in
// ENV=local, where there is no operator inbox to reach.
type LogSender struct {
	Logger *slog.Logger
}

func (s *LogSender) Send(_ context.Context, to, subject, body string) error {
	s.Logger.Info("task failure notification (local dev)", "to", to, "subject", subject, "body", body)
	return nil
}

// ResendSender delivers notifications via the Resend API — used in
// staging/production.
type ResendSender struct {
	client *resend.Client
	from   string
}

func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey), from: from}
}

func (s *ResendSender) Send(ctx context.Context, to, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Html:    body,
	}
	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// OperatorNotifier implements task.Notifier by emailing a fixed
// operator address whenever a task fails or scheduling-times-out.
// Delivery errors are logged, never returned — a failed notification
// must not affect the task's own state machine.
type OperatorNotifier struct {
	sender   Sender
	operator string
	logger   *slog.Logger
}

// NewOperatorNotifier returns a task.Notifier that alerts operator via
// sender. Pass a LogSender in local dev and a ResendSender otherwise,
// matching the teacher's NewSender env switch.
func NewOperatorNotifier(sender Sender, operator string, logger *slog.Logger) *OperatorNotifier {
	return &OperatorNotifier{sender: sender, operator: operator, logger: logger.With("component", "notify")}
}

func (n *OperatorNotifier) NotifyFailure(ctx context.Context, t *task.Task) {
	subject := fmt.Sprintf("task %s (%s) reached %s", t.Name, t.ID, t.Status)
	body := fmt.Sprintf("Task %q (id=%s) transitioned to %s at %s.", t.Name, t.ID, t.Status, t.FinishedRunningAt)
	if t.Error != nil {
		body += "\n\nError: " + t.Error.Message
	}
	if err := n.sender.Send(ctx, n.operator, subject, body); err != nil {
		n.logger.Error("send failure notification", "task_id", t.ID, "error", err)
	}
}

// NewSender returns a LogSender for ENV=local, a ResendSender otherwise,
// mirroring the teacher's environment switch for its own email sender.
func NewSender(env, apiKey, from string, logger *slog.Logger) Sender {
	if env == "local" {
		return &LogSender{Logger: logger}
	}
	return NewResendSender(apiKey, from)
}
