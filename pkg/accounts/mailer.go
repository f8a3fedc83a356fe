package accounts

import (
	"context"

	"github.com/platinummonkey/keystone/pkg/observability"
)

// Mailer delivers account mail. Delivery happens after the transaction
// commits; failures are logged and never roll back provisioning.
type Mailer interface {
	SendVerification(ctx context.Context, email, link string) error
	SendWorkspaceInvite(ctx context.Context, email, workspace, link string, reassigned bool) error
	SendWorkspaceAdded(ctx context.Context, email, workspace, link string) error
	SendPasswordReset(ctx context.Context, email, link string) error
}

// LogMailer writes mail to the process log instead of delivering it.
// Deployments without a mail relay use it.
type LogMailer struct {
	logger *observability.Logger
}

// NewLogMailer creates a mailer logging through logger
func NewLogMailer(logger *observability.Logger) *LogMailer {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &LogMailer{logger: logger.WithField("component", "mailer")}
}

func (m *LogMailer) send(kind, email string, fields map[string]any) error {
	m.logger.WithFields(fields).WithField("to", email).WithField("mail", kind).Info("mail not delivered, no relay configured")
	return nil
}

func (m *LogMailer) SendVerification(ctx context.Context, email, link string) error {
	return m.send("verification", email, map[string]any{"link": link})
}

func (m *LogMailer) SendWorkspaceInvite(ctx context.Context, email, workspace, link string, reassigned bool) error {
	return m.send("workspace_invite", email, map[string]any{"link": link, "workspace": workspace, "reassigned": reassigned})
}

func (m *LogMailer) SendWorkspaceAdded(ctx context.Context, email, workspace, link string) error {
	return m.send("workspace_added", email, map[string]any{"link": link, "workspace": workspace})
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, email, link string) error {
	return m.send("password_reset", email, map[string]any{"link": link})
}
