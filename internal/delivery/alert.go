package delivery

import (
	"context"

	"github.com/angelmondragon/webhook-relay/pkg/db/models"
	"github.com/angelmondragon/webhook-relay/pkg/logger"
)

// Alerter receives delivery failures that need an operator.
type Alerter interface {
	Alert(ctx context.Context, payload *models.WebhookPayload, outcome Outcome)
}

// LogAlerter reports alerts as error level log events.
type LogAlerter struct {
	Logger *logger.Logger
}

func (a LogAlerter) Alert(ctx context.Context, payload *models.WebhookPayload, outcome Outcome) {
	if a.Logger == nil {
		return
	}
	fields := map[string]any{
		"event":       "deliver_webhooks.alert",
		"destination": outcome.Destination,
		"reason":      outcome.Reason,
	}
	if payload != nil {
		fields["payload_id"] = payload.ID
		fields["mailbox_name"] = payload.MailboxName
	}
	a.Logger.Error(a.Logger.WithFields(ctx, fields), "region silo is ip address restricted", outcome.Err)
}
