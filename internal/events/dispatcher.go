package events

import (
	"context"

	"go.uber.org/zap"
)

// Dispatcher hands drained outbox events to whatever delivers them
// downstream (push gateways, webhooks). Delivery is best effort: the
// caller logs a failed dispatch and still marks the event published,
// so a broken sink never stalls the outbox.
type Dispatcher interface {
	Dispatch(ctx context.Context, event OutboxEvent) error
}

// LoggingDispatcher is the default sink. Installs without a delivery
// channel still get a structured record of every event that left the
// outbox.
type LoggingDispatcher struct {
	log *zap.Logger
}

func NewLoggingDispatcher(log *zap.Logger) Dispatcher {
	return &LoggingDispatcher{log: log.Named("events.dispatcher")}
}

func (d *LoggingDispatcher) Dispatch(_ context.Context, event OutboxEvent) error {
	d.log.Info("event dispatched",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
		zap.String("user_id", event.UserID.String()),
	)
	return nil
}
