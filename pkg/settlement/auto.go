package settlement

import (
	"context"
	"log/slog"

	"github.com/TilepMony-Project/engine/pkg/eventbus"
	"github.com/TilepMony-Project/engine/pkg/events"
)

// AutoExecute registers a handler that executes every settlement as soon as
// the watcher detects it. Failed attempts are not redelivered: the outcome is
// already stored on the settlement.
func AutoExecute(subscriber eventbus.EventSubscriber, executor *Executor, logger *slog.Logger) error {
	logger = logger.With("module", "settlement_auto_execute")

	return subscriber.Handle(events.SettlementDetectedEvent, func(ctx context.Context, event any) error {
		detected, ok := event.(*events.SettlementDetected)
		if !ok {
			logger.WarnContext(ctx, "Unexpected event payload", "event", event)

			return nil
		}

		result := executor.Execute(ctx, detected.MessageID)
		if !result.Success {
			logger.WarnContext(ctx, "Auto-execution did not complete",
				"message_id", detected.MessageID,
				"error", result.Error,
			)
		}

		return nil
	})
}
