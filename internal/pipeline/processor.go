package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-ticket-notifier/internal/events"
)

// NewProcessor creates the logic that turns one change event into
// notifications. One update can carry several independent events (a new
// assignee and a new comment in the same write); a failure in one never
// aborts the others.
func NewProcessor(
	notifier *Notifier,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[events.ChangeEvent] {

	return func(ctx context.Context, original messagepipeline.Message, evt *events.ChangeEvent) error {
		procLogger := logger.With(
			"collection", evt.Collection,
			"kind", evt.Kind,
			"pubsub_msg_id", original.ID,
		)

		outs, err := events.Diff(evt)
		if err != nil {
			// Undecodable snapshots will never decode on redelivery either.
			procLogger.Error("Failed to extract events from change", "err", err)
			return err
		}
		if len(outs) == 0 {
			procLogger.Debug("Change carries no notification-worthy event")
			return nil
		}

		for _, out := range outs {
			if err := notifier.Notify(ctx, out); err != nil {
				// The triggering document write already succeeded from the
				// user's point of view; degrade to "no notification sent"
				// instead of redelivering the whole change.
				procLogger.Error("Event notification failed", "event", out.Event, "err", err)
			}
		}
		return nil
	}
}
