package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-ticket-notifier/internal/events"
	"github.com/tinywideclouds/go-ticket-notifier/pkg/notify"
)

// Notifier runs the two-phase pipeline for one outbound event: resolve, then
// fan-out write, then push dispatch, then receipt reconciliation. The
// recipient-to-record-id map is passed between phases as a value; nothing is
// shared.
type Notifier struct {
	resolver   notify.Resolver
	writer     notify.NotificationWriter
	dispatcher notify.Dispatcher
	reconciler notify.Reconciler
	logger     *slog.Logger
}

func NewNotifier(
	resolver notify.Resolver,
	writer notify.NotificationWriter,
	dispatcher notify.Dispatcher,
	reconciler notify.Reconciler,
	logger *slog.Logger,
) *Notifier {
	return &Notifier{
		resolver:   resolver,
		writer:     writer,
		dispatcher: dispatcher,
		reconciler: reconciler,
		logger:     logger.With("component", "Notifier"),
	}
}

// Notify handles one event. The fan-out write must complete before any push
// message leaves: the push payloads carry each recipient's own
// notification-record id, so a failed batch commit aborts the whole call.
func (n *Notifier) Notify(ctx context.Context, out events.Outbound) error {
	res, err := n.resolver.Resolve(ctx, out.Recipients, out.Payload)
	if err != nil {
		return fmt.Errorf("recipient resolution failed: %w", err)
	}

	if len(out.Exclude) > 0 {
		// Exclusion happens at the canonical-id level, so it holds no
		// matter which identifier form the excluded ref arrived in.
		excluded, err := n.resolver.ResolveIDs(ctx, out.Exclude)
		if err != nil {
			return fmt.Errorf("exclusion resolution failed: %w", err)
		}
		pruneExcluded(res, excluded)
	}

	recipients := res.Recipients()
	if len(recipients) == 0 {
		n.logger.Debug("Event has no resolvable recipients", "event", out.Event)
		return nil
	}

	notificationIDs, err := n.writer.Write(ctx, recipients, out.Payload)
	if err != nil {
		return fmt.Errorf("fan-out write failed, push dispatch aborted: %w", err)
	}

	tickets := n.dispatcher.Dispatch(ctx, res, notificationIDs)
	if err := n.reconciler.Reconcile(ctx, tickets); err != nil {
		// Receipts are best-effort cleanup, not required for delivery.
		n.logger.Warn("Receipt reconciliation failed", "event", out.Event, "err", err)
	}

	n.logger.Info("Event notified",
		"event", out.Event, "recipients", len(recipients), "tickets", len(tickets))
	return nil
}

// pruneExcluded removes every trace of the excluded record ids from the
// resolution: identifier translations, push messages, and token ownership.
func pruneExcluded(res *notify.Resolution, excluded map[string]string) {
	banned := make(map[string]struct{}, len(excluded))
	for _, id := range excluded {
		banned[id] = struct{}{}
	}
	if len(banned) == 0 {
		return
	}

	for orig, id := range res.RecordIDs {
		if _, ok := banned[id]; ok {
			delete(res.RecordIDs, orig)
		}
	}
	for project, msgs := range res.Messages {
		kept := make([]notify.PushMessage, 0, len(msgs))
		for _, m := range msgs {
			if _, ok := banned[res.TokenOwner[m.To]]; !ok {
				kept = append(kept, m)
			}
		}
		if len(kept) == 0 {
			delete(res.Messages, project)
			continue
		}
		res.Messages[project] = kept
	}
	for token, owner := range res.TokenOwner {
		if _, ok := banned[owner]; ok {
			delete(res.TokenOwner, token)
		}
	}
}
