package expo

import (
	"context"
	"log/slog"

	"github.com/tinywideclouds/go-ticket-notifier/pkg/notify"
)

// Reconciler exchanges sent tickets for delivery receipts and removes tokens
// the gateway flags as permanently undeliverable. Receipts are best-effort
// cleanup: a failed fetch is logged, never escalated.
type Reconciler struct {
	gateway   notify.PushGateway
	users     notify.UserStore
	chunkSize int
	logger    *slog.Logger
}

func NewReconciler(gateway notify.PushGateway, users notify.UserStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		gateway:   gateway,
		users:     users,
		chunkSize: ReceiptChunkLimit,
		logger:    logger.With("component", "ReceiptReconciler"),
	}
}

// Reconcile fetches receipts for the given tickets and prunes dead tokens,
// one atomic array-remove per affected (user, project) list. Re-running on
// the same receipt set is safe: removing an absent token is a no-op.
func (r *Reconciler) Reconcile(ctx context.Context, tickets []notify.TicketRef) error {
	if len(tickets) == 0 {
		return nil
	}

	byID := make(map[string]notify.TicketRef, len(tickets))
	ids := make([]string, 0, len(tickets))
	for _, t := range tickets {
		if t.TicketID == "" {
			continue
		}
		byID[t.TicketID] = t
		ids = append(ids, t.TicketID)
	}

	type listKey struct {
		owner   string
		project string
	}
	removals := make(map[listKey][]string)

	for _, chunk := range chunkIDs(ids, r.chunkSize) {
		receipts, err := r.gateway.GetReceipts(ctx, chunk)
		if err != nil {
			r.logger.Error("Receipt fetch failed", "size", len(chunk), "err", err)
			continue
		}
		for id, receipt := range receipts {
			if receipt.Status != notify.TicketStatusError {
				continue
			}
			ref, ok := byID[id]
			if !ok {
				continue
			}
			if receipt.Details["error"] != notify.ReasonDeviceNotRegistered {
				// Transient reasons (rate limits, oversized payloads) say
				// nothing durable about the token itself.
				r.logger.Warn("Unhandled receipt error",
					"reason", receipt.Details["error"], "message", receipt.Message)
				continue
			}
			k := listKey{owner: ref.OwnerID, project: ref.Project}
			removals[k] = append(removals[k], ref.Token)
		}
	}

	// Each removal touches a different document, so these are independent
	// updates, not one cross-user batch.
	for k, tokens := range removals {
		if err := r.users.RemoveTokens(ctx, k.owner, k.project, tokens); err != nil {
			r.logger.Warn("Failed to remove dead tokens",
				"user", k.owner, "project", k.project, "count", len(tokens), "err", err)
			continue
		}
		r.logger.Info("Removed unregistered tokens",
			"user", k.owner, "project", k.project, "count", len(tokens))
	}
	return nil
}

func chunkIDs(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for size < len(ids) {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	return append(chunks, ids)
}
