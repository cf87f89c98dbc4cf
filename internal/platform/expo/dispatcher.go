package expo

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tinywideclouds/go-ticket-notifier/pkg/notify"
)

const (
	maxSendAttempts  = 3
	initialSendDelay = 1 * time.Second
)

// Dispatcher chunks and sends a resolution's messages. Each message's data
// is augmented with the destination recipient's own notification-record id
// before it leaves, so the client can mark exactly that record read.
type Dispatcher struct {
	gateway   notify.PushGateway
	chunkSize int
	baseDelay time.Duration
	logger    *slog.Logger
}

func NewDispatcher(gateway notify.PushGateway, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		gateway:   gateway,
		chunkSize: SendChunkLimit,
		baseDelay: initialSendDelay,
		logger:    logger.With("component", "ExpoDispatcher"),
	}
}

// Dispatch sends every project group in provider-sized chunks with bounded
// retry. A chunk that exhausts its retry budget is logged and abandoned; the
// remaining chunks still attempt delivery. The returned refs cover only
// successful sends, the only tickets a receipt may be fetched for.
func (d *Dispatcher) Dispatch(ctx context.Context, res *notify.Resolution, notificationIDs map[string]string) []notify.TicketRef {
	var sent []notify.TicketRef

	for project, msgs := range res.Messages {
		prepared := make([]notify.PushMessage, 0, len(msgs))
		for _, m := range msgs {
			owner := res.TokenOwner[m.To]
			id, ok := notificationIDs[owner]
			if !ok {
				// Recipient was excluded after resolution or got no record.
				continue
			}
			m.Data["notificationId"] = id
			prepared = append(prepared, m)
		}

		for _, chunk := range chunkMessages(prepared, d.chunkSize) {
			tickets, err := d.sendWithRetry(ctx, chunk)
			if err != nil {
				d.logger.Error("Push chunk abandoned after retries",
					"project", project, "size", len(chunk), "err", err)
				continue
			}
			for i, t := range tickets {
				if t.Status != notify.TicketStatusOK {
					d.logger.Warn("Push send rejected by gateway",
						"project", project, "reason", t.Details["error"], "message", t.Message)
					continue
				}
				sent = append(sent, notify.TicketRef{
					TicketID: t.ID,
					Token:    chunk[i].To,
					Project:  project,
					OwnerID:  res.TokenOwner[chunk[i].To],
				})
			}
		}
	}
	return sent
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, chunk []notify.PushMessage) ([]notify.PushTicket, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.baseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	var tickets []notify.PushTicket
	op := func() error {
		t, err := d.gateway.SendMessages(ctx, chunk)
		if err != nil {
			d.logger.Warn("Push send attempt failed", "size", len(chunk), "err", err)
			return err
		}
		tickets = t
		return nil
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, maxSendAttempts-1), ctx))
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func chunkMessages(msgs []notify.PushMessage, size int) [][]notify.PushMessage {
	if len(msgs) == 0 {
		return nil
	}
	chunks := make([][]notify.PushMessage, 0, (len(msgs)+size-1)/size)
	for size < len(msgs) {
		chunks = append(chunks, msgs[:size])
		msgs = msgs[size:]
	}
	return append(chunks, msgs)
}
