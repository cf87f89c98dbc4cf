// Package fanout writes one notification record per recipient into that
// recipient's personal subcollection (fan-out-on-write).
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	fs "cloud.google.com/go/firestore"
	"github.com/google/uuid"

	"github.com/tinywideclouds/go-ticket-notifier/internal/storage/firestore"
	"github.com/tinywideclouds/go-ticket-notifier/pkg/notify"
)

// record is the stored shape of a notification. Mutated later (isRead,
// readAt) only by the client app; the pipeline never touches it again.
type record struct {
	Title     string            `firestore:"title"`
	Body      string            `firestore:"body"`
	Data      map[string]string `firestore:"data"`
	Images    []string          `firestore:"images,omitempty"`
	Files     []string          `firestore:"files,omitempty"`
	IsRead    bool              `firestore:"isRead"`
	ReadAt    *time.Time        `firestore:"readAt"`
	CreatedAt time.Time         `firestore:"createdAt,serverTimestamp"`
}

type Writer struct {
	client *fs.Client
	logger *slog.Logger
}

func NewWriter(client *fs.Client, logger *slog.Logger) *Writer {
	return &Writer{
		client: client,
		logger: logger.With("component", "FanOutWriter"),
	}
}

// Write stages one record per recipient into a single batch and commits it
// once: either every recipient gets their record, or none do and the caller
// must not attempt push dispatch (the push payloads need the record ids).
// Recipient ids are pre-generated so the map is complete before the commit.
func (w *Writer) Write(ctx context.Context, recipients []string, n notify.Notification) (map[string]string, error) {
	ids := make(map[string]string, len(recipients))
	if len(recipients) == 0 {
		// Normal path: an event can have in-app recipients but no
		// push-eligible ones, or vice versa.
		return ids, nil
	}

	batch := w.client.Batch()
	for _, recipient := range recipients {
		ref := firestore.NotificationCollection(w.client, recipient).Doc(uuid.NewString())

		data := make(map[string]string, len(n.Data)+1)
		for k, v := range n.Data {
			data[k] = v
		}
		// The record carries its own id so the client can mark it read.
		data["notificationId"] = ref.ID

		batch.Set(ref, record{
			Title:  n.Title,
			Body:   n.Body,
			Data:   data,
			Images: n.Images,
			Files:  n.Files,
		})
		ids[recipient] = ref.ID
	}

	if _, err := batch.Commit(ctx); err != nil {
		return nil, fmt.Errorf("notification fan-out batch commit failed: %w", err)
	}
	w.logger.Debug("Fan-out batch committed", "recipients", len(ids))
	return ids, nil
}
