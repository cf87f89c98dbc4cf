// Package pipeline contains the core message processing components for the
// service.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-ticket-notifier/internal/events"
)

// ChangeEventTransformer is a dataflow Transformer that safely unmarshals and
// validates a raw message payload into a structured events.ChangeEvent.
//
// A payload that fails to parse or validate is skipped with an error so the
// StreamingService can handle the Nack/DLQ logic; a malformed relay message
// will never make progress, so retrying it locally is pointless.
func ChangeEventTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*events.ChangeEvent, bool, error) {
	var evt events.ChangeEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal change event from message %s: %w", msg.ID, err)
	}
	if err := evt.Validate(); err != nil {
		return nil, true, fmt.Errorf("invalid change event in message %s: %w", msg.ID, err)
	}
	return &evt, false, nil
}
