// Package events decodes document change events and decides which
// notification-worthy events a change contains.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/tinywideclouds/go-ticket-notifier/pkg/notify"
)

// Collections the relay publishes change events for.
const (
	CollectionTickets       = "tickets"
	CollectionAnnouncements = "announcements"
)

// Change kinds.
const (
	KindCreate = "create"
	KindUpdate = "update"
)

// ChangeEvent is the relay's envelope: the collection, the kind of write,
// and the document snapshots before and after it. Before is empty for
// creates.
type ChangeEvent struct {
	Collection string          `json:"collection"`
	Kind       string          `json:"kind"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after"`
}

// Validate rejects envelopes the pipeline cannot act on.
func (e *ChangeEvent) Validate() error {
	switch e.Collection {
	case CollectionTickets, CollectionAnnouncements:
	default:
		return fmt.Errorf("unknown collection %q", e.Collection)
	}
	switch e.Kind {
	case KindCreate, KindUpdate:
	default:
		return fmt.Errorf("unknown change kind %q", e.Kind)
	}
	if len(e.After) == 0 {
		return fmt.Errorf("change event has no after snapshot")
	}
	return nil
}

// Comment is one entry of a ticket's append-only comment list.
type Comment struct {
	Content      string `json:"content"`
	CreatedBy    string `json:"createdBy"`
	StatusChange bool   `json:"statusChange,omitempty"`
}

// Response is one entry of a ticket's append-only user-response list.
type Response struct {
	Response  string `json:"response"`
	CreatedBy string `json:"createdBy,omitempty"`
}

// Ticket is the subset of a service-request document the pipeline reads.
// The pipeline never writes these documents.
type Ticket struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Type          string     `json:"type"`
	Priority      string     `json:"priority"`
	CreatedBy     string     `json:"createdBy"`
	AssignedUsers []string   `json:"assignedUsers"`
	Comments      []Comment  `json:"comments,omitempty"`
	UserResponses []Response `json:"userResponses,omitempty"`
	OnLocation    bool       `json:"onLocation,omitempty"`
}

// Announcement is the subset of an announcement document the pipeline reads.
type Announcement struct {
	ID            string   `json:"id"`
	Head          string   `json:"head"`
	Body          string   `json:"body"`
	AssignedUsers []string `json:"assignedUsers"`
	Images        []string `json:"images,omitempty"`
	Files         []string `json:"files,omitempty"`
}

// Outbound is one notification-worthy event extracted from a change: the
// payload to fan out, the recipient references, and any references that must
// be excluded once resolved (a commenter never hears about their own
// comment, under either identifier form).
type Outbound struct {
	Event      string
	Payload    notify.Notification
	Recipients []notify.RecipientRef
	Exclude    []notify.RecipientRef
}
