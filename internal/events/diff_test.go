package events_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-ticket-notifier/internal/events"
	"github.com/tinywideclouds/go-ticket-notifier/pkg/notify"
)

func mustRaw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func refIDs(refs []notify.RecipientRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.ID)
	}
	return out
}

func TestDiff_TicketCreated(t *testing.T) {
	ticket := events.Ticket{
		ID:            "ticket-1",
		Title:         "تسرب مياه",
		Type:          "مشكلة",
		Priority:      "عالية",
		CreatedBy:     "creatorUid",
		AssignedUsers: []string{"docA", "docB"},
	}
	evt := &events.ChangeEvent{
		Collection: events.CollectionTickets,
		Kind:       events.KindCreate,
		After:      mustRaw(t, ticket),
	}

	outs, err := events.Diff(evt)
	require.NoError(t, err)
	require.Len(t, outs, 1)

	out := outs[0]
	assert.Equal(t, events.EventTicketCreated, out.Event)
	assert.Contains(t, out.Payload.Title, "تسرب مياه")
	assert.Contains(t, out.Payload.Body, "مشكلة")
	assert.Contains(t, out.Payload.Body, "عالية")
	assert.Equal(t, []string{"docA", "docB"}, refIDs(out.Recipients))
	assert.Equal(t, events.EventTicketCreated, out.Payload.Data["event"])
	assert.Equal(t, "ticket-1", out.Payload.Data["subjectId"])
}

func TestDiff_TicketUpdate(t *testing.T) {
	base := events.Ticket{
		ID:            "ticket-2",
		Title:         "Broken AC",
		Type:          "repair",
		Priority:      "high",
		CreatedBy:     "creatorUid",
		AssignedUsers: []string{"docA"},
	}
	update := func(mutate func(*events.Ticket)) *events.ChangeEvent {
		after := base
		mutate(&after)
		return &events.ChangeEvent{
			Collection: events.CollectionTickets,
			Kind:       events.KindUpdate,
			Before:     mustRaw(t, base),
			After:      mustRaw(t, after),
		}
	}

	t.Run("Newly Assigned Recipients Only", func(t *testing.T) {
		outs, err := events.Diff(update(func(a *events.Ticket) {
			a.AssignedUsers = []string{"docA", "docB", "docC"}
		}))
		require.NoError(t, err)
		require.Len(t, outs, 1)
		assert.Equal(t, events.EventTicketAssigned, outs[0].Event)
		assert.Equal(t, []string{"docB", "docC"}, refIDs(outs[0].Recipients))
	})

	t.Run("New Comment Notifies Assignees And Creator", func(t *testing.T) {
		outs, err := events.Diff(update(func(a *events.Ticket) {
			a.Comments = []events.Comment{{Content: "on my way", CreatedBy: "docB"}}
		}))
		require.NoError(t, err)
		require.Len(t, outs, 1)

		out := outs[0]
		assert.Equal(t, events.EventTicketComment, out.Event)
		assert.Equal(t, []string{"docA", "creatorUid"}, refIDs(out.Recipients))
		assert.Equal(t, []string{"docB"}, refIDs(out.Exclude))
		assert.Equal(t, "on my way", out.Payload.Body)
	})

	t.Run("Creator Not Duplicated When Also Assigned", func(t *testing.T) {
		outs, err := events.Diff(update(func(a *events.Ticket) {
			a.AssignedUsers = []string{"creatorUid", "docA"}
			a.Comments = []events.Comment{{Content: "hello", CreatedBy: "docB"}}
		}))
		require.NoError(t, err)

		var comment *events.Outbound
		for i := range outs {
			if outs[i].Event == events.EventTicketComment {
				comment = &outs[i]
			}
		}
		require.NotNil(t, comment)
		assert.Equal(t, []string{"creatorUid", "docA"}, refIDs(comment.Recipients))
	})

	t.Run("Acceptance Comment Is Suppressed", func(t *testing.T) {
		outs, err := events.Diff(update(func(a *events.Ticket) {
			a.Comments = []events.Comment{{Content: events.AcceptanceComment, CreatedBy: "docB"}}
		}))
		require.NoError(t, err)
		assert.Empty(t, outs)
	})

	t.Run("Status Change Comment Is Suppressed", func(t *testing.T) {
		outs, err := events.Diff(update(func(a *events.Ticket) {
			a.Comments = []events.Comment{{Content: "moved to done", CreatedBy: "docB", StatusChange: true}}
		}))
		require.NoError(t, err)
		assert.Empty(t, outs)
	})

	t.Run("Long Comment Is Truncated To 100", func(t *testing.T) {
		long := strings.Repeat("x", 150)
		outs, err := events.Diff(update(func(a *events.Ticket) {
			a.Comments = []events.Comment{{Content: long, CreatedBy: "docB"}}
		}))
		require.NoError(t, err)
		require.Len(t, outs, 1)

		body := outs[0].Payload.Body
		assert.Len(t, body, 100)
		assert.Equal(t, strings.Repeat("x", 97)+"...", body)
	})

	t.Run("Arrival Notifies Creator Only", func(t *testing.T) {
		outs, err := events.Diff(update(func(a *events.Ticket) {
			a.OnLocation = true
		}))
		require.NoError(t, err)
		require.Len(t, outs, 1)
		assert.Equal(t, events.EventTicketArrival, outs[0].Event)
		assert.Equal(t, []string{"creatorUid"}, refIDs(outs[0].Recipients))
	})

	t.Run("Arrival Does Not Refire While Already On Location", func(t *testing.T) {
		before := base
		before.OnLocation = true
		after := before
		evt := &events.ChangeEvent{
			Collection: events.CollectionTickets,
			Kind:       events.KindUpdate,
			Before:     mustRaw(t, before),
			After:      mustRaw(t, after),
		}
		outs, err := events.Diff(evt)
		require.NoError(t, err)
		assert.Empty(t, outs)
	})

	t.Run("Response Vocabulary", func(t *testing.T) {
		cases := map[string]string{
			"accepted":  "accepted the task",
			"completed": "completed the task successfully",
			"paused":    "status is now paused",
		}
		for response, want := range cases {
			outs, err := events.Diff(update(func(a *events.Ticket) {
				a.UserResponses = []events.Response{{Response: response}}
			}))
			require.NoError(t, err)
			require.Len(t, outs, 1)
			assert.Equal(t, events.EventTicketResponse, outs[0].Event)
			assert.Contains(t, outs[0].Payload.Body, want)
			assert.Equal(t, []string{"creatorUid"}, refIDs(outs[0].Recipients))
		}
	})

	t.Run("One Write Can Fire Several Events", func(t *testing.T) {
		outs, err := events.Diff(update(func(a *events.Ticket) {
			a.AssignedUsers = []string{"docA", "docB"}
			a.Comments = []events.Comment{{Content: "arrived", CreatedBy: "docA"}}
			a.OnLocation = true
			a.UserResponses = []events.Response{{Response: "accepted"}}
		}))
		require.NoError(t, err)
		assert.Len(t, outs, 4)
	})
}

func TestDiff_AnnouncementCreated(t *testing.T) {
	ann := events.Announcement{
		ID:            "ann-1",
		Head:          "Maintenance window",
		Body:          "Power will be off on Friday",
		AssignedUsers: []string{"docA", "docB"},
		Images:        []string{"https://cdn/img.png"},
		Files:         []string{"https://cdn/plan.pdf"},
	}
	evt := &events.ChangeEvent{
		Collection: events.CollectionAnnouncements,
		Kind:       events.KindCreate,
		After:      mustRaw(t, ann),
	}

	outs, err := events.Diff(evt)
	require.NoError(t, err)
	require.Len(t, outs, 1)

	out := outs[0]
	assert.Equal(t, events.EventAnnouncement, out.Event)
	// Head and body carried through verbatim.
	assert.Equal(t, "Maintenance window", out.Payload.Title)
	assert.Equal(t, "Power will be off on Friday", out.Payload.Body)
	assert.Equal(t, ann.Images, out.Payload.Images)
	assert.Equal(t, ann.Files, out.Payload.Files)

	// Announcement updates are not notification-worthy.
	evt.Kind = events.KindUpdate
	outs, err = events.Diff(evt)
	require.NoError(t, err)
	assert.Empty(t, outs)
}

func TestChangeEvent_Validate(t *testing.T) {
	valid := &events.ChangeEvent{
		Collection: events.CollectionTickets,
		Kind:       events.KindCreate,
		After:      json.RawMessage(`{}`),
	}
	require.NoError(t, valid.Validate())

	assert.Error(t, (&events.ChangeEvent{Collection: "users", Kind: events.KindCreate, After: json.RawMessage(`{}`)}).Validate())
	assert.Error(t, (&events.ChangeEvent{Collection: events.CollectionTickets, Kind: "delete", After: json.RawMessage(`{}`)}).Validate())
	assert.Error(t, (&events.ChangeEvent{Collection: events.CollectionTickets, Kind: events.KindCreate}).Validate())
}
