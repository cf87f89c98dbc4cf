package events

import (
	"encoding/json"
	"fmt"

	"github.com/tinywideclouds/go-ticket-notifier/pkg/notify"
)

// Event type tags carried in every payload's data map.
const (
	EventTicketCreated  = "ticket_created"
	EventTicketAssigned = "ticket_assigned"
	EventTicketComment  = "ticket_comment"
	EventTicketArrival  = "ticket_arrival"
	EventTicketResponse = "ticket_response"
	EventAnnouncement   = "announcement"
)

// AcceptanceComment is the client's auto-generated comment when an assignee
// accepts a task. It never produces a notification.
const AcceptanceComment = "تم قبول المهمة"

// commentBodyLimit is the notified comment length: 97 characters plus the
// ellipsis marker.
const commentBodyLimit = 100

// Diff extracts the notification-worthy events from a change. A single
// update may yield several outbound events; they are independent of each
// other.
func Diff(e *ChangeEvent) ([]Outbound, error) {
	switch e.Collection {
	case CollectionTickets:
		return diffTicket(e)
	case CollectionAnnouncements:
		if e.Kind != KindCreate {
			return nil, nil
		}
		var a Announcement
		if err := json.Unmarshal(e.After, &a); err != nil {
			return nil, fmt.Errorf("failed to decode announcement snapshot: %w", err)
		}
		return announcementCreated(&a), nil
	}
	return nil, nil
}

func diffTicket(e *ChangeEvent) ([]Outbound, error) {
	var after Ticket
	if err := json.Unmarshal(e.After, &after); err != nil {
		return nil, fmt.Errorf("failed to decode ticket snapshot: %w", err)
	}

	if e.Kind == KindCreate {
		return ticketCreated(&after), nil
	}

	var before Ticket
	if len(e.Before) > 0 {
		if err := json.Unmarshal(e.Before, &before); err != nil {
			return nil, fmt.Errorf("failed to decode previous ticket snapshot: %w", err)
		}
	}

	// The four update events fire independently; one write can produce all
	// of them.
	var out []Outbound
	out = append(out, newAssignees(&before, &after)...)
	out = append(out, newComment(&before, &after)...)
	out = append(out, arrival(&before, &after)...)
	out = append(out, newResponse(&before, &after)...)
	return out, nil
}

func ticketCreated(t *Ticket) []Outbound {
	if len(t.AssignedUsers) == 0 {
		return nil
	}
	return []Outbound{{
		Event: EventTicketCreated,
		Payload: notify.Notification{
			Title: fmt.Sprintf("New task: %s", t.Title),
			Body:  fmt.Sprintf("Type: %s, Priority: %s", t.Type, t.Priority),
			Data:  ticketData(EventTicketCreated, t.ID),
		},
		Recipients: refs(t.AssignedUsers),
	}}
}

// newAssignees notifies everyone on the after-list who was not on the
// before-list.
func newAssignees(before, after *Ticket) []Outbound {
	prev := make(map[string]struct{}, len(before.AssignedUsers))
	for _, id := range before.AssignedUsers {
		prev[id] = struct{}{}
	}
	var added []string
	for _, id := range after.AssignedUsers {
		if _, ok := prev[id]; !ok {
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return nil
	}
	return []Outbound{{
		Event: EventTicketAssigned,
		Payload: notify.Notification{
			Title: fmt.Sprintf("Task assigned to you: %s", after.Title),
			Body:  fmt.Sprintf("Type: %s, Priority: %s", after.Type, after.Priority),
			Data:  ticketData(EventTicketAssigned, after.ID),
		},
		Recipients: refs(added),
	}}
}

func newComment(before, after *Ticket) []Outbound {
	if len(after.Comments) <= len(before.Comments) {
		return nil
	}
	c := after.Comments[len(after.Comments)-1]

	// Auto-generated acceptance comments and pure status-change comments are
	// noise, not conversation.
	if c.Content == AcceptanceComment || c.StatusChange {
		return nil
	}

	recipients := refs(dedup(append(append([]string{}, after.AssignedUsers...), after.CreatedBy)))
	var exclude []notify.RecipientRef
	if c.CreatedBy != "" {
		// The commenter may appear in the recipient list under either id
		// form; the resolver settles both to one record id before the
		// subtraction happens.
		exclude = append(exclude, notify.Ref(c.CreatedBy))
	}
	return []Outbound{{
		Event: EventTicketComment,
		Payload: notify.Notification{
			Title: fmt.Sprintf("New comment on %s", after.Title),
			Body:  truncate(c.Content, commentBodyLimit),
			Data:  ticketData(EventTicketComment, after.ID),
		},
		Recipients: recipients,
		Exclude:    exclude,
	}}
}

func arrival(before, after *Ticket) []Outbound {
	if before.OnLocation || !after.OnLocation {
		return nil
	}
	return []Outbound{{
		Event: EventTicketArrival,
		Payload: notify.Notification{
			Title: fmt.Sprintf("Update on %s", after.Title),
			Body:  "The assignee has arrived on site",
			Data:  ticketData(EventTicketArrival, after.ID),
		},
		Recipients: []notify.RecipientRef{notify.Ref(after.CreatedBy)},
	}}
}

func newResponse(before, after *Ticket) []Outbound {
	if len(after.UserResponses) <= len(before.UserResponses) {
		return nil
	}
	r := after.UserResponses[len(after.UserResponses)-1]
	return []Outbound{{
		Event: EventTicketResponse,
		Payload: notify.Notification{
			Title: fmt.Sprintf("Update on %s", after.Title),
			Body:  responsePhrase(r.Response),
			Data:  ticketData(EventTicketResponse, after.ID),
		},
		Recipients: []notify.RecipientRef{notify.Ref(after.CreatedBy)},
	}}
}

func announcementCreated(a *Announcement) []Outbound {
	if len(a.AssignedUsers) == 0 {
		return nil
	}
	return []Outbound{{
		Event: EventAnnouncement,
		Payload: notify.Notification{
			Title:  a.Head,
			Body:   a.Body,
			Data:   map[string]string{"event": EventAnnouncement, "subjectId": a.ID},
			Images: a.Images,
			Files:  a.Files,
		},
		Recipients: refs(a.AssignedUsers),
	}}
}

// responsePhrase maps the small fixed response vocabulary to a body line.
func responsePhrase(response string) string {
	switch response {
	case "accepted":
		return "The assignee accepted the task"
	case "completed":
		return "The assignee completed the task successfully"
	default:
		return fmt.Sprintf("Task status is now %s", response)
	}
}

// truncate cuts s to limit characters, the last three being the ellipsis
// marker. Counted in runes; ticket text is rarely ASCII.
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}

func ticketData(event, ticketID string) map[string]string {
	return map[string]string{"event": event, "subjectId": ticketID}
}

func refs(ids []string) []notify.RecipientRef {
	out := make([]notify.RecipientRef, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		out = append(out, notify.Ref(id))
	}
	return out
}

func dedup(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
