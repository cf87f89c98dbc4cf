// Package notify contains the public domain types and contracts for the
// ticket-notification fan-out pipeline.
package notify

// RefKind says which identifier space a RecipientRef belongs to.
type RefKind int

const (
	// KindUnknown means the identifier could be either a user-record id or an
	// auth id. Most recipient lists carried on tickets are of this kind.
	KindUnknown RefKind = iota
	KindRecordID
	KindAuthID
)

// RecipientRef is a reference to a user that may be expressed as either a
// canonical user-record id or an authentication id. Only the identity
// resolver unwraps a ref into a canonical record id; every later pipeline
// stage operates on record ids exclusively.
type RecipientRef struct {
	ID   string
	Kind RefKind
}

// Ref builds a recipient reference of unknown kind.
func Ref(id string) RecipientRef { return RecipientRef{ID: id} }

// ByRecordID builds a reference known to be a canonical record id.
func ByRecordID(id string) RecipientRef { return RecipientRef{ID: id, Kind: KindRecordID} }

// ByAuthID builds a reference known to be an authentication id.
func ByAuthID(id string) RecipientRef { return RecipientRef{ID: id, Kind: KindAuthID} }

// User is the canonical identity record. PushTokens maps a delivery-project
// namespace to the ordered list of tokens registered under it; a user may
// hold tokens issued under more than one project.
type User struct {
	ID         string
	AuthID     string
	PushTokens map[string][]string
}

// Notification is the payload written once per recipient (fan-out-on-write)
// and mirrored into the outbound push messages. Data always carries the event
// type and the subject entity's id; the dispatcher later adds the
// recipient-specific notification-record id.
type Notification struct {
	Title  string
	Body   string
	Data   map[string]string
	Images []string
	Files  []string
}

// PushMessage is one outbound message for one device token.
type PushMessage struct {
	To    string            `json:"to"`
	Sound string            `json:"sound,omitempty"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// PushTicket is the gateway's per-message send outcome. Status "ok" carries a
// ticket id exchangeable for a receipt later; status "error" carries a
// message and machine-readable details instead. Failed sends never produce a
// fetchable receipt.
type PushTicket struct {
	Status  string            `json:"status"`
	ID      string            `json:"id,omitempty"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// PushReceipt is the asynchronous delivery outcome for a successful ticket.
type PushReceipt struct {
	Status  string            `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// ReceiptStatusOK and friends are the gateway's receipt vocabulary.
const (
	TicketStatusOK    = "ok"
	TicketStatusError = "error"

	// ReasonDeviceNotRegistered flags a token as permanently undeliverable.
	// It is the only receipt error the reconciler acts on.
	ReasonDeviceNotRegistered = "DeviceNotRegistered"
)

// TicketRef ties a successful send ticket back to the token it was issued
// for, so the receipt reconciler can remove dead tokens from the right
// project list on the right user record.
type TicketRef struct {
	TicketID string
	Token    string
	Project  string
	OwnerID  string
}

// Resolution is the identity resolver's output: push messages grouped by
// delivery project, token ownership, and the translation from every original
// identifier (either form) to its canonical record id.
type Resolution struct {
	Messages   map[string][]PushMessage
	TokenOwner map[string]string
	RecordIDs  map[string]string
}

// Recipients returns the deduplicated canonical record ids of everyone the
// resolution covers, push-eligible or not.
func (r *Resolution) Recipients() []string {
	seen := make(map[string]struct{}, len(r.RecordIDs))
	out := make([]string, 0, len(r.RecordIDs))
	for _, id := range r.RecordIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
