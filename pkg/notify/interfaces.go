package notify

import "context"

// UserStore defines the contract for reading and mutating user records.
// Lookups are bounded by the store's "id is one of" query ceiling; callers
// pass chunks no larger than the advertised limit.
type UserStore interface {
	// GetByRecordIDs fetches the user records whose document ids appear in
	// ids. Unknown ids are silently absent from the result.
	GetByRecordIDs(ctx context.Context, ids []string) ([]User, error)

	// GetByAuthIDs fetches the user records whose authId field appears in
	// ids. Unknown ids are silently absent from the result.
	GetByAuthIDs(ctx context.Context, ids []string) ([]User, error)

	// RegisterToken appends a token to the user's list for one delivery
	// project (array-union, so re-registration is a no-op).
	RegisterToken(ctx context.Context, recordID, project, token string) error

	// RemoveTokens removes tokens from exactly the project list they were
	// found in, for exactly the user record that held them (array-remove, so
	// removing an absent token is a no-op).
	RemoveTokens(ctx context.Context, recordID, project string, tokens []string) error
}

// NotificationWriter writes one notification record per recipient into that
// recipient's personal subcollection, all in a single atomic batch. The
// returned map translates recipient record id to the new record's id. An
// empty recipient list returns an empty map without touching the store.
type NotificationWriter interface {
	Write(ctx context.Context, recipients []string, n Notification) (map[string]string, error)
}

// PushGateway is the bulk contract of the push-delivery provider.
type PushGateway interface {
	// SendMessages submits one provider-sized chunk and returns one ticket
	// per message, in message order.
	SendMessages(ctx context.Context, msgs []PushMessage) ([]PushTicket, error)

	// GetReceipts exchanges successful ticket ids for delivery receipts.
	// Tickets the provider has not settled yet are absent from the map.
	GetReceipts(ctx context.Context, ticketIDs []string) (map[string]PushReceipt, error)
}

// Resolver translates mixed recipient references into a Resolution.
type Resolver interface {
	Resolve(ctx context.Context, refs []RecipientRef, n Notification) (*Resolution, error)
	// ResolveIDs is the lightweight form used for exclusion sets: it returns
	// only the original-identifier to record-id translation.
	ResolveIDs(ctx context.Context, refs []RecipientRef) (map[string]string, error)
}

// Dispatcher sends a resolution's messages and reports the successful
// tickets; Reconciler later exchanges those for receipts and prunes dead
// tokens.
type Dispatcher interface {
	Dispatch(ctx context.Context, res *Resolution, notificationIDs map[string]string) []TicketRef
}

// Reconciler fetches delivery receipts for sent tickets and removes tokens
// the provider flags as permanently undeliverable. Safe to re-run on the
// same ticket set.
type Reconciler interface {
	Reconcile(ctx context.Context, tickets []TicketRef) error
}
