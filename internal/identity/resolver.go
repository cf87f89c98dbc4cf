// Package identity resolves mixed recipient references into canonical
// user-record ids. It is the only component that looks at both identifier
// spaces; everything downstream sees record ids only.
package identity

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-ticket-notifier/pkg/notify"
)

// QueryBatchLimit is the store's ceiling for "id is one of these values"
// queries. Larger identifier lists are chunked before querying.
const QueryBatchLimit = 30

// Resolver queries the user collection by record id and by authId and merges
// the two result sets.
type Resolver struct {
	users     notify.UserStore
	batchSize int
	logger    *slog.Logger
}

func NewResolver(users notify.UserStore, logger *slog.Logger) *Resolver {
	return &Resolver{
		users:     users,
		batchSize: QueryBatchLimit,
		logger:    logger.With("component", "IdentityResolver"),
	}
}

// Resolve translates refs and builds the per-project push messages for every
// resolved user that holds tokens. Users without tokens still appear in
// RecordIDs, so they remain eligible as fan-out recipients. Identifiers that
// match no record by either id form are silently excluded.
func (r *Resolver) Resolve(ctx context.Context, refs []notify.RecipientRef, n notify.Notification) (*notify.Resolution, error) {
	res := &notify.Resolution{
		Messages:   make(map[string][]notify.PushMessage),
		TokenOwner: make(map[string]string),
		RecordIDs:  make(map[string]string),
	}
	if len(refs) == 0 {
		return res, nil
	}

	users, ids, err := r.lookup(ctx, refs)
	if err != nil {
		return nil, err
	}
	res.RecordIDs = ids

	for _, u := range users {
		for project, tokens := range u.PushTokens {
			for _, token := range tokens {
				if token == "" {
					continue
				}
				res.Messages[project] = append(res.Messages[project], notify.PushMessage{
					To:    token,
					Sound: "default",
					Title: n.Title,
					Body:  n.Body,
					Data:  cloneData(n.Data),
				})
				res.TokenOwner[token] = u.ID
			}
		}
	}
	return res, nil
}

// ResolveIDs is the lightweight form used for exclusion sets.
func (r *Resolver) ResolveIDs(ctx context.Context, refs []notify.RecipientRef) (map[string]string, error) {
	if len(refs) == 0 {
		return map[string]string{}, nil
	}
	_, ids, err := r.lookup(ctx, refs)
	return ids, err
}

// lookup runs the two chunked existence queries concurrently and merges the
// results by record id.
func (r *Resolver) lookup(ctx context.Context, refs []notify.RecipientRef) (map[string]notify.User, map[string]string, error) {
	var byRecord, byAuth []string
	for _, ref := range refs {
		if ref.ID == "" {
			continue
		}
		switch ref.Kind {
		case notify.KindRecordID:
			byRecord = append(byRecord, ref.ID)
		case notify.KindAuthID:
			byAuth = append(byAuth, ref.ID)
		default:
			byRecord = append(byRecord, ref.ID)
			byAuth = append(byAuth, ref.ID)
		}
	}

	users := make(map[string]notify.User)
	ids := make(map[string]string)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)
	merge := func(found []notify.User, byAuthID bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		for _, u := range found {
			users[u.ID] = u
			ids[u.ID] = u.ID
			if byAuthID && u.AuthID != "" {
				ids[u.AuthID] = u.ID
			}
		}
	}

	for _, chunk := range ChunkStrings(dedupStrings(byRecord), r.batchSize) {
		wg.Add(1)
		go func(chunk []string) {
			defer wg.Done()
			found, err := r.users.GetByRecordIDs(ctx, chunk)
			merge(found, false, err)
		}(chunk)
	}
	for _, chunk := range ChunkStrings(dedupStrings(byAuth), r.batchSize) {
		wg.Add(1)
		go func(chunk []string) {
			defer wg.Done()
			found, err := r.users.GetByAuthIDs(ctx, chunk)
			merge(found, true, err)
		}(chunk)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, nil, firstErr
	}
	return users, ids, nil
}

// ChunkStrings splits ids into slices of at most size elements, preserving
// order. Size must be positive.
func ChunkStrings(ids []string, size int) [][]string {
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

func dedupStrings(ids []string) []string {
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

func cloneData(data map[string]string) map[string]string {
	out := make(map[string]string, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	return out
}
