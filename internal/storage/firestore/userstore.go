// Package firestore implements the user store on Google Cloud Firestore.
package firestore

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-ticket-notifier/pkg/notify"
)

const (
	usersCollection         = "users"
	notificationsCollection = "notifications"
	authIDField             = "authId"
	pushTokensField         = "pushTokens"
)

// UserStore implements notify.UserStore on Firestore. Callers keep lookup
// chunks within the store's "in" query ceiling; this type does not re-chunk.
type UserStore struct {
	client *firestore.Client
	logger *slog.Logger
}

func NewUserStore(client *firestore.Client, logger *slog.Logger) *UserStore {
	return &UserStore{
		client: client,
		logger: logger.With("component", "UserStore"),
	}
}

// GetByRecordIDs fetches user documents by id in one batched lookup. Missing
// ids simply do not appear in the result.
func (s *UserStore) GetByRecordIDs(ctx context.Context, ids []string) ([]notify.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, s.users().Doc(id))
	}
	snaps, err := s.client.GetAll(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("user lookup by record id failed: %w", err)
	}

	users := make([]notify.User, 0, len(snaps))
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		users = append(users, s.decode(snap))
	}
	return users, nil
}

// GetByAuthIDs queries the authId field with an "in" filter.
func (s *UserStore) GetByAuthIDs(ctx context.Context, ids []string) ([]notify.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	iter := s.users().Where(authIDField, "in", ids).Documents(ctx)
	defer iter.Stop()

	var users []notify.User
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("user lookup by auth id failed: %w", err)
		}
		users = append(users, s.decode(snap))
	}
	return users, nil
}

// RegisterToken appends a token to one project's list via array-union, so
// re-registering the same token is a no-op.
func (s *UserStore) RegisterToken(ctx context.Context, recordID, project, token string) error {
	_, err := s.users().Doc(recordID).Update(ctx, []firestore.Update{{
		FieldPath: firestore.FieldPath{pushTokensField, project},
		Value:     firestore.ArrayUnion(token),
	}})
	if err != nil {
		return fmt.Errorf("failed to register token for user %s: %w", recordID, err)
	}
	return nil
}

// RemoveTokens removes tokens from one project's list via array-remove.
// Removing an already-absent token is a no-op, which is what makes receipt
// reconciliation safe to re-run.
func (s *UserStore) RemoveTokens(ctx context.Context, recordID, project string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	values := make([]interface{}, len(tokens))
	for i, t := range tokens {
		values[i] = t
	}
	_, err := s.users().Doc(recordID).Update(ctx, []firestore.Update{{
		FieldPath: firestore.FieldPath{pushTokensField, project},
		Value:     firestore.ArrayRemove(values...),
	}})
	if err != nil {
		return fmt.Errorf("failed to remove tokens for user %s: %w", recordID, err)
	}
	return nil
}

// NotificationCollection returns one user's personal notification
// subcollection: users/{recordID}/notifications.
func NotificationCollection(client *firestore.Client, recordID string) *firestore.CollectionRef {
	return client.Collection(usersCollection).Doc(recordID).Collection(notificationsCollection)
}

func (s *UserStore) users() *firestore.CollectionRef {
	return s.client.Collection(usersCollection)
}

// decode reads a user snapshot leniently. A malformed pushTokens shape
// (anything but a map of string lists) drops the tokens, not the user: the
// record stays eligible as a fan-out recipient.
func (s *UserStore) decode(snap *firestore.DocumentSnapshot) notify.User {
	data := snap.Data()
	u := notify.User{ID: snap.Ref.ID}
	if v, ok := data[authIDField].(string); ok {
		u.AuthID = v
	}

	raw, present := data[pushTokensField]
	if !present {
		return u
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		s.logger.Warn("Skipping malformed pushTokens field", "user", u.ID)
		return u
	}
	u.PushTokens = make(map[string][]string, len(m))
	for project, v := range m {
		list, ok := v.([]interface{})
		if !ok {
			s.logger.Warn("Skipping malformed token list", "user", u.ID, "project", project)
			continue
		}
		tokens := make([]string, 0, len(list))
		for _, t := range list {
			if tok, ok := t.(string); ok && tok != "" {
				tokens = append(tokens, tok)
			}
		}
		if len(tokens) > 0 {
			u.PushTokens[project] = tokens
		}
	}
	return u
}
