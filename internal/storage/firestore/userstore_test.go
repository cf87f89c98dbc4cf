//go:build integration

package firestore_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/tinywideclouds/go-ticket-notifier/internal/storage/firestore"
	"github.com/tinywideclouds/go-ticket-notifier/pkg/notify"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupSuite(t *testing.T) (context.Context, *firestore.Client, *fs.UserStore) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	projectID := "test-user-store"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := fs.NewUserStore(client, newTestLogger())
	return ctx, client, store
}

func seedUser(t *testing.T, ctx context.Context, client *firestore.Client, id string, data map[string]interface{}) {
	t.Helper()
	_, err := client.Collection("users").Doc(id).Set(ctx, data)
	require.NoError(t, err)
}

func TestUserStore_Integration(t *testing.T) {
	ctx, client, store := setupSuite(t)

	seedUser(t, ctx, client, "doc-1", map[string]interface{}{
		"authId": "auth-1",
		"pushTokens": map[string]interface{}{
			"tickets-app": []interface{}{"tok-1a", "tok-1b"},
		},
	})
	seedUser(t, ctx, client, "doc-2", map[string]interface{}{
		"authId": "auth-2",
	})
	seedUser(t, ctx, client, "doc-3", map[string]interface{}{
		// No authId at all; still reachable by record id.
		"pushTokens": map[string]interface{}{
			"tickets-app": []interface{}{"tok-3"},
		},
	})

	t.Run("GetByRecordIDs", func(t *testing.T) {
		users, err := store.GetByRecordIDs(ctx, []string{"doc-1", "doc-3", "ghost"})
		require.NoError(t, err)
		require.Len(t, users, 2)

		byID := make(map[string]notify.User, len(users))
		for _, u := range users {
			byID[u.ID] = u
		}
		assert.Equal(t, "auth-1", byID["doc-1"].AuthID)
		assert.Equal(t, []string{"tok-1a", "tok-1b"}, byID["doc-1"].PushTokens["tickets-app"])
		assert.Empty(t, byID["doc-3"].AuthID)
	})

	t.Run("GetByAuthIDs", func(t *testing.T) {
		users, err := store.GetByAuthIDs(ctx, []string{"auth-2", "ghost"})
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, "doc-2", users[0].ID)
		assert.Empty(t, users[0].PushTokens)
	})

	t.Run("Token Registration Lifecycle", func(t *testing.T) {
		require.NoError(t, store.RegisterToken(ctx, "doc-2", "tickets-app", "tok-2"))
		// Re-registering is an array-union no-op, not a duplicate.
		require.NoError(t, store.RegisterToken(ctx, "doc-2", "tickets-app", "tok-2"))

		users, err := store.GetByRecordIDs(ctx, []string{"doc-2"})
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, []string{"tok-2"}, users[0].PushTokens["tickets-app"])

		require.NoError(t, store.RemoveTokens(ctx, "doc-2", "tickets-app", []string{"tok-2"}))
		// Removing an absent token is equally a no-op.
		require.NoError(t, store.RemoveTokens(ctx, "doc-2", "tickets-app", []string{"tok-2"}))

		users, err = store.GetByRecordIDs(ctx, []string{"doc-2"})
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Empty(t, users[0].PushTokens["tickets-app"])
	})

	t.Run("Removal Touches Only The Named Project List", func(t *testing.T) {
		seedUser(t, ctx, client, "doc-4", map[string]interface{}{
			"pushTokens": map[string]interface{}{
				"tickets-app": []interface{}{"tok-4"},
				"other-app":   []interface{}{"tok-4"},
			},
		})

		require.NoError(t, store.RemoveTokens(ctx, "doc-4", "tickets-app", []string{"tok-4"}))

		users, err := store.GetByRecordIDs(ctx, []string{"doc-4"})
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Empty(t, users[0].PushTokens["tickets-app"])
		assert.Equal(t, []string{"tok-4"}, users[0].PushTokens["other-app"])
	})

	t.Run("Malformed PushTokens Drops Tokens Not The User", func(t *testing.T) {
		seedUser(t, ctx, client, "doc-5", map[string]interface{}{
			"authId":     "auth-5",
			"pushTokens": "corrupted",
		})

		users, err := store.GetByRecordIDs(ctx, []string{"doc-5"})
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, "auth-5", users[0].AuthID)
		assert.Empty(t, users[0].PushTokens)
	})
}
