//go:build integration

package firestore_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/tinywideclouds/go-apns-service/internal/storage/firestore"
	"github.com/tinywideclouds/go-apns-service/pkg/apns"
)

func setupSuite(t *testing.T) (context.Context, *fs.InvalidTokenStore) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	projectID := "test-invalid-token-store"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return ctx, fs.NewInvalidTokenStore(client, "")
}

func TestInvalidTokenStore_Integration(t *testing.T) {
	ctx, store := setupSuite(t)

	t.Run("Unknown token is not invalid", func(t *testing.T) {
		rec, err := store.Lookup(ctx, "never-seen")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("Mark, lookup and clear", func(t *testing.T) {
		since := time.UnixMilli(1_700_000_000_000).UTC()
		err := store.MarkInvalid(ctx, apns.InvalidToken{
			Token:  "dead-token",
			Reason: "Unregistered",
			Status: 410,
			Since:  since,
		})
		require.NoError(t, err)

		rec, err := store.Lookup(ctx, "dead-token")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "dead-token", rec.Token)
		assert.Equal(t, "Unregistered", rec.Reason)
		assert.Equal(t, 410, rec.Status)
		assert.True(t, since.Equal(rec.Since))
		assert.False(t, rec.RecordedAt.IsZero())

		require.NoError(t, store.Clear(ctx, "dead-token"))

		rec, err = store.Lookup(ctx, "dead-token")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("Recorded since", func(t *testing.T) {
		cutoff := time.Now().Add(-time.Second)
		require.NoError(t, store.MarkInvalid(ctx, apns.InvalidToken{Token: "bad-1", Reason: "BadDeviceToken", Status: 400}))
		require.NoError(t, store.MarkInvalid(ctx, apns.InvalidToken{Token: "bad-2", Reason: "BadDeviceToken", Status: 400}))

		recs, err := store.RecordedSince(ctx, cutoff)
		require.NoError(t, err)
		var tokens []string
		for _, r := range recs {
			tokens = append(tokens, r.Token)
		}
		assert.Contains(t, tokens, "bad-1")
		assert.Contains(t, tokens, "bad-2")
	})
}
