package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-apns-service/pkg/apns"
)

// DefaultCollection holds one document per invalid token.
const DefaultCollection = "invalid_apns_tokens"

// InvalidTokenStore implements dispatch.InvalidTokenStore using Google Cloud Firestore.
type InvalidTokenStore struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

func NewInvalidTokenStore(client *firestore.Client, collection string) *InvalidTokenStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &InvalidTokenStore{client: client, collection: collection, now: time.Now}
}

func (s *InvalidTokenStore) MarkInvalid(ctx context.Context, t apns.InvalidToken) error {
	if t.RecordedAt.IsZero() {
		t.RecordedAt = s.now()
	}
	_, err := s.ref(t.Token).Set(ctx, t)
	if err != nil {
		return fmt.Errorf("failed to mark token invalid: %w", err)
	}
	return nil
}

func (s *InvalidTokenStore) Lookup(ctx context.Context, token string) (*apns.InvalidToken, error) {
	doc, err := s.ref(token).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	var t apns.InvalidToken
	if err := doc.DataTo(&t); err != nil {
		return nil, fmt.Errorf("failed to decode invalid token record: %w", err)
	}
	return &t, nil
}

func (s *InvalidTokenStore) Clear(ctx context.Context, token string) error {
	_, err := s.ref(token).Delete(ctx)
	return err
}

// RecordedSince lists tokens marked invalid at or after t, oldest first.
// Upstream registries poll it to prune their device lists.
func (s *InvalidTokenStore) RecordedSince(ctx context.Context, t time.Time) ([]apns.InvalidToken, error) {
	iter := s.client.Collection(s.collection).
		Where("recorded_at", ">=", t).
		OrderBy("recorded_at", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	out := make([]apns.InvalidToken, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}
		var rec apns.InvalidToken
		if err := doc.DataTo(&rec); err != nil {
			// Skip corrupt rows.
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// ref: <collection>/{sha256(token)}
func (s *InvalidTokenStore) ref(token string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(hashToken(token))
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
