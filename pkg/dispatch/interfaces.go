// --- File: pkg/dispatch/interfaces.go ---
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-apns-service/pkg/apns"
)

// Sender defines the contract for a component that delivers one notification
// to a batch of APNs device tokens.
type Sender interface {
	// Send returns one summary entry per token. The error is reserved for
	// failures that prevent the batch from starting (configuration, shutdown,
	// oversized payload).
	Send(ctx context.Context, tokens []string, payload apns.Payload, opts apns.Options) (*apns.Summary, error)
}

// InvalidTokenStore remembers device tokens the gateway has rejected as dead,
// so upstream registries can stop targeting them.
type InvalidTokenStore interface {
	// MarkInvalid records (or refreshes) a dead token.
	MarkInvalid(ctx context.Context, token apns.InvalidToken) error

	// Lookup returns the record for token, or nil when the token is not known
	// to be invalid.
	Lookup(ctx context.Context, token string) (*apns.InvalidToken, error)

	// Clear forgets a token, e.g. after the device registers again.
	Clear(ctx context.Context, token string) error

	// RecordedSince lists tokens marked at or after since, oldest first.
	RecordedSince(ctx context.Context, since time.Time) ([]apns.InvalidToken, error)
}

// RecordInvalid marks each token in store. Failures are logged, not returned:
// the notification itself has already been handled. A nil store is a no-op.
func RecordInvalid(ctx context.Context, store InvalidTokenStore, tokens []apns.InvalidToken, logger *slog.Logger) {
	if store == nil {
		return
	}
	for _, t := range tokens {
		if err := store.MarkInvalid(ctx, t); err != nil {
			logger.Warn("Failed to record invalid token", "token", t.Token, "reason", t.Reason, "err", err)
		}
	}
}
