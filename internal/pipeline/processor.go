package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-apns-service/pkg/apns"
	"github.com/tinywideclouds/go-apns-service/pkg/dispatch"
)

// NewProcessor creates the stage that delivers a push request and records the
// tokens the gateway reported as dead.
func NewProcessor(
	sender dispatch.Sender,
	tokenStore dispatch.InvalidTokenStore,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[apns.PushRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *apns.PushRequest) error {
		procLogger := logger.With(
			"pubsub_msg_id", original.ID,
			"tokens", len(request.Tokens),
		)

		summary, err := sender.Send(ctx, request.Tokens, request.Payload, request.Options)
		if err != nil {
			// The batch never started; nack so it is redelivered.
			procLogger.Error("APNs batch failed", "err", err)
			return err
		}

		// Self-Healing
		if dead := summary.InvalidTokens(); len(dead) > 0 {
			procLogger.Info("Recording invalid APNs tokens", "count", len(dead))
			dispatch.RecordInvalid(ctx, tokenStore, dead, procLogger)
		}

		procLogger.Info("APNs batch dispatched", "success", summary.Success, "failure", summary.Failure)
		return nil
	}
}
