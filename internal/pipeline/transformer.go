// --- File: internal/pipeline/transformer.go ---
// Package pipeline contains the core message processing components for the service.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-apns-service/pkg/apns"
)

// ErrNoTokens rejects a push request that targets no device.
var ErrNoTokens = errors.New("push request has no device tokens")

// PushRequestTransformer is a dataflow Transformer that unmarshals and validates
// a raw message payload into an apns.PushRequest.
func PushRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*apns.PushRequest, bool, error) {
	var req apns.PushRequest

	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		// skip=true lets the StreamingService handle the Nack/DLQ logic.
		return nil, true, fmt.Errorf("failed to unmarshal push request from message %s: %w", msg.ID, err)
	}
	if len(req.Tokens) == 0 {
		return nil, true, fmt.Errorf("message %s: %w", msg.ID, ErrNoTokens)
	}

	return &req, false, nil
}
