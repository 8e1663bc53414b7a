// --- File: apnsservice/service_integration_test.go ---
//go:build integration

package apnsservice_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tinywideclouds/go-apns-service/apnsservice"
	"github.com/tinywideclouds/go-apns-service/apnsservice/config"
	fsStore "github.com/tinywideclouds/go-apns-service/internal/storage/firestore"
	"github.com/tinywideclouds/go-apns-service/pkg/apns"
)

// --- MOCKS ---

// fakeSender answers every batch with a fixed outcome per token.
type fakeSender struct {
	mu         sync.Mutex
	callCount  int
	lastTokens []string
	dead       map[string]bool
}

func (f *fakeSender) Send(_ context.Context, tokens []string, _ apns.Payload, _ apns.Options) (*apns.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount++
	f.lastTokens = tokens

	outcomes := make([]apns.Outcome, 0, len(tokens))
	for _, t := range tokens {
		if f.dead[t] {
			outcomes = append(outcomes, apns.Outcome{
				Token: t,
				Kind:  apns.ProtocolFailure,
				Err:   &apns.ProtocolError{Status: http.StatusGone, Reason: "Unregistered", Timestamp: 1_700_000_000_000},
			})
			continue
		}
		outcomes = append(outcomes, apns.Outcome{Token: t, Kind: apns.Accepted})
	}
	return apns.Reduce(outcomes), nil
}

func (f *fakeSender) GetCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

func (f *fakeSender) GetLastTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastTokens
}

func noopAuth(h http.Handler) http.Handler { return h }

// --- TESTS ---

func TestAPNSService_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projectID := "test-project-integ"

	// 1. Emulators
	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = psClient.Close() })

	fsConn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	fsClient, err := firestore.NewClient(ctx, projectID, fsConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsClient.Close() })

	tokenStore := fsStore.NewInvalidTokenStore(fsClient, "")

	t.Run("Full Lifecycle: Publish -> Send -> Record Invalid", func(t *testing.T) {
		topicID := "apns-push-" + uuid.NewString()
		subID := topicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, topicID, subID, "")

		sender := &fakeSender{dead: map[string]bool{"dead-token": true}}

		consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(subID)
		consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
		require.NoError(t, err)

		svc, err := apnsservice.New(
			&config.Config{ListenAddr: ":0", NumPipelineWorkers: 2},
			consumer,
			sender,
			tokenStore,
			noopAuth,
			logger,
		)
		require.NoError(t, err)

		svcCtx, svcCancel := context.WithCancel(ctx)
		defer svcCancel()
		go func() { _ = svc.Start(svcCtx) }()
		t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

		req := apns.PushRequest{
			Tokens:  []string{"live-token", "dead-token"},
			Payload: apns.Payload{Title: "Hello"},
		}
		payload, err := json.Marshal(req)
		require.NoError(t, err)
		_, err = psClient.Publisher(topicID).Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return sender.GetCallCount() == 1
		}, 10*time.Second, 100*time.Millisecond)
		assert.Equal(t, []string{"live-token", "dead-token"}, sender.GetLastTokens())

		require.Eventually(t, func() bool {
			rec, err := tokenStore.Lookup(ctx, "dead-token")
			return err == nil && rec != nil && rec.Reason == "Unregistered"
		}, 10*time.Second, 100*time.Millisecond)

		rec, err := tokenStore.Lookup(ctx, "live-token")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("Poison pill goes to the DLQ", func(t *testing.T) {
		runID := uuid.NewString()
		dlqTopicID := "apns-dlq-" + runID
		dlqSubID := dlqTopicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, dlqTopicID, dlqSubID, "")

		mainTopicID := "apns-main-" + runID
		mainSubID := mainTopicID + "-sub"
		dlqTopicName := fmt.Sprintf("projects/%s/topics/%s", projectID, dlqTopicID)
		createPubsubResources(t, ctx, psClient, projectID, mainTopicID, mainSubID, dlqTopicName)

		sender := &fakeSender{}
		consumerCfg := *messagepipeline.NewGooglePubsubConsumerDefaults(mainSubID)
		consumer, err := messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
		require.NoError(t, err)

		svc, err := apnsservice.New(
			&config.Config{ListenAddr: ":0", NumPipelineWorkers: 2},
			consumer, sender, tokenStore, noopAuth, logger,
		)
		require.NoError(t, err)

		svcCtx, svcCancel := context.WithCancel(ctx)
		defer svcCancel()
		go func() {
			if err := svc.Start(svcCtx); err != nil && !errors.Is(err, context.Canceled) {
				t.Logf("service.Start() returned an error: %v", err)
			}
		}()
		t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

		// An empty token list is rejected by the transformer just like bad JSON.
		poisonPayload := []byte(`{"tokens":[],"payload":{"title":"x"}}`)
		_, err = psClient.Publisher(mainTopicID).Publish(ctx, &pubsub.Message{Data: poisonPayload}).Get(ctx)
		require.NoError(t, err)

		var receivedMsg *pubsub.Message
		cctx, rcvCancel := context.WithTimeout(ctx, 20*time.Second)
		defer rcvCancel()
		err = psClient.Subscriber(dlqSubID).Receive(cctx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			receivedMsg = msg
			rcvCancel()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("DLQ Receive returned an unexpected error: %v", err)
		}

		require.NotNil(t, receivedMsg, "Did not receive message on the DLQ subscription")
		assert.Equal(t, poisonPayload, receivedMsg.Data)
		assert.Equal(t, 0, sender.GetCallCount(), "Sender should not be called for a poison pill message")
	})
}

func createPubsubResources(t *testing.T, ctx context.Context, client *pubsub.Client, projectID, topicID, subID, deadLetterTopic string) {
	t.Helper()
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.TopicAdminClient.DeleteTopic(context.Background(), &pubsubpb.DeleteTopicRequest{Topic: topicName})
	})

	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
	sub := &pubsubpb.Subscription{
		Name:               subName,
		Topic:              topicName,
		AckDeadlineSeconds: 10,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	}
	if deadLetterTopic != "" {
		sub.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     deadLetterTopic,
			MaxDeliveryAttempts: 5,
		}
	}
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.SubscriptionAdminClient.DeleteSubscription(context.Background(), &pubsubpb.DeleteSubscriptionRequest{Subscription: subName})
	})
}
