package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-apns-service/internal/pipeline"
	"github.com/tinywideclouds/go-apns-service/pkg/apns"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Typed Mocks ---

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, tokens []string, payload apns.Payload, opts apns.Options) (*apns.Summary, error) {
	args := m.Called(ctx, tokens, payload, opts)
	summary, _ := args.Get(0).(*apns.Summary)
	return summary, args.Error(1)
}

type mockTokenStore struct {
	mock.Mock
}

func (m *mockTokenStore) MarkInvalid(ctx context.Context, t apns.InvalidToken) error {
	return m.Called(ctx, t).Error(0)
}
func (m *mockTokenStore) Lookup(ctx context.Context, token string) (*apns.InvalidToken, error) {
	args := m.Called(ctx, token)
	rec, _ := args.Get(0).(*apns.InvalidToken)
	return rec, args.Error(1)
}
func (m *mockTokenStore) Clear(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}
func (m *mockTokenStore) RecordedSince(ctx context.Context, since time.Time) ([]apns.InvalidToken, error) {
	args := m.Called(ctx, since)
	recs, _ := args.Get(0).([]apns.InvalidToken)
	return recs, args.Error(1)
}

func TestProcessor(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	request := &apns.PushRequest{
		Tokens:  []string{"good", "dead"},
		Payload: apns.Payload{Title: "Hello"},
	}
	msg := messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: "msg-1"}}

	t.Run("Delivers and records invalid tokens", func(t *testing.T) {
		senderMock := new(mockSender)
		storeMock := new(mockTokenStore)

		summary := apns.Reduce([]apns.Outcome{
			{Token: "good", Kind: apns.Accepted},
			{Token: "dead", Kind: apns.ProtocolFailure, Err: &apns.ProtocolError{Status: http.StatusGone, Reason: "Unregistered"}},
		})
		senderMock.On("Send", mock.Anything, request.Tokens, request.Payload, request.Options).Return(summary, nil)
		storeMock.On("MarkInvalid", mock.Anything, mock.MatchedBy(func(t apns.InvalidToken) bool {
			return t.Token == "dead" && t.Reason == "Unregistered" && t.Status == http.StatusGone
		})).Return(nil)

		processor := pipeline.NewProcessor(senderMock, storeMock, logger)
		err := processor(ctx, msg, request)

		require.NoError(t, err)
		senderMock.AssertExpectations(t)
		storeMock.AssertExpectations(t)
	})

	t.Run("Transient failures are not recorded", func(t *testing.T) {
		senderMock := new(mockSender)
		storeMock := new(mockTokenStore)

		summary := apns.Reduce([]apns.Outcome{
			{Token: "good", Kind: apns.TransportFailure, Err: &apns.TransportError{Err: errors.New("ECONNRESET")}},
			{Token: "dead", Kind: apns.ProtocolFailure, Err: &apns.ProtocolError{Status: http.StatusTooManyRequests, Reason: "TooManyRequests"}},
		})
		senderMock.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(summary, nil)

		processor := pipeline.NewProcessor(senderMock, storeMock, logger)
		require.NoError(t, processor(ctx, msg, request))
		storeMock.AssertNotCalled(t, "MarkInvalid", mock.Anything, mock.Anything)
	})

	t.Run("Batch error is returned for redelivery", func(t *testing.T) {
		senderMock := new(mockSender)
		storeMock := new(mockTokenStore)

		senderMock.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, apns.ErrClosed)

		processor := pipeline.NewProcessor(senderMock, storeMock, logger)
		err := processor(ctx, msg, request)

		assert.ErrorIs(t, err, apns.ErrClosed)
		storeMock.AssertNotCalled(t, "MarkInvalid", mock.Anything, mock.Anything)
	})

	t.Run("Store failure does not fail the message", func(t *testing.T) {
		senderMock := new(mockSender)
		storeMock := new(mockTokenStore)

		summary := apns.Reduce([]apns.Outcome{
			{Token: "dead", Kind: apns.ProtocolFailure, Err: &apns.ProtocolError{Status: http.StatusBadRequest, Reason: "BadDeviceToken"}},
		})
		senderMock.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(summary, nil)
		storeMock.On("MarkInvalid", mock.Anything, mock.Anything).Return(assert.AnError)

		processor := pipeline.NewProcessor(senderMock, storeMock, logger)
		assert.NoError(t, processor(ctx, msg, request))
	})
}
