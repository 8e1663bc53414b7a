package apns_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-apns-service/pkg/apns"
)

func TestReduce(t *testing.T) {
	t.Run("Mixed batch counts every token once", func(t *testing.T) {
		outcomes := []apns.Outcome{
			{Token: "A", Kind: apns.Accepted},
			{Token: "B", Kind: apns.TransportFailure, Err: &apns.TransportError{Err: errors.New("ECONNRESET")}},
			{Token: "C", Kind: apns.ProtocolFailure, Err: &apns.ProtocolError{Status: http.StatusBadRequest, Reason: "BadDeviceToken"}},
		}

		summary := apns.Reduce(outcomes)

		assert.Equal(t, "apn", summary.Method)
		assert.Equal(t, 1, summary.Success)
		assert.Equal(t, 2, summary.Failure)
		require.Len(t, summary.Message, 3)

		byToken := map[string]apns.Detail{}
		for _, d := range summary.Message {
			byToken[d.RegID] = d
		}
		assert.Nil(t, byToken["A"].Err)
		assert.Empty(t, byToken["A"].ErrorMsg)
		assert.Equal(t, "ECONNRESET", byToken["B"].ErrorMsg)
		assert.Equal(t, "BadDeviceToken", byToken["C"].ErrorMsg)
	})

	t.Run("Empty batch", func(t *testing.T) {
		summary := apns.Reduce(nil)
		assert.Zero(t, summary.Success)
		assert.Zero(t, summary.Failure)
		assert.NotNil(t, summary.Message)
	})

	t.Run("Duplicate tokens are not collapsed", func(t *testing.T) {
		summary := apns.Reduce([]apns.Outcome{{Token: "A"}, {Token: "A"}})
		assert.Equal(t, 2, summary.Success)
		assert.Len(t, summary.Message, 2)
	})
}

func TestProtocolErrorKey(t *testing.T) {
	testCases := []struct {
		name     string
		err      *apns.ProtocolError
		expected string
	}{
		{"Reason wins", &apns.ProtocolError{Status: 410, Reason: "Unregistered"}, "Unregistered"},
		{"Status fallback", &apns.ProtocolError{Status: 500}, "500"},
		{"Raw body fallback", &apns.ProtocolError{Body: []byte(`{"weird":true}`)}, `{"weird":true}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.err.Key())
			assert.NotEmpty(t, tc.err.Error())
		})
	}
}

func TestDetailJSON(t *testing.T) {
	summary := apns.Reduce([]apns.Outcome{
		{Token: "ok", Kind: apns.Accepted},
		{Token: "dead", Kind: apns.ProtocolFailure, Err: &apns.ProtocolError{Status: 410, Reason: "Unregistered", Timestamp: 1700000000000}},
		{Token: "odd", Kind: apns.ProtocolFailure, Err: &apns.ProtocolError{Body: []byte("garbage")}},
	})

	raw, err := json.Marshal(summary)
	require.NoError(t, err)

	var decoded struct {
		Method  string `json:"method"`
		Success int    `json:"success"`
		Failure int    `json:"failure"`
		Message []struct {
			RegID    string          `json:"regId"`
			Error    json.RawMessage `json:"error"`
			ErrorMsg string          `json:"errorMsg"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "apn", decoded.Method)
	assert.Equal(t, "null", string(decoded.Message[0].Error))

	var dead map[string]any
	require.NoError(t, json.Unmarshal(decoded.Message[1].Error, &dead))
	assert.Equal(t, "protocol", dead["kind"])
	assert.Equal(t, "Unregistered", dead["reason"])
	assert.EqualValues(t, 410, dead["status"])

	// Even without reason or status the error keeps the same object shape.
	var odd map[string]any
	require.NoError(t, json.Unmarshal(decoded.Message[2].Error, &odd))
	assert.Equal(t, "protocol", odd["kind"])
	assert.Equal(t, "garbage", decoded.Message[2].ErrorMsg)
}

func TestInvalidTokens(t *testing.T) {
	summary := apns.Reduce([]apns.Outcome{
		{Token: "ok", Kind: apns.Accepted},
		{Token: "bad", Kind: apns.ProtocolFailure, Err: &apns.ProtocolError{Status: 400, Reason: "BadDeviceToken"}},
		{Token: "gone", Kind: apns.ProtocolFailure, Err: &apns.ProtocolError{Status: 410, Reason: "Unregistered", Timestamp: 1700000000000}},
		{Token: "busy", Kind: apns.ProtocolFailure, Err: &apns.ProtocolError{Status: 429, Reason: "TooManyRequests"}},
		{Token: "net", Kind: apns.TransportFailure, Err: &apns.TransportError{Err: errors.New("reset")}},
	})

	invalid := summary.InvalidTokens()

	require.Len(t, invalid, 2)
	assert.Equal(t, "bad", invalid[0].Token)
	assert.Equal(t, "gone", invalid[1].Token)
	assert.Equal(t, int64(1700000000), invalid[1].Since.Unix())
}

func TestOutcomeRetryable(t *testing.T) {
	assert.True(t, apns.Outcome{Kind: apns.TransportFailure, Err: &apns.TransportError{Err: errors.New("x")}}.Retryable())
	assert.False(t, apns.Outcome{Kind: apns.TransportFailure, Err: apns.ErrClosed}.Retryable())
	assert.True(t, apns.Outcome{Kind: apns.ProtocolFailure, Err: &apns.ProtocolError{Status: 503}}.Retryable())
	assert.False(t, apns.Outcome{Kind: apns.ProtocolFailure, Err: &apns.ProtocolError{Status: 400}}.Retryable())
	assert.False(t, apns.Outcome{Kind: apns.Accepted}.Retryable())
}

func TestOutcomeProviderTokenExpired(t *testing.T) {
	expired := apns.Outcome{Kind: apns.ProtocolFailure, Err: &apns.ProtocolError{Status: 403, Reason: "ExpiredProviderToken"}}
	assert.True(t, expired.ProviderTokenExpired())
	assert.False(t, expired.Retryable(), "only the single resend is allowed")

	other := apns.Outcome{Kind: apns.ProtocolFailure, Err: &apns.ProtocolError{Status: 403, Reason: "InvalidProviderToken"}}
	assert.False(t, other.ProviderTokenExpired())
}
