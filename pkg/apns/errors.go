package apns

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sideshow/apns2"
)

var (
	// ErrClosed is returned for any send attempted during or after shutdown.
	ErrClosed = errors.New("apns: session closed")
	// ErrPayloadTooLarge is returned when the encoded payload cannot be made to fit.
	ErrPayloadTooLarge = errors.New("apns: payload is too large")
)

// ConfigError is a construction-time failure: bad endpoint, missing or
// malformed credentials, or an unreachable gateway when connecting eagerly.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("apns config: %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// TransportError means no gateway reply was received for a request.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "apns transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is an explicit rejection by the gateway.
type ProtocolError struct {
	// The HTTP status code:
	// 	400 - Bad request
	// 	403 - There was an error with the certificate or provider token.
	// 	405 - The request used a bad :method value.
	// 	410 - The device token is no longer active for the topic.
	// 	413 - The notification payload was too large.
	// 	429 - Too many requests for the same device token.
	// 	500 - Internal server error
	// 	503 - The server is shutting down and unavailable.
	Status int `json:"-"`

	Reason string `json:"reason"`

	// If Status is 410, the last time (milliseconds since epoch) at which
	// APNs confirmed that the token was no longer valid for the topic.
	Timestamp int64 `json:"timestamp"`

	// Body is the raw response body.
	Body []byte `json:"-"`
}

// Key is the classification identity of the rejection: the reason when the
// gateway supplied one, else the numeric status, else the raw body.
func (e *ProtocolError) Key() string {
	switch {
	case e.Reason != "":
		return e.Reason
	case e.Status != 0:
		return strconv.Itoa(e.Status)
	default:
		return string(e.Body)
	}
}

func (e *ProtocolError) Error() string {
	msg, ok := reasons[e.Reason]
	if !ok {
		if msg = http.StatusText(e.Status); msg == "" {
			msg = e.Key()
		}
	}
	return fmt.Sprintf("apns: %s (%d): %s", e.Key(), e.Status, msg)
}

// Time returns the parsed timestamp, or the zero time when absent.
func (e *ProtocolError) Time() time.Time {
	if e.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(e.Timestamp)
}

// TokenInvalid reports whether the rejection means the device token is dead
// and should not be used again until the device re-registers.
func (e *ProtocolError) TokenInvalid() bool {
	switch e.Reason {
	case apns2.ReasonMissingDeviceToken, apns2.ReasonBadDeviceToken,
		apns2.ReasonDeviceTokenNotForTopic, apns2.ReasonUnregistered:
		return true
	}
	return false
}

// ProviderTokenExpired reports a rejection of the signed bearer token rather
// than of the notification. The session signs a fresh one on the next request.
func (e *ProtocolError) ProviderTokenExpired() bool {
	return e.Status == http.StatusForbidden && e.Reason == apns2.ReasonExpiredProviderToken
}

// Retryable reports whether the same request may succeed later.
func (e *ProtocolError) Retryable() bool {
	switch e.Status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		return true
	}
	return false
}

var reasons = map[string]string{
	"PayloadEmpty":              "The message payload was empty.",
	"PayloadTooLarge":           "The message payload was too large. The maximum payload size is 4096 bytes.",
	"BadTopic":                  "The apns-topic was invalid.",
	"TopicDisallowed":           "Pushing to this topic is not allowed.",
	"BadMessageId":              "The apns-id value is bad.",
	"BadExpirationDate":         "The apns-expiration value is bad.",
	"BadPriority":               "The apns-priority value is bad.",
	"MissingDeviceToken":        "The device token is not specified in the request :path.",
	"BadDeviceToken":            "The specified device token was bad.",
	"DeviceTokenNotForTopic":    "The device token does not match the specified topic.",
	"Unregistered":              "The device token is inactive for the specified topic.",
	"DuplicateHeaders":          "One or more headers were repeated.",
	"BadCertificateEnvironment": "The client certificate was for the wrong environment.",
	"BadCertificate":            "The certificate was bad.",
	"Forbidden":                 "The specified action is not allowed.",
	"BadPath":                   "The request contained a bad :path value.",
	"MethodNotAllowed":          "The specified :method was not POST.",
	"ExpiredProviderToken":      "The provider token is stale and a new token should be generated.",
	"InvalidProviderToken":      "The provider token is not valid or the token signature could not be verified.",
	"MissingProviderToken":      "No provider certificate was used to connect and the authorization header was missing.",
	"TooManyRequests":           "Too many requests were made consecutively to the same device token.",
	"IdleTimeout":               "Idle time out.",
	"Shutdown":                  "The server is shutting down.",
	"InternalServerError":       "An internal server error occurred.",
	"ServiceUnavailable":        "The service is unavailable.",
	"MissingTopic":              "The apns-topic header of the request was not specified and was required.",
}
