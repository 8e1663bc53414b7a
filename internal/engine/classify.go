package engine

import (
	"encoding/json"
	"errors"

	"github.com/tinywideclouds/go-apns-service/internal/encoder"
	"github.com/tinywideclouds/go-apns-service/internal/session"
	"github.com/tinywideclouds/go-apns-service/pkg/apns"
)

// classify turns one gateway exchange into an Outcome. This is the only place
// the outcome kind is decided.
func classify(r *encoder.Request, resp *session.Response, err error) apns.Outcome {
	out := apns.Outcome{Token: r.Token, ApnsID: r.ID}

	switch {
	case errors.Is(err, apns.ErrClosed):
		out.Kind = apns.TransportFailure
		out.Err = apns.ErrClosed

	case err != nil:
		var te *apns.TransportError
		if !errors.As(err, &te) {
			te = &apns.TransportError{Err: err}
		}
		out.Kind = apns.TransportFailure
		out.Err = te

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		out.Kind = apns.Accepted
		if resp.ApnsID != "" {
			out.ApnsID = resp.ApnsID
		}

	default:
		out.Kind = apns.ProtocolFailure
		out.Err = decodeRejection(resp)
	}
	return out
}

// decodeRejection reads the {reason, timestamp} body. An undecodable body is
// kept raw so it can still identify the failure.
func decodeRejection(resp *session.Response) *apns.ProtocolError {
	pe := &apns.ProtocolError{Status: resp.StatusCode, Body: resp.Body}
	if len(resp.Body) == 0 {
		return pe
	}
	if err := json.Unmarshal(resp.Body, pe); err != nil {
		pe.Reason = ""
		pe.Timestamp = 0
	}
	return pe
}
