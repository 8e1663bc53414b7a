package apns

import "errors"

// OutcomeKind tags the variant of an Outcome.
type OutcomeKind int

const (
	Accepted OutcomeKind = iota
	TransportFailure
	ProtocolFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case TransportFailure:
		return "transport"
	case ProtocolFailure:
		return "protocol"
	}
	return "unknown"
}

// Outcome is the result of delivering one notification to one token. The kind
// is decided once at the transport boundary; Err is nil only for Accepted,
// *TransportError or ErrClosed for TransportFailure and *ProtocolError for
// ProtocolFailure.
type Outcome struct {
	Token  string
	Kind   OutcomeKind
	ApnsID string
	Err    error
}

// Message returns the human-readable identity of a failure.
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	var pe *ProtocolError
	if errors.As(o.Err, &pe) {
		return pe.Key()
	}
	var te *TransportError
	if errors.As(o.Err, &te) && te.Err != nil {
		return te.Err.Error()
	}
	return o.Err.Error()
}

// ProviderTokenExpired reports whether the gateway rejected the provider
// token, not the notification.
func (o Outcome) ProviderTokenExpired() bool {
	var pe *ProtocolError
	return o.Kind == ProtocolFailure && errors.As(o.Err, &pe) && pe.ProviderTokenExpired()
}

// Retryable reports whether delivering the same request again may succeed.
func (o Outcome) Retryable() bool {
	switch o.Kind {
	case TransportFailure:
		return !errors.Is(o.Err, ErrClosed)
	case ProtocolFailure:
		var pe *ProtocolError
		return errors.As(o.Err, &pe) && pe.Retryable()
	}
	return false
}
