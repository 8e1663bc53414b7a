package apns

import (
	"encoding/json"
	"errors"
	"time"
)

// Summary is the caller-facing result of one batch.
type Summary struct {
	Method  string   `json:"method"`
	Success int      `json:"success"`
	Failure int      `json:"failure"`
	Message []Detail `json:"message"`
}

// Detail is the per-token entry of a Summary. Err is nil for accepted tokens.
type Detail struct {
	RegID    string
	Kind     OutcomeKind
	Err      error
	ErrorMsg string
}

type errorBody struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Reason    string `json:"reason,omitempty"`
	Status    int    `json:"status,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// MarshalJSON renders the error as null or as one consistent object shape.
func (d Detail) MarshalJSON() ([]byte, error) {
	wire := struct {
		RegID    string     `json:"regId"`
		Error    *errorBody `json:"error"`
		ErrorMsg string     `json:"errorMsg,omitempty"`
	}{RegID: d.RegID, ErrorMsg: d.ErrorMsg}

	if d.Err != nil {
		body := &errorBody{Kind: d.Kind.String(), Message: d.Err.Error()}
		var pe *ProtocolError
		if errors.As(d.Err, &pe) {
			body.Reason = pe.Reason
			body.Status = pe.Status
			body.Timestamp = pe.Timestamp
		}
		wire.Error = body
	}
	return json.Marshal(wire)
}

// Reduce folds per-token outcomes into a Summary. Every outcome yields exactly
// one detail entry, in input order.
func Reduce(outcomes []Outcome) *Summary {
	s := &Summary{
		Method:  Method,
		Message: make([]Detail, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		if o.Kind == Accepted {
			s.Success++
			s.Message = append(s.Message, Detail{RegID: o.Token, Kind: Accepted})
			continue
		}
		s.Failure++
		s.Message = append(s.Message, Detail{
			RegID:    o.Token,
			Kind:     o.Kind,
			Err:      o.Err,
			ErrorMsg: o.Message(),
		})
	}
	return s
}

// InvalidToken records a token the gateway reported as dead.
type InvalidToken struct {
	Token      string    `json:"token" firestore:"token"`
	Reason     string    `json:"reason" firestore:"reason"`
	Status     int       `json:"status" firestore:"status"`
	Since      time.Time `json:"since,omitempty" firestore:"since,omitempty"`
	RecordedAt time.Time `json:"recorded_at" firestore:"recorded_at"`
}

// InvalidTokens lists the rejected tokens that should be retired.
func (s *Summary) InvalidTokens() []InvalidToken {
	var out []InvalidToken
	for _, d := range s.Message {
		var pe *ProtocolError
		if !errors.As(d.Err, &pe) || !pe.TokenInvalid() {
			continue
		}
		out = append(out, InvalidToken{
			Token:  d.RegID,
			Reason: pe.Reason,
			Status: pe.Status,
			Since:  pe.Time(),
		})
	}
	return out
}
