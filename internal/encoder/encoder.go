// Package encoder turns a caller payload into the APNs wire request: the
// header set and the JSON body. It has no side effects; the only input besides
// the payload is the clock reading used for the default expiry.
package encoder

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/tinywideclouds/go-apns-service/pkg/apns"
)

// MaxPayloadSize is the gateway's limit for the JSON body in bytes.
const MaxPayloadSize = 4096

const maxTruncations = 3

// Template is the token-independent part of a request, encoded once per batch.
type Template struct {
	Body       []byte
	Topic      string
	CollapseID string
	Priority   int
	Expiration int64
	PushType   apns2.EPushType
	RetryLimit int
}

// Request is one DeliveryRequest: a Template bound to a device token.
type Request struct {
	*Template
	Token string
	ID    string
}

// Encode builds the shared Template for a batch.
func Encode(p apns.Payload, o apns.Options, now time.Time) (*Template, error) {
	alert := alertFor(p)
	body, err := encodeBody(p, alert)
	if err != nil {
		return nil, err
	}

	return &Template{
		Body:       body,
		Topic:      topicFor(p, o),
		CollapseID: p.CollapseKey,
		Priority:   priorityFor(o),
		Expiration: expiryFor(o, now),
		PushType:   pushTypeFor(p, alert),
		RetryLimit: retryLimitFor(o),
	}, nil
}

// For binds the template to a token with a fresh apns-id.
func (t *Template) For(token string) *Request {
	return &Request{
		Template: t,
		Token:    token,
		ID:       uuid.NewString(),
	}
}

// Header returns the apns-* header set for the request.
func (r *Request) Header() http.Header {
	h := make(http.Header)
	h.Set("content-type", "application/json; charset=utf-8")
	h.Set("apns-id", r.ID)
	h.Set("apns-expiration", strconv.FormatInt(r.Expiration, 10))
	h.Set("apns-priority", strconv.Itoa(r.Priority))
	h.Set("apns-push-type", string(r.PushType))
	if r.Topic != "" {
		h.Set("apns-topic", r.Topic)
	}
	if r.CollapseID != "" {
		h.Set("apns-collapse-id", r.CollapseID)
	}
	return h
}

// Expiry returns the expiration as a time.
func (r *Request) Expiry() time.Time { return time.Unix(r.Expiration, 0) }

func encodeBody(p apns.Payload, alert any) ([]byte, error) {
	body, err := marshal(p, alert)
	if err != nil {
		return nil, err
	}
	for i := 0; len(body) > MaxPayloadSize; i++ {
		text, shorten, ok := alertText(alert)
		if !ok || i == maxTruncations {
			return nil, fmt.Errorf("%w: %d bytes", apns.ErrPayloadTooLarge, len(body))
		}
		short := truncate(text, len(body)-MaxPayloadSize, p.TruncateAtWordEnd)
		if short == "" {
			return nil, fmt.Errorf("%w: %d bytes", apns.ErrPayloadTooLarge, len(body))
		}
		alert = shorten(short)
		if body, err = marshal(p, alert); err != nil {
			return nil, err
		}
	}
	return body, nil
}

func marshal(p apns.Payload, alert any) ([]byte, error) {
	body, err := json.Marshal(build(p, alert))
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return body, nil
}

// build assembles the APNs document from the resolved fields.
func build(p apns.Payload, alert any) *payload.Payload {
	pl := payload.NewPayload()
	if p.MDM != "" {
		return pl.Mdm(p.MDM)
	}

	switch a := alert.(type) {
	case nil:
	case *apns.Alert:
		pl.AlertTitle(a.Title).
			AlertBody(a.Body).
			AlertTitleLocKey(a.TitleLocKey).
			AlertTitleLocArgs(a.TitleLocArgs).
			AlertLocKey(a.LocKey).
			AlertLocArgs(a.LocArgs).
			AlertLaunchImage(a.LaunchImage).
			AlertAction(a.Action)
	default:
		pl.Alert(a)
	}

	if p.Badge != nil {
		if *p.Badge == 0 {
			pl.ZeroBadge()
		} else {
			pl.Badge(*p.Badge)
		}
	}
	if p.Sound != "" {
		pl.Sound(p.Sound)
	}
	if c := categoryFor(p); c != "" {
		pl.Category(c)
	}
	if p.ContentAvailable {
		pl.ContentAvailable()
	}
	if mutableContentFor(p) == 1 {
		pl.MutableContent()
	}
	if p.ThreadID != "" {
		pl.ThreadID(p.ThreadID)
	}
	if len(p.URLArgs) > 0 {
		pl.URLArgs(p.URLArgs)
	}
	for k, v := range p.Custom {
		// "aps" belongs to the gateway.
		if k != "aps" {
			pl.Custom(k, v)
		}
	}
	return pl
}

// alertText exposes the alert body that may be shortened, and a function that
// returns a copy of the alert carrying the shorter body. Caller-supplied alerts
// are never modified.
func alertText(alert any) (string, func(string) any, bool) {
	switch v := alert.(type) {
	case string:
		return v, func(s string) any { return s }, v != ""
	case *apns.Alert:
		return v.Body, func(s string) any {
			c := *v
			c.Body = s
			return &c
		}, v.Body != ""
	case map[string]any:
		body, _ := v["body"].(string)
		return body, func(s string) any {
			c := maps.Clone(v)
			c["body"] = s
			return c
		}, body != ""
	}
	return "", nil, false
}

func truncate(s string, overflow int, atWordEnd bool) string {
	cut := len(s) - overflow
	if cut <= 0 {
		return ""
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	out := s[:cut]
	if atWordEnd {
		if i := strings.LastIndexFunc(out, unicode.IsSpace); i > 0 {
			out = out[:i]
		}
	}
	return strings.TrimRightFunc(out, unicode.IsSpace)
}
