package encoder

import (
	"time"

	"github.com/sideshow/apns2"
	"github.com/tinywideclouds/go-apns-service/pkg/apns"
)

// DefaultTTL applies when neither an expiry nor a time-to-live is supplied.
const DefaultTTL = 28 * 24 * time.Hour

// The functions below resolve each derived field. Each one documents its own
// precedence; the first present source wins.

// alertFor: explicit Alert, else an Alert synthesized from the legacy fields
// (nil when none of them is set). LocArgs falls back to BodyLocArgs. Alert
// structs come back as a *apns.Alert copy.
func alertFor(p apns.Payload) any {
	switch v := p.Alert.(type) {
	case nil:
	case *apns.Alert:
		c := *v
		return &c
	case apns.Alert:
		return &v
	default:
		return v
	}
	a := apns.Alert{
		Title:        p.Title,
		Body:         p.Body,
		TitleLocKey:  p.TitleLocKey,
		TitleLocArgs: p.TitleLocArgs,
		LocKey:       p.LocKey,
		LocArgs:      locArgsFor(p),
		LaunchImage:  p.LaunchImage,
		Action:       p.Action,
	}
	if a.IsZero() {
		return nil
	}
	return &a
}

// locArgsFor: LocArgs, else the deprecated BodyLocArgs.
func locArgsFor(p apns.Payload) []string {
	if len(p.LocArgs) > 0 {
		return p.LocArgs
	}
	return p.BodyLocArgs
}

// categoryFor: Category, else the legacy ClickAction.
func categoryFor(p apns.Payload) string {
	if p.Category != "" {
		return p.Category
	}
	return p.ClickAction
}

// mutableContentFor: 1 when set, else 0 (omitted from the payload).
func mutableContentFor(p apns.Payload) int {
	if p.MutableContent {
		return 1
	}
	return 0
}

// retryLimitFor: Options.Retries, else apns.RetryUnlimited. An explicit 0
// means a single attempt, not unlimited.
func retryLimitFor(o apns.Options) int {
	if o.Retries != nil {
		return *o.Retries
	}
	return apns.RetryUnlimited
}

// expiryFor: Options.Expiry, else now+TimeToLive, else now+DefaultTTL.
func expiryFor(o apns.Options, now time.Time) int64 {
	if o.Expiry > 0 {
		return o.Expiry
	}
	if o.TimeToLive != nil {
		return now.Unix() + *o.TimeToLive
	}
	return now.Add(DefaultTTL).Unix()
}

// priorityFor: "normal" is low priority, everything else is high.
func priorityFor(o apns.Options) int {
	if o.Priority == "normal" {
		return apns2.PriorityLow
	}
	return apns2.PriorityHigh
}

// topicFor: Options.Topic, else Payload.Topic. Empty lets the session apply
// its configured default.
func topicFor(p apns.Payload, o apns.Options) string {
	if o.Topic != "" {
		return o.Topic
	}
	return p.Topic
}

// pushTypeFor: mdm payloads, then silent background pushes, then alert.
func pushTypeFor(p apns.Payload, alert any) apns2.EPushType {
	switch {
	case p.MDM != "":
		return apns2.PushTypeMDM
	case p.ContentAvailable && alert == nil && p.Badge == nil && p.Sound == "":
		return apns2.PushTypeBackground
	default:
		return apns2.PushTypeAlert
	}
}
