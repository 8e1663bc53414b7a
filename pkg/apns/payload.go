// Package apns contains the public domain model of the APNs delivery client:
// the caller-supplied payload, per-token outcomes, the batch summary and the
// error taxonomy shared by every layer.
package apns

// Method tags every Summary produced by this client.
const Method = "apn"

// RetryUnlimited is the retry limit used when the caller does not supply one.
const RetryUnlimited = -1

// Alert is the synthesized alert dictionary. It is encoded through the
// apns2 payload builder; fields that were not supplied are left out.
type Alert struct {
	Title        string   `json:"title,omitempty"`
	Body         string   `json:"body,omitempty"`
	TitleLocKey  string   `json:"title-loc-key,omitempty"`
	TitleLocArgs []string `json:"title-loc-args,omitempty"`
	LocKey       string   `json:"loc-key,omitempty"`
	LocArgs      []string `json:"loc-args,omitempty"`
	LaunchImage  string   `json:"launch-image,omitempty"`
	Action       string   `json:"action,omitempty"`
}

// IsZero reports whether no alert field was supplied.
func (a Alert) IsZero() bool {
	return a.Title == "" && a.Body == "" && a.TitleLocKey == "" && len(a.TitleLocArgs) == 0 &&
		a.LocKey == "" && len(a.LocArgs) == 0 && a.LaunchImage == "" && a.Action == ""
}

// Payload is the already-validated notification content for a batch. It is
// shared by every token in the batch and never modified by the client.
type Payload struct {
	// Alert, when non-nil, is used verbatim (a string, an Alert or a decoded
	// JSON object) and the legacy title/body/localization fields below are
	// ignored. Only its body is ever shortened to fit the size limit.
	Alert any `json:"alert,omitempty"`

	Title        string   `json:"title,omitempty"`
	Body         string   `json:"body,omitempty"`
	TitleLocKey  string   `json:"titleLocKey,omitempty"`
	TitleLocArgs []string `json:"titleLocArgs,omitempty"`
	LocKey       string   `json:"locKey,omitempty"`
	LocArgs      []string `json:"locArgs,omitempty"`
	// Deprecated: use LocArgs. Still honored when LocArgs is empty.
	BodyLocArgs []string `json:"bodyLocArgs,omitempty"`
	LaunchImage string   `json:"launchImage,omitempty"`
	Action      string   `json:"action,omitempty"`

	Badge       *int   `json:"badge,omitempty"`
	Sound       string `json:"sound,omitempty"`
	Category    string `json:"category,omitempty"`
	ClickAction string `json:"clickAction,omitempty"`

	ContentAvailable  bool           `json:"contentAvailable,omitempty"`
	MutableContent    bool           `json:"mutableContent,omitempty"`
	Custom            map[string]any `json:"custom,omitempty"`
	Topic             string         `json:"topic,omitempty"`
	ThreadID          string         `json:"threadId,omitempty"`
	URLArgs           []string       `json:"urlArgs,omitempty"`
	TruncateAtWordEnd bool           `json:"truncateAtWordEnd,omitempty"`
	CollapseKey       string         `json:"collapseKey,omitempty"`
	Encoding          string         `json:"encoding,omitempty"`
	MDM               string         `json:"mdm,omitempty"`
}

// Options carries the per-call delivery settings.
type Options struct {
	// Retries caps the retries of a single token. Nil means RetryUnlimited;
	// an explicit 0 disables retries, unlike older clients that read 0 as
	// unlimited.
	Retries *int `json:"retries,omitempty"`
	// Expiry is an absolute expiration in epoch seconds. Zero means unset.
	Expiry int64 `json:"expiry,omitempty"`
	// TimeToLive in seconds, used only when Expiry is unset.
	TimeToLive *int64 `json:"timeToLive,omitempty"`
	// Priority "normal" selects the low priority class; anything else is high.
	Priority string `json:"priority,omitempty"`
	// Topic overrides Payload.Topic.
	Topic string `json:"topic,omitempty"`
}

// PushRequest is the wire shape accepted by the HTTP API and the ingestion pipeline.
type PushRequest struct {
	Tokens  []string `json:"tokens"`
	Payload Payload  `json:"payload"`
	Options Options  `json:"options"`
}
