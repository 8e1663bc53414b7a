// Package engine fans a batch out to the gateway, one request per device token,
// retries what may still succeed and folds the outcomes into a Summary.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tinywideclouds/go-apns-service/internal/encoder"
	"github.com/tinywideclouds/go-apns-service/internal/session"
	"github.com/tinywideclouds/go-apns-service/pkg/apns"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/tinywideclouds/go-apns-service/internal/engine"

// DefaultMaxConcurrency bounds the requests of one batch in flight at once.
const DefaultMaxConcurrency = 100

// Gateway is the transport the engine sends through. *session.Manager
// implements it.
type Gateway interface {
	Send(ctx context.Context, r *encoder.Request) (*session.Response, error)
	Closed() bool
}

// Config tunes the engine.
type Config struct {
	MaxConcurrency int
	Retry          RetryConfig
	// Now is the clock used for default expiry; time.Now when nil.
	Now func() time.Time
}

// Engine dispatches batches. It is safe for concurrent use.
type Engine struct {
	gw     Gateway
	cfg    Config
	logger *slog.Logger

	tracer   trace.Tracer
	sent     metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates an Engine sending through gw.
func New(gw Gateway, cfg Config, logger *slog.Logger) *Engine {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Retry = cfg.Retry.withDefaults()

	e := &Engine{
		gw:     gw,
		cfg:    cfg,
		logger: logger.With("component", "DispatchEngine"),
		tracer: otel.Tracer(instrumentationName),
	}

	meter := otel.Meter(instrumentationName)
	var err error
	e.sent, err = meter.Int64Counter(
		"apns_notifications_total",
		metric.WithDescription("Notifications delivered to the gateway, by final outcome"),
	)
	if err != nil {
		e.logger.Warn("Failed to create notifications counter", "err", err)
		e.sent = noop.Int64Counter{}
	}
	e.duration, err = meter.Float64Histogram(
		"apns_send_duration_seconds",
		metric.WithDescription("Time to a final outcome for one notification, retries included"),
		metric.WithUnit("s"),
	)
	if err != nil {
		e.logger.Warn("Failed to create send duration histogram", "err", err)
		e.duration = noop.Float64Histogram{}
	}
	return e
}

func (e *Engine) now() time.Time { return e.cfg.Now() }

// SendBatch delivers payload to every token and returns one detail per token,
// in input order. The returned error is set only when the batch as a whole
// could not start: the gateway is closed or the payload cannot be encoded.
func (e *Engine) SendBatch(ctx context.Context, tokens []string, payload apns.Payload, opts apns.Options) (*apns.Summary, error) {
	ctx, span := e.tracer.Start(ctx, "apns.send_batch",
		trace.WithAttributes(attribute.Int("apns.tokens", len(tokens))),
	)
	defer span.End()

	if e.gw.Closed() {
		span.RecordError(apns.ErrClosed)
		span.SetStatus(codes.Error, apns.ErrClosed.Error())
		return nil, apns.ErrClosed
	}

	tmpl, err := encoder.Encode(payload, opts, e.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	outcomes := make([]apns.Outcome, len(tokens))
	var g errgroup.Group
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, token := range tokens {
		g.Go(func() error {
			outcomes[i] = e.deliver(ctx, tmpl.For(token))
			return nil
		})
	}
	_ = g.Wait()

	summary := apns.Reduce(outcomes)
	span.SetAttributes(
		attribute.Int("apns.success", summary.Success),
		attribute.Int("apns.failure", summary.Failure),
	)
	span.SetStatus(codes.Ok, "")
	e.logger.Debug("Batch dispatched", "tokens", len(tokens), "success", summary.Success, "failure", summary.Failure)
	return summary, nil
}

// deliver sends one request until it is accepted, fails permanently or the
// retry policy gives up. It always yields exactly one outcome.
func (e *Engine) deliver(ctx context.Context, r *encoder.Request) apns.Outcome {
	start := time.Now()
	var (
		out       apns.Outcome
		attempt   int
		refreshed bool
	)

	op := func() error {
		attempt++
		resp, err := e.gw.Send(ctx, r)
		out = classify(r, resp, err)
		// The session re-signs after an expired provider token, so one
		// immediate resend is outside the retry budget.
		if out.ProviderTokenExpired() && !refreshed {
			refreshed = true
			e.logger.Debug("Provider token expired, resending", "token", r.Token)
			resp, err = e.gw.Send(ctx, r)
			out = classify(r, resp, err)
		}
		if out.Kind == apns.Accepted || !out.Retryable() {
			return nil
		}
		return out.Err
	}
	notify := func(err error, wait time.Duration) {
		e.logger.Debug("Retrying notification", "token", r.Token, "attempt", attempt, "wait", wait, "err", err)
	}
	_ = backoff.RetryNotify(op, e.policy(ctx, r), notify)

	e.record(ctx, out, time.Since(start))
	return out
}

func (e *Engine) record(ctx context.Context, out apns.Outcome, elapsed time.Duration) {
	attrs := []attribute.KeyValue{attribute.String("status", out.Kind.String())}
	var pe *apns.ProtocolError
	if errors.As(out.Err, &pe) {
		attrs = append(attrs, attribute.String("reason", pe.Key()))
	}
	set := metric.WithAttributes(attrs...)
	e.sent.Add(ctx, 1, set)
	e.duration.Record(ctx, elapsed.Seconds(), set)

	if out.Kind != apns.Accepted {
		e.logger.Warn("Notification not delivered", "token", out.Token, "apns_id", out.ApnsID, "kind", out.Kind.String(), "err", out.Message())
	}
}
