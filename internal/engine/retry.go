package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tinywideclouds/go-apns-service/internal/encoder"
)

// RetryConfig shapes the exponential backoff between delivery attempts.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsedTime caps the total retry window of one notification. The
	// notification's own expiry caps it further.
	MaxElapsedTime time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 100 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
	if c.MaxElapsedTime <= 0 {
		c.MaxElapsedTime = 2 * time.Minute
	}
	return c
}

// policy builds the backoff for one request. A retry limit of zero, an
// exhausted time budget or a done context all mean a single attempt.
func (e *Engine) policy(ctx context.Context, r *encoder.Request) backoff.BackOff {
	if r.RetryLimit == 0 {
		return &backoff.StopBackOff{}
	}

	budget := r.Expiry().Sub(e.now())
	if e.cfg.Retry.MaxElapsedTime < budget {
		budget = e.cfg.Retry.MaxElapsedTime
	}
	if budget <= 0 {
		return &backoff.StopBackOff{}
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = e.cfg.Retry.InitialInterval
	eb.MaxInterval = e.cfg.Retry.MaxInterval
	eb.MaxElapsedTime = budget

	var b backoff.BackOff = eb
	if r.RetryLimit > 0 {
		b = backoff.WithMaxRetries(b, uint64(r.RetryLimit))
	}
	return backoff.WithContext(b, ctx)
}
