// Package apnsservice is the public entry point: a Client that sends batches to
// APNs, and the Wrapper that exposes it over HTTP and Pub/Sub.
package apnsservice

import (
	"context"
	"log/slog"

	"github.com/tinywideclouds/go-apns-service/apnsservice/config"
	"github.com/tinywideclouds/go-apns-service/internal/engine"
	"github.com/tinywideclouds/go-apns-service/internal/session"
	"github.com/tinywideclouds/go-apns-service/pkg/apns"
)

// Client implements dispatch.Sender against the APNs gateway.
//
// Construction never fails. When the session cannot be opened (bad
// credentials, unreachable gateway with EagerConnect) the error is logged and
// kept, and every Send returns it until a new Client is built.
type Client struct {
	session *session.Manager
	engine  *engine.Engine
	err     error
	logger  *slog.Logger
}

// NewClient opens a gateway session from cfg.
func NewClient(cfg config.APNSConfig, logger *slog.Logger) *Client {
	return newClient(sessionConfig(cfg), engineConfig(cfg), logger)
}

func newClient(sc session.Config, ec engine.Config, logger *slog.Logger) *Client {
	logger = logger.With("component", "APNSClient")

	m, err := session.Open(sc, logger)
	if err != nil {
		logger.Error("Failed to open APNs session; all sends will fail", "err", err)
		return &Client{err: err, logger: logger}
	}
	return &Client{
		session: m,
		engine:  engine.New(m, ec, logger),
		logger:  logger,
	}
}

// Send delivers payload to every token. See engine.Engine.SendBatch.
func (c *Client) Send(ctx context.Context, tokens []string, payload apns.Payload, opts apns.Options) (*apns.Summary, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.engine.SendBatch(ctx, tokens, payload, opts)
}

// Err returns the stored construction error, if any.
func (c *Client) Err() error {
	return c.err
}

// Shutdown closes the gateway session. It is idempotent.
func (c *Client) Shutdown() {
	c.session.Shutdown()
}

func sessionConfig(cfg config.APNSConfig) session.Config {
	sc := session.Config{
		Endpoint:       cfg.Endpoint,
		Sandbox:        cfg.Sandbox,
		Topic:          cfg.Topic,
		Connections:    cfg.Connections,
		KeyID:          cfg.KeyID,
		TeamID:         cfg.TeamID,
		AuthKeyFile:    cfg.AuthKeyFile,
		CertFile:       cfg.CertFile,
		CertPassword:   cfg.CertPassword,
		EagerConnect:   cfg.EagerConnect,
		RequestTimeout: cfg.RequestTimeout,
		IdleTimeout:    cfg.IdleTimeout,
	}
	if cfg.AuthKey != "" {
		sc.AuthKey = []byte(cfg.AuthKey)
	}
	return sc
}

func engineConfig(cfg config.APNSConfig) engine.Config {
	return engine.Config{
		MaxConcurrency: cfg.MaxConcurrency,
		Retry: engine.RetryConfig{
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
			MaxElapsedTime:  cfg.Retry.MaxElapsedTime,
		},
	}
}
