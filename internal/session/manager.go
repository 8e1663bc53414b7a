// Package session owns the multiplexed HTTP/2 connections to the APNs gateway.
// Connections are dialed lazily (or once eagerly at Open), reused across
// requests, replaced after transport failures, reaped when idle and closed on
// Shutdown.
package session

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-apns-service/internal/encoder"
	"github.com/tinywideclouds/go-apns-service/pkg/apns"
	"golang.org/x/net/http2"
)

const maxResponseBody = 64 << 10

// Response is the raw gateway reply to one request.
type Response struct {
	StatusCode int
	ApnsID     string
	Body       []byte
}

// Manager is a gateway session shared by all concurrent sends.
type Manager struct {
	cfg       Config
	endpoint  *url.URL
	addr      string
	tlsConfig *tls.Config
	transport *http2.Transport
	token     *token.Token
	slots     []*slot
	next      atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	logger *slog.Logger
}

// Open validates the configuration and credentials and returns a session.
// Every error it returns is an *apns.ConfigError.
func Open(cfg Config, logger *slog.Logger) (*Manager, error) {
	cfg = cfg.withDefaults()

	endpoint, addr, err := parseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, &apns.ConfigError{Op: "endpoint", Err: err}
	}
	tlsConfig := newTLSConfig(cfg, endpoint.Hostname())
	tok, err := loadCredentials(cfg, tlsConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		endpoint:  endpoint,
		addr:      addr,
		tlsConfig: tlsConfig,
		transport: &http2.Transport{
			ReadIdleTimeout: cfg.ReadIdleTimeout,
			PingTimeout:     cfg.PingTimeout,
		},
		token:  tok,
		slots:  make([]*slot, cfg.Connections),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("component", "APNSSession", "gateway", addr),
	}
	for i := range m.slots {
		m.slots[i] = &slot{id: i}
	}

	if cfg.EagerConnect {
		dialCtx, dialCancel := context.WithTimeout(ctx, cfg.DialTimeout)
		_, err := m.slots[0].get(dialCtx, m)
		dialCancel()
		if err != nil {
			m.Shutdown()
			return nil, &apns.ConfigError{Op: "connect", Err: err}
		}
	}

	go m.reapLoop()
	m.logger.Info("Gateway session opened", "connections", cfg.Connections, "token_auth", tok != nil)
	return m, nil
}

// Send posts one request and waits for the gateway reply or the request
// timeout. A non-2xx reply is not an error here; errors are
// *apns.TransportError or apns.ErrClosed.
func (m *Manager) Send(ctx context.Context, r *encoder.Request) (*Response, error) {
	if m.closed.Load() {
		return nil, apns.ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	s := m.slots[m.next.Add(1)%uint64(len(m.slots))]
	cc, err := s.get(ctx, m)
	if err != nil {
		return nil, m.transportError(err)
	}

	req, err := m.newRequest(ctx, r)
	if err != nil {
		return nil, m.transportError(err)
	}

	resp, err := cc.RoundTrip(req)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("Gateway connection failed, replacing", "slot", s.id, "err", err)
			s.discard(cc, m.cfg.DialTimeout)
		}
		return nil, m.transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, m.transportError(err)
	}

	if resp.StatusCode == http.StatusForbidden && m.token != nil &&
		bytes.Contains(body, []byte(apns2.ReasonExpiredProviderToken)) {
		m.token.Lock()
		m.token.IssuedAt = 0
		m.token.Unlock()
	}

	return &Response{
		StatusCode: resp.StatusCode,
		ApnsID:     resp.Header.Get("apns-id"),
		Body:       body,
	}, nil
}

// Closed reports whether Shutdown has been called.
func (m *Manager) Closed() bool {
	return m == nil || m.closed.Load()
}

// Shutdown closes every connection and fails in-flight sends with
// apns.ErrClosed. It is idempotent and safe on a nil Manager.
func (m *Manager) Shutdown() {
	if m == nil {
		return
	}
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		m.cancel()
		for _, s := range m.slots {
			s.close()
		}
		m.logger.Info("Gateway session closed")
	})
}

// ActiveConnections returns the number of open gateway connections.
func (m *Manager) ActiveConnections() int {
	n := 0
	for _, s := range m.slots {
		if s.active() {
			n++
		}
	}
	return n
}

func (m *Manager) newRequest(ctx context.Context, r *encoder.Request) (*http.Request, error) {
	u := *m.endpoint
	u.Path = "/3/device/" + url.PathEscape(r.Token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(r.Body))
	if err != nil {
		return nil, err
	}
	req.Header = r.Header()
	if r.Topic == "" && m.cfg.Topic != "" {
		req.Header.Set("apns-topic", m.cfg.Topic)
	}
	if m.token != nil {
		req.Header.Set("authorization", "bearer "+m.token.GenerateIfExpired())
	}
	return req, nil
}

func (m *Manager) dial(ctx context.Context) (*http2.ClientConn, error) {
	d := &tls.Dialer{Config: m.tlsConfig}
	d.NetDialer = newNetDialer(m.cfg.DialTimeout)

	nc, err := d.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		return nil, err
	}
	if proto := nc.(*tls.Conn).ConnectionState().NegotiatedProtocol; proto != http2.NextProtoTLS {
		nc.Close()
		return nil, fmt.Errorf("gateway negotiated %q instead of %s", proto, http2.NextProtoTLS)
	}
	cc, err := m.transport.NewClientConn(nc)
	if err != nil {
		nc.Close()
		return nil, err
	}
	m.logger.Debug("Gateway connection established")
	return cc, nil
}

func (m *Manager) transportError(err error) error {
	if m.closed.Load() || errors.Is(err, apns.ErrClosed) {
		return apns.ErrClosed
	}
	return &apns.TransportError{Err: err}
}

func (m *Manager) reapLoop() {
	ticker := time.NewTicker(m.cfg.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			for _, s := range m.slots {
				if s.reapIdle(m.cfg.IdleTimeout) {
					m.logger.Debug("Closed idle gateway connection", "slot", s.id)
				}
			}
		}
	}
}
