package session

import (
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-apns-service/pkg/apns"
	"golang.org/x/net/http2"
)

// Config holds everything needed to open a gateway session.
type Config struct {
	// Endpoint overrides the gateway URL chosen by Sandbox.
	Endpoint string
	Sandbox  bool
	// Topic is the default apns-topic (the app bundle ID).
	Topic string
	// Connections is the number of multiplexed connections kept to the gateway.
	Connections int

	// Token authentication (.p8 signing key).
	KeyID       string
	TeamID      string
	AuthKey     []byte
	AuthKeyFile string

	// Certificate authentication (.p12 or .pem).
	CertFile     string
	CertPassword string

	// RootCAs replaces the system pool, e.g. for a private gateway.
	RootCAs *x509.CertPool
	// EagerConnect dials one connection in Open so an unreachable gateway is
	// reported as a configuration error.
	EagerConnect bool

	DialTimeout     time.Duration
	RequestTimeout  time.Duration
	IdleTimeout     time.Duration
	ReadIdleTimeout time.Duration
	PingTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = apns2.HostProduction
		if c.Sandbox {
			c.Endpoint = apns2.HostDevelopment
		}
	}
	if c.Connections <= 0 {
		c.Connections = 1
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = 30 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 15 * time.Second
	}
	return c
}

func parseEndpoint(raw string) (*url.URL, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, "", err
	}
	if u.Scheme != "https" || u.Host == "" {
		return nil, "", fmt.Errorf("endpoint %q must be an https URL", raw)
	}
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "443")
	}
	return u, addr, nil
}

func newTLSConfig(cfg Config, host string) *tls.Config {
	return &tls.Config{
		ServerName: host,
		RootCAs:    cfg.RootCAs,
		NextProtos: []string{http2.NextProtoTLS},
		MinVersion: tls.VersionTLS12,
	}
}

// loadCredentials returns a provider token for token auth, or installs the
// client certificate into tlsConfig for certificate auth.
func loadCredentials(cfg Config, tlsConfig *tls.Config) (*token.Token, error) {
	switch {
	case len(cfg.AuthKey) > 0 || cfg.AuthKeyFile != "":
		if len(cfg.KeyID) != 10 {
			return nil, &apns.ConfigError{Op: "provider token", Err: errors.New("key id must be 10 characters")}
		}
		if len(cfg.TeamID) != 10 {
			return nil, &apns.ConfigError{Op: "provider token", Err: errors.New("team id must be 10 characters")}
		}
		var (
			key *ecdsa.PrivateKey
			err error
		)
		if len(cfg.AuthKey) > 0 {
			key, err = token.AuthKeyFromBytes(cfg.AuthKey)
		} else {
			key, err = token.AuthKeyFromFile(cfg.AuthKeyFile)
		}
		if err != nil {
			return nil, &apns.ConfigError{Op: "provider token", Err: fmt.Errorf("failed to parse APNs P8 key: %w", err)}
		}
		t := &token.Token{AuthKey: key, KeyID: cfg.KeyID, TeamID: cfg.TeamID}
		if _, err := t.Generate(); err != nil {
			return nil, &apns.ConfigError{Op: "provider token", Err: err}
		}
		return t, nil

	case cfg.CertFile != "":
		var (
			cert tls.Certificate
			err  error
		)
		if strings.HasSuffix(strings.ToLower(cfg.CertFile), ".p12") {
			cert, err = certificate.FromP12File(cfg.CertFile, cfg.CertPassword)
		} else {
			cert, err = certificate.FromPemFile(cfg.CertFile, cfg.CertPassword)
		}
		if err != nil {
			return nil, &apns.ConfigError{Op: "certificate", Err: err}
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
		return nil, nil
	}
	return nil, &apns.ConfigError{Op: "credentials", Err: errors.New("no provider token or certificate configured")}
}
