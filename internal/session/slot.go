package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/tinywideclouds/go-apns-service/pkg/apns"
	"golang.org/x/net/http2"
)

// slot holds one gateway connection. Its mutex serializes the connection's
// lifecycle (dial, replace, reap, close); requests on an established
// connection do not hold it.
type slot struct {
	id       int
	mu       sync.Mutex
	cc       *http2.ClientConn
	lastUsed time.Time
}

func (s *slot) get(ctx context.Context, m *Manager) (*http2.ClientConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.closed.Load() {
		return nil, apns.ErrClosed
	}
	if s.cc != nil && s.cc.CanTakeNewRequest() {
		s.lastUsed = time.Now()
		return s.cc, nil
	}
	if s.cc != nil {
		go retire(s.cc, m.cfg.DialTimeout)
		s.cc = nil
	}

	cc, err := m.dial(ctx)
	if err != nil {
		return nil, err
	}
	s.cc = cc
	s.lastUsed = time.Now()
	return cc, nil
}

// discard drops cc if it is still the slot's connection.
func (s *slot) discard(cc *http2.ClientConn, grace time.Duration) {
	s.mu.Lock()
	if s.cc == cc {
		s.cc = nil
	}
	s.mu.Unlock()
	go retire(cc, grace)
}

func (s *slot) reapIdle(idle time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cc == nil || time.Since(s.lastUsed) < idle || s.cc.State().StreamsActive > 0 {
		return false
	}
	s.cc.Close()
	s.cc = nil
	return true
}

func (s *slot) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cc != nil {
		s.cc.Close()
		s.cc = nil
	}
}

func (s *slot) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cc != nil
}

// retire lets running streams finish, then closes the connection.
func retire(cc *http2.ClientConn, grace time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := cc.Shutdown(ctx); err != nil {
		cc.Close()
	}
}

func newNetDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{Timeout: timeout, KeepAlive: time.Minute}
}
