package backtest

import (
	"context"
	"sync"

	"algotrader/internal/logger"
)

// DriverLink is the live control channel to the simulation driver. At
// most one driver is trusted at a time.
type DriverLink interface {
	// Stop instructs the driver to halt its simulation loop.
	Stop(ctx context.Context) error
	Close() error
}

// Session owns the replaceable driver reference and the availability
// flag, replacing the ambient global the old service kept. Registering
// a new link silently supersedes the previous one; clearing is
// idempotent.
type Session struct {
	mu        sync.Mutex
	driver    DriverLink
	available bool
}

func NewSession() *Session {
	return &Session{available: true}
}

// Register installs the driver link, closing any superseded one.
func (s *Session) Register(link DriverLink) {
	s.mu.Lock()
	old := s.driver
	s.driver = link
	s.available = link != nil
	s.mu.Unlock()
	if old != nil && old != link {
		if err := old.Close(); err != nil {
			logger.Debugf("session: closing superseded driver link: %v", err)
		}
	}
}

// Clear drops the driver reference. Safe to call repeatedly; an
// unavailable driver is no longer trusted to respond.
func (s *Session) Clear() {
	s.mu.Lock()
	old := s.driver
	s.driver = nil
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

// Drop clears the session only when link is still the registered
// driver. A superseded link disconnecting late must not evict its
// replacement.
func (s *Session) Drop(link DriverLink) {
	s.mu.Lock()
	if s.driver != link {
		s.mu.Unlock()
		return
	}
	s.driver = nil
	s.mu.Unlock()
	_ = link.Close()
}

// StopDriver signals the registered driver to halt, if one is
// connected. Returns false when no driver is registered.
func (s *Session) StopDriver(ctx context.Context) (bool, error) {
	s.mu.Lock()
	link := s.driver
	s.mu.Unlock()
	if link == nil {
		return false, nil
	}
	return true, link.Stop(ctx)
}

func (s *Session) SetAvailable(available bool) {
	s.mu.Lock()
	s.available = available
	s.mu.Unlock()
}

func (s *Session) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}
