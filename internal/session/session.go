// Package session tracks the signed-in user's token. Ending the session
// tells every listener to drop token-derived state.
package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/nhle/logbook-notify/internal/logging"
)

// Reason says why a session ended.
type Reason string

const (
	ReasonLogout       Reason = "logout"
	ReasonUnauthorized Reason = "unauthorized"
	ReasonShutdown     Reason = "shutdown"
)

// Session holds the current token.
type Session struct {
	log *zap.Logger

	mu        sync.Mutex
	token     string
	nextID    int
	listeners map[int]func(Reason)
}

// New starts a session with token. An empty token yields an inactive
// session.
func New(token string, logger *zap.Logger) *Session {
	return &Session{
		token:     token,
		log:       logging.OrNop(logger).Named("session"),
		listeners: make(map[int]func(Reason)),
	}
}

// Token returns the current token, or "" once ended.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Active reports whether a token is held.
func (s *Session) Active() bool {
	return s.Token() != ""
}

// End clears the token and notifies listeners once. Later calls do
// nothing.
func (s *Session) End(reason Reason) {
	s.mu.Lock()
	if s.token == "" {
		s.mu.Unlock()
		return
	}
	s.token = ""
	fns := make([]func(Reason), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	s.log.Info("session ended", zap.String("reason", string(reason)))
	for _, fn := range fns {
		fn(reason)
	}
}

// OnEnd registers fn to run when the session ends. The returned func
// removes it.
func (s *Session) OnEnd(fn func(Reason)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Listeners returns the number of registered end listeners.
func (s *Session) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}
