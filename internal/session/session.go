// Package session holds the bearer credential for one engine instance and
// fans out the authentication-expired signal that stops all scheduled work.
package session

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/rs/zerolog"
)

// Session wraps an opaque bearer token. When the token is a JWT with an exp
// claim, the session arms a deadline timer so the engine stops polling ahead
// of guaranteed rejections instead of discovering expiry through a 401.
type Session struct {
	log zerolog.Logger

	mu      sync.Mutex
	token   string
	expired bool
	timer   *time.Timer
	done    chan struct{}
}

func New(token string, log zerolog.Logger) *Session {
	s := &Session{
		log:   log.With().Str("component", "session").Logger(),
		token: token,
		done:  make(chan struct{}),
	}

	if deadline, ok := tokenDeadline(token); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.log.Warn().Time("deadline", deadline).Msg("session token already expired")
			s.expireLocked()
		} else {
			s.timer = time.AfterFunc(remaining, s.Expire)
			s.log.Info().Time("deadline", deadline).Msg("session deadline armed")
		}
	}
	return s
}

// tokenDeadline decodes the exp claim without verifying the signature; the
// server is the authority, the claim is only used to schedule local cleanup.
func tokenDeadline(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	parser := jwt.Parser{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, ok := claims["exp"].(float64)
	if !ok || exp == 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(exp), 0), true
}

func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Done is closed exactly once, when the session expires or is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired
}

// Expire marks the session dead. Safe to call from any goroutine and more
// than once; observers see a single close of Done.
func (s *Session) Expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.expired {
		s.log.Warn().Msg("session expired, stopping scheduled work")
	}
	s.expireLocked()
}

func (s *Session) expireLocked() {
	if s.expired {
		return
	}
	s.expired = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	close(s.done)
}

// Close releases the deadline timer and closes Done without the expiry
// warning. Used at engine teardown.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
}
