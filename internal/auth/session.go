// Package auth tracks the signed-in identity and notifies subscribers when
// it changes.
package auth

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StorageKey is the local storage key holding the persisted session.
const StorageKey = "auth_session"

// User is the authenticated user.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is an identity provider session.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
}

// Expired reports whether the access token expires within skew of now.
func (s Session) Expired(now time.Time, skew time.Duration) bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return !now.Before(time.Unix(s.ExpiresAt, 0).Add(-skew))
}

// EventType is the kind of identity change.
type EventType string

const (
	SignedIn       EventType = "signed_in"
	TokenRefreshed EventType = "token_refreshed"
	SignedOut      EventType = "signed_out"
)

// Event is delivered to subscribers. Session is nil after sign-out.
type Event struct {
	Type    EventType
	Session *Session
}

// KV persists the session across restarts.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Remove(key string) error
}

// Sessions holds the current session and fans changes out to subscribers.
type Sessions struct {
	kv KV

	mu      sync.RWMutex
	current *Session
	subs    map[int]func(Event)
	nextID  int
}

// NewSessions creates a session holder. When kv is non-nil the session is
// loaded from and saved to it.
func NewSessions(kv KV) *Sessions {
	s := &Sessions{kv: kv, subs: make(map[int]func(Event))}
	if kv == nil {
		return s
	}

	data, err := kv.Get(StorageKey)
	if err != nil {
		log.Printf("Error loading session: %v", err)
		return s
	}
	if data == nil {
		return s
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		log.Printf("Discarding corrupted session: %v", err)
		_ = kv.Remove(StorageKey)
		return s
	}
	s.current = &sess
	return s
}

// Current returns a copy of the current session, or nil when signed out.
func (s *Sessions) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	c := *s.current
	return &c
}

// AccessToken returns the current access token or "".
func (s *Sessions) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.AccessToken
}

// UserID returns the signed-in user id or "".
func (s *Sessions) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.User.ID
}

// Subscribe registers fn and returns a function that removes it.
func (s *Sessions) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// SetSession installs sess. It emits signed_in when no user was signed in
// or the user changed, token_refreshed otherwise.
func (s *Sessions) SetSession(sess Session) error {
	if sess.User.ID == "" && sess.AccessToken != "" {
		if claims, err := ParseAccessToken(sess.AccessToken); err == nil {
			sess.User = User{ID: claims.Subject, Email: claims.Email}
			if sess.ExpiresAt == 0 && claims.ExpiresAt != nil {
				sess.ExpiresAt = claims.ExpiresAt.Unix()
			}
		}
	}

	s.mu.Lock()
	ev := SignedIn
	if s.current != nil && s.current.User.ID == sess.User.ID {
		ev = TokenRefreshed
	}
	c := sess
	s.current = &c
	s.mu.Unlock()

	if err := s.persist(&sess); err != nil {
		return err
	}
	s.emit(Event{Type: ev, Session: &sess})
	return nil
}

// SignOut clears the session and emits signed_out if one was present.
func (s *Sessions) SignOut() error {
	s.mu.Lock()
	had := s.current != nil
	s.current = nil
	s.mu.Unlock()

	if err := s.persist(nil); err != nil {
		return err
	}
	if had {
		s.emit(Event{Type: SignedOut})
	}
	return nil
}

func (s *Sessions) persist(sess *Session) error {
	if s.kv == nil {
		return nil
	}
	if sess == nil {
		if err := s.kv.Remove(StorageKey); err != nil {
			return fmt.Errorf("remove session: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.kv.Set(StorageKey, data); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Sessions) emit(ev Event) {
	s.mu.RLock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Claims are the access token claims the client relies on.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// ParseAccessToken decodes an access token without verifying its signature.
// Verification belongs to the backend; the client only reads identity and
// expiry.
func ParseAccessToken(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("parse access token: missing subject")
	}
	return claims, nil
}
