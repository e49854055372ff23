// Package session owns the bearer token shared by every request-issuing call.
// Presence and expiry are checked here and nowhere else.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoSession reports that no token is stored.
	ErrNoSession = errors.New("session: not logged in")
	// ErrExpired reports that the stored token passed its exp claim. The token
	// has already been cleared when this is returned.
	ErrExpired = errors.New("session: token expired")
)

// ChangeKind describes why the session changed.
type ChangeKind string

const (
	ChangeLogin       ChangeKind = "login"
	ChangeLogout      ChangeKind = "logout"
	ChangeInvalidated ChangeKind = "invalidated"
	ChangeExternal    ChangeKind = "external"
)

// Change is delivered to subscribers whenever the stored token changes.
type Change struct {
	Kind   ChangeKind
	Reason string
}

// Claims are the unverified token claims the client cares about.
type Claims struct {
	Subject   string
	Email     string
	Name      string
	ExpiresAt time.Time
}

type tokenClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

type persisted struct {
	AccessToken string    `json:"access_token"`
	SavedAt     time.Time `json:"saved_at"`
}

// Store persists the bearer token to a JSON file.
type Store struct {
	path  string
	clock func() time.Time
	// leeway treats tokens this close to expiry as already expired.
	leeway time.Duration

	mu        sync.Mutex
	token     string
	modTime   time.Time
	listeners map[int]func(Change)
	nextID    int
}

// Option customizes a Store during construction.
type Option func(*Store)

// WithClock overrides the clock used for expiry checks.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLeeway sets how long before exp a token is treated as expired.
func WithLeeway(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.leeway = d
		}
	}
}

// Open loads the session file at path. A missing file is an empty session.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:      path,
		clock:     time.Now,
		leeway:    30 * time.Second,
		listeners: map[int]func(Change){},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("session: ensure state dir: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.reloadLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the session file location.
func (s *Store) Path() string {
	return s.path
}

// Token returns the current bearer token. It fails with ErrNoSession or
// ErrExpired; an expired token is cleared before returning.
func (s *Store) Token() (string, error) {
	s.mu.Lock()
	changed, err := s.reloadLocked()
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	var events []Change
	if changed {
		events = append(events, Change{Kind: ChangeExternal, Reason: "session file changed"})
	}
	token := s.token
	if token == "" {
		s.mu.Unlock()
		s.notify(events)
		return "", ErrNoSession
	}
	if exp, ok := expiry(token); ok && !s.clock().Add(s.leeway).Before(exp) {
		if err := s.clearLocked(); err != nil {
			s.mu.Unlock()
			return "", err
		}
		s.mu.Unlock()
		s.notify(append(events, Change{Kind: ChangeInvalidated, Reason: "expired"}))
		return "", ErrExpired
	}
	s.mu.Unlock()
	s.notify(events)
	return token, nil
}

// LoggedIn reports whether a usable token is stored.
func (s *Store) LoggedIn() bool {
	_, err := s.Token()
	return err == nil
}

// Save stores a freshly issued token.
func (s *Store) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("session: token is required")
	}
	s.mu.Lock()
	data, err := json.MarshalIndent(persisted{AccessToken: token, SavedAt: s.clock().UTC()}, "", "  ")
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("session: write %s: %w", s.path, err)
	}
	s.token = token
	s.modTime = statModTime(s.path)
	s.mu.Unlock()
	s.notify([]Change{{Kind: ChangeLogin}})
	return nil
}

// Clear removes the stored token. A reason of "" means an explicit logout;
// anything else is reported to subscribers as an invalidation.
func (s *Store) Clear(reason string) error {
	s.mu.Lock()
	if err := s.clearLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	change := Change{Kind: ChangeLogout}
	if reason = strings.TrimSpace(reason); reason != "" {
		change = Change{Kind: ChangeInvalidated, Reason: reason}
	}
	s.notify([]Change{change})
	return nil
}

// ClearIfToken clears the session only while token is still the stored one.
// A token saved by another process in the meantime is kept and false is
// returned.
func (s *Store) ClearIfToken(token, reason string) (bool, error) {
	s.mu.Lock()
	changed, err := s.reloadLocked()
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	var events []Change
	if changed {
		events = append(events, Change{Kind: ChangeExternal, Reason: "session file changed"})
	}
	if token == "" || s.token != token {
		s.mu.Unlock()
		s.notify(events)
		return false, nil
	}
	if err := s.clearLocked(); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.mu.Unlock()
	change := Change{Kind: ChangeLogout}
	if reason = strings.TrimSpace(reason); reason != "" {
		change = Change{Kind: ChangeInvalidated, Reason: reason}
	}
	s.notify(append(events, change))
	return true, nil
}

// Claims decodes the stored token without verifying its signature; the client
// never holds the signing key.
func (s *Store) Claims() (Claims, error) {
	token, err := s.Token()
	if err != nil {
		return Claims{}, err
	}
	return ParseClaims(token)
}

// ParseClaims decodes the claims of an access token without verification.
func ParseClaims(token string) (Claims, error) {
	var parsed tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &parsed); err != nil {
		return Claims{}, fmt.Errorf("session: parse token: %w", err)
	}
	claims := Claims{
		Subject: parsed.Subject,
		Email:   parsed.Email,
		Name:    parsed.Name,
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time
	}
	return claims, nil
}

// Subscribe registers fn for session changes and returns a function that
// removes the subscription.
func (s *Store) Subscribe(fn func(Change)) func() {
	if fn == nil {
		return func() {}
	}
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

func (s *Store) notify(events []Change) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	fns := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, evt := range events {
		for _, fn := range fns {
			fn(evt)
		}
	}
}

// reloadLocked re-reads the file when its modification time moved, which is
// how a login or logout from another campus process becomes visible here.
func (s *Store) reloadLocked() (bool, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			changed := s.token != ""
			s.token = ""
			s.modTime = time.Time{}
			return changed, nil
		}
		return false, fmt.Errorf("session: stat %s: %w", s.path, err)
	}
	if info.ModTime().Equal(s.modTime) {
		return false, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false, fmt.Errorf("session: read %s: %w", s.path, err)
	}
	var stored persisted
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &stored); err != nil {
			return false, fmt.Errorf("session: parse %s: %w", s.path, err)
		}
	}
	previous := s.token
	s.token = strings.TrimSpace(stored.AccessToken)
	s.modTime = info.ModTime()
	return previous != s.token, nil
}

func (s *Store) clearLocked() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session: remove %s: %w", s.path, err)
	}
	s.token = ""
	s.modTime = time.Time{}
	return nil
}

func expiry(token string) (time.Time, bool) {
	claims, err := ParseClaims(token)
	if err != nil || claims.ExpiresAt.IsZero() {
		return time.Time{}, false
	}
	return claims.ExpiresAt, true
}

func statModTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
