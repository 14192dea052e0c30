// Package session owns the authenticated session of one execution context
// and keeps its durable and cookie mirrors consistent with it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/evdms/evdms/internal/identity"
	"github.com/evdms/evdms/internal/rbac"
	"github.com/evdms/evdms/internal/shared"
)

// Durable mirror keys.
const (
	KeyAuthToken    = "auth_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
)

var durableKeys = []string{KeyAuthToken, KeyRefreshToken, KeyUser}

// Session is the authoritative authenticated state.
type Session struct {
	Token        string         `json:"-"`
	RefreshToken string         `json:"-"`
	Principal    rbac.Principal `json:"principal"`
	IssuedAt     time.Time      `json:"issued_at"`
	ExpiresAt    time.Time      `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return s != nil && !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Remote is the identity collaborator used for refresh and invalidation.
type Remote interface {
	Refresh(ctx context.Context, refreshToken string) (identity.Grant, error)
	Revoke(ctx context.Context, token string) error
}

// Options configures a Store.
type Options struct {
	// ID identifies the execution context in broadcast signals. Generated when empty.
	ID        string
	Storage   Storage
	Cookies   CookieMirror
	Broadcast Broadcaster
	Remote    Remote
	// TokenTTL bounds sessions whose token carries no expiry claim.
	TokenTTL time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// Store holds exactly one authoritative session. Reads take a shared lock;
// login, logout, refresh and resync are serialised by writeMu so readers
// never observe a half-applied write.
type Store struct {
	id        string
	storage   Storage
	cookies   CookieMirror
	bus       Broadcaster
	remote    Remote
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time
	refreshes singleflight.Group

	writeMu sync.Mutex
	mu      sync.RWMutex
	current *Session

	unsubscribe func()
}

// NewStore builds a store and subscribes it to the broadcaster.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	if opts.Storage == nil {
		return nil, fmt.Errorf("%w: session storage required", shared.ErrConfiguration)
	}
	s := &Store{
		id:      opts.ID,
		storage: opts.Storage,
		cookies: opts.Cookies,
		bus:     opts.Broadcast,
		remote:  opts.Remote,
		ttl:     opts.TokenTTL,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.cookies == nil {
		s.cookies = discardCookies{}
	}
	if s.ttl <= 0 {
		s.ttl = 24 * time.Hour
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.bus != nil {
		unsubscribe, err := s.bus.Subscribe(ctx, s.handleSignal)
		if err != nil {
			return nil, fmt.Errorf("subscribe session signals: %w", err)
		}
		s.unsubscribe = unsubscribe
	}
	return s, nil
}

// ID returns the execution context identifier.
func (s *Store) ID() string { return s.id }

// Close detaches the store from the broadcaster.
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Hydrate loads the durable mirror into the authoritative slot. It is meant
// to run once when the execution context starts.
func (s *Store) Hydrate(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.reloadLocked(ctx)
}

// Login installs a new authoritative session and writes both mirrors before
// announcing the change. An abandoned ctx is honoured only until the first
// side effect; after that the login runs to completion.
func (s *Store) Login(ctx context.Context, token, refreshToken string, principal rbac.Principal) (*Session, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: token required", shared.ErrValidation)
	}
	if !principal.Role.Valid() {
		return nil, fmt.Errorf("%w: principal role %s", shared.ErrConfiguration, principal.Role)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	s.writeMu.Lock()
	sess, err := s.commitLocked(ctx, token, refreshToken, principal)
	s.writeMu.Unlock()
	if err != nil {
		return nil, err
	}
	s.publish(ctx)
	return sess, nil
}

// Logout clears the authoritative session and both mirrors, notifies sibling
// contexts and asks the identity provider to invalidate the token. Failures
// are logged; logout always completes for the caller. Siblings are only
// signalled once the durable mirror no longer holds a usable token.
func (s *Store) Logout(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	s.writeMu.Lock()
	previous, err := s.clearLocked(ctx)
	s.writeMu.Unlock()

	if err == nil {
		s.publish(ctx)
	}

	if previous == nil || s.remote == nil {
		return
	}
	for _, token := range []string{previous.Token, previous.RefreshToken} {
		if token == "" {
			continue
		}
		if err := s.remote.Revoke(ctx, token); err != nil {
			s.logger.Warn("session remote invalidation failed",
				slog.String("principal", previous.Principal.ID),
				slog.Any("error", err))
		}
	}
}

// Refresh exchanges the refresh token for a new session. Concurrent callers
// share one exchange. A rejected refresh destroys the session.
func (s *Store) Refresh(ctx context.Context) (*Session, error) {
	result, err, _ := s.refreshes.Do("refresh", func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return result.(*Session), nil
}

func (s *Store) refresh(ctx context.Context) (*Session, error) {
	current := s.snapshot()
	if current == nil {
		return nil, shared.ErrUnauthenticated
	}
	if s.remote == nil || current.RefreshToken == "" {
		return nil, fmt.Errorf("%w: session cannot be refreshed", shared.ErrUnauthenticated)
	}

	grant, err := s.remote.Refresh(ctx, current.RefreshToken)
	if err != nil {
		if errors.Is(err, shared.ErrUnauthenticated) || errors.Is(err, shared.ErrInvalidCredentials) {
			s.logger.Info("session refresh rejected", slog.String("principal", current.Principal.ID))
			s.destroy(ctx)
			return nil, fmt.Errorf("%w: refresh rejected", shared.ErrUnauthenticated)
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	s.writeMu.Lock()
	// A logout or another login may have happened while the exchange was in
	// flight; never resurrect a session that is no longer current.
	if s.current == nil || s.current.Token != current.Token {
		s.writeMu.Unlock()
		return nil, fmt.Errorf("%w: session changed during refresh", shared.ErrUnauthenticated)
	}
	sess, err := s.commitLocked(ctx, grant.AccessToken, grant.RefreshToken, grant.Principal)
	s.writeMu.Unlock()
	if err != nil {
		return nil, err
	}
	s.publish(ctx)
	return sess, nil
}

// CurrentSession returns a copy of the authoritative session, or nil when
// there is none or it has expired.
func (s *Store) CurrentSession() *Session {
	sess := s.snapshot()
	if sess == nil || sess.Expired(s.now()) {
		return nil
	}
	return sess
}

// DetectExpiry destroys the session if it has expired and reports whether it did.
func (s *Store) DetectExpiry(ctx context.Context) bool {
	sess := s.snapshot()
	if sess == nil || !sess.Expired(s.now()) {
		return false
	}
	s.logger.Info("session expired", slog.String("principal", sess.Principal.ID))
	s.destroy(context.WithoutCancel(ctx))
	return true
}

func (s *Store) snapshot() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

func (s *Store) destroy(ctx context.Context) {
	s.writeMu.Lock()
	_, err := s.clearLocked(ctx)
	s.writeMu.Unlock()
	if err == nil {
		s.publish(ctx)
	}
}

// commitLocked writes the durable mirror first so a failed write leaves the
// authoritative copy untouched. Caller holds writeMu.
func (s *Store) commitLocked(ctx context.Context, token, refreshToken string, principal rbac.Principal) (*Session, error) {
	user, err := json.Marshal(principal)
	if err != nil {
		return nil, fmt.Errorf("encode principal: %w", err)
	}
	if err := s.storage.SetMany(ctx, map[string]string{
		KeyAuthToken:    token,
		KeyRefreshToken: refreshToken,
		KeyUser:         string(user),
	}); err != nil {
		return nil, fmt.Errorf("write durable session: %w", err)
	}

	issued, expires := tokenTimes(token, s.now(), s.ttl)
	sess := &Session{
		Token:        token,
		RefreshToken: refreshToken,
		Principal:    principal,
		IssuedAt:     issued,
		ExpiresAt:    expires,
	}
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
	s.cookies.Set(token)

	cp := *sess
	return &cp, nil
}

// clearLocked drops the session from every location and returns the one it
// replaced. The error reports a durable mirror that may still grant access.
// Caller holds writeMu.
func (s *Store) clearLocked(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	previous := s.current
	s.current = nil
	s.mu.Unlock()
	s.cookies.Clear()

	if err := s.clearDurable(ctx); err != nil {
		s.logger.Error("session durable clear failed", slog.Any("error", err))
		return previous, err
	}
	return previous, nil
}

// clearDurable deletes the durable keys, retrying once. If deletion keeps
// failing the token is overwritten with an empty value, which reads as
// signed out.
func (s *Store) clearDurable(ctx context.Context) error {
	var err error
	for range 2 {
		if err = s.storage.Delete(ctx, durableKeys...); err == nil {
			return nil
		}
	}
	if blankErr := s.storage.SetMany(ctx, map[string]string{KeyAuthToken: ""}); blankErr != nil {
		return errors.Join(err, blankErr)
	}
	s.logger.Warn("session durable delete failed, token blanked", slog.Any("error", err))
	return nil
}

// reloadLocked re-derives the authoritative copy and the cookie mirror from
// the durable mirror. Caller holds writeMu.
func (s *Store) reloadLocked(ctx context.Context) error {
	token, ok, err := s.storage.Get(ctx, KeyAuthToken)
	if err != nil {
		return fmt.Errorf("read durable session: %w", err)
	}
	if !ok || token == "" {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
		s.cookies.Clear()
		return nil
	}

	s.mu.RLock()
	unchanged := s.current != nil && s.current.Token == token
	s.mu.RUnlock()
	if unchanged {
		return nil
	}

	rawUser, _, err := s.storage.Get(ctx, KeyUser)
	if err != nil {
		return fmt.Errorf("read durable session: %w", err)
	}
	var principal rbac.Principal
	if err := json.Unmarshal([]byte(rawUser), &principal); err != nil || !principal.Role.Valid() {
		// A mirror we cannot decode must not grant access.
		s.logger.Warn("discarding unreadable durable session", slog.Any("error", err))
		s.clearLocked(ctx)
		return nil
	}
	refreshToken, _, err := s.storage.Get(ctx, KeyRefreshToken)
	if err != nil {
		return fmt.Errorf("read durable session: %w", err)
	}

	issued, expires := tokenTimes(token, s.now(), s.ttl)
	s.mu.Lock()
	s.current = &Session{
		Token:        token,
		RefreshToken: refreshToken,
		Principal:    principal,
		IssuedAt:     issued,
		ExpiresAt:    expires,
	}
	s.mu.Unlock()
	s.cookies.Set(token)
	return nil
}

func (s *Store) publish(ctx context.Context) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, Signal{Key: KeyAuthToken, Origin: s.id}); err != nil {
		s.logger.Warn("session broadcast failed", slog.Any("error", err))
	}
}

func (s *Store) handleSignal(sig Signal) {
	if sig.Origin == s.id || sig.Key != KeyAuthToken {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.reloadLocked(context.Background()); err != nil {
		s.logger.Warn("session resync failed", slog.Any("error", err))
		return
	}
	s.logger.Debug("session resynced", slog.String("store", s.id), slog.String("origin", sig.Origin))
}
