package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/evdms/evdms/internal/rbac"
)

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	// Storage returns the durable mirror of a device.
	Storage func(deviceID string) Storage
	// Broadcaster returns the signal channel of a device. Optional.
	Broadcaster func(deviceID string) Broadcaster
	Remote      Remote

	TokenTTL     time.Duration
	CookieTTL    time.Duration
	AuthCookie   string
	DeviceCookie string
	Secure       bool
	Logger       *slog.Logger
	Now          func() time.Time
}

type entry struct {
	store    *Store
	jar      *CookieJar
	inflight int
	lastSeen time.Time
}

const sweepInterval = time.Minute

// Manager keeps one execution context per device for this process. Another
// process serving the same device holds its own Store over the same durable
// namespace and converges through the broadcaster.
//
// A device only gets a Store once it logs in or presents a device cookie
// whose durable mirror holds a session. Stores without a session are dropped
// when their last request finishes; stores idle for longer than CookieTTL are
// dropped by a periodic sweep.
type Manager struct {
	cfg   ManagerConfig
	opens singleflight.Group

	mu        sync.Mutex
	stores    map[string]*entry
	nextSweep time.Time
}

// NewManager constructs a Manager. Storage is required.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AuthCookie == "" {
		cfg.AuthCookie = KeyAuthToken
	}
	if cfg.DeviceCookie == "" {
		cfg.DeviceCookie = "evdms_device"
	}
	if cfg.CookieTTL <= 0 {
		cfg.CookieTTL = DefaultCookieTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		cfg:       cfg,
		stores:    make(map[string]*entry),
		nextSweep: cfg.Now().Add(sweepInterval),
	}
}

// AuthCookie returns the name of the cookie mirror.
func (m *Manager) AuthCookie() string { return m.cfg.AuthCookie }

// Store returns the execution context of deviceID, creating and hydrating it
// on first use. The store is not pinned; a sweep may drop it once it has no
// session.
func (m *Manager) Store(ctx context.Context, deviceID string) (*Store, *CookieJar, error) {
	e, err := m.acquire(ctx, deviceID, true)
	if err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	e.inflight--
	m.mu.Unlock()
	return e.store, e.jar, nil
}

// acquire returns the entry of deviceID and pins it until release. Without
// create, a device whose durable mirror holds no session yields nil.
func (m *Manager) acquire(ctx context.Context, deviceID string, create bool) (*entry, error) {
	m.sweep()
	for {
		m.mu.Lock()
		if e, ok := m.stores[deviceID]; ok {
			e.inflight++
			e.lastSeen = m.cfg.Now()
			m.mu.Unlock()
			return e, nil
		}
		m.mu.Unlock()

		if !create {
			active, err := m.hasDurableSession(ctx, deviceID)
			if err != nil || !active {
				return nil, err
			}
		}
		if _, err, _ := m.opens.Do(deviceID, func() (any, error) {
			return nil, m.open(ctx, deviceID)
		}); err != nil {
			return nil, err
		}
	}
}

// release unpins e and drops it when nothing else holds it and it carries no
// session.
func (m *Manager) release(deviceID string, e *entry) {
	m.mu.Lock()
	e.inflight--
	e.lastSeen = m.cfg.Now()
	drop := e.inflight <= 0 && e.store.CurrentSession() == nil && m.stores[deviceID] == e
	if drop {
		delete(m.stores, deviceID)
	}
	m.mu.Unlock()
	if drop {
		e.store.Close()
	}
}

// open builds, subscribes and hydrates the store of deviceID without holding
// m.mu, then registers it.
func (m *Manager) open(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	_, exists := m.stores[deviceID]
	m.mu.Unlock()
	if exists {
		return nil
	}

	jar := NewCookieJar(m.cfg.AuthCookie, m.cfg.CookieTTL, m.cfg.Secure)
	opts := Options{
		ID:       deviceID + "/" + uuid.NewString(),
		Storage:  m.cfg.Storage(deviceID),
		Cookies:  jar,
		Remote:   m.cfg.Remote,
		TokenTTL: m.cfg.TokenTTL,
		Logger:   m.cfg.Logger.With(slog.String("device", deviceID)),
		Now:      m.cfg.Now,
	}
	if m.cfg.Broadcaster != nil {
		opts.Broadcast = m.cfg.Broadcaster(deviceID)
	}
	store, err := NewStore(ctx, opts)
	if err != nil {
		return err
	}
	if err := store.Hydrate(ctx); err != nil {
		store.Close()
		return fmt.Errorf("hydrate device %s: %w", deviceID, err)
	}

	m.mu.Lock()
	m.stores[deviceID] = &entry{store: store, jar: jar, lastSeen: m.cfg.Now()}
	m.mu.Unlock()
	return nil
}

func (m *Manager) hasDurableSession(ctx context.Context, deviceID string) (bool, error) {
	token, ok, err := m.cfg.Storage(deviceID).Get(ctx, KeyAuthToken)
	if err != nil {
		return false, fmt.Errorf("read durable session of device %s: %w", deviceID, err)
	}
	return ok && token != "", nil
}

// sweep drops unpinned stores that carry no session or have been idle for
// longer than CookieTTL. It runs at most once per sweepInterval.
func (m *Manager) sweep() {
	now := m.cfg.Now()
	m.mu.Lock()
	if now.Before(m.nextSweep) {
		m.mu.Unlock()
		return
	}
	m.nextSweep = now.Add(sweepInterval)
	var dropped []*Store
	for id, e := range m.stores {
		if e.inflight > 0 {
			continue
		}
		if e.store.CurrentSession() == nil || now.Sub(e.lastSeen) > m.cfg.CookieTTL {
			dropped = append(dropped, e.store)
			delete(m.stores, id)
		}
	}
	m.mu.Unlock()

	for _, store := range dropped {
		store.Close()
	}
	if len(dropped) > 0 {
		m.cfg.Logger.Debug("session stores evicted", slog.Int("count", len(dropped)))
	}
}

// PrincipalFor resolves the principal of the request's authoritative session.
// It is the route guard lookup.
func (m *Manager) PrincipalFor(r *http.Request) (rbac.Principal, bool) {
	store := FromContext(r.Context())
	if store == nil {
		return rbac.Principal{}, false
	}
	sess := store.CurrentSession()
	if sess == nil {
		return rbac.Principal{}, false
	}
	return sess.Principal, true
}

// Close detaches every store.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.stores {
		e.store.Close()
		delete(m.stores, id)
	}
}

// knownDevice returns the device named by the request cookie.
func (m *Manager) knownDevice(r *http.Request) (string, bool) {
	c, err := r.Cookie(m.cfg.DeviceCookie)
	if err != nil {
		return "", false
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		return "", false
	}
	return c.Value, true
}

// issueDevice mints a device ID and sets its cookie on w.
func (m *Manager) issueDevice(w http.ResponseWriter) string {
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.DeviceCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(m.cfg.CookieTTL / time.Second),
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}
