package session

import (
	"net/http"
	"sync"
	"time"
)

// DefaultCookieTTL is the cookie mirror lifetime. It is independent of the
// token expiry.
const DefaultCookieTTL = 7 * 24 * time.Hour

// CookieMirror reflects the authoritative token into the cookie read by the
// route guard.
type CookieMirror interface {
	Set(token string)
	Clear()
}

type discardCookies struct{}

func (discardCookies) Set(string) {}
func (discardCookies) Clear()     {}

// CookieJar is a CookieMirror for HTTP execution contexts. Changes are queued
// and written into the next response passing through Flush.
type CookieJar struct {
	name   string
	ttl    time.Duration
	secure bool

	mu      sync.Mutex
	value   string
	pending *http.Cookie
}

// NewCookieJar returns a jar for the named cookie.
func NewCookieJar(name string, ttl time.Duration, secure bool) *CookieJar {
	if ttl <= 0 {
		ttl = DefaultCookieTTL
	}
	return &CookieJar{name: name, ttl: ttl, secure: secure}
}

// Set queues the cookie carrying token.
func (j *CookieJar) Set(token string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.value = token
	j.pending = &http.Cookie{
		Name:     j.name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(j.ttl / time.Second),
		Expires:  time.Now().Add(j.ttl),
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Clear queues removal of the cookie.
func (j *CookieJar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.value = ""
	j.pending = &http.Cookie{
		Name:     j.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Value returns the token the mirror currently carries.
func (j *CookieJar) Value() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.value
}

// Pending returns the queued cookie without consuming it.
func (j *CookieJar) Pending() *http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.pending == nil {
		return nil
	}
	cp := *j.pending
	return &cp
}

// Flush writes the queued cookie, if any, into w.
func (j *CookieJar) Flush(w http.ResponseWriter) {
	j.mu.Lock()
	pending := j.pending
	j.pending = nil
	j.mu.Unlock()
	if pending != nil {
		http.SetCookie(w, pending)
	}
}
