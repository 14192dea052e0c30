package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/evdms/evdms/internal/shared"
)

type bindingContextKey struct{}

// binding ties one request to its device's execution context. The store is
// attached when the device already has a session or when Open is called.
type binding struct {
	m      *Manager
	w      http.ResponseWriter
	device string
	known  bool
	entry  *entry
}

func (b *binding) store() *Store {
	if b == nil || b.entry == nil {
		return nil
	}
	return b.entry.store
}

func (b *binding) flush(w http.ResponseWriter) {
	if b.entry != nil {
		b.entry.jar.Flush(w)
	}
}

func (b *binding) release() {
	if b.entry != nil {
		b.m.release(b.device, b.entry)
		b.entry = nil
	}
}

// FromContext returns the store bound to the request, or nil when the device
// has no session yet.
func FromContext(ctx context.Context) *Store {
	b, _ := ctx.Value(bindingContextKey{}).(*binding)
	return b.store()
}

// Open returns the store of the request's device, creating it and issuing a
// device cookie when needed. Call it before writing the response.
func Open(ctx context.Context) (*Store, error) {
	b, _ := ctx.Value(bindingContextKey{}).(*binding)
	if b == nil {
		return nil, fmt.Errorf("%w: session middleware not installed", shared.ErrConfiguration)
	}
	if s := b.store(); s != nil {
		return s, nil
	}
	if !b.known {
		b.device = b.m.issueDevice(b.w)
		b.known = true
	}
	e, err := b.m.acquire(ctx, b.device, true)
	if err != nil {
		return nil, err
	}
	b.entry = e
	return e.store, nil
}

type responseWriterWithCookies struct {
	http.ResponseWriter
	binding       *binding
	headerWritten bool
}

func (w *responseWriterWithCookies) WriteHeader(statusCode int) {
	if !w.headerWritten {
		w.headerWritten = true
		w.binding.flush(w.ResponseWriter)
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriterWithCookies) Write(data []byte) (int, error) {
	if !w.headerWritten {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(data)
}

func (w *responseWriterWithCookies) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Middleware binds each request to its device's execution context, destroys
// expired sessions and flushes cookie mirror changes into the response.
// Requests from devices without a session run unbound.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		b := &binding{m: m, w: w}
		b.device, b.known = m.knownDevice(r)
		if b.known {
			e, err := m.acquire(ctx, b.device, false)
			if err != nil {
				m.cfg.Logger.Error("failed to load session store", slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			b.entry = e
		}
		defer b.release()
		if store := b.store(); store != nil {
			store.DetectExpiry(ctx)
		}

		wrapped := &responseWriterWithCookies{ResponseWriter: w, binding: b}
		next.ServeHTTP(wrapped, r.WithContext(context.WithValue(ctx, bindingContextKey{}, b)))
		if !wrapped.headerWritten {
			b.flush(w)
		}
	})
}
