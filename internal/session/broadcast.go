package session

import (
	"context"
	"sync"
)

// Signal announces that a durable key changed. Receivers re-read the durable
// mirror; the signal itself carries no session data.
type Signal struct {
	Key    string `json:"key"`
	Origin string `json:"origin"`
}

// Broadcaster delivers signals to every subscribed execution context,
// including the publisher, which is expected to ignore its own Origin.
type Broadcaster interface {
	Publish(ctx context.Context, sig Signal) error
	Subscribe(ctx context.Context, fn func(Signal)) (unsubscribe func(), err error)
}

// LocalBus is an in-process Broadcaster. Delivery is synchronous.
type LocalBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Signal)
}

// NewLocalBus returns an empty bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[int]func(Signal))}
}

// Publish delivers sig to every subscriber.
func (b *LocalBus) Publish(_ context.Context, sig Signal) error {
	b.mu.RLock()
	handlers := make([]func(Signal), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(sig)
	}
	return nil
}

// Subscribe registers fn until the returned function is called.
func (b *LocalBus) Subscribe(_ context.Context, fn func(Signal)) (func(), error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}, nil
}
