package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStorageRoundTrip(t *testing.T) {
	mr, client := newRedisClient(t)
	ctx := context.Background()
	storage := NewRedisStorage(client, "dev-1", time.Hour)

	require.NoError(t, storage.SetMany(ctx, map[string]string{KeyAuthToken: "tok", KeyUser: "{}"}))
	v, ok, err := storage.Get(ctx, KeyAuthToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", v)
	assert.True(t, mr.Exists("evdms:session:dev-1:auth_token"))
	assert.Equal(t, time.Hour, mr.TTL("evdms:session:dev-1:auth_token"))

	other := NewRedisStorage(client, "dev-2", time.Hour)
	_, ok, err = other.Get(ctx, KeyAuthToken)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, storage.Delete(ctx, durableKeys...))
	_, ok, err = storage.Get(ctx, KeyAuthToken)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisBackedContextsObserveLogout(t *testing.T) {
	_, client := newRedisClient(t)
	ctx := context.Background()

	newStore := func() (*Store, *CookieJar) {
		jar := NewCookieJar("auth_token", DefaultCookieTTL, false)
		store, err := NewStore(ctx, Options{
			Storage:   NewRedisStorage(client, "dev-1", 0),
			Cookies:   jar,
			Broadcast: NewRedisBroadcaster(client, "dev-1", nil),
		})
		require.NoError(t, err)
		t.Cleanup(store.Close)
		return store, jar
	}
	a, _ := newStore()
	b, bJar := newStore()

	_, err := a.Login(ctx, "tok-1", "ref-1", dealerUser)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		sess := b.CurrentSession()
		return sess != nil && sess.Token == "tok-1"
	}, 2*time.Second, 10*time.Millisecond)

	a.Logout(ctx)
	require.Eventually(t, func() bool { return b.CurrentSession() == nil }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, bJar.Value())
	cookie := bJar.Pending()
	require.NotNil(t, cookie)
	assert.Equal(t, -1, cookie.MaxAge)
}

func TestRedisBroadcasterIgnoresMalformedPayload(t *testing.T) {
	_, client := newRedisClient(t)
	ctx := context.Background()
	bus := NewRedisBroadcaster(client, "dev-9", nil)

	received := make(chan Signal, 1)
	unsubscribe, err := bus.Subscribe(ctx, func(sig Signal) { received <- sig })
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, client.Publish(ctx, "evdms:session:dev-9:events", "not-json").Err())
	require.NoError(t, bus.Publish(ctx, Signal{Key: KeyAuthToken, Origin: "x"}))

	select {
	case sig := <-received:
		assert.Equal(t, Signal{Key: KeyAuthToken, Origin: "x"}, sig)
	case <-time.After(2 * time.Second):
		t.Fatal("signal not delivered")
	}
}
