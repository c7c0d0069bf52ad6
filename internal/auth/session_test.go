package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(clock *testClock, max int) *SessionRegistry {
	return NewSessionRegistry(RegistryConfig{
		TTL:         time.Hour,
		MaxSessions: max,
		Now:         clock.Now,
	}, zerolog.Nop())
}

func TestSessionRegistry_Lifecycle(t *testing.T) {
	clock := newTestClock()
	reg := newTestRegistry(clock, 0)

	token, err := reg.Create()
	require.NoError(t, err)
	assert.Len(t, token, 43, "32 random bytes, unpadded base64url")

	t.Run("valid immediately", func(t *testing.T) {
		assert.True(t, reg.IsValid(token))
	})

	t.Run("valid at exactly the TTL", func(t *testing.T) {
		clock.Advance(time.Hour)
		assert.True(t, reg.IsValid(token))
	})

	t.Run("expired after the TTL and evicted", func(t *testing.T) {
		clock.Advance(time.Second)
		assert.Equal(t, 1, reg.Len())
		assert.False(t, reg.IsValid(token))
		assert.Equal(t, 0, reg.Len(), "expired session must be evicted on lookup")
		assert.False(t, reg.IsValid(token))
		assert.ErrorIs(t, reg.Revoke(token), ErrSessionNotFound)
	})
}

func TestSessionRegistry_UnknownTokens(t *testing.T) {
	reg := newTestRegistry(newTestClock(), 0)

	assert.False(t, reg.IsValid(""))
	assert.False(t, reg.IsValid("never-issued"))
}

func TestSessionRegistry_TokensAreUnique(t *testing.T) {
	reg := newTestRegistry(newTestClock(), 0)

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		token, err := reg.Create()
		require.NoError(t, err)
		require.False(t, seen[token])
		seen[token] = true
	}
}

func TestSessionRegistry_Lookup(t *testing.T) {
	clock := newTestClock()
	reg := newTestRegistry(clock, 0)

	token, err := reg.Create()
	require.NoError(t, err)

	expiresAt, ok := reg.Lookup(token)
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(time.Hour), expiresAt)
}

func TestSessionRegistry_Revoke(t *testing.T) {
	reg := newTestRegistry(newTestClock(), 0)

	token, err := reg.Create()
	require.NoError(t, err)

	require.NoError(t, reg.Revoke(token))
	assert.False(t, reg.IsValid(token))
}

func TestSessionRegistry_Sweep(t *testing.T) {
	clock := newTestClock()
	reg := newTestRegistry(clock, 0)

	old, err := reg.Create()
	require.NoError(t, err)
	clock.Advance(45 * time.Minute)
	fresh, err := reg.Create()
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)

	assert.Equal(t, 1, reg.Sweep())
	assert.Equal(t, 1, reg.Len())
	assert.False(t, reg.IsValid(old))
	assert.True(t, reg.IsValid(fresh))
}

func TestSessionRegistry_Bounded(t *testing.T) {
	clock := newTestClock()
	reg := newTestRegistry(clock, 2)

	first, err := reg.Create()
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := reg.Create()
	require.NoError(t, err)
	clock.Advance(time.Minute)
	third, err := reg.Create()
	require.NoError(t, err)

	assert.Equal(t, 2, reg.Len())
	assert.False(t, reg.IsValid(first), "oldest session is evicted when full")
	assert.True(t, reg.IsValid(second))
	assert.True(t, reg.IsValid(third))
}

func TestSessionRegistry_BoundedPrefersExpired(t *testing.T) {
	clock := newTestClock()
	reg := newTestRegistry(clock, 2)

	expired, err := reg.Create()
	require.NoError(t, err)
	clock.Advance(61 * time.Minute)
	live, err := reg.Create()
	require.NoError(t, err)
	_, err = reg.Create()
	require.NoError(t, err)

	assert.False(t, reg.IsValid(expired))
	assert.True(t, reg.IsValid(live))
}

func TestSessionRegistry_Concurrent(t *testing.T) {
	reg := newTestRegistry(newTestClock(), 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := reg.Create()
			if !assert.NoError(t, err) {
				return
			}
			assert.True(t, reg.IsValid(token))
			reg.Sweep()
			assert.NoError(t, reg.Revoke(token))
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, reg.Len())
}
