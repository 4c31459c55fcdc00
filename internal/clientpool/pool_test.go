package clientpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "conn_1"

const (
	testEventuallyTimeout = time.Second
	testEventuallyTick    = 10 * time.Millisecond
)

type fakeClient struct {
	closed   bool
	onClose  func(error)
	closeErr error
}

func (f *fakeClient) Close() error {
	f.closed = true
	return f.closeErr
}

func (f *fakeClient) OnClose(fn func(error)) {
	f.onClose = fn
}

func TestPool_GetOrCreate_CreatesOnFirstAccess(t *testing.T) {
	t.Parallel()
	pool := New()

	var calls int
	factory := func(context.Context) (Client, error) {
		calls++
		return &fakeClient{}, nil
	}

	_, err := pool.GetOrCreate(context.Background(), testKey, factory)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPool_GetOrCreate_ReturnsSameClient(t *testing.T) {
	t.Parallel()
	pool := New()

	var calls int
	factory := func(context.Context) (Client, error) {
		calls++
		return &fakeClient{}, nil
	}

	c1, err := pool.GetOrCreate(context.Background(), testKey, factory)
	require.NoError(t, err)
	c2, err := pool.GetOrCreate(context.Background(), testKey, factory)
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, 1, calls)
}

func TestPool_GetOrCreate_DifferentKeysGetDifferentClients(t *testing.T) {
	t.Parallel()
	pool := New()

	factory := func(context.Context) (Client, error) {
		return &fakeClient{}, nil
	}

	_, err := pool.GetOrCreate(context.Background(), "a", factory)
	require.NoError(t, err)
	_, err = pool.GetOrCreate(context.Background(), "b", factory)
	require.NoError(t, err)

	assert.Equal(t, 2, pool.Len())
}

func TestPool_GetOrCreate_FactoryErrorNotCached(t *testing.T) {
	t.Parallel()
	pool := New()
	wantErr := errors.New("factory failed")

	factory := func(context.Context) (Client, error) {
		return nil, wantErr
	}

	c, err := pool.GetOrCreate(context.Background(), testKey, factory)
	assert.Error(t, err)
	assert.Nil(t, c)
	assert.Equal(t, 0, pool.Len())
}

func TestPool_GetOrCreate_RetriesAfterFailure(t *testing.T) {
	t.Parallel()
	pool := New()

	var calls int
	factory := func(context.Context) (Client, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("first attempt fails")
		}
		return &fakeClient{}, nil
	}

	_, err := pool.GetOrCreate(context.Background(), testKey, factory)
	assert.Error(t, err)

	c, err := pool.GetOrCreate(context.Background(), testKey, factory)
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Equal(t, 2, calls)
}

func TestPool_GetOrCreate_ConcurrentAccessSharesOneAttempt(t *testing.T) {
	t.Parallel()
	pool := New()

	var calls int
	var mu sync.Mutex
	factory := func(context.Context) (Client, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return &fakeClient{}, nil
	}

	const n = 20
	results := make([]Client, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			c, err := pool.GetOrCreate(context.Background(), testKey, factory)
			require.NoError(t, err)
			results[i] = c
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, 1, calls)
}

func TestPool_ClientCloseEvictsEntry(t *testing.T) {
	t.Parallel()
	pool := New()
	client := &fakeClient{}

	factory := func(context.Context) (Client, error) {
		return client, nil
	}

	_, err := pool.GetOrCreate(context.Background(), testKey, factory)
	require.NoError(t, err)
	require.Equal(t, 1, pool.Len())

	client.onClose(errors.New("connection closed"))

	assert.Equal(t, 0, pool.Len())
}

func TestPool_NotifyError_EvictsOnlyStaleErrors(t *testing.T) {
	t.Parallel()
	pool := New()

	factory := func(context.Context) (Client, error) {
		return &fakeClient{}, nil
	}
	_, err := pool.GetOrCreate(context.Background(), testKey, factory)
	require.NoError(t, err)

	pool.NotifyError(testKey, errors.New("some unrelated failure"))
	assert.Equal(t, 1, pool.Len(), "non-stale error should not evict")

	pool.NotifyError(testKey, errors.New("ECONNRESET"))
	assert.Equal(t, 0, pool.Len(), "stale error should evict")
}

func TestPool_Invalidate_EvictsAndClosesInBackground(t *testing.T) {
	t.Parallel()
	pool := New()
	client := &fakeClient{}

	factory := func(context.Context) (Client, error) {
		return client, nil
	}
	_, err := pool.GetOrCreate(context.Background(), testKey, factory)
	require.NoError(t, err)

	pool.Invalidate(testKey)

	assert.Equal(t, 0, pool.Len())
	assert.Eventually(t, func() bool { return client.closed }, testEventuallyTimeout, testEventuallyTick)
}

func TestPool_Invalidate_NonExistentKeyIsSafe(t *testing.T) {
	t.Parallel()
	pool := New()
	assert.NotPanics(t, func() {
		pool.Invalidate("missing")
	})
}

func TestPool_Close_ClosesAllClientsAndClearsPool(t *testing.T) {
	t.Parallel()
	pool := New()

	clients := []*fakeClient{{}, {}, {}}
	keys := []string{"a", "b", "c"}
	for i, key := range keys {
		i := i
		_, err := pool.GetOrCreate(context.Background(), key, func(context.Context) (Client, error) {
			return clients[i], nil
		})
		require.NoError(t, err)
	}

	require.Equal(t, 3, pool.Len())
	require.NoError(t, pool.Close())
	assert.Equal(t, 0, pool.Len())

	for _, c := range clients {
		assert.True(t, c.closed)
	}
}

func TestPool_Close_OnEmptyPoolIsSafe(t *testing.T) {
	t.Parallel()
	pool := New()
	assert.NoError(t, pool.Close())
}

func TestIsStaleError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"server not initialized", errors.New("server not initialized"), true},
		{"connection closed", errors.New("Connection Closed"), true},
		{"socket hang up", errors.New("socket hang up"), true},
		{"econnreset", errors.New("read: ECONNRESET"), true},
		{"econnrefused", errors.New("dial tcp: econnrefused"), true},
		{"unrelated", errors.New("invalid argument"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsStaleError(tt.err))
		})
	}
}
