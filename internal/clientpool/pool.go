// Package clientpool implements the single-flight MCP client cache
// described in spec §4.C. Two instances are expected at runtime: a
// process-wide singleton for STDIO backends (child processes must
// outlive any one request) and a per-request pool for HTTP/SSE/WS
// backends, where header freshness matters more than reuse across
// requests.
package clientpool

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vmcpmesh/gateway/pkg/errors"
)

// ConnectTimeout bounds how long a single factory call may take before
// GetOrCreate gives up and surfaces the error to every waiter (spec §5).
const ConnectTimeout = 30 * time.Second

// staleErrorSubstrings are matched case-insensitively against an error's
// message to decide whether a pooled entry should be evicted (spec
// §4.C).
var staleErrorSubstrings = []string{
	"server not initialized",
	"connection closed",
	"socket hang up",
	"econnreset",
	"econnrefused",
}

// IsStaleError reports whether err indicates the underlying connection is
// no longer usable and its pool entry should be evicted.
func IsStaleError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range staleErrorSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Client is the lifecycle surface a pooled entry exposes.
type Client interface {
	Close() error
}

// CloseObserver is implemented by clients that can notify the pool when
// they terminate on their own (transport EOF, remote close, protocol
// error) so a stale entry is evicted without an explicit Invalidate
// call — the Go realization of the spec's "onclose"/"onerror" hooks.
type CloseObserver interface {
	OnClose(func(error))
}

// Factory constructs and connects a new Client for key.
type Factory func(ctx context.Context) (Client, error)

// Pool is a map from key to a single-flight-guarded Client.
type Pool struct {
	mu      sync.RWMutex
	clients map[string]Client
	sf      singleflight.Group
}

// New creates an empty Pool.
func New() *Pool {
	return &Pool{clients: make(map[string]Client)}
}

// GetOrCreate returns the cached client for key, or builds one via
// factory. Concurrent callers for the same key share the same in-flight
// connect attempt and its outcome; a failed attempt is not cached, so
// the next caller retries.
func (p *Pool) GetOrCreate(ctx context.Context, key string, factory Factory) (Client, error) {
	if c, ok := p.load(key); ok {
		return c, nil
	}

	v, err, _ := p.sf.Do(key, func() (any, error) {
		if c, ok := p.load(key); ok {
			return c, nil
		}

		connectCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
		defer cancel()

		c, err := factory(connectCtx)
		if err != nil {
			return nil, errors.NewError(errors.ErrInternal, "connect client", err)
		}

		if observer, ok := c.(CloseObserver); ok {
			observer.OnClose(func(closeErr error) {
				p.evict(key)
				_ = closeErr
			})
		}

		p.mu.Lock()
		p.clients[key] = c
		p.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Client), nil
}

func (p *Pool) load(key string) (Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.clients[key]
	return c, ok
}

func (p *Pool) evict(key string) {
	p.mu.Lock()
	delete(p.clients, key)
	p.mu.Unlock()
}

// NotifyError evicts key's entry if err indicates a stale connection.
// Callers that observe an operation-level error on a pooled client (as
// opposed to the client announcing its own close) report it here.
func (p *Pool) NotifyError(key string, err error) {
	if IsStaleError(err) {
		p.evict(key)
	}
}

// Invalidate evicts key and closes the underlying client in the
// background, ignoring close errors.
func (p *Pool) Invalidate(key string) {
	p.mu.Lock()
	c, ok := p.clients[key]
	delete(p.clients, key)
	p.mu.Unlock()
	if !ok {
		return
	}
	go func() {
		_ = c.Close()
	}()
}

// Close closes every live client in parallel and clears the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]Client)
	p.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(clients))
	for _, c := range clients {
		go func(c Client) {
			defer wg.Done()
			_ = c.Close()
		}(c)
	}
	wg.Wait()
	return nil
}

// Len reports the number of currently cached clients, for tests and
// diagnostics.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}
