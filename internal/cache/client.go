package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Client 在 Store 之上提供类型化读写、请求合并与取消
type Client struct {
	store     Store
	namespace func(ctx context.Context) string

	// writeMu serializes writes so a superseded fetch can never land after the write that
	// superseded it. Lock order: writeMu, then mu.
	writeMu  sync.Mutex
	mu       sync.Mutex
	inflight map[string]*call
}

type call struct {
	done       chan struct{}
	data       []byte
	err        error
	cancel     context.CancelFunc
	superseded bool
}

type Option func(*Client)

// WithNamespace scopes every key by the value fn derives from the request context, so entries
// fetched with one caller's credentials are never served to another. An empty namespace means
// the shared scope.
func WithNamespace(fn func(ctx context.Context) string) Option {
	return func(c *Client) { c.namespace = fn }
}

func NewClient(store Store, opts ...Option) *Client {
	c := &Client{
		store:    store,
		inflight: make(map[string]*call),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) key(ctx context.Context, key string) string {
	if c.namespace == nil {
		return key
	}
	if ns := c.namespace(ctx); ns != "" {
		return "ns:" + ns + ":" + key
	}
	return key
}

// Entry returns the raw entry for key (nil when absent), stale or not.
func (c *Client) Entry(ctx context.Context, key string) (*Entry, error) {
	return c.store.Get(ctx, c.key(ctx, key))
}

// Restore puts back an entry captured with Entry. A nil entry deletes the key.
func (c *Client) Restore(ctx context.Context, key string, e *Entry) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if e == nil {
		return c.store.Delete(ctx, c.key(ctx, key))
	}
	return c.store.Set(ctx, c.key(ctx, key), *e)
}

func (c *Client) Delete(ctx context.Context, key string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.store.Delete(ctx, c.key(ctx, key))
}

// Invalidate marks every entry under prefix stale. Fetches already in flight for those keys
// still answer their callers but no longer write, and the next Fetch starts over.
func (c *Client) Invalidate(ctx context.Context, prefix string) error {
	prefix = c.key(ctx, prefix)
	c.mu.Lock()
	for key, cl := range c.inflight {
		if hasPrefix(key, prefix) {
			cl.superseded = true
			delete(c.inflight, key)
		}
	}
	c.mu.Unlock()

	_, err := c.store.Invalidate(ctx, prefix)
	return err
}

// InvalidateKey marks the single entry at key stale and supersedes its in-flight fetch. Keys that
// merely share key as a prefix are left alone.
func (c *Client) InvalidateKey(ctx context.Context, key string) error {
	key = c.key(ctx, key)
	c.mu.Lock()
	if cl, ok := c.inflight[key]; ok {
		cl.superseded = true
		delete(c.inflight, key)
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	e, err := c.store.Get(ctx, key)
	if err != nil || e == nil || e.Stale {
		return err
	}
	e.Stale = true
	return c.store.Set(ctx, key, *e)
}

// CancelPending aborts the in-flight fetch of key. Its result is never written.
func (c *Client) CancelPending(ctx context.Context, key string) {
	key = c.key(ctx, key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.inflight[key]; ok {
		cl.superseded = true
		cl.cancel()
		delete(c.inflight, key)
	}
}

// Keys 列出前缀下的所有 key（不含命名空间）
func (c *Client) Keys(ctx context.Context, prefix string) ([]string, error) {
	ns := c.key(ctx, "")
	keys, err := c.store.Keys(ctx, ns+prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = k[len(ns):]
	}
	return keys, nil
}

// Load decodes the entry at key. found is false when the key is absent.
func Load[T any](ctx context.Context, c *Client, key string) (v T, found bool, err error) {
	e, err := c.store.Get(ctx, c.key(ctx, key))
	if err != nil || e == nil {
		return v, false, err
	}
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return v, false, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}
	return v, true, nil
}

// Save writes v as a fresh entry.
func Save[T any](ctx context.Context, c *Client, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.store.Set(ctx, c.key(ctx, key), Entry{Data: data, UpdatedAt: time.Now()})
}

// Update rewrites an existing entry in place, keeping its stale flag. fn reports whether it
// changed anything. Absent keys are left alone.
func Update[T any](ctx context.Context, c *Client, key string, fn func(T) (T, bool)) (bool, error) {
	key = c.key(ctx, key)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	e, err := c.store.Get(ctx, key)
	if err != nil || e == nil {
		return false, err
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return false, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}
	v, changed := fn(v)
	if !changed {
		return false, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}
	return true, c.store.Set(ctx, key, Entry{Data: data, Stale: e.Stale, UpdatedAt: time.Now()})
}

// Fetch serves a fresh entry for key, or calls fn and stores its result. Concurrent callers for
// the same key share one call to fn.
func Fetch[T any](ctx context.Context, c *Client, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	key = c.key(ctx, key)
	e, err := c.store.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	if e != nil && !e.Stale {
		var v T
		if err := json.Unmarshal(e.Data, &v); err == nil {
			return v, nil
		}
	}

	data, err := c.do(ctx, key, func(fctx context.Context) ([]byte, error) {
		v, err := fn(fctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, fmt.Errorf("failed to decode fetch result %s: %w", key, err)
	}
	return v, nil
}

func (c *Client) do(ctx context.Context, key string, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	c.mu.Lock()
	cl, ok := c.inflight[key]
	if !ok {
		// the shared fetch keeps the caller's values (access token) but not its deadline
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		cl = &call{done: make(chan struct{}), cancel: cancel}
		c.inflight[key] = cl
		go c.run(fctx, key, cl, fn)
	}
	c.mu.Unlock()

	select {
	case <-cl.done:
		return cl.data, cl.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) run(ctx context.Context, key string, cl *call, fn func(context.Context) ([]byte, error)) {
	defer cl.cancel()
	data, err := fn(ctx)

	c.writeMu.Lock()
	c.mu.Lock()
	if c.inflight[key] == cl {
		delete(c.inflight, key)
	}
	superseded := cl.superseded
	c.mu.Unlock()

	if err == nil && !superseded {
		err = c.store.Set(ctx, key, Entry{Data: data, UpdatedAt: time.Now()})
	}
	c.writeMu.Unlock()

	cl.data, cl.err = data, err
	close(cl.done)
}

// Pending reports whether a fetch for key is in flight.
func (c *Client) Pending(ctx context.Context, key string) bool {
	key = c.key(ctx, key)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[key]
	return ok
}
