// Package identity provides the playback context barrier. Components that
// need the profile id wait on it once instead of polling for it.
package identity

import (
	"context"
	"strings"
	"sync"
)

// Context resolves exactly once to the active profile id.
type Context struct {
	once  sync.Once
	ready chan struct{}
	id    string
}

// New returns an unresolved context.
func New() *Context {
	return &Context{ready: make(chan struct{})}
}

// Resolved returns a context already resolved to id.
func Resolved(id string) *Context {
	c := New()
	c.Resolve(id)
	return c
}

// Resolve sets the id and releases every waiter. Later calls and blank
// ids are ignored; it reports whether this call resolved the context.
func (c *Context) Resolve(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	resolved := false
	c.once.Do(func() {
		c.id = id
		close(c.ready)
		resolved = true
	})
	return resolved
}

// Ready is closed once the id is known.
func (c *Context) Ready() <-chan struct{} {
	return c.ready
}

// Wait blocks until the id is resolved or ctx ends.
func (c *Context) Wait(ctx context.Context) (string, error) {
	select {
	case <-c.ready:
		return c.id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Current returns the id if it is already resolved.
func (c *Context) Current() (string, bool) {
	select {
	case <-c.ready:
		return c.id, true
	default:
		return "", false
	}
}
