// Package tokencache holds a mutable bearer token with expiry for provider
// clients. Refreshes are single-flight: concurrent callers block on one
// refresh instead of each hitting the token endpoint.
package tokencache

import (
	"context"
	"time"

	"github.com/inkflow-ai/inkflow/internal/clock"
)

// FetchFunc obtains a fresh token and its expiry.
type FetchFunc func(ctx context.Context) (token string, expiresAt time.Time, err error)

// expirySlack refreshes slightly early so a token never expires mid-request.
const expirySlack = 30 * time.Second

type Cache struct {
	fetch FetchFunc
	clock clock.Clock

	// sem serializes refreshes while letting EnsureValid take ctx into
	// account; a plain mutex cannot be acquired with a context.
	sem chan struct{}

	token     string
	expiresAt time.Time
}

func New(fetch FetchFunc, clk clock.Clock) *Cache {
	c := &Cache{
		fetch: fetch,
		clock: clk,
		sem:   make(chan struct{}, 1),
	}
	c.sem <- struct{}{}
	return c
}

// EnsureValid returns a non-expired token, refreshing if needed.
func (c *Cache) EnsureValid(ctx context.Context) (string, error) {
	select {
	case <-c.sem:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { c.sem <- struct{}{} }()

	if c.token != "" && c.clock.Now().Before(c.expiresAt.Add(-expirySlack)) {
		return c.token, nil
	}

	token, expiresAt, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expiresAt = expiresAt
	return token, nil
}

// Invalidate drops the cached token, forcing a refresh on the next call.
// Callers use it after a 401 from the wrapped API.
func (c *Cache) Invalidate() {
	<-c.sem
	c.token = ""
	c.expiresAt = time.Time{}
	c.sem <- struct{}{}
}
