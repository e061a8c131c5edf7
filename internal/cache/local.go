package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Local is an in-process cache for single-instance deployments.
type Local struct {
	c *gocache.Cache
}

func NewLocal(ttl time.Duration) *Local {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Local{c: gocache.New(ttl, 2*ttl)}
}

func (l *Local) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := l.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

func (l *Local) Set(_ context.Context, key string, value []byte) error {
	l.c.SetDefault(key, value)
	return nil
}

func (l *Local) Purge(context.Context) error {
	l.c.Flush()
	return nil
}

func (l *Local) Close() error { return nil }
