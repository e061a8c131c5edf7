package api

import (
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/MikeSquared-Agency/catalogqa/internal/apperr"
	"github.com/MikeSquared-Agency/catalogqa/internal/metrics"
)

// Clients idle this long lose their bucket.
const visitorIdle = 5 * time.Minute

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// clientLimiter keeps one token bucket per client address.
type clientLimiter struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastPrune time.Time
	now       func() time.Time
}

func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		visitors: map[string]*visitor{},
		now:      time.Now,
	}
}

func (c *clientLimiter) enabled() bool { return c.limit > 0 }

// allow takes a token for key. When none is left it reports how many of the
// burst's tokens key has spent and how long until one is free again.
func (c *clientLimiter) allow(key string) (bool, int, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastPrune) > time.Minute {
		for k, v := range c.visitors {
			if now.Sub(v.seen) > visitorIdle {
				delete(c.visitors, k)
			}
		}
		c.lastPrune = now
	}

	v, ok := c.visitors[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(c.limit, c.burst)}
		c.visitors[key] = v
	}
	v.seen = now

	res := v.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, c.burst, time.Second
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return false, c.used(v, now), d
	}
	return true, c.used(v, now), 0
}

// used is the part of the burst not yet refilled.
func (c *clientLimiter) used(v *visitor, now time.Time) int {
	left := int(math.Floor(v.lim.TokensAt(now)))
	return min(max(c.burst-left, 0), c.burst)
}

func (c *clientLimiter) middleware(next http.Handler) http.Handler {
	if !c.enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, used, wait := c.allow(clientKey(r))
		if !ok {
			metrics.RateLimited.Inc()
			writeError(w, apperr.RateLimited(int64(used), int64(c.burst), max(wait, time.Second)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey is the caller's address without its port. RealIP has already
// applied any forwarding headers.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
