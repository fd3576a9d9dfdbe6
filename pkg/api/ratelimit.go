package api

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/teamspace/pkg/auth"
	"github.com/ethpandaops/teamspace/pkg/config"
	"github.com/ethpandaops/teamspace/pkg/metrics"
	"golang.org/x/time/rate"
)

const (
	rateLimitCleanupInterval = 5 * time.Minute
	rateLimitEntryTTL        = 10 * time.Minute
)

// rateKeyFunc maps a request to the bucket it is charged against.
type rateKeyFunc func(r *http.Request) string

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterMap holds one token bucket per key. Idle buckets are dropped by
// the cleanup loop until done is closed.
type rateLimiterMap struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	perMinute int
	now       func() time.Time
}

func newRateLimiterMap(requestsPerMinute int, done <-chan struct{}) *rateLimiterMap {
	rl := &rateLimiterMap{
		limiters:  make(map[string]*limiterEntry, 64),
		perMinute: requestsPerMinute,
		now:       time.Now,
	}

	go rl.cleanup(done)

	return rl
}

// allow charges one request to key and reports whether it fits the bucket.
func (rl *rateLimiterMap) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	entry, ok := rl.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(
			rate.Limit(float64(rl.perMinute)/60.0), rl.perMinute,
		)}
		rl.limiters[key] = entry
	}

	entry.lastSeen = now

	return entry.limiter.AllowN(now, 1)
}

// retryAfter is the number of seconds, rounded up, until one token refills.
func (rl *rateLimiterMap) retryAfter() int {
	if rl.perMinute <= 0 {
		return int(rateLimitEntryTTL.Seconds())
	}

	return (60 + rl.perMinute - 1) / rl.perMinute
}

func (rl *rateLimiterMap) prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0

	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > rateLimitEntryTTL {
			delete(rl.limiters, key)
			removed++
		}
	}

	return removed
}

func (rl *rateLimiterMap) cleanup(done <-chan struct{}) {
	ticker := time.NewTicker(rateLimitCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.prune()
		case <-done:
			return
		}
	}
}

// rateLimitMiddleware limits requests per key for the given tier. Refused
// requests get 429 with a Retry-After header.
func (s *server) rateLimitMiddleware(
	tierName string,
	tier config.RateLimitTier,
	key rateKeyFunc,
) func(http.Handler) http.Handler {
	limiterMap := newRateLimiterMap(tier.RequestsPerMinute, s.done)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiterMap.allow(key(r)) {
				metrics.RateLimitedTotal.WithLabelValues(tierName).Inc()

				w.Header().Set("Retry-After", strconv.Itoa(limiterMap.retryAfter()))
				writeJSON(w, http.StatusTooManyRequests,
					errorResponse{Error: "rate limit exceeded"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIPKey keys the sign-in tier by client address.
func (s *server) clientIPKey(r *http.Request) string {
	return "ip:" + clientIP(r, s.trustedProxies)
}

// principalKey keys the authenticated tier by principal, so callers sharing
// an address do not share a bucket.
func (s *server) principalKey(r *http.Request) string {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		return string(p.Source()) + ":" + p.ID()
	}

	return s.clientIPKey(r)
}

// clientIP returns the address of the client. X-Forwarded-For is consulted
// only when the direct peer is a trusted proxy; it is then walked from the
// nearest hop outwards and the first untrusted address wins.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := remoteAddr(r)

	addr, err := netip.ParseAddr(peer)
	if err != nil || !isTrusted(addr, trusted) {
		return peer
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")

	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}

		hopAddr, err := netip.ParseAddr(hop)
		if err != nil {
			return peer
		}

		if !isTrusted(hopAddr, trusted) {
			return hopAddr.Unmap().String()
		}

		peer = hopAddr.Unmap().String()
	}

	return peer
}

func remoteAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	addr = addr.Unmap()

	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}

	return false
}
