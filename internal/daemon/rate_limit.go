package daemon

import (
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultRateLimitTTL = 10 * time.Minute

// IPRateLimiter caps how often a single remote address may call a
// rate-limited RPC method (administrative methods such as add_api_user,
// per spec.md §4.5's privilege classes). Safe for concurrent use.
type IPRateLimiter struct {
	mu          sync.Mutex
	qps         rate.Limit
	burst       int
	ttl         time.Duration
	now         func() time.Time
	lastCleanup time.Time
	entries     map[string]*ipRateEntry
}

type ipRateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a per-IP limiter. If qps or burst are
// non-positive, it returns nil to indicate rate limiting is disabled.
func NewIPRateLimiter(qps float64, burst int) *IPRateLimiter {
	if qps <= 0 || burst <= 0 {
		return nil
	}
	return &IPRateLimiter{
		qps:     rate.Limit(qps),
		burst:   burst,
		ttl:     defaultRateLimitTTL,
		now:     time.Now,
		entries: make(map[string]*ipRateEntry),
	}
}

// Allow reports whether a call from remoteAddr may proceed.
func (l *IPRateLimiter) Allow(remoteAddr string) bool {
	if l == nil {
		return true
	}
	ip := parseRemoteIP(remoteAddr)
	if ip == nil || ip.IsUnspecified() {
		return false
	}
	key := ip.String()
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.cleanupLocked(now)

	entry := l.entries[key]
	if entry == nil {
		entry = &ipRateEntry{limiter: rate.NewLimiter(l.qps, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *IPRateLimiter) cleanupLocked(now time.Time) {
	if l.ttl <= 0 {
		return
	}
	if !l.lastCleanup.IsZero() && now.Sub(l.lastCleanup) < l.ttl {
		return
	}
	for ip, entry := range l.entries {
		if entry == nil || now.Sub(entry.lastSeen) > l.ttl {
			delete(l.entries, ip)
		}
	}
	l.lastCleanup = now
}

// parseRemoteIP extracts the bare IP from an http.Request.RemoteAddr-shaped
// string, stripping port, brackets, and zone id.
func parseRemoteIP(remoteAddr string) net.IP {
	remoteAddr = strings.TrimSpace(remoteAddr)
	if remoteAddr == "" {
		return nil
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if idx := strings.LastIndex(host, "%"); idx >= 0 {
		host = host[:idx]
	}
	return net.ParseIP(host)
}
