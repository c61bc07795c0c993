package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Tener/ggp-aps/internal/httpmw"
)

// client is the token bucket and bookkeeping for one address.
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// reported is set after the first denial so OnFirstDenied fires once per
	// entry; eviction resets it.
	reported bool
}

// IPLimiter throttles requests per client IP and evicts idle entries in the
// background.
type IPLimiter struct {
	mu      sync.Mutex
	clients map[string]*client

	perSecond  rate.Limit
	burst      int
	ttl        time.Duration
	maxClients int
	now        func() time.Time

	// OnFirstDenied runs once per tracked client on its first denial.
	OnFirstDenied func(ip string)
	// OnDenied runs on every denied request.
	OnDenied func(ip string)
	// OnCapacity runs when a new client is refused because the table is full.
	OnCapacity func(ip string)
}

type Option func(*IPLimiter)

// WithRate sets the refill rate and the bucket size. WithRate(10, 50) admits
// 50 requests at once, then 10 per second.
func WithRate(perSecond float64, burst int) Option {
	return func(l *IPLimiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL sets how long an idle client stays tracked.
func WithTTL(d time.Duration) Option {
	return func(l *IPLimiter) { l.ttl = d }
}

// WithMaxClients bounds the number of tracked addresses. Zero means unbounded.
func WithMaxClients(n int) Option {
	return func(l *IPLimiter) { l.maxClients = n }
}

func WithOnFirstDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) { l.OnFirstDenied = fn }
}

func WithOnDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) { l.OnDenied = fn }
}

func WithOnCapacity(fn func(ip string)) Option {
	return func(l *IPLimiter) { l.OnCapacity = fn }
}

// New creates an IPLimiter. Eviction runs until ctx is cancelled.
func New(ctx context.Context, opts ...Option) *IPLimiter {
	l := &IPLimiter{
		clients:    make(map[string]*client),
		perSecond:  20,
		burst:      60,
		ttl:        5 * time.Minute,
		maxClients: 100_000,
		now:        time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	if l.ttl <= 0 {
		l.ttl = 5 * time.Minute
	}

	go l.evictLoop(ctx)
	return l
}

type decision int

const (
	allowed decision = iota
	denied
	deniedFirst
	full
)

// allow reports whether ip may proceed and fires the hooks outside the lock.
func (l *IPLimiter) allow(ip string) bool {
	d := l.decide(ip)
	switch d {
	case deniedFirst:
		if l.OnFirstDenied != nil {
			l.OnFirstDenied(ip)
		}
		fallthrough
	case denied:
		if l.OnDenied != nil {
			l.OnDenied(ip)
		}
	case full:
		if l.OnCapacity != nil {
			l.OnCapacity(ip)
		}
	}
	return d == allowed
}

func (l *IPLimiter) decide(ip string) decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[ip]
	if !ok {
		if l.maxClients > 0 && len(l.clients) >= l.maxClients {
			return full
		}
		c = &client{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.clients[ip] = c
	}

	now := l.now()
	c.lastSeen = now
	if c.limiter.AllowN(now, 1) {
		return allowed
	}
	if !c.reported {
		c.reported = true
		return deniedFirst
	}
	return denied
}

// Len is the number of tracked clients.
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *IPLimiter) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evict(l.now())
		}
	}
}

// evict drops clients idle for longer than the TTL.
func (l *IPLimiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, c := range l.clients {
		if now.Sub(c.lastSeen) > l.ttl {
			delete(l.clients, ip)
		}
	}
}

// Middleware answers 429 with an empty body once the resolved client IP is
// over its limit. It must run after httpmw.ClientIP.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(httpmw.ClientIPFromContext(r.Context())) {
			w.Header().Set("Retry-After", "30")
			w.Header().Set("Content-Length", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
