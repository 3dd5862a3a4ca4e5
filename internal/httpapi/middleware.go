package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/handlers"
	"golang.org/x/time/rate"

	"liveboard/internal/protocol"
)

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, rw, r)
		s.log.Debugw("handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"bytes", m.Written,
			"duration", m.Duration,
		)
	})
}

// throttle applies the limiter to next. Requests from a loopback peer are
// never limited. With TrustProxy the bucket is chosen by the forwarded client
// address, so viewers behind one proxy do not share a bucket.
func (s *Server) throttle(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	var limited http.Handler = http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(r.RemoteAddr) {
			writeError(rw, http.StatusTooManyRequests, protocol.ErrRateLimit, "too many requests")
			return
		}
		next.ServeHTTP(rw, r)
	})
	if s.opts.TrustProxy {
		limited = handlers.ProxyHeaders(limited)
	}
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if IsLoopbackRemote(r.RemoteAddr) {
			next.ServeHTTP(rw, r)
			return
		}
		limited.ServeHTTP(rw, r)
	})
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	r        rate.Limit
	b        int
	ttl      time.Duration
	now      func() time.Time

	rejected atomic.Uint64
}

// NewRateLimiter returns nil when rps is not positive, which disables
// throttling.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		visitors: map[string]*visitor{},
		r:        rate.Limit(rps),
		b:        burst,
		ttl:      3 * time.Minute,
		now:      time.Now,
	}
}

// Allow takes a token from the bucket of remoteAddr, which may be host:port
// or a bare IP.
func (rl *RateLimiter) Allow(remoteAddr string) bool {
	ip := remoteIP(remoteAddr)
	if rl.limiter(ip).AllowN(rl.now(), 1) {
		return true
	}
	rl.rejected.Add(1)
	return false
}

func (rl *RateLimiter) Rejected() uint64 {
	if rl == nil {
		return 0
	}
	return rl.rejected.Load()
}

func (rl *RateLimiter) limiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.r, rl.b)}
		rl.visitors[ip] = v
	}
	v.lastSeen = rl.now()
	return v.limiter
}

// Prune forgets clients idle for longer than the TTL.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for ip, v := range rl.visitors {
		if rl.now().Sub(v.lastSeen) > rl.ttl {
			delete(rl.visitors, ip)
			n++
		}
	}
	return n
}

// Run prunes idle clients every minute until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	if rl == nil {
		return
	}
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rl.Prune()
		}
	}
}

func remoteIP(remoteAddr string) string {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	return strings.TrimSuffix(host, "]")
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// IsLoopbackRemote reports whether a request's RemoteAddr is local.
func IsLoopbackRemote(remoteAddr string) bool {
	return isLoopback(remoteIP(remoteAddr))
}
