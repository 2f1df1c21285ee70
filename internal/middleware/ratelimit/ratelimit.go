// Package ratelimit caps request rates per client IP with a fixed one-minute
// window. The API is small and personal; the limiter exists to stop runaway
// clients and credential stuffing, not to shape real traffic.
package ratelimit

import (
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Limiter tracks request counts per client IP.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*window

	stop     chan struct{}
	stopOnce sync.Once

	requestsPerMinute int
	cleanupInterval   time.Duration
}

// window is one client's count within the current minute.
type window struct {
	start    time.Time
	requests int
}

type Config struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration
}

// DefaultConfig allows 60 requests a minute per IP, generous for the login
// and data endpoints this server exposes.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		CleanupInterval:   5 * time.Minute,
	}
}

func NewLimiter(cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultConfig().CleanupInterval
	}
	l := &Limiter{
		clients:           make(map[string]*window),
		stop:              make(chan struct{}),
		requestsPerMinute: cfg.RequestsPerMinute,
		cleanupInterval:   cfg.CleanupInterval,
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a request from clientIP fits in the current window.
func (l *Limiter) Allow(clientIP string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.clients[clientIP]
	if !ok || now.Sub(w.start) > time.Minute {
		l.clients[clientIP] = &window{start: now, requests: 1}
		return true
	}
	w.requests++
	return w.requests <= l.requestsPerMinute
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.dropIdleClients()
		case <-l.stop:
			return
		}
	}
}

// dropIdleClients forgets IPs quiet for over ten minutes.
func (l *Limiter) dropIdleClients() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, w := range l.clients {
		if w.start.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Middleware rejects over-limit requests before they reach the router. A nil
// onLimit falls back to a plain 429 with Retry-After.
func (l *Limiter) Middleware(extractIP func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractIP(r)
			if !l.Allow(ip) {
				slog.DebugContext(r.Context(), "Request rate limited", "client_ip", ip, "path", r.URL.Path)
				if onLimit != nil {
					onLimit(w, r)
				} else {
					w.Header().Set("Retry-After", "60")
					http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
