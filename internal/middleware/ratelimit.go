package middleware

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxAttemptsPerMinute is the default budget of failed auth
	// attempts per client.
	DefaultMaxAttemptsPerMinute = 10

	// DefaultMaxTrackedClients bounds memory used by the limiter.
	DefaultMaxTrackedClients = 10000

	cleanupInterval = time.Minute
	staleThreshold  = 5 * time.Minute
)

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter tracks failed authentication attempts per client IP. Clients
// with no recorded failures are never limited.
type RateLimiter struct {
	mu         sync.Mutex
	clients    map[string]*clientEntry
	limit      rate.Limit
	burst      int
	maxClients int
	now        func() time.Time
	cancel     context.CancelFunc
}

// NewRateLimiter creates a limiter allowing maxPerMinute failures per client
// per minute. Pass 0 to use DefaultMaxAttemptsPerMinute. The background
// cleanup stops when ctx is done or Stop is called.
func NewRateLimiter(ctx context.Context, maxPerMinute int) *RateLimiter {
	if maxPerMinute <= 0 {
		maxPerMinute = DefaultMaxAttemptsPerMinute
	}
	ctx, cancel := context.WithCancel(ctx)
	rl := &RateLimiter{
		clients:    make(map[string]*clientEntry),
		limit:      rate.Limit(float64(maxPerMinute) / 60.0),
		burst:      maxPerMinute,
		maxClients: DefaultMaxTrackedClients,
		now:        time.Now,
		cancel:     cancel,
	}
	go rl.cleanup(ctx)
	return rl
}

// Allow reports whether client may make another attempt without consuming
// any of its budget.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.clients[client]
	if !ok {
		return true
	}
	e.lastSeen = rl.now()
	return e.limiter.TokensAt(e.lastSeen) >= 1
}

// RecordFailure consumes one unit of client's budget.
func (rl *RateLimiter) RecordFailure(client string) {
	_ = rl.RecordFailureAndAllow(client)
}

// RecordFailureAndAllow records a failed attempt and reports whether the
// client is still within its budget.
func (rl *RateLimiter) RecordFailureAndAllow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	e, ok := rl.clients[client]
	if !ok {
		if len(rl.clients) >= rl.maxClients {
			rl.evictOldestLocked()
		}
		e = &clientEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[client] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Tracked returns the number of clients with recorded failures.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Stop cancels the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.cancel()
}

func (rl *RateLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.removeStale()
		}
	}
}

func (rl *RateLimiter) removeStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-staleThreshold)
	for client, e := range rl.clients {
		if e.lastSeen.Before(cutoff) {
			delete(rl.clients, client)
		}
	}
}

func (rl *RateLimiter) evictOldestLocked() {
	var oldest string
	var oldestSeen time.Time
	for client, e := range rl.clients {
		if oldest == "" || e.lastSeen.Before(oldestSeen) {
			oldest = client
			oldestSeen = e.lastSeen
		}
	}
	delete(rl.clients, oldest)
}

// ExtractIP strips the port from a RemoteAddr-style address.
func ExtractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
