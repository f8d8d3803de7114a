package httpapi

import (
	"container/heap"
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/log"
)

// HeaderAPIKey is the header name for API key authentication.
const HeaderAPIKey = "X-API-Key"

// APIKeyAuth returns a middleware that validates the API key. The key may
// also be sent as a bearer token.
func APIKeyAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderAPIKey)
		if key == "" {
			auth := c.GetHeader("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if key == "" {
			RespondUnauthorized(c, "API key is required")
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
			RespondUnauthorized(c, "Invalid API key")
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

const defaultMaxVisitors = 10000

type visitorEntry struct {
	key      string
	limiter  *rate.Limiter
	lastSeen time.Time
	index    int
}

// visitorHeap is ordered by lastSeen, oldest first.
type visitorHeap []*visitorEntry

func (h visitorHeap) Len() int           { return len(h) }
func (h visitorHeap) Less(i, j int) bool { return h[i].lastSeen.Before(h[j].lastSeen) }
func (h visitorHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *visitorHeap) Push(x any) {
	entry := x.(*visitorEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *visitorHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// RateLimiter is a per-visitor token bucket. Visitors are keyed by API key,
// falling back to the client IP. Idle visitors are forgotten after one
// window, and the oldest visitor is evicted once maxVisitors is reached.
type RateLimiter struct {
	limit       rate.Limit
	burst       int
	window      time.Duration
	maxVisitors int
	now         func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitorEntry
	minHeap  visitorHeap
}

// NewRateLimiter allows limit requests per window for each visitor.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	interval := window / time.Duration(limit)
	if interval <= 0 {
		interval = time.Second
	}
	return &RateLimiter{
		limit:       rate.Every(interval),
		burst:       limit,
		window:      window,
		maxVisitors: defaultMaxVisitors,
		now:         time.Now,
		visitors:    make(map[string]*visitorEntry),
	}
}

// Allow reports whether key may make a request now.
func (l *RateLimiter) Allow(key string) bool {
	return l.visitor(key).AllowN(l.now(), 1)
}

// Len returns the number of tracked visitors.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func (l *RateLimiter) visitor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, ok := l.visitors[key]; ok {
		entry.lastSeen = now
		heap.Fix(&l.minHeap, entry.index)
		return entry.limiter
	}

	if len(l.visitors) >= l.maxVisitors && l.minHeap.Len() > 0 {
		oldest := heap.Pop(&l.minHeap).(*visitorEntry)
		delete(l.visitors, oldest.key)
	}
	entry := &visitorEntry{key: key, limiter: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
	l.visitors[key] = entry
	heap.Push(&l.minHeap, entry)
	return entry.limiter
}

// Cleanup forgets visitors idle for longer than one window.
func (l *RateLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for l.minHeap.Len() > 0 && l.minHeap[0].lastSeen.Before(cutoff) {
		entry := heap.Pop(&l.minHeap).(*visitorEntry)
		delete(l.visitors, entry.key)
	}
}

// Run cleans up idle visitors every minute until ctx is cancelled.
func (l *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderAPIKey)
		if key == "" {
			key = c.ClientIP()
		}
		if !l.Allow(key) {
			RespondError(c, http.StatusTooManyRequests, ErrCodeRateLimitExceeded, "Rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}
