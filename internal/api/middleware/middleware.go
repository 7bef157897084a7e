package middleware

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TheGojiOG/mcpanel/internal/logging"
)

const (
	corsHeaders = "Authorization, Content-Type, Accept, Origin"
	corsMethods = "GET, POST, DELETE, OPTIONS"
)

// originSet is the parsed api.allowed_origins list.
type originSet struct {
	any     bool
	origins map[string]struct{}
}

func newOriginSet(allowed []string) originSet {
	set := originSet{origins: make(map[string]struct{}, len(allowed))}
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			set.any = true
		default:
			set.origins[o] = struct{}{}
		}
	}
	return set
}

func (s originSet) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if s.any {
		return true
	}
	_, ok := s.origins[origin]
	return ok
}

// CORS echoes allowed browser origins and answers preflight requests.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	set := newOriginSet(allowedOrigins)
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Add("Vary", "Origin")
		if origin := c.GetHeader("Origin"); set.allows(origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Max-Age", "600")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Logger writes one structured entry per request. Health probes are only
// logged in debug mode.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		path := c.Request.URL.Path
		if path == "/health" && gin.Mode() != gin.DebugMode {
			return
		}
		if q := redactQuery(c.Request.URL.RawQuery); q != "" {
			path += "?" + q
		}
		level := logging.L().Info
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = logging.L().Warn
		}
		level("http_request",
			"subject", c.GetString(SubjectKey),
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", latency.String(),
			"ip", c.ClientIP(),
		)
	}
}

// redactQuery hides the token websocket clients pass in the query string.
func redactQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return ""
	}
	if values.Has("token") {
		values.Set("token", "REDACTED")
	}
	return values.Encode()
}

// RateLimit caps requests per client IP per minute. A limit of zero disables
// it.
func RateLimit(requestsPerMinute int) gin.HandlerFunc {
	if requestsPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := newRateLimiter(requestsPerMinute, time.Minute)
	return func(c *gin.Context) {
		if wait, ok := limiter.allow(c.ClientIP()); !ok {
			c.Header("Retry-After", retryAfterSeconds(wait))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many login attempts"})
			return
		}
		c.Next()
	}
}

func retryAfterSeconds(wait time.Duration) string {
	secs := int(wait.Seconds() + 0.999)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// rateLimiter counts hits per key in fixed windows.
type rateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu          sync.Mutex
	hits        map[string]*hitWindow
	lastCleanup time.Time
}

type hitWindow struct {
	start time.Time
	count int
}

func newRateLimiter(limit int, every time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:  limit,
		window: every,
		now:    time.Now,
		hits:   make(map[string]*hitWindow),
	}
}

// allow records a hit for key. When the key is over its limit it reports how
// long until the window resets.
func (rl *rateLimiter) allow(key string) (time.Duration, bool) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastCleanup) > rl.window {
		for k, w := range rl.hits {
			if now.Sub(w.start) >= rl.window {
				delete(rl.hits, k)
			}
		}
		rl.lastCleanup = now
	}

	w, ok := rl.hits[key]
	if !ok || now.Sub(w.start) >= rl.window {
		rl.hits[key] = &hitWindow{start: now, count: 1}
		return 0, true
	}
	if w.count >= rl.limit {
		return w.start.Add(rl.window).Sub(now), false
	}
	w.count++
	return 0, true
}
