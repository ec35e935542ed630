package middleware

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ksred/klear-mf/internal/auth"
	"github.com/ksred/klear-mf/pkg/response"
)

const (
	TraceHeader     = "X-Trace-ID"
	ContextTraceID  = "traceID"
	visitorIdleTime = 3 * time.Minute
)

// Limit is the request budget for every path under Prefix.
type Limit struct {
	Prefix    string
	PerMinute float64
	Burst     int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per caller and route. Paths that match
// no Limit are not limited.
type RateLimiter struct {
	limits []Limit

	mu       sync.Mutex
	visitors map[string]*visitor
}

func NewRateLimiter(limits ...Limit) *RateLimiter {
	return &RateLimiter{limits: limits, visitors: make(map[string]*visitor)}
}

func (rl *RateLimiter) getLimiter(path, caller string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := caller + ":" + path
	v, exists := rl.visitors[key]
	if !exists {
		limiter := rate.NewLimiter(rate.Inf, 0)
		for _, l := range rl.limits {
			if strings.HasPrefix(path, l.Prefix) {
				limiter = rate.NewLimiter(rate.Limit(l.PerMinute/60.0), l.Burst)
				break
			}
		}
		v = &visitor{limiter: limiter}
		rl.visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// Cleanup drops callers idle for longer than the idle window.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, v := range rl.visitors {
		if time.Since(v.lastSeen) > visitorIdleTime {
			delete(rl.visitors, key)
		}
	}
}

// Run calls Cleanup every minute until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// Middleware limits by distributor when authenticated, otherwise by IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := auth.DistributorID(c)
		if caller == "" {
			caller = c.ClientIP()
		}

		if !rl.getLimiter(c.FullPath(), caller).Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			return
		}

		c.Next()
	}
}

// TraceID propagates the caller's X-Trace-ID or assigns a new one.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Set(ContextTraceID, traceID)
		c.Header(TraceHeader, traceID)
		c.Next()
	}
}

// RequestLogger writes one zerolog line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := log.Info()
		if c.Writer.Status() >= 500 {
			event = log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("trace_id", c.GetString(ContextTraceID)).
			Str("distributor_id", auth.DistributorID(c)).
			Msg("request")
	}
}

// JWTAuth requires a valid bearer token with the orders permission.
func JWTAuth(svc *auth.Service) gin.HandlerFunc {
	return requirePermission(svc, auth.PermissionOrders)
}

// InternalAuth requires a valid bearer token with the internal permission.
func InternalAuth(svc *auth.Service) gin.HandlerFunc {
	return requirePermission(svc, auth.PermissionInternal)
}

func requirePermission(svc *auth.Service, permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearerToken := strings.Split(c.GetHeader("Authorization"), " ")
		if len(bearerToken) != 2 || !strings.EqualFold(bearerToken[0], "bearer") {
			response.Unauthorized(c, "Invalid authorization header")
			c.Abort()
			return
		}

		claims, err := svc.ValidateToken(bearerToken[1])
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}
		if !claims.HasPermission(permission) {
			response.Forbidden(c, "Token lacks the "+permission+" permission")
			c.Abort()
			return
		}

		c.Set(auth.ContextClaims, claims)
		c.Set(auth.ContextDistributorID, claims.DistributorID)
		c.Next()
	}
}
