package middleware

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-repo/internal/auth"
	"github.com/ksred/klear-repo/pkg/response"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	// Configure limits per endpoint type
	authLimit    = rate.Limit(10.0 / 60.0)   // 10 requests per minute
	controlLimit = rate.Limit(30.0 / 60.0)   // 30 requests per minute
	statusLimit  = rate.Limit(1000.0 / 60.0) // 1000 requests per minute
)

// RateLimiter limits requests per client and route.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	idle     time.Duration
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		idle:     3 * time.Minute,
	}
}

func limitFor(path string) rate.Limit {
	path = strings.TrimPrefix(path, "/api/v1/internal")
	switch {
	case strings.HasPrefix(path, "/api/v1/auth"):
		return authLimit
	case strings.HasSuffix(path, "/settle"),
		strings.HasSuffix(path, "/initiateSettlement"),
		strings.HasSuffix(path, "/injectTradeFile"):
		return controlLimit
	case strings.HasSuffix(path, "/status"),
		strings.HasSuffix(path, "/tradeState"):
		return statusLimit
	default:
		return rate.Inf
	}
}

func (rl *RateLimiter) limiter(path, clientID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := clientID + ":" + path
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(limitFor(path), 1)}
		rl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Run drops idle visitors every minute until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, v := range rl.visitors {
		if time.Since(v.lastSeen) > rl.idle {
			delete(rl.visitors, key)
		}
	}
}

func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		if clientID == "" {
			clientID = c.ClientIP()
		}

		if !rl.limiter(c.FullPath(), clientID).Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// TokenValidator validates bearer tokens. auth.Service implements it.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// JWTAuth requires a valid bearer token.
func JWTAuth(v TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := authenticate(c, v); !ok {
			return
		}
		c.Next()
	}
}

// InternalAuth requires a valid bearer token carrying the control
// permission.
func InternalAuth(v TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := authenticate(c, v)
		if !ok {
			return
		}
		if !claims.HasPermission(auth.PermissionControl) {
			response.Forbidden(c, "Token does not grant control access")
			c.Abort()
			return
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, v TokenValidator) (*auth.Claims, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		response.Unauthorized(c, "Authorization header required")
		c.Abort()
		return nil, false
	}

	bearerToken := strings.Split(authHeader, " ")
	if len(bearerToken) != 2 || strings.ToLower(bearerToken[0]) != "bearer" {
		response.Unauthorized(c, "Invalid authorization header format")
		c.Abort()
		return nil, false
	}

	claims, err := v.ValidateToken(bearerToken[1])
	if err != nil {
		response.Unauthorized(c, "Invalid token")
		c.Abort()
		return nil, false
	}

	c.Set("claims", claims)
	c.Set("clientID", claims.ClientID)
	return claims, true
}

// RequestLogger logs each request once it has been served.
func RequestLogger(party string) gin.HandlerFunc {
	logger := log.With().Str("component", "http").Str("party", party).Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := logger.Info()
		if c.Writer.Status() >= 500 {
			event = logger.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client", c.ClientIP()).
			Msg("request served")
	}
}
