package middleware

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/ksred/steam-billing-api/internal/auth"
	"github.com/ksred/steam-billing-api/pkg/response"
)

// Limits are requests per minute per client and route group. Zero means
// unlimited.
type Limits struct {
	Auth     float64
	Purchase float64
	Default  float64
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	limits   Limits
	mu       sync.Mutex
	visitors map[string]*visitor
}

func perMinute(n float64) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Limit(n / 60.0)
}

func (rl *rateLimiter) limitFor(path string) rate.Limit {
	switch {
	case strings.HasPrefix(path, "/api/v1/auth"):
		return perMinute(rl.limits.Auth)
	case strings.HasPrefix(path, "/api/v1/purchases"), strings.HasPrefix(path, "/api/v1/agreements"):
		return perMinute(rl.limits.Purchase)
	default:
		return perMinute(rl.limits.Default)
	}
}

func (rl *rateLimiter) get(path, client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := client + ":" + path
	v, exists := rl.visitors[key]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.limitFor(path), 1)}
		rl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func (rl *rateLimiter) cleanup(idle time.Duration) {
	for {
		time.Sleep(time.Minute)

		rl.mu.Lock()
		for key, v := range rl.visitors {
			if time.Since(v.lastSeen) > idle {
				delete(rl.visitors, key)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimit limits each client (session subject, else IP) per route
func RateLimit(limits Limits) gin.HandlerFunc {
	rl := &rateLimiter{limits: limits, visitors: make(map[string]*visitor)}
	go rl.cleanup(3 * time.Minute)

	return func(c *gin.Context) {
		client := auth.GetSteamID(c)
		if client == "" {
			client = auth.GetClientID(c)
		}
		if client == "" {
			client = c.ClientIP()
		}

		if !rl.get(c.FullPath(), client).Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// TokenValidator checks a bearer token
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// PlayerAuth admits player sessions and exposes the session steam id
func PlayerAuth(v TokenValidator) gin.HandlerFunc {
	return requireRole(v, auth.RolePlayer)
}

// InternalAuth admits sessions issued to internal API clients
func InternalAuth(v TokenValidator) gin.HandlerFunc {
	return requireRole(v, auth.RoleInternal)
}

func requireRole(v TokenValidator, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := bearerClaims(c, v)
		if !ok {
			return
		}
		if claims.Role != role {
			response.Forbidden(c, "Token not valid for this endpoint")
			c.Abort()
			return
		}

		c.Set(auth.ContextClaims, claims)
		if claims.SteamID != "" {
			c.Set(auth.ContextSteamID, claims.SteamID)
		}
		if claims.ClientID != "" {
			c.Set(auth.ContextClientID, claims.ClientID)
		}
		c.Next()
	}
}

func bearerClaims(c *gin.Context, v TokenValidator) (*auth.Claims, bool) {
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
	return claims, true
}
