package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

const (
	authorizationHeaderKey  = "authorization"
	authorizationTypeBearer = "bearer"
	authorizationKey        = "api_key"
)

// authentication checks the bearer API key against the configured bcrypt
// hash. An empty hash disables authentication.
func (server *Server) authentication(c *gin.Context) {
	if server.config.APIKeyHash == "" {
		c.Set(authorizationKey, c.ClientIP())
		c.Next()
		return
	}

	authorizationHeader := c.GetHeader(authorizationHeaderKey)
	if len(authorizationHeader) == 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errors.New("authorization header is not provided")))
		return
	}

	fields := strings.Fields(authorizationHeader)
	if len(fields) < 2 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errors.New("invalid authorization header format")))
		return
	}

	authorizationType := strings.ToLower(fields[0])
	if authorizationType != authorizationTypeBearer {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(fmt.Errorf("unsupported authorization type: %s", authorizationType)))
		return
	}

	apiKey := fields[1]
	if err := bcrypt.CompareHashAndPassword([]byte(server.config.APIKeyHash), []byte(apiKey)); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errors.New("please input a valid API Key")))
		return
	}

	c.Set(authorizationKey, apiKey)
	c.Next()
}

const (
	defaultMaxClients        = 10000
	defaultClientIdleSeconds = 600
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (server *Server) limiter(key string) *rate.Limiter {
	server.mu.Lock()
	defer server.mu.Unlock()

	now := time.Now()
	if v, ok := server.limiters[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	if len(server.limiters) >= server.config.MaxClients {
		server.evict(now)
	}
	v := &visitor{
		limiter:  rate.NewLimiter(rate.Limit(server.config.RequestsPerSecond), server.config.Burst),
		lastSeen: now,
	}
	server.limiters[key] = v
	return v.limiter
}

// evict drops idle limiters and, if the table is still full, the least
// recently seen one. Callers hold server.mu.
func (server *Server) evict(now time.Time) {
	idle := time.Duration(server.config.ClientIdleSeconds) * time.Second
	oldest := ""
	for key, v := range server.limiters {
		if now.Sub(v.lastSeen) > idle {
			delete(server.limiters, key)
			continue
		}
		if oldest == "" || v.lastSeen.Before(server.limiters[oldest].lastSeen) {
			oldest = key
		}
	}
	if len(server.limiters) >= server.config.MaxClients && oldest != "" {
		delete(server.limiters, oldest)
	}
}

// rateLimit applies one token bucket per API key.
func (server *Server) rateLimit(c *gin.Context) {
	if !server.limiter(c.GetString(authorizationKey)).Allow() {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse(errors.New("too many requests")))
		return
	}
	c.Next()
}

func (server *Server) requestLogging(c *gin.Context) {
	start := time.Now()
	c.Next()
	server.log.Debug().
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int("status", c.Writer.Status()).
		Dur("latency", time.Since(start)).
		Msg("request")
}
