package fake

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys for storing caller data in gin.Context.
const (
	KeyEmail     = "fake_email"
	KeyRole      = "fake_role"
	KeySessionID = "fake_session_id"
)

// auth returns middleware that verifies the bearer JWT issued by this server and
// rejects tokens whose session was terminated.
func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := extractBearerToken(c.Request)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization token"})
			return
		}

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
			return s.key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		email, _ := claims.GetSubject()
		sid, _ := claims["sid"].(string)
		if sid != "" && !s.sessionActive(sid) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session terminated"})
			return
		}

		role, _ := claims["role"].(string)
		c.Set(KeyEmail, email)
		c.Set(KeyRole, role)
		c.Set(KeySessionID, sid)
		c.Next()
	}
}

// requireRole returns middleware that admits only the given roles.
// Requires auth to run first.
func requireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(KeyRole)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
	}
}

// intercept counts calls per path and applies injected responses.
func (s *Server) intercept() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		s.mu.Lock()
		s.calls[path]++
		o, ok := s.overrides[path]
		s.mu.Unlock()

		if ok {
			c.Data(o.status, "application/json", []byte(o.body))
			c.Abort()
			return
		}
		c.Next()
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
