package http

import (
	"fmt"
	"time"

	"github.com/dkeye/Campus/internal/app"
	"github.com/dkeye/Campus/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const userKey = "user"

// RequireAuth resolves the bearer token to a user or aborts with 401.
func RequireAuth(auth *app.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := auth.Authenticate(c.Request.Context(), app.BearerToken(c.GetHeader("Authorization")))
		if err != nil {
			abortError(c, err)
			return
		}
		c.Set(userKey, u)
		c.Next()
	}
}

// OptionalAuth sets the identity when a bearer token is present. A present
// but invalid token is still rejected.
func OptionalAuth(auth *app.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := app.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.Next()
			return
		}
		u, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			abortError(c, err)
			return
		}
		c.Set(userKey, u)
		c.Next()
	}
}

// RequireRoles must run after RequireAuth.
func RequireRoles(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := app.RequireRole(currentUser(c), roles...); err != nil {
			abortError(c, err)
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *domain.User {
	v, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	u, _ := v.(*domain.User)
	return u
}

// actingAs returns the author an operation runs as. A body authorId that
// disagrees with the token identity is refused.
func actingAs(c *gin.Context, bodyAuthor domain.UserID) (domain.UserID, error) {
	u := currentUser(c)
	switch {
	case u == nil && bodyAuthor == "":
		return "", fmt.Errorf("%w: authorId is required", domain.ErrValidation)
	case u == nil:
		return bodyAuthor, nil
	case bodyAuthor != "" && bodyAuthor != u.ID:
		return "", fmt.Errorf("%w: cannot act on behalf of another user", domain.ErrAuthorization)
	default:
		return u.ID, nil
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		default:
			ev = log.Debug()
		}
		ev.Str("module", "adapters.http").
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("request")
	}
}
