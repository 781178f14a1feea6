package signal

import (
	"github.com/dkeye/Campus/internal/app"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// SessionTokenKey is where login stores the token in the cookie session.
// Browsers cannot set headers on a websocket upgrade, so the cookie is the
// usual source for them.
const SessionTokenKey = "token"

// handshakeToken looks in the token query field, then the Authorization
// header, then the cookie session.
func handshakeToken(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	if t := app.BearerToken(c.GetHeader("Authorization")); t != "" {
		return t
	}
	if _, ok := c.Get(sessions.DefaultKey); !ok {
		return ""
	}
	if t, ok := sessions.Default(c).Get(SessionTokenKey).(string); ok {
		return t
	}
	return ""
}
