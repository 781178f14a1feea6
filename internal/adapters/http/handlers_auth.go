package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dkeye/Campus/internal/adapters/signal"
	"github.com/dkeye/Campus/internal/app"
	"github.com/dkeye/Campus/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type signupRequest struct {
	Name     string `json:"name" binding:"required,max=100"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=72"`
	Role     string `json:"role" binding:"omitempty,oneof=student staff admin"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type authResponse struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token"`
}

func (h *handlers) signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	u, token, err := h.Accounts.Signup(c.Request.Context(), app.SignupInput(req))
	if err != nil {
		respondError(c, err)
		return
	}
	h.rememberToken(c, token)
	c.JSON(http.StatusCreated, authResponse{User: u, Token: token})
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	u, token, err := h.Accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	h.rememberToken(c, token)
	c.JSON(http.StatusOK, authResponse{User: u, Token: token})
}

func (h *handlers) logout(c *gin.Context) {
	s := sessions.Default(c)
	s.Clear()
	if err := s.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("clear session")
	}
	c.Status(http.StatusNoContent)
}

// rememberToken keeps the token in the cookie session for the websocket
// handshake.
func (h *handlers) rememberToken(c *gin.Context, token string) {
	s := sessions.Default(c)
	s.Set(signal.SessionTokenKey, token)
	if err := s.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
	}
}

func (h *handlers) listUsers(c *gin.Context) {
	page, err := h.Accounts.ListUsers(c.Request.Context(), c.Query("role"), queryInt(c, "page"), queryInt(c, "limit"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

var profileFields = map[string]bool{"name": true, "age": true, "education": true, "communityId": true}

func (h *handlers) updateProfile(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		badRequest(c, "invalid request body")
		return
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(body, &keys); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	for k := range keys {
		if !profileFields[k] {
			badRequest(c, "Invalid updates!")
			return
		}
	}
	var req struct {
		Name        *string             `json:"name"`
		Age         *int                `json:"age"`
		Education   *string             `json:"education"`
		CommunityID *domain.CommunityID `json:"communityId"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		badRequest(c, "Invalid updates!")
		return
	}
	u, err := h.Accounts.UpdateProfile(c.Request.Context(), currentUser(c).ID, domain.ProfileUpdate(req))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// queryInt returns 0 for absent or malformed values so paging falls back to
// its defaults.
func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}
