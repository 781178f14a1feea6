// Package http mounts the REST API and the websocket endpoint on gin.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/Campus/internal/adapters/signal"
	"github.com/dkeye/Campus/internal/app"
	"github.com/dkeye/Campus/internal/app/orch"
	"github.com/dkeye/Campus/internal/config"
	"github.com/dkeye/Campus/internal/domain"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Services are the application services behind the routes.
type Services struct {
	Auth          *app.Authenticator
	Accounts      *app.Accounts
	Communities   *app.Communities
	Threads       *app.Threads
	News          *app.News
	Subscriptions *app.Subscriptions
	Orch          *orch.Orchestrator
	Signal        *signal.SignalWSController
}

type handlers struct {
	Services
}

func SetupRouter(ctx context.Context, cfg *config.Config, svc Services) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	useJSONFieldNames()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(accessLog())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.Auth.TokenTTL / time.Second),
		HttpOnly: true,
		Secure:   cfg.Mode == "release",
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions("CampusSessions", store))

	h := &handlers{Services: svc}
	authed := RequireAuth(svc.Auth)

	api := r.Group("/api")
	api.GET("/health", h.health)
	api.GET("/rooms", authed, RequireRoles(domain.RoleAdmin), h.rooms)
	api.GET("/ws", func(c *gin.Context) { svc.Signal.HandleSignal(ctx, c) })

	auth := api.Group("/auth")
	auth.POST("/signup", h.signup)
	auth.POST("/login", h.login)
	auth.POST("/logout", h.logout)
	auth.GET("/users", authed, h.listUsers)

	api.PATCH("/profile", authed, h.updateProfile)

	api.POST("/discussions", OptionalAuth(svc.Auth), h.createDiscussion)
	api.GET("/discussions/search/all", h.searchDiscussions)
	api.GET("/discussions/:id", authed, h.getDiscussion)
	api.POST("/discussions/:id/messages", authed, h.postMessage)
	api.PUT("/messages/:id", authed, h.updateMessage)
	api.DELETE("/messages/:id", authed, h.deleteMessage)

	api.GET("/news", h.listNews)
	api.POST("/news", authed, RequireRoles(domain.RoleAdmin, domain.RoleStaff), h.publishNews)

	api.POST("/subscriptions", h.subscribe)

	api.GET("/communities", h.listCommunities)
	api.POST("/communities", h.createCommunity)
	api.GET("/communities/:id", h.getCommunity)
	api.GET("/communities/:id/discussions", h.communityDiscussions)
	api.PATCH("/communities/:id/join", authed, h.joinCommunity)

	log.Info().Str("module", "adapters.http").Strs("cors", cfg.CORSOrigins).Msg("router setup")
	return r
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": h.Orch.Rooms.Connections()})
}

func (h *handlers) rooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.Orch.Rooms.List()})
}
