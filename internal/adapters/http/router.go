// Package http exposes the REST API and the signaling WebSocket upgrade.
package http

import (
	"context"
	"net/http"
	"os"

	"github.com/dkeye/RemoteDesk/internal/adapters/signal"
	"github.com/dkeye/RemoteDesk/internal/app"
	"github.com/dkeye/RemoteDesk/internal/config"
	"github.com/dkeye/RemoteDesk/internal/permission"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func SetupRouter(ctx context.Context, cfg *config.Config, rdv *app.Rendezvous, catalog *permission.Catalog) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(OriginFilter(cfg.AllowedOrigins))

	store := cookie.NewStore([]byte(cfg.Secret))
	// Secure cookies are only sent back over TLS; plain-HTTP deployments keep them off.
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   clientTokenMaxAge,
		HttpOnly: true,
		Secure:   cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions("RemoteDeskSessions", store))
	r.Use(ClientTokenMiddleware(cfg.SecureCookies))

	if fi, err := os.Stat(cfg.StaticPath); err == nil && fi.IsDir() {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	limiter := signal.NewRateLimiter(cfg.Session.CreateLimit, cfg.Session.CreateInterval)
	ctrl := signal.NewSignalWSController(rdv, limiter, signal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})
	h := &apiHandlers{rdv: rdv, catalog: catalog}

	r.GET("/health", h.health)

	api := r.Group("/api")
	api.POST("/sessions", JWTAuth(cfg.JWTSecret), RateLimit(limiter), h.createSession)
	api.GET("/sessions/mine", h.mySession)
	api.GET("/sessions/:id", h.sessionStatus)

	api.GET("/profiles", h.listProfiles)
	api.GET("/profiles/:id", h.getProfile)
	api.POST("/profiles", JWTAuth(cfg.JWTSecret), h.createProfile)

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString(clientTokenKey)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Int("origins", len(cfg.AllowedOrigins)).Msg("router setup")
	return r
}
