// Package api mounts the REST, WebSocket and SSE handlers on one Gin engine.
// main.go and the integration harness share it so their routes never drift.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/socialgraph/api/rest"
	"github.com/kasuganosora/socialgraph/api/sse"
	apiws "github.com/kasuganosora/socialgraph/api/ws"
	"github.com/kasuganosora/socialgraph/audit"
	"github.com/kasuganosora/socialgraph/cache"
	"github.com/kasuganosora/socialgraph/config"
	"github.com/kasuganosora/socialgraph/friendship"
	mw "github.com/kasuganosora/socialgraph/middleware"
	"github.com/kasuganosora/socialgraph/scheduler"
	"github.com/kasuganosora/socialgraph/session"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Services are the dependencies the HTTP surface needs.
type Services struct {
	DB       *gorm.DB
	Cache    cache.Cache
	PubSub   cache.PubSub
	Engine   *friendship.Engine
	Query    *friendship.Query
	Repair   *friendship.Repairer
	Sessions *session.Manager
	Audit    *audit.Service
	Sched    *scheduler.Scheduler
	Notifier apirest.BreakerReporter // may be nil
	Logger   *zap.Logger
}

// NewRouter builds the Gin engine with every middleware and route.
func NewRouter(cfg *config.Config, s *Services) *gin.Engine {
	sec := cfg.Security
	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(s.Logger), mw.Recovery(s.Logger))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authH := apirest.NewAuthHandler(s.DB, s.Cache, sec, s.Logger)
	friendH := apirest.NewFriendshipHandler(s.Engine, s.Query, s.Sessions, s.Audit, s.Logger)
	adminH := apirest.NewAdminHandler(s.Repair, s.Sessions, s.Sched, s.Audit, s.Notifier, s.Logger)
	sseH := sse.NewHandler(s.PubSub, s.Cache, sec, s.Logger)

	// One limiter set: callers are bucketed per user once Auth has run,
	// per IP otherwise.
	limit := mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst)
	auth := mw.Auth(sec, s.Cache)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/register", limit, authH.Register)
		authG.POST("/login", limit, authH.Login)
		authG.POST("/logout", auth, limit, authH.Logout)
		authG.POST("/refresh", auth, limit, authH.Refresh)
		authG.GET("/me", auth, limit, authH.Me)

		friendH.RegisterRoutes(api.Group("", auth, limit))

		adminG := api.Group("/admin",
			limit,
			mw.IPWhitelist(cfg.Server.AdminIPs),
			apirest.AdminAuth(cfg.Server.AdminKey))
		adminH.RegisterRoutes(adminG)
		adminG.POST("/announce", sseH.PostAnnounce)
	}

	// ---- WebSocket ----
	wsRouter := apiws.NewRouter(s.Logger)
	apiws.NewFriendshipHandlers(s.Engine, s.Logger).RegisterHandlers(wsRouter)
	wsH := apiws.NewHandler(s.Cache, s.PubSub, sec, s.Sessions, wsRouter, s.Logger)
	r.GET("/ws", wsH.ServeWS)

	// ---- SSE ----
	r.GET("/sse", sseH.ServeSSE)

	return r
}
