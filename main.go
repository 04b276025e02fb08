package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/socialgraph/api"
	"github.com/kasuganosora/socialgraph/audit"
	"github.com/kasuganosora/socialgraph/cache"
	"github.com/kasuganosora/socialgraph/config"
	dbadapter "github.com/kasuganosora/socialgraph/db"
	"github.com/kasuganosora/socialgraph/friendship"
	"github.com/kasuganosora/socialgraph/model"
	"github.com/kasuganosora/socialgraph/notify"
	"github.com/kasuganosora/socialgraph/scheduler"
	"github.com/kasuganosora/socialgraph/session"
	"go.uber.org/zap"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Audit ----
	auditSvc := audit.New(db, logger)

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Friendship ----
	notifier := notify.NewPubSubNotifier(pubsub, notify.Config{
		Timeout:         cfg.Social.NotifyTimeout,
		BreakerFailures: cfg.Social.NotifyBreakerFailures,
		BreakerCooldown: cfg.Social.NotifyBreakerCooldown,
	}, logger)
	store := friendship.NewStore(db)
	dir := friendship.NewDBDirectory(db)
	engine := friendship.NewEngine(store, dir, notifier, logger, friendship.Options{
		SuggestionPageSize:    cfg.Social.SuggestionPageSize,
		SuggestionMaxPageSize: cfg.Social.SuggestionMaxPageSize,
	})
	repairer := friendship.NewRepairer(store, logger)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	if iv := cfg.Maintenance.DriftAuditInterval; iv > 0 {
		sched.AddTicker("drift_audit", iv, repairer.LogDrift)
		logger.Info("drift audit enabled", zap.Duration("interval", iv))
	}

	sm := session.NewManager(logger)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := api.NewRouter(cfg, &api.Services{
		DB:       db,
		Cache:    c,
		PubSub:   pubsub,
		Engine:   engine,
		Query:    friendship.NewQuery(store, dir),
		Repair:   repairer,
		Sessions: sm,
		Audit:    auditSvc,
		Sched:    sched,
		Notifier: notifier,
		Logger:   logger,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("Server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sched.Stop()
	sm.CloseAll(3 * time.Second)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	notifier.Wait()
	auditSvc.Stop(ctx)
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
