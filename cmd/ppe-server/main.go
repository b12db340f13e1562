package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ppe_realtime/api/v1"
	"ppe_realtime/internal/auth"
	"ppe_realtime/internal/bus"
	"ppe_realtime/internal/cache"
	"ppe_realtime/internal/config"
	"ppe_realtime/internal/db"
	"ppe_realtime/internal/eventlog"
	"ppe_realtime/internal/httpx"
	"ppe_realtime/internal/logging"
	"ppe_realtime/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

func main() {
	// 1. Load configuration
	var (
		cfg *config.Config
		err error
	)
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		cfg, err = config.LoadFromINI(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	appLog := logging.Component(logger, "ppe-server")
	httpx.SetLogger(logger.WithField("component", "api"))
	appLog.Info("✓ Configuration loaded")

	auth.InitJWT(cfg.JWT.Secret)

	// 2. Initialize MySQL
	gdb, err := db.InitMySQL(cfg.MySQL.DSN)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize MySQL")
	}
	defer db.Close()
	appLog.Info("✓ MySQL connected")

	if cfg.Migrate {
		if err := db.Migrate(gdb, logging.Component(logger, "migrate")); err != nil {
			appLog.WithError(err).Fatal("Failed to migrate database")
		}
	}

	// 3. Initialize Redis, optional
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = cache.InitRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLog.WithError(err).Fatal("Failed to initialize Redis")
		}
		defer cache.Close()
		appLog.WithField("addr", cfg.Redis.Addr).Info("✓ Redis connected")
	}

	// 4. Socket.IO server
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := eventlog.NewGormStore(gdb)
	srv := ws.NewServer(ws.Options{
		Store:          store,
		Bus:            bus.New(rdb, cfg.Redis.Channel, logging.Component(logger, "bus")),
		Logger:         logger.WithField("app", "ppe-server"),
		ReplayLimit:    cfg.WS.ReplayLimit,
		AllowedOrigins: cfg.WS.AllowedOrigins,
	})
	if err := srv.Start(ctx); err != nil {
		appLog.WithError(err).Fatal("Failed to start Socket.IO server")
	}
	defer srv.Close()

	// 5. Initialize Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	v1.SetupRouter(r, srv, store)

	path := cfg.WS.Path
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	r.Any(path+"*any", gin.WrapH(srv.Handler()))

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		appLog.Infof("✓ Server starting on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	appLog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLog.WithError(err).Warn("HTTP shutdown incomplete")
	}
}
