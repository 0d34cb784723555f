package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/go-user-store/config"
	"github.com/oksasatya/go-user-store/internal/container"
	repo "github.com/oksasatya/go-user-store/internal/domain/repository"
	"github.com/oksasatya/go-user-store/internal/infrastructure/filestore"
	pginfra "github.com/oksasatya/go-user-store/internal/infrastructure/postgres"
	"github.com/oksasatya/go-user-store/internal/interface/middleware"
	"github.com/oksasatya/go-user-store/internal/router"
	"github.com/oksasatya/go-user-store/pkg/helpers"
	"github.com/oksasatya/go-user-store/pkg/validation"
)

func main() {
	_ = godotenv.Load() // load .env if present

	cfg := config.Load()
	logger := helpers.NewLogger(cfg.AppName, cfg.Env, cfg.LogLevel)
	gin.SetMode(cfg.GinMode)
	validation.Init()

	ctx := context.Background()

	// User store
	userRepo, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	// Redis (rate limiting)
	rdb := helpers.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	// Elasticsearch (user search)
	es, err := helpers.NewESClient(cfg.ESAddrs(), cfg.ElasticsearchUser, cfg.ElasticsearchPass)
	if err != nil {
		logger.Fatalf("failed to init elasticsearch client: %v", err)
	}
	if es != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := helpers.PingES(pingCtx, es); err != nil {
			logger.WithError(err).Warn("elasticsearch not reachable; search results may be empty")
		}
		cancel()
	}

	// GCS (store backups)
	if cfg.GCSBucket != "" {
		gcsClient, err := helpers.NewGCSClient(ctx, cfg.GCSCredentialsJSONPath)
		if err != nil {
			logger.Fatalf("failed to init GCS client: %v", err)
		}
		defer func() { _ = gcsClient.Close() }()
		container.SetGCS(gcsClient)
	}

	// RabbitMQ (welcome email jobs); the API keeps serving without it
	if cfg.RabbitMQURL != "" {
		pub, err := helpers.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQEmailQueue)
		if err != nil {
			helpers.LogError(logger, "rabbitmq unavailable; welcome emails disabled", err, nil)
		} else {
			defer pub.Close()
			container.SetRabbitPub(pub)
		}
	}

	jwtManager := helpers.NewJWTManager(cfg.JWTAccessSecret, cfg.AccessTTL)

	// Provide infra singletons to container for registry auto-wiring
	container.SetConfig(cfg)
	container.SetLogger(logger)
	container.SetUserRepo(userRepo)
	container.SetRedis(rdb)
	container.SetES(es)
	container.SetJWT(jwtManager)

	// Gin engine and global middleware
	r := gin.New()
	if err := middleware.ConfigureProxies(r, cfg.TrustedProxyList(), cfg.BehindCloudflare); err != nil {
		logger.Fatalf("invalid TRUSTED_PROXIES: %v", err)
	}
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.RealIP())
	corsCfg := cors.Config{
		AllowOrigins:     cfg.CORSOrigins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsCfg.AllowOrigins) == 0 {
		corsCfg.AllowOrigins = []string{"http://localhost:3000"}
	}
	r.Use(cors.New(corsCfg))
	if cfg.HTTPLogEnabled || cfg.Env == "development" {
		r.Use(gin.Logger())
	}

	// Registry: auto-register modules using container
	reg := router.NewRegistry(r)
	router.InitModules(reg)
	reg.RegisterAll()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Infof("server starting on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %s", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Errorf("server forced to shutdown: %v", err)
	}
	logger.Info("server exited properly")
}

// openStore opens the configured user store. Failure to open is fatal.
func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (repo.UserRepository, func()) {
	switch cfg.DBDriver {
	case config.DriverFile:
		store, err := filestore.Open(cfg.DBPath, filestore.Options{
			ResetOnCorrupt: cfg.DBResetOnCorrupt,
			Logger:         logger,
		})
		if err != nil {
			logger.Fatalf("failed to open user store: %v", err)
		}
		logger.WithField("path", store.Path()).Info("using file user store")
		return store, func() {}
	case config.DriverPostgres:
		pool, err := pginfra.NewPool(ctx, cfg.PostgresDSN(), cfg.DBMaxConns, cfg.DBMinConns, cfg.DBMaxConnLife)
		if err != nil {
			logger.Fatalf("failed to connect to postgres: %v", err)
		}
		if err := pginfra.RunMigrations(cfg.PostgresDSN(), cfg.MigrationsDir, logger); err != nil {
			pool.Close()
			logger.Fatalf("migration failed: %v", err)
		}
		container.SetPGPool(pool)
		return pginfra.NewUserRepository(pool), pool.Close
	default:
		logger.Fatalf("unknown DB_DRIVER %q (want %q or %q)", cfg.DBDriver, config.DriverFile, config.DriverPostgres)
		return nil, nil
	}
}
