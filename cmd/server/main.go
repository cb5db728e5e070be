package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/infra/httpclient"
	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/module/payment"
	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/module/payment/provider"
	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/module/payment/signature"
	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/shared/config"
	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/shared/database"
	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/shared/logger"
	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/utils/metrics"
	"github.com/CodexAarogya/Payment-Gateways-Integration/internal/utils/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	// Transaction store: Postgres when configured, in-memory otherwise.
	var repo payment.Repository
	if cfg.Database.Host != "" {
		db, err := database.New(&cfg.Database)
		if err != nil {
			zlog.Fatal("connect database", zap.Error(err))
		}
		defer func() { _ = database.Close(db) }()
		repo = payment.NewRepository(db)
		zlog.Info("using postgres transaction store", zap.String("host", cfg.Database.Host))
	} else {
		repo = payment.NewMemoryRepository()
		zlog.Warn("no database configured, using in-memory transaction store")
	}

	m := metrics.New("paygate", prometheus.DefaultRegisterer)
	engine := signature.NewEngine(cfg.Esewa.SecretKey)
	checker := provider.NewEsewaProvider(
		httpclient.New(cfg.HTTPClient),
		provider.EsewaConfig{StatusURL: cfg.Esewa.StatusURL()},
		zlog.Named("esewa"),
	)

	service, err := payment.NewService(repo, engine, checker, cfg.Esewa, cfg.Verify, m, zlog.Named("payment"))
	if err != nil {
		zlog.Fatal("build payment service", zap.Error(err))
	}
	handler := payment.NewHandler(service)

	if cfg.Esewa.Environment == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Logging(zlog.Named("http")),
		middleware.Recovery(zlog.Named("http")),
		middleware.Metrics(m),
	)

	handler.RegisterRoutes(router.Group("/api/v1"))
	handler.RegisterCallbackRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		zlog.Info("starting server",
			zap.String("address", cfg.Server.Address),
			zap.String("environment", cfg.Esewa.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zlog.Error("forced shutdown", zap.Error(err))
	}

	zlog.Info("server exited")
}
