package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"classroom.app/discussion/common/id"
	"classroom.app/discussion/common/logger"
	"classroom.app/discussion/common/otel"
	"classroom.app/discussion/core/config"
	"classroom.app/discussion/core/db"
	"classroom.app/discussion/internal/http/middleware"
	httprouter "classroom.app/discussion/internal/http/router"
	"classroom.app/discussion/internal/publisher"
	"classroom.app/discussion/internal/service"
	"classroom.app/discussion/internal/store"
	"classroom.app/discussion/migrations"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "comment server starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err, "node", cfg.NodeID)
		os.Exit(1)
	}

	tokens, err := middleware.ParseTokens(cfg.AuthTokens)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse AUTH_TOKENS", "error", err)
		os.Exit(1)
	}
	if len(tokens) == 0 {
		slog.WarnContext(ctx, "no AUTH_TOKENS configured, every comment route will answer 401")
	}

	comments, closeStore := openStore(ctx, cfg.DB)
	defer closeStore()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected")

	eventPublisher := publisher.NewRedisPublisher(redisClient, slog.Default())
	defer eventPublisher.Close()

	commentService := service.NewCommentService(comments, eventPublisher, service.CommentServiceConfig{
		MaxTextLength: cfg.Comments.MaxLength,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, commentService, tokens)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// openStore picks Postgres when DATABASE_URL is set and the in-memory store otherwise.
func openStore(ctx context.Context, cfg db.Config) (store.CommentStore, func()) {
	if !cfg.Enabled() {
		slog.WarnContext(ctx, "DATABASE_URL not set, comments are kept in memory")
		return store.NewMemoryCommentStore(), func() {}
	}

	database, err := db.New(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "database connected")

	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, migrations.FS); err != nil {
			slog.ErrorContext(ctx, "failed to run migrations", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "database migrated")
	}

	return store.NewPostgresCommentStore(database), database.Close
}

func setupRouter(cfg config.Config, comments service.CommentService, tokens middleware.Tokens) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, comments, httprouter.RouterConfig{
		Tokens: tokens,
	})

	return router
}
