package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"nexus-api/internal/buckets"
	"nexus-api/internal/credits"
	"nexus-api/internal/handlers/chat"
	"nexus-api/internal/identity"
	"nexus-api/internal/logging"
	"nexus-api/internal/middleware"
	"nexus-api/internal/prompts"
	"nexus-api/internal/routers"
	"nexus-api/internal/shared"
	"nexus-api/internal/upstream"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Local development convenience; real deployments set the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		panic(fmt.Sprintf("failed loading .env: %s", err))
	}

	// Flags / ENV Variables
	listenAddr := flag.String("listen-addr", ":80", "Address to listen on")
	redisAddr := flag.String("redis-addr", "", "Redis host:port")
	redisPassword := flag.String("redis-password", "", "Redis password")
	dsn := flag.String("dsn", "", "MySQL DSN for the request ledger, ledger disabled if empty")
	metricsAPIKey := flag.String("metrics-api-key", "", "Metrics api key, /metrics disabled if empty")
	debug := flag.Bool("debug", false, "Debug enabled")
	logFile := flag.String("log-file", "", "Also write JSON logs to this rotating file")

	limitCents := flag.Int64("limit-cents", shared.DefaultLimitCents, "Default monthly limit in cents")
	requestCostCents := flag.Int64("request-cost-cents", shared.DefaultRequestCostCents, "Cents charged per accepted chat request")

	clerkJWKSURL := flag.String("clerk-jwks-url", "", "JWKS url used to verify session tokens")
	clerkIssuerURL := flag.String("clerk-issuer-url", "", "Token issuer, JWKS is read from its well-known path")

	promptsFile := flag.String("prompts-file", "", "YAML file overriding mode instructions")
	upstreamURL := flag.String("upstream-url", shared.DefaultUpstreamURL, "Chat completions endpoint")
	upstreamAPIKey := flag.String("upstream-api-key", "", "Chat completions api key")
	defaultModel := flag.String("default-model", shared.DefaultModel, "Model used when the request names none")
	visionModel := flag.String("vision-model", shared.DefaultVisionModel, "Model forced for requests with images")

	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

	logger, err := logging.NewLogger(*debug, *logFile)
	if err != nil {
		panic(err)
	}
	log := logger.Sugar()
	defer func() {
		_ = log.Sync()
	}()

	// Load Redis connection
	redisClient := redis.NewClient(&redis.Options{
		Addr:     *redisAddr,
		Password: *redisPassword,
		DB:       0,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		panic(fmt.Sprintf("failed ping to redis db: %s", err))
	}
	defer func() {
		_ = redisClient.Close()
	}()

	var recorder chat.Recorder
	if *dsn != "" {
		writeDB, err := sql.Open("mysql", *dsn)
		if err != nil {
			panic(fmt.Sprintf("failed initializing sqlClient: %s", err))
		}
		if err := writeDB.Ping(); err != nil {
			panic(fmt.Sprintf("failed ping to sql db: %s", err))
		}
		defer func() {
			_ = writeDB.Close()
		}()
		usageCache := buckets.NewUsageCache(log, writeDB)
		defer usageCache.Shutdown()
		recorder = usageCache
		log.Info("Request ledger enabled")
	}

	var verifier identity.Verifier
	if jwksURL := identity.JWKSURL(*clerkJWKSURL, *clerkIssuerURL); jwksURL != "" {
		jwks := identity.NewJWKSVerifier(jwksURL, log)
		defer jwks.Close()
		verifier = jwks
	} else {
		log.Warn("No JWKS configured, every token resolves to a pseudo identity")
	}
	resolver := identity.NewResolver(verifier, log)

	catalogue, err := prompts.Load(*promptsFile)
	if err != nil {
		panic(err)
	}

	chatHandler := chat.NewHandler(
		credits.NewStore(redisClient, log, *limitCents),
		upstream.NewRouter(catalogue, upstream.RouterConfig{DefaultModel: *defaultModel, VisionModel: *visionModel}),
		upstream.NewClient(upstream.ClientConfig{URL: *upstreamURL, APIKey: *upstreamAPIKey}, log),
		recorder,
		log,
		chat.Config{RequestCostCents: *requestCostCents},
	)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.NewErrorHandler(log)
	e.Use(middleware.NewCORSMiddleware())
	e.Use(middleware.NewRecoverMiddleware(log))
	e.Use(middleware.NewTrackMiddleware(log))

	e.GET(("/ping"), func(c echo.Context) error {
		return c.String(200, "")
	})
	if *metricsAPIKey != "" {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), middleware.RequireBearerKey(*metricsAPIKey))
	}

	routers.RegisterChatRoutes(e.Group(""), chatHandler, middleware.NewCallerMiddleware(resolver))

	go func() {
		if err := e.Start(*listenAddr); err != nil && err != http.ErrServerClosed {
			log.Errorw("Server stopped", "error", err)
			e.Logger.Fatal("shutting down the server")
		}
	}()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Errorw("Failed graceful shutdown", "error", err)
	}
}
