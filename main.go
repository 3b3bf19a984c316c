package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardsync/api"
	"boardsync/registry"
	"boardsync/relay"
	"boardsync/storage"
)

func main() {
	_ = godotenv.Load()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "boardsync.db"
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.Close()

	redisConnStr := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConnStr == "" {
		log.Fatal("missing Redis config")
	}
	opts, err := redis.ParseURL(redisConnStr)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	auth, err := buildAuth()
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rel := relay.NewRedis(ctx, client)
	reg := registry.New(rel, logger)
	go reg.Run(ctx)

	cacheTTL := 5 * time.Minute
	if val := os.Getenv("BOARD_CACHE_TTL"); val != "" {
		ttl, err := time.ParseDuration(val)
		if err != nil {
			log.Fatalf("BOARD_CACHE_TTL: %v", err)
		}
		cacheTTL = ttl
	}
	cached := storage.NewCache(store, client, cacheTTL)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, cached, auth, reg, rel, logger)

	listenAddr := ":8000"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.WithField("error", err).Error("server shutdown")
		}
		reg.Close()
		if err := rel.Close(); err != nil {
			logger.WithField("error", err).Error("relay close")
		}
	}()

	if err := e.Start(listenAddr); err != nil {
		logger.WithField("error", err).Info("server stopped")
	}
}

// buildAuth prefers a JWKS endpoint when configured and falls back to a
// shared HMAC secret.
func buildAuth() (*api.Auth, error) {
	if jwksURL := os.Getenv("AUTH_JWKS_URL"); jwksURL != "" {
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			return nil, err
		}
		return api.NewAuthJWKS(jwks, os.Getenv("AUTH_AUDIENCE"), os.Getenv("AUTH_ISSUER")), nil
	}
	secret := os.Getenv("AUTH_SECRET")
	if secret == "" {
		log.Fatal("missing auth config: set AUTH_SECRET or AUTH_JWKS_URL")
	}
	return api.NewAuth([]byte(secret)), nil
}
