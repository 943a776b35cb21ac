package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"

	"tandem/api"
	"tandem/config"
	"tandem/domain"
	"tandem/events"
	"tandem/githubapi"
	"tandem/storage"
)

var Version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New()
	if cfg.Server.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.IsProduction() {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, storage.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatalf("migrate: %v", err)
	}

	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	bus := storage.NewBoardBus(rc)
	sinks := map[string]events.Sink{"board": bus}
	var activityLog api.ActivityReader
	if cfg.ActivityEnabled() {
		queue, err := storage.NewActivityQueue(cfg.Azure.ConnectionString, cfg.Azure.ActivityQueue)
		if err != nil {
			logger.Fatalf("activity queue: %v", err)
		}
		sinks["activity"] = queue
		table, err := storage.NewActivityLog(cfg.Azure.ConnectionString, cfg.Azure.ActivityTable)
		if err != nil {
			logger.Fatalf("activity log: %v", err)
		}
		activityLog = table
	} else {
		logger.Info("activity log disabled: STORAGE_CONNECTION_STRING not set")
	}
	dispatcher := events.NewDispatcher(events.Options{
		Workers:        cfg.Events.Workers,
		Buffer:         cfg.Events.Buffer,
		SendTimeout:    cfg.Events.SendTimeout,
		HandoffTimeout: cfg.Events.HandoffTimeout,
	}, logger, sinks)

	projects := domain.NewProjectService(storage.NewCache(db, rc, cfg.Redis.CacheTTL), dispatcher)
	identities := domain.NewIdentityService(db, cfg.Auth.AdminEmails)

	var jwks *keyfunc.JWKS
	if cfg.Auth.JWKSURL != "" {
		jwks, err = keyfunc.Get(cfg.Auth.JWKSURL, keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				logger.WithError(err).Warn("jwks refresh failed")
			},
		})
		if err != nil {
			logger.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
	}
	auth := api.NewAuth([]byte(cfg.Auth.SessionSecret), storage.NewSessionStore(rc, cfg.Auth.SessionTTL), jwks, cfg.Auth.Audience, cfg.Auth.Issuer)
	auth.CookieName = cfg.Auth.CookieName

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler(logger)
	e.Use(middleware.Recover())
	e.Use(api.RequestLogger(logger))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowCredentials: true,
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding, "Idempotency-Key"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
	}))
	e.Use(api.GzipRequestMiddleware())

	api.Register(e, api.Deps{
		Projects: projects,
		Identity: identities,
		Auth:     auth,
		GitHub:   githubapi.New(&http.Client{Timeout: 15 * time.Second}),
		OAuth: &oauth2.Config{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			Endpoint:     oauthgithub.Endpoint,
			RedirectURL:  cfg.GitHub.CallbackURL,
			Scopes:       cfg.GitHub.Scopes,
		},
		OAuthState:  api.NewOAuthStateStore([]byte(cfg.Auth.SessionSecret), cfg.Auth.CookieSecure),
		Feed:        bus,
		Activity:    activityLog,
		Idempotency: api.NewRedisIdempotency(rc, cfg.Redis.IdempotencyTTL),
		Health: map[string]api.HealthCheck{
			"database": db.Ping,
			"redis":    func(ctx context.Context) error { return rc.Ping(ctx).Err() },
		},
		Logger:       logger,
		FrontendURL:  cfg.Server.FrontendURL,
		CookieSecure: cfg.Auth.CookieSecure,
		Version:      Version,
	})

	go func() {
		logger.WithFields(log.Fields{"port": cfg.Server.Port, "driver": db.Driver()}).Info("tandem api listening")
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
	dispatcher.Close()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("tracer shutdown")
	}
}
