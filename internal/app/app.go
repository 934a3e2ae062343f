package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	grpcapp "quill/internal/app/grpc"
	httpapp "quill/internal/app/http"
	"quill/internal/config"
	authhttp "quill/internal/http/auth"
	"quill/internal/http/cookies"
	"quill/internal/http/gatekeeper"
	"quill/internal/http/health"
	"quill/internal/http/metrics"
	"quill/internal/http/pages"
	"quill/internal/http/router"
	"quill/internal/http/textsessions"
	transformhttp "quill/internal/http/transform"
	"quill/internal/lib/jwt"
	"quill/internal/lib/password"
	"quill/internal/lib/sl"
	"quill/internal/ratelimit"
	"quill/internal/services/auth"
	"quill/internal/services/session"
	"quill/internal/services/textsession"
	"quill/internal/services/transform"
	"quill/internal/storage/mongodb"
	"quill/internal/storage/postgres"
	"quill/internal/storage/sqlite"

	"github.com/redis/go-redis/v9"
)

const connectTimeout = 10 * time.Second

// Storage is everything the services need from a backend.
type Storage interface {
	auth.UserSaver
	auth.UserProvider
	session.Storage
	textsession.Storage
	Ping(ctx context.Context) error
	Close() error
}

type App struct {
	log     *slog.Logger
	HTTPSrv *httpapp.App
	GRPCSrv *grpcapp.App
	Sweeper *session.Sweeper
	closers []func() error
}

func New(ctx context.Context, log *slog.Logger, cfg *config.Config) (*App, error) {
	const op = "app.New"

	storage, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	a := &App{log: log, closers: []func() error{storage.Close}}

	checks := map[string]health.Pinger{"storage": storage}

	var limiter transform.Limiter = ratelimit.NewMemory()
	if cfg.RateLimit.RedisAddr != "" {
		rl := ratelimit.NewRedis(redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		}))
		if err := rl.Ping(ctx); err != nil {
			// the limiter lets requests through while redis is away
			log.Warn("redis is unreachable", slog.String("addr", cfg.RateLimit.RedisAddr), sl.Err(err))
		}
		limiter = rl
		checks["redis"] = rl
		a.closers = append(a.closers, rl.Close)
	}

	codec := jwt.New(cfg.Auth.AccessSecret, cfg.Auth.RefreshSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	sessions := session.New(log, storage, codec)
	authService := auth.New(log, storage, storage, sessions, codec, password.New(cfg.Auth.BcryptCost))
	textSessions := textsession.New(log, storage)
	transformService := transform.New(
		log,
		transform.NewMockEngine(),
		limiter,
		textSessions,
		transform.Limits{
			Window: cfg.RateLimit.Window,
			Free:   cfg.RateLimit.FreeLimit,
			Pro:    cfg.RateLimit.ProLimit,
		},
		cfg.Transform.MaxTextLength,
	)

	jar := cookies.Jar{Secure: cfg.SecureCookies()}

	pagesHandler, err := pages.New(log, authService, textSessions, transformService, jar)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	expose := cfg.Env == config.EnvLocal
	m := metrics.New()

	handler := router.New(log, router.Handlers{
		Gatekeeper:   gatekeeper.New(log, authService, jar, m),
		Metrics:      m,
		Health:       health.New(log, checks),
		Auth:         authhttp.New(log, authService, jar, expose),
		TextSessions: textsessions.New(log, textSessions, jar, expose),
		Transform:    transformhttp.New(log, transformService, m, expose),
		Pages:        pagesHandler,
	})

	a.HTTPSrv = httpapp.New(log, handler, cfg.HTTP)
	a.GRPCSrv = grpcapp.New(log, cfg.Grpc.Port).
		WithReadiness(health.Readiness(log, checks), cfg.Grpc.HealthInterval)

	// mongo expires sessions with a TTL index
	if cfg.Storage.Driver != config.DriverMongo {
		a.Sweeper = session.NewSweeper(log, storage, cfg.Sweeper.Interval)
	}

	return a, nil
}

// Close releases the storage and redis connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.New(cfg.SQLitePath)
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.PostgresDSN)
	case config.DriverMongo:
		return mongodb.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
