package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quill/internal/app"
	"quill/internal/config"
	"quill/internal/lib/handlers/slogpretty"
	"quill/internal/lib/sl"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)
	log.Info("starting quill", slog.String("env", cfg.Env), slog.String("storage", cfg.Storage.Driver))
	log.Debug("debug messages are enabled")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, log, cfg)
	if err != nil {
		log.Error("failed to init application", sl.Err(err))
		os.Exit(1)
	}

	go application.HTTPSrv.MustRun()
	go application.GRPCSrv.MustRun()
	go application.GRPCSrv.Monitor(ctx)
	if application.Sweeper != nil {
		go application.Sweeper.Run(ctx)
	}

	<-ctx.Done()

	log.Info("shutting down quill")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := application.HTTPSrv.Stop(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server", sl.Err(err))
	}
	application.GRPCSrv.Stop()

	if err := application.Close(); err != nil {
		log.Error("failed to close storage", sl.Err(err))
	}

	log.Info("quill stopped")
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case config.EnvLocal:
		log = setupPrettySlog()
	case config.EnvDev:
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case config.EnvProd:
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		panic("unknown environment: " + env)
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}
	h := opts.NewPrettyHandler(os.Stdout)

	return slog.New(h)
}
