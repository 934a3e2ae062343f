package httpapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"quill/internal/config"
)

type App struct {
	log    *slog.Logger
	server *http.Server
}

func New(log *slog.Logger, handler http.Handler, cfg config.HTTPConfig) *App {
	return &App{
		log: log,
		server: &http.Server{
			Addr:         cfg.Address,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

func (a *App) Run() error {
	const op = "httpapp.Run"

	listener, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return a.Serve(listener)
}

// Serve handles requests on l until Stop is called.
func (a *App) Serve(l net.Listener) error {
	const op = "httpapp.Serve"

	a.log.Info("HTTP server is running",
		slog.String("op", op),
		slog.String("address", l.Addr().String()),
	)

	if err := a.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Stop waits for in-flight requests until ctx is done.
func (a *App) Stop(ctx context.Context) error {
	const op = "httpapp.Stop"

	a.log.Info("stopping HTTP server", slog.String("op", op))

	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
