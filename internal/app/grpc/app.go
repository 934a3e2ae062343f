package grpcapp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"quill/internal/lib/sl"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the name reported by the health server besides the overall
// server status.
const Service = "quill"

const defaultReadinessInterval = 10 * time.Second

// Readiness reports whether the dependencies the service needs are reachable.
type Readiness func(ctx context.Context) error

type App struct {
	log        *slog.Logger
	gRPCServer *grpc.Server
	health     *health.Server
	port       int

	ready             Readiness
	readinessInterval time.Duration
}

// New creates a gRPC server exposing grpc.health.v1.Health, so that load
// balancers and orchestrators can query the service.
func New(log *slog.Logger, port int) *App {
	gRPCServer := grpc.NewServer()

	hs := health.NewServer()
	hs.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(gRPCServer, hs)

	return &App{
		log:        log,
		gRPCServer: gRPCServer,
		health:     hs,
		port:       port,
	}
}

// SetServing flips the reported status of the service.
func (a *App) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	a.health.SetServingStatus(Service, status)
}

// WithReadiness makes the reported status follow ready instead of the server
// merely running. Monitor must be started for the status to change.
func (a *App) WithReadiness(ready Readiness, interval time.Duration) *App {
	if interval <= 0 {
		interval = defaultReadinessInterval
	}
	a.ready = ready
	a.readinessInterval = interval
	return a
}

// Monitor runs the readiness check now and once per interval until ctx is
// done, reporting SERVING only while it succeeds. Without a readiness check it
// returns at once.
func (a *App) Monitor(ctx context.Context) {
	const op = "grpcapp.Monitor"
	log := a.log.With(slog.String("op", op))

	if a.ready == nil {
		return
	}

	var last *bool
	check := func() {
		err := a.ready(ctx)
		serving := err == nil
		if last == nil || *last != serving {
			if serving {
				log.Info("dependencies available, reporting SERVING")
			} else {
				log.Warn("dependencies unavailable, reporting NOT_SERVING", sl.Err(err))
			}
		}
		last = &serving
		a.SetServing(serving)
	}

	check()

	ticker := time.NewTicker(a.readinessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

func (a *App) Run() error {
	const op = "grpcapp.Run"

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.port))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return a.Serve(listener)
}

// Serve accepts connections on l until Stop is called.
func (a *App) Serve(l net.Listener) error {
	const op = "grpcapp.Serve"

	a.log.Info("gRPC server is running",
		slog.String("op", op),
		slog.String("address", l.Addr().String()),
	)

	if a.ready == nil {
		a.SetServing(true)
	}

	if err := a.gRPCServer.Serve(l); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (a *App) Stop() {
	const op = "grpcapp.Stop"

	a.log.With(slog.String("op", op)).Info("stopping gRPC server", slog.Int("port", a.port))

	a.health.Shutdown()
	a.gRPCServer.GracefulStop()
}
