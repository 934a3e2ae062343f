package grpcapp

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"quill/internal/lib/handlers/slogdiscard"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func dial(t *testing.T, lis *bufconn.Listener) healthpb.HealthClient {
	t.Helper()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return healthpb.NewHealthClient(conn)
}

func TestHealth(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	app := New(slogdiscard.NewDiscardLogger(), 0)

	done := make(chan error, 1)
	go func() { done <- app.Serve(lis) }()

	client := dial(t, lis)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.Eventually(t, func() bool {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	app.SetServing(false)
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	app.Stop()
	require.NoError(t, <-done)
}

func TestHealth_FollowsReadiness(t *testing.T) {
	var down atomic.Bool
	ready := func(context.Context) error {
		if down.Load() {
			return errors.New("storage unreachable")
		}
		return nil
	}

	lis := bufconn.Listen(1 << 20)
	app := New(slogdiscard.NewDiscardLogger(), 0).WithReadiness(ready, 10*time.Millisecond)

	down.Store(true)

	done := make(chan error, 1)
	go func() { done <- app.Serve(lis) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := dial(t, lis)
	status := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}

	// serving alone does not make the service healthy
	require.Eventually(t, func() bool {
		return status() == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	monitored := make(chan struct{})
	go func() {
		app.Monitor(monitorCtx)
		close(monitored)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status())

	down.Store(false)
	require.Eventually(t, func() bool {
		return status() == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	down.Store(true)
	require.Eventually(t, func() bool {
		return status() == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	stopMonitor()
	<-monitored

	app.Stop()
	require.NoError(t, <-done)
}

func TestMonitor_WithoutReadinessReturns(t *testing.T) {
	app := New(slogdiscard.NewDiscardLogger(), 0)
	app.Monitor(context.Background())
}
