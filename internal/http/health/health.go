package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"quill/internal/lib/api"
	"quill/internal/lib/sl"
)

const checkTimeout = 2 * time.Second

var ErrUnhealthy = errors.New("dependencies unavailable")

type Pinger interface {
	Ping(ctx context.Context) error
}

type Response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (r Response) Healthy() bool {
	return r.Status == "ok"
}

// Check pings every named dependency.
func Check(ctx context.Context, log *slog.Logger, checks map[string]Pinger) Response {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	resp := Response{Status: "ok", Checks: make(map[string]string, len(checks))}

	for name, p := range checks {
		if err := p.Ping(ctx); err != nil {
			log.Warn("health check failed", slog.String("check", name), sl.Err(err))
			resp.Checks[name] = "unavailable"
			resp.Status = "unavailable"
			continue
		}
		resp.Checks[name] = "ok"
	}

	return resp
}

// New returns a handler that runs Check. Any failure turns the response into
// a 503.
func New(log *slog.Logger, checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := Check(r.Context(), log, checks)

		status := http.StatusOK
		if !resp.Healthy() {
			status = http.StatusServiceUnavailable
		}

		api.JSON(w, status, resp)
	}
}

// Readiness runs Check and returns ErrUnhealthy naming the failed dependencies.
func Readiness(log *slog.Logger, checks map[string]Pinger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		resp := Check(ctx, log, checks)
		if resp.Healthy() {
			return nil
		}

		var failed []string
		for name, status := range resp.Checks {
			if status != "ok" {
				failed = append(failed, name)
			}
		}
		sort.Strings(failed)

		return fmt.Errorf("%w: %s", ErrUnhealthy, strings.Join(failed, ", "))
	}
}
