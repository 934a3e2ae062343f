package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quill/internal/lib/sl"
)

// Sweeper periodically deletes expired session rows so they do not pile up.
type Sweeper struct {
	log      *slog.Logger
	storage  Storage
	interval time.Duration
	now      func() time.Time
}

func NewSweeper(log *slog.Logger, storage Storage, interval time.Duration) *Sweeper {
	return &Sweeper{
		log:      log,
		storage:  storage,
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps once per interval until ctx is done. It returns immediately
// when the interval is not positive.
func (s *Sweeper) Run(ctx context.Context) {
	const op = "session.Sweeper.Run"
	log := s.log.With(slog.String("op", op))

	if s.interval <= 0 {
		log.Info("session sweeper disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info("session sweeper started", slog.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			log.Info("session sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				log.Error("sweep failed", sl.Err(err))
			}
		}
	}
}

// Sweep deletes every session expired at the current time.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	const op = "session.Sweeper.Sweep"

	n, err := s.storage.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if n > 0 {
		s.log.Info("expired sessions removed", slog.String("op", op), slog.Int64("count", n))
	}

	return n, nil
}
