package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"quill/internal/domain/models"
	"quill/internal/lib/sl"
	"quill/internal/services/textsession"
)

const DefaultMaxTextLength = 10000

var (
	ErrEmptyText   = errors.New("text is empty")
	ErrTextTooLong = errors.New("text is too long")
	ErrRateLimited = errors.New("rate limit exceeded")
)

type Engine interface {
	Transform(ctx context.Context, text, instructions string) (string, error)
}

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type TextSessions interface {
	Update(ctx context.Context, userID, id, finalText, instructions string) (models.TextSession, error)
}

// Limits are requests per window, by account tier.
type Limits struct {
	Window time.Duration
	Free   int
	Pro    int
}

type Service struct {
	log           *slog.Logger
	engine        Engine
	limiter       Limiter
	textSessions  TextSessions
	limits        Limits
	maxTextLength int
}

type Request struct {
	User         models.UserInfo
	ClientIP     string
	Text         string
	Instructions string
	// SessionID is the caller's current text session, if any.
	SessionID string
}

type Response struct {
	Result    string `json:"result"`
	SessionID string `json:"sessionId,omitempty"`
}

func New(
	log *slog.Logger,
	engine Engine,
	limiter Limiter,
	textSessions TextSessions,
	limits Limits,
	maxTextLength int,
) *Service {
	if maxTextLength <= 0 {
		maxTextLength = DefaultMaxTextLength
	}

	return &Service{
		log:           log,
		engine:        engine,
		limiter:       limiter,
		textSessions:  textSessions,
		limits:        limits,
		maxTextLength: maxTextLength,
	}
}

// Transform rewrites req.Text. When req.SessionID names a text session of the
// caller, the result becomes that session's final text.
func (s *Service) Transform(ctx context.Context, req Request) (Response, error) {
	const op = "transform.Transform"
	log := s.log.With(
		slog.String("op", op),
		slog.String("userID", req.User.ID),
	)

	if strings.TrimSpace(req.Text) == "" {
		return Response{}, fmt.Errorf("%s: %w", op, ErrEmptyText)
	}
	if utf8.RuneCountInString(req.Text) > s.maxTextLength {
		return Response{}, fmt.Errorf("%s: %w", op, ErrTextTooLong)
	}

	if err := s.allow(ctx, log, req); err != nil {
		return Response{}, fmt.Errorf("%s: %w", op, err)
	}

	result, err := s.engine.Transform(ctx, req.Text, req.Instructions)
	if err != nil {
		log.Error("engine failed", sl.Err(err))
		return Response{}, fmt.Errorf("%s: %w", op, err)
	}

	resp := Response{Result: result}

	if req.SessionID != "" && s.textSessions != nil {
		_, err := s.textSessions.Update(ctx, req.User.ID, req.SessionID, result, req.Instructions)
		switch {
		case err == nil:
			resp.SessionID = req.SessionID
		case errors.Is(err, textsession.ErrNotFound):
			log.Debug("current text session not found", slog.String("sessionID", req.SessionID))
		default:
			log.Error("failed to record transform", sl.Err(err))
			return Response{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	return resp, nil
}

// allow applies the caller's tier limit. The limiter failing lets the
// request through.
func (s *Service) allow(ctx context.Context, log *slog.Logger, req Request) error {
	if s.limiter == nil {
		return nil
	}

	limit := s.limits.Free
	if req.User.IsPro {
		limit = s.limits.Pro
	}

	key := req.ClientIP
	if key == "" {
		key = "user:" + req.User.ID
	}

	ok, err := s.limiter.Allow(ctx, key, limit, s.limits.Window)
	if err != nil {
		log.Warn("rate limiter unavailable, allowing request", sl.Err(err))
		return nil
	}
	if !ok {
		log.Info("rate limit exceeded", slog.String("key", key), slog.Int("limit", limit))
		return ErrRateLimited
	}

	return nil
}
