package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quill/internal/domain/models"
	"quill/internal/lib/jwt"
	"quill/internal/lib/sl"
	"quill/internal/storage"
)

var ErrInvalidSession = errors.New("invalid session")

type Storage interface {
	SaveSession(ctx context.Context, session models.Session) error
	Session(ctx context.Context, token string) (models.Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

type TokenIssuer interface {
	SignRefresh(userID string) (token string, expiresAt time.Time, err error)
	VerifyRefresh(token string) (*jwt.RefreshClaims, error)
}

// Manager issues, validates and revokes refresh sessions. A refresh token is
// valid only while its row exists, so deleting the row revokes it.
type Manager struct {
	log     *slog.Logger
	storage Storage
	tokens  TokenIssuer
	now     func() time.Time
}

func New(log *slog.Logger, storage Storage, tokens TokenIssuer) *Manager {
	return &Manager{
		log:     log,
		storage: storage,
		tokens:  tokens,
		now:     time.Now,
	}
}

// WithClock replaces the manager's time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Create mints a refresh token for userID and stores its session row.
func (m *Manager) Create(ctx context.Context, userID string) (models.Session, error) {
	const op = "session.Create"
	log := m.log.With(slog.String("op", op), slog.String("userID", userID))

	token, expiresAt, err := m.tokens.SignRefresh(userID)
	if err != nil {
		log.Error("failed to sign refresh token", sl.Err(err))
		return models.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	session := models.Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: m.now(),
	}

	if err := m.storage.SaveSession(ctx, session); err != nil {
		log.Error("failed to save session", sl.Err(err))
		return models.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Debug("session created", slog.Time("expiresAt", expiresAt))

	return session, nil
}

// Validate returns the session for token. The token must carry a valid
// signature, have a stored row that has not expired, and name the same user
// as that row.
func (m *Manager) Validate(ctx context.Context, token string) (models.Session, error) {
	const op = "session.Validate"
	log := m.log.With(slog.String("op", op))

	if token == "" {
		return models.Session{}, fmt.Errorf("%s: %w", op, ErrInvalidSession)
	}

	claims, err := m.tokens.VerifyRefresh(token)
	if err != nil {
		log.Debug("refresh token rejected", sl.Err(err))
		return models.Session{}, fmt.Errorf("%s: %w", op, ErrInvalidSession)
	}

	session, err := m.storage.Session(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			log.Debug("session not found")
			return models.Session{}, fmt.Errorf("%s: %w", op, ErrInvalidSession)
		}
		log.Error("failed to get session", sl.Err(err))
		return models.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	if session.Expired(m.now()) {
		log.Debug("session expired", slog.String("userID", session.UserID))
		return models.Session{}, fmt.Errorf("%s: %w", op, ErrInvalidSession)
	}

	if session.UserID != claims.UserID {
		log.Warn("session owner does not match token subject", slog.String("userID", session.UserID))
		return models.Session{}, fmt.Errorf("%s: %w", op, ErrInvalidSession)
	}

	return session, nil
}

// Delete removes the session row for token. A missing row is not an error.
func (m *Manager) Delete(ctx context.Context, token string) error {
	const op = "session.Delete"
	log := m.log.With(slog.String("op", op))

	if err := m.storage.DeleteSession(ctx, token); err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			log.Debug("session already gone")
			return nil
		}
		log.Error("failed to delete session", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
