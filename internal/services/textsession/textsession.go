package textsession

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
	"quill/internal/storage"

	"github.com/google/uuid"
)

const titleMaxRunes = 60

var (
	ErrNotFound  = errors.New("text session not found")
	ErrEmptyText = errors.New("original text is empty")
)

type Storage interface {
	SaveTextSession(ctx context.Context, ts models.TextSession) error
	TextSession(ctx context.Context, id string) (models.TextSession, error)
	TextSessions(ctx context.Context, userID string) ([]models.TextSession, error)
	UpdateTextSession(ctx context.Context, ts models.TextSession, rev *models.Revision) error
	DeleteTextSession(ctx context.Context, id string) error
	Revisions(ctx context.Context, textSessionID string) ([]models.Revision, error)
}

type Service struct {
	log     *slog.Logger
	storage Storage
	now     func() time.Time
}

type CreateInput struct {
	Title        string
	OriginalText string
	FinalText    string
	Instructions string
}

func New(log *slog.Logger, storage Storage) *Service {
	return &Service{
		log:     log,
		storage: storage,
		now:     time.Now,
	}
}

// Create stores a new text session for userID. Without a title the first
// words of the original text are used.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (models.TextSession, error) {
	const op = "textsession.Create"
	log := s.log.With(slog.String("op", op), slog.String("userID", userID))

	if strings.TrimSpace(in.OriginalText) == "" {
		return models.TextSession{}, fmt.Errorf("%s: %w", op, ErrEmptyText)
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = defaultTitle(in.OriginalText)
	}

	now := s.now()
	ts := models.TextSession{
		ID:           uuid.NewString(),
		UserID:       userID,
		Title:        title,
		OriginalText: in.OriginalText,
		FinalText:    in.FinalText,
		Instructions: in.Instructions,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.storage.SaveTextSession(ctx, ts); err != nil {
		log.Error("failed to save text session", sl.Err(err))
		return models.TextSession{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("text session created", slog.String("id", ts.ID))

	return ts, nil
}

// Get returns the text session id if it belongs to userID. Sessions of other
// users are reported as not found.
func (s *Service) Get(ctx context.Context, userID, id string) (models.TextSession, error) {
	const op = "textsession.Get"

	ts, err := s.owned(ctx, userID, id)
	if err != nil {
		return models.TextSession{}, fmt.Errorf("%s: %w", op, err)
	}

	return ts, nil
}

// List returns the user's text sessions, most recently updated first.
func (s *Service) List(ctx context.Context, userID string) ([]models.TextSession, error) {
	const op = "textsession.List"

	list, err := s.storage.TextSessions(ctx, userID)
	if err != nil {
		s.log.Error("failed to list text sessions", slog.String("op", op), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return list, nil
}

// Update replaces the final text. A non-empty previous final text is kept as
// a revision.
func (s *Service) Update(ctx context.Context, userID, id, finalText, instructions string) (models.TextSession, error) {
	const op = "textsession.Update"
	log := s.log.With(slog.String("op", op), slog.String("id", id))

	ts, err := s.owned(ctx, userID, id)
	if err != nil {
		return models.TextSession{}, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()

	var rev *models.Revision
	if ts.FinalText != "" && ts.FinalText != finalText {
		rev = &models.Revision{
			ID:            uuid.NewString(),
			TextSessionID: ts.ID,
			Text:          ts.FinalText,
			Instructions:  ts.Instructions,
			CreatedAt:     now,
		}
	}

	ts.FinalText = finalText
	if instructions != "" {
		ts.Instructions = instructions
	}
	ts.UpdatedAt = now

	if err := s.storage.UpdateTextSession(ctx, ts, rev); err != nil {
		if errors.Is(err, storage.ErrTextSessionNotFound) {
			return models.TextSession{}, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		log.Error("failed to update text session", sl.Err(err))
		return models.TextSession{}, fmt.Errorf("%s: %w", op, err)
	}

	return ts, nil
}

func (s *Service) Delete(ctx context.Context, userID, id string) error {
	const op = "textsession.Delete"

	if _, err := s.owned(ctx, userID, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.DeleteTextSession(ctx, id); err != nil {
		if errors.Is(err, storage.ErrTextSessionNotFound) {
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		s.log.Error("failed to delete text session", slog.String("op", op), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("text session deleted", slog.String("op", op), slog.String("id", id))

	return nil
}

// Revisions returns the revisions of an owned text session, oldest first.
func (s *Service) Revisions(ctx context.Context, userID, id string) ([]models.Revision, error) {
	const op = "textsession.Revisions"

	if _, err := s.owned(ctx, userID, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	revs, err := s.storage.Revisions(ctx, id)
	if err != nil {
		s.log.Error("failed to list revisions", slog.String("op", op), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return revs, nil
}

func (s *Service) owned(ctx context.Context, userID, id string) (models.TextSession, error) {
	ts, err := s.storage.TextSession(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrTextSessionNotFound) {
			return models.TextSession{}, ErrNotFound
		}
		s.log.Error("failed to get text session", slog.String("id", id), sl.Err(err))
		return models.TextSession{}, err
	}

	if ts.UserID != userID {
		return models.TextSession{}, ErrNotFound
	}

	return ts, nil
}

func defaultTitle(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(title) <= titleMaxRunes {
		return title
	}

	runes := []rune(title)
	return strings.TrimSpace(string(runes[:titleMaxRunes])) + "…"
}
