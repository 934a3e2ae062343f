package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"quill/internal/domain/models"
	"quill/internal/storage"

	"github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

// New returns a new instance of the Storage. The schema is managed by the
// migrator.
func New(storagePath string) (*Storage, error) {
	const op = "storage.sqlite.New"

	db, err := sql.Open("sqlite3", storagePath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) SaveUser(ctx context.Context, user models.User) error {
	const op = "storage.sqlite.SaveUser"

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, name, pass_hash, is_pro, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		user.ID, user.Email, user.Name, user.PassHash, user.IsPro, user.CreatedAt.UTC(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) User(ctx context.Context, email string) (models.User, error) {
	const op = "storage.sqlite.User"

	row := s.db.QueryRowContext(ctx,
		"SELECT id, email, name, pass_hash, is_pro, created_at FROM users WHERE email = ?", email)

	user, err := scanUser(row)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) UserByID(ctx context.Context, id string) (models.User, error) {
	const op = "storage.sqlite.UserByID"

	row := s.db.QueryRowContext(ctx,
		"SELECT id, email, name, pass_hash, is_pro, created_at FROM users WHERE id = ?", id)

	user, err := scanUser(row)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func scanUser(row *sql.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PassHash, &user.IsPro, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}
		return models.User{}, err
	}

	return user, nil
}

func (s *Storage) SaveSession(ctx context.Context, session models.Session) error {
	const op = "storage.sqlite.SaveSession"

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (token, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)",
		session.Token, session.UserID, session.ExpiresAt.UTC(), session.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) Session(ctx context.Context, token string) (models.Session, error) {
	const op = "storage.sqlite.Session"

	var session models.Session
	err := s.db.QueryRowContext(ctx,
		"SELECT token, user_id, expires_at, created_at FROM sessions WHERE token = ?", token,
	).Scan(&session.Token, &session.UserID, &session.ExpiresAt, &session.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Session{}, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
		}
		return models.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	return session, nil
}

func (s *Storage) DeleteSession(ctx context.Context, token string) error {
	const op = "storage.sqlite.DeleteSession"

	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
	}

	return nil
}

// DeleteExpiredSessions removes sessions that expired at or before now.
func (s *Storage) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.sqlite.DeleteExpiredSessions"

	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", now.UTC())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

func (s *Storage) SaveTextSession(ctx context.Context, ts models.TextSession) error {
	const op = "storage.sqlite.SaveTextSession"

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO text_sessions (id, user_id, title, original_text, final_text, instructions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.ID, ts.UserID, ts.Title, ts.OriginalText, ts.FinalText, ts.Instructions,
		ts.CreatedAt.UTC(), ts.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

const textSessionColumns = "id, user_id, title, original_text, final_text, instructions, created_at, updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanTextSession(row scanner) (models.TextSession, error) {
	var ts models.TextSession
	err := row.Scan(&ts.ID, &ts.UserID, &ts.Title, &ts.OriginalText, &ts.FinalText,
		&ts.Instructions, &ts.CreatedAt, &ts.UpdatedAt)
	return ts, err
}

func (s *Storage) TextSession(ctx context.Context, id string) (models.TextSession, error) {
	const op = "storage.sqlite.TextSession"

	row := s.db.QueryRowContext(ctx, "SELECT "+textSessionColumns+" FROM text_sessions WHERE id = ?", id)

	ts, err := scanTextSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.TextSession{}, fmt.Errorf("%s: %w", op, storage.ErrTextSessionNotFound)
		}
		return models.TextSession{}, fmt.Errorf("%s: %w", op, err)
	}

	return ts, nil
}

func (s *Storage) TextSessions(ctx context.Context, userID string) ([]models.TextSession, error) {
	const op = "storage.sqlite.TextSessions"

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+textSessionColumns+" FROM text_sessions WHERE user_id = ? ORDER BY updated_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	sessions := make([]models.TextSession, 0)
	for rows.Next() {
		ts, err := scanTextSession(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		sessions = append(sessions, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return sessions, nil
}

// UpdateTextSession stores the new final text and the revision holding the
// previous one in a single transaction. A nil revision skips the insert.
func (s *Storage) UpdateTextSession(ctx context.Context, ts models.TextSession, rev *models.Revision) error {
	const op = "storage.sqlite.UpdateTextSession"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		"UPDATE text_sessions SET final_text = ?, instructions = ?, updated_at = ? WHERE id = ?",
		ts.FinalText, ts.Instructions, ts.UpdatedAt.UTC(), ts.ID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	} else if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrTextSessionNotFound)
	}

	if rev != nil {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO revisions (id, text_session_id, text, instructions, created_at) VALUES (?, ?, ?, ?, ?)",
			rev.ID, rev.TextSessionID, rev.Text, rev.Instructions, rev.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) DeleteTextSession(ctx context.Context, id string) error {
	const op = "storage.sqlite.DeleteTextSession"

	res, err := s.db.ExecContext(ctx, "DELETE FROM text_sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	} else if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrTextSessionNotFound)
	}

	return nil
}

func (s *Storage) Revisions(ctx context.Context, textSessionID string) ([]models.Revision, error) {
	const op = "storage.sqlite.Revisions"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text_session_id, text, instructions, created_at
		FROM revisions WHERE text_session_id = ? ORDER BY created_at ASC`, textSessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	revisions := make([]models.Revision, 0)
	for rows.Next() {
		var rev models.Revision
		if err := rows.Scan(&rev.ID, &rev.TextSessionID, &rev.Text, &rev.Instructions, &rev.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		revisions = append(revisions, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return revisions, nil
}
