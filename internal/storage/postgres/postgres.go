// Package postgres implements the credential and text session store on
// PostgreSQL through the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"quill/internal/domain/models"
	"quill/internal/storage"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const uniqueViolation = "23505"

type Storage struct {
	db *sql.DB
}

// New opens a connection pool for dsn and checks it is reachable.
func New(ctx context.Context, dsn string) (*Storage, error) {
	const op = "storage.postgres.New"

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	return &Storage{db: db}, nil
}

// NewWithDB wraps an already opened database.
func NewWithDB(db *sql.DB) *Storage {
	return &Storage{db: db}
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) SaveUser(ctx context.Context, user models.User) error {
	const op = "storage.postgres.SaveUser"

	query := `
		INSERT INTO users (id, email, name, pass_hash, is_pro, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.Email, user.Name, user.PassHash, user.IsPro, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) User(ctx context.Context, email string) (models.User, error) {
	const op = "storage.postgres.User"

	query := `
		SELECT id, email, name, pass_hash, is_pro, created_at
		FROM users
		WHERE email = $1
	`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) UserByID(ctx context.Context, id string) (models.User, error) {
	const op = "storage.postgres.UserByID"

	query := `
		SELECT id, email, name, pass_hash, is_pro, created_at
		FROM users
		WHERE id = $1
	`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func scanUser(row *sql.Row) (models.User, error) {
	var user models.User
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PassHash, &user.IsPro, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}
		return models.User{}, err
	}

	return user, nil
}

func (s *Storage) SaveSession(ctx context.Context, session models.Session) error {
	const op = "storage.postgres.SaveSession"

	query := `
		INSERT INTO sessions (token, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.ExecContext(ctx, query,
		session.Token, session.UserID, session.ExpiresAt, session.CreatedAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) Session(ctx context.Context, token string) (models.Session, error) {
	const op = "storage.postgres.Session"

	query := `
		SELECT token, user_id, expires_at, created_at
		FROM sessions
		WHERE token = $1
	`
	var session models.Session
	err := s.db.QueryRowContext(ctx, query, token).
		Scan(&session.Token, &session.UserID, &session.ExpiresAt, &session.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Session{}, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
		}
		return models.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	return session, nil
}

func (s *Storage) DeleteSession(ctx context.Context, token string) error {
	const op = "storage.postgres.DeleteSession"

	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return affectedOrNotFound(op, res, storage.ErrSessionNotFound)
}

func (s *Storage) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredSessions"

	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
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
	const op = "storage.postgres.SaveTextSession"

	query := `
		INSERT INTO text_sessions (id, user_id, title, original_text, final_text, instructions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := s.db.ExecContext(ctx, query,
		ts.ID, ts.UserID, ts.Title, ts.OriginalText, ts.FinalText, ts.Instructions,
		ts.CreatedAt, ts.UpdatedAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) TextSession(ctx context.Context, id string) (models.TextSession, error) {
	const op = "storage.postgres.TextSession"

	query := `
		SELECT id, user_id, title, original_text, final_text, instructions, created_at, updated_at
		FROM text_sessions
		WHERE id = $1
	`
	var ts models.TextSession
	err := s.db.QueryRowContext(ctx, query, id).Scan(&ts.ID, &ts.UserID, &ts.Title,
		&ts.OriginalText, &ts.FinalText, &ts.Instructions, &ts.CreatedAt, &ts.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.TextSession{}, fmt.Errorf("%s: %w", op, storage.ErrTextSessionNotFound)
		}
		return models.TextSession{}, fmt.Errorf("%s: %w", op, err)
	}

	return ts, nil
}

func (s *Storage) TextSessions(ctx context.Context, userID string) ([]models.TextSession, error) {
	const op = "storage.postgres.TextSessions"

	query := `
		SELECT id, user_id, title, original_text, final_text, instructions, created_at, updated_at
		FROM text_sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	sessions := make([]models.TextSession, 0)
	for rows.Next() {
		var ts models.TextSession
		if err := rows.Scan(&ts.ID, &ts.UserID, &ts.Title, &ts.OriginalText, &ts.FinalText,
			&ts.Instructions, &ts.CreatedAt, &ts.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		sessions = append(sessions, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return sessions, nil
}

func (s *Storage) UpdateTextSession(ctx context.Context, ts models.TextSession, rev *models.Revision) error {
	const op = "storage.postgres.UpdateTextSession"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE text_sessions
		SET final_text = $1, instructions = $2, updated_at = $3
		WHERE id = $4
	`, ts.FinalText, ts.Instructions, ts.UpdatedAt, ts.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := affectedOrNotFound(op, res, storage.ErrTextSessionNotFound); err != nil {
		return err
	}

	if rev != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO revisions (id, text_session_id, text, instructions, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, rev.ID, rev.TextSessionID, rev.Text, rev.Instructions, rev.CreatedAt); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) DeleteTextSession(ctx context.Context, id string) error {
	const op = "storage.postgres.DeleteTextSession"

	res, err := s.db.ExecContext(ctx, `DELETE FROM text_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return affectedOrNotFound(op, res, storage.ErrTextSessionNotFound)
}

func (s *Storage) Revisions(ctx context.Context, textSessionID string) ([]models.Revision, error) {
	const op = "storage.postgres.Revisions"

	query := `
		SELECT id, text_session_id, text, instructions, created_at
		FROM revisions
		WHERE text_session_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, textSessionID)
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

func affectedOrNotFound(op string, res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, notFound)
	}

	return nil
}
