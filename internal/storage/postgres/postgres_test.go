package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"quill/internal/domain/models"
	"quill/internal/storage"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStorageWithMock(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})

	return NewWithDB(db), mock
}

var userColumns = []string{"id", "email", "name", "pass_hash", "is_pro", "created_at"}

func TestSaveUser(t *testing.T) {
	now := time.Now()
	user := models.User{ID: "u1", Email: "a@x.com", Name: "Ann", PassHash: []byte("h"), CreatedAt: now}

	t.Run("ok", func(t *testing.T) {
		st, mock := newStorageWithMock(t)
		mock.ExpectExec(`(?s)INSERT\s+INTO\s+users`).
			WithArgs("u1", "a@x.com", "Ann", []byte("h"), false, now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, st.SaveUser(context.Background(), user))
	})

	t.Run("duplicate email", func(t *testing.T) {
		st, mock := newStorageWithMock(t)
		mock.ExpectExec(`(?s)INSERT\s+INTO\s+users`).
			WillReturnError(&pgconn.PgError{Code: uniqueViolation})

		err := st.SaveUser(context.Background(), user)
		require.ErrorIs(t, err, storage.ErrUserExists)
	})

	t.Run("db error", func(t *testing.T) {
		st, mock := newStorageWithMock(t)
		mock.ExpectExec(`(?s)INSERT\s+INTO\s+users`).
			WillReturnError(errors.New("db down"))

		err := st.SaveUser(context.Background(), user)
		require.Error(t, err)
		assert.NotErrorIs(t, err, storage.ErrUserExists)
	})
}

func TestUser(t *testing.T) {
	now := time.Now()

	t.Run("found", func(t *testing.T) {
		st, mock := newStorageWithMock(t)
		mock.ExpectQuery(`(?s)SELECT.+FROM\s+users\s+WHERE\s+email\s*=\s*\$1`).
			WithArgs("a@x.com").
			WillReturnRows(sqlmock.NewRows(userColumns).AddRow("u1", "a@x.com", "Ann", []byte("h"), true, now))

		user, err := st.User(context.Background(), "a@x.com")
		require.NoError(t, err)
		assert.Equal(t, "u1", user.ID)
		assert.True(t, user.IsPro)
		assert.Equal(t, []byte("h"), user.PassHash)
	})

	t.Run("not found", func(t *testing.T) {
		st, mock := newStorageWithMock(t)
		mock.ExpectQuery(`(?s)SELECT.+FROM\s+users\s+WHERE\s+id\s*=\s*\$1`).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := st.UserByID(context.Background(), "missing")
		require.ErrorIs(t, err, storage.ErrUserNotFound)
	})
}

func TestSessions(t *testing.T) {
	now := time.Now()

	t.Run("lookup", func(t *testing.T) {
		st, mock := newStorageWithMock(t)
		mock.ExpectQuery(`(?s)SELECT.+FROM\s+sessions\s+WHERE\s+token\s*=\s*\$1`).
			WithArgs("tok").
			WillReturnRows(sqlmock.NewRows([]string{"token", "user_id", "expires_at", "created_at"}).
				AddRow("tok", "u1", now.Add(time.Hour), now))

		session, err := st.Session(context.Background(), "tok")
		require.NoError(t, err)
		assert.Equal(t, "u1", session.UserID)
	})

	t.Run("lookup missing", func(t *testing.T) {
		st, mock := newStorageWithMock(t)
		mock.ExpectQuery(`(?s)SELECT.+FROM\s+sessions`).
			WithArgs("tok").
			WillReturnError(sql.ErrNoRows)

		_, err := st.Session(context.Background(), "tok")
		require.ErrorIs(t, err, storage.ErrSessionNotFound)
	})

	t.Run("delete missing", func(t *testing.T) {
		st, mock := newStorageWithMock(t)
		mock.ExpectExec(`DELETE\s+FROM\s+sessions\s+WHERE\s+token\s*=\s*\$1`).
			WithArgs("tok").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := st.DeleteSession(context.Background(), "tok")
		require.ErrorIs(t, err, storage.ErrSessionNotFound)
	})

	t.Run("delete expired", func(t *testing.T) {
		st, mock := newStorageWithMock(t)
		mock.ExpectExec(`DELETE\s+FROM\s+sessions\s+WHERE\s+expires_at\s*<=\s*\$1`).
			WithArgs(now).
			WillReturnResult(sqlmock.NewResult(0, 3))

		n, err := st.DeleteExpiredSessions(context.Background(), now)
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)
	})
}

func TestUpdateTextSession(t *testing.T) {
	now := time.Now()
	ts := models.TextSession{ID: "ts1", FinalText: "new", Instructions: "formal", UpdatedAt: now}
	rev := &models.Revision{ID: "r1", TextSessionID: "ts1", Text: "old", CreatedAt: now}

	t.Run("commits update and revision", func(t *testing.T) {
		st, mock := newStorageWithMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`(?s)UPDATE\s+text_sessions`).
			WithArgs("new", "formal", now, "ts1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`(?s)INSERT\s+INTO\s+revisions`).
			WithArgs("r1", "ts1", "old", "", now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, st.UpdateTextSession(context.Background(), ts, rev))
	})

	t.Run("rolls back when missing", func(t *testing.T) {
		st, mock := newStorageWithMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`(?s)UPDATE\s+text_sessions`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := st.UpdateTextSession(context.Background(), ts, rev)
		require.ErrorIs(t, err, storage.ErrTextSessionNotFound)
	})
}

func TestTextSessions(t *testing.T) {
	now := time.Now()
	st, mock := newStorageWithMock(t)

	mock.ExpectQuery(`(?s)SELECT.+FROM\s+text_sessions\s+WHERE\s+user_id\s*=\s*\$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "title", "original_text", "final_text", "instructions", "created_at", "updated_at",
		}).
			AddRow("ts2", "u1", "b", "o2", "f2", "", now, now).
			AddRow("ts1", "u1", "a", "o1", "f1", "", now, now))

	list, err := st.TextSessions(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ts2", list[0].ID)
}
