package mongodb

import (
	"context"
	"os"
	"testing"
	"time"

	"quill/internal/domain/models"
	"quill/internal/storage"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// newTestStorage connects to MONGO_URI and uses a throwaway database.
func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := New(ctx, uri, "quill_test_"+uuid.NewString()[:8])
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = st.database.Drop(ctx)
		_ = st.Close()
	})

	return st
}

func TestNew_DisconnectsWhenUnreachable(t *testing.T) {
	var disconnected []*mongo.Client
	orig := disconnect
	disconnect = func(client *mongo.Client) error {
		disconnected = append(disconnected, client)
		return orig(client)
	}
	t.Cleanup(func() { disconnect = orig })

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	// nothing listens on port 1
	st, err := New(ctx, "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200&connectTimeoutMS=200", "quill_test")
	require.Error(t, err)
	assert.Nil(t, st)
	require.Len(t, disconnected, 1)
	assert.NotNil(t, disconnected[0])
}

func TestStorage_UsersAndSessions(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	user := models.User{
		ID:        uuid.NewString(),
		Email:     gofakeit.Email(),
		Name:      gofakeit.Name(),
		PassHash:  []byte("hash"),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.SaveUser(ctx, user))

	dup := user
	dup.ID = uuid.NewString()
	require.ErrorIs(t, st.SaveUser(ctx, dup), storage.ErrUserExists)

	got, err := st.User(ctx, user.Email)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = st.UserByID(ctx, uuid.NewString())
	require.ErrorIs(t, err, storage.ErrUserNotFound)

	now := time.Now().UTC()
	require.NoError(t, st.SaveSession(ctx, models.Session{
		Token: "tok", UserID: user.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}))

	session, err := st.Session(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, user.ID, session.UserID)

	require.NoError(t, st.DeleteSession(ctx, "tok"))
	require.ErrorIs(t, st.DeleteSession(ctx, "tok"), storage.ErrSessionNotFound)
}

func TestStorage_TextSessions(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ts := models.TextSession{
		ID: uuid.NewString(), UserID: "u1", OriginalText: "a", FinalText: "b",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.SaveTextSession(ctx, ts))

	ts.FinalText = "c"
	require.NoError(t, st.UpdateTextSession(ctx, ts, &models.Revision{
		ID: uuid.NewString(), TextSessionID: ts.ID, Text: "b", CreatedAt: now,
	}))

	revs, err := st.Revisions(ctx, ts.ID)
	require.NoError(t, err)
	require.Len(t, revs, 1)

	list, err := st.TextSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c", list[0].FinalText)

	require.NoError(t, st.DeleteTextSession(ctx, ts.ID))
	_, err = st.TextSession(ctx, ts.ID)
	require.ErrorIs(t, err, storage.ErrTextSessionNotFound)
}
