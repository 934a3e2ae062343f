package auth

import (
	"context"
	"testing"
	"time"

	"quill/internal/domain/models"
	"quill/internal/lib/handlers/slogdiscard"
	"quill/internal/lib/jwt"
	"quill/internal/lib/password"
	"quill/internal/services/session"
	"quill/internal/storage"
	"quill/internal/storage/sqlite"
	"quill/internal/storage/sqlite/sqlitetest"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const passDefaultLen = 10

type suite struct {
	auth    *Auth
	storage *sqlite.Storage
	codec   *jwt.Codec
}

func newSuite(t *testing.T) *suite {
	t.Helper()

	log := slogdiscard.NewDiscardLogger()
	st := sqlitetest.New(t)
	codec := jwt.New("access-secret", "refresh-secret", 0, 0)
	sessions := session.New(log, st, codec)

	return &suite{
		auth:    New(log, st, st, sessions, codec, password.New(bcrypt.MinCost)),
		storage: st,
		codec:   codec,
	}
}

func randomFakePassword() string {
	return gofakeit.Password(true, true, true, true, false, passDefaultLen)
}

func TestRegisterThenMe(t *testing.T) {
	s := newSuite(t)
	ctx := context.Background()

	email := gofakeit.Email()
	name := gofakeit.Name()

	res, err := s.auth.Register(ctx, email, randomFakePassword(), name)
	require.NoError(t, err)
	require.NotNil(t, res.Credentials)
	assert.NotEmpty(t, res.User.ID)
	assert.Equal(t, email, res.User.Email)
	assert.Equal(t, name, res.User.Name)
	assert.False(t, res.User.IsPro)

	me, err := s.auth.Me(ctx, res.Credentials.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User, me)

	const deltaSeconds = 2
	assert.InDelta(t, time.Now().Add(jwt.DefaultAccessTTL).Unix(), res.Credentials.AccessExpiresAt.Unix(), deltaSeconds)
	assert.InDelta(t, time.Now().Add(jwt.DefaultRefreshTTL).Unix(), res.Credentials.RefreshExpiresAt.Unix(), deltaSeconds)
}

func TestRegister_Duplicate(t *testing.T) {
	s := newSuite(t)
	ctx := context.Background()

	email := gofakeit.Email()

	first, err := s.auth.Register(ctx, email, randomFakePassword(), gofakeit.Name())
	require.NoError(t, err)

	_, err = s.auth.Register(ctx, email, randomFakePassword(), gofakeit.Name())
	require.ErrorIs(t, err, ErrUserAlreadyExists)

	stored, err := s.storage.User(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, stored.ID)
}

func TestRegister_StoresHashNotPassword(t *testing.T) {
	s := newSuite(t)
	ctx := context.Background()

	email := gofakeit.Email()
	pass := randomFakePassword()

	_, err := s.auth.Register(ctx, email, pass, gofakeit.Name())
	require.NoError(t, err)

	stored, err := s.storage.User(ctx, email)
	require.NoError(t, err)
	assert.NotEqual(t, pass, string(stored.PassHash))
	require.NoError(t, bcrypt.CompareHashAndPassword(stored.PassHash, []byte(pass)))
}

func TestRegister_PasswordTooLong(t *testing.T) {
	s := newSuite(t)

	_, err := s.auth.Register(context.Background(), gofakeit.Email(), gofakeit.LetterN(password.MaxLength+1), "x")
	require.ErrorIs(t, err, password.ErrPasswordTooLong)
}

func TestLogin(t *testing.T) {
	s := newSuite(t)
	ctx := context.Background()

	email := gofakeit.Email()
	pass := randomFakePassword()

	reg, err := s.auth.Register(ctx, email, pass, gofakeit.Name())
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{name: "ok", email: email, password: pass},
		{name: "wrong password", email: email, password: pass + "x", wantErr: ErrInvalidCredentials},
		{name: "unknown email", email: gofakeit.Email(), password: pass, wantErr: ErrInvalidCredentials},
		{name: "email is case sensitive", email: "UPPER" + email, password: pass, wantErr: ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.auth.Login(ctx, tt.email, tt.password)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, res.Credentials)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, res.Credentials)
			assert.Equal(t, reg.User, res.User)
			assert.NotEqual(t, reg.Credentials.RefreshToken, res.Credentials.RefreshToken)

			claims, err := s.codec.VerifyAccess(res.Credentials.AccessToken)
			require.NoError(t, err)
			assert.Equal(t, reg.User, claims.User())
		})
	}
}

func TestLogin_PasswordAtMaxLength(t *testing.T) {
	s := newSuite(t)
	ctx := context.Background()

	email := gofakeit.Email()
	pass := gofakeit.LetterN(password.MaxLength)

	_, err := s.auth.Register(ctx, email, pass, gofakeit.Name())
	require.NoError(t, err)

	_, err = s.auth.Login(ctx, email, pass)
	require.NoError(t, err)

	_, err = s.auth.Login(ctx, email, pass+"x")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_SameMessageForUnknownEmailAndWrongPassword(t *testing.T) {
	s := newSuite(t)
	ctx := context.Background()

	email := gofakeit.Email()
	_, err := s.auth.Register(ctx, email, randomFakePassword(), gofakeit.Name())
	require.NoError(t, err)

	_, errWrongPass := s.auth.Login(ctx, email, "not-the-password")
	_, errUnknown := s.auth.Login(ctx, gofakeit.Email(), "not-the-password")

	require.Error(t, errWrongPass)
	require.Error(t, errUnknown)
	assert.Equal(t, errWrongPass.Error(), errUnknown.Error())
}

func TestRefresh(t *testing.T) {
	s := newSuite(t)
	ctx := context.Background()

	reg, err := s.auth.Register(ctx, gofakeit.Email(), randomFakePassword(), gofakeit.Name())
	require.NoError(t, err)

	refreshToken := reg.Credentials.RefreshToken

	// the same refresh token works more than once
	for range 2 {
		res, err := s.auth.Refresh(ctx, refreshToken)
		require.NoError(t, err)
		require.NotNil(t, res.Credentials)
		assert.Equal(t, refreshToken, res.Credentials.RefreshToken)
		assert.Equal(t, reg.User, res.User)

		me, err := s.auth.Me(ctx, res.Credentials.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, reg.User, me)
	}

	_, err = s.auth.Refresh(ctx, "")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = s.auth.Refresh(ctx, reg.Credentials.AccessToken)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestLogoutRevokesRefresh(t *testing.T) {
	s := newSuite(t)
	ctx := context.Background()

	reg, err := s.auth.Register(ctx, gofakeit.Email(), randomFakePassword(), gofakeit.Name())
	require.NoError(t, err)

	refreshToken := reg.Credentials.RefreshToken

	require.NoError(t, s.auth.Logout(ctx, refreshToken))

	// still a cryptographically valid token
	_, err = s.codec.VerifyRefresh(refreshToken)
	require.NoError(t, err)

	_, err = s.auth.Refresh(ctx, refreshToken)
	require.ErrorIs(t, err, ErrUnauthorized)

	// repeated and empty logouts succeed
	require.NoError(t, s.auth.Logout(ctx, refreshToken))
	require.NoError(t, s.auth.Logout(ctx, ""))
}

func TestMe_Errors(t *testing.T) {
	s := newSuite(t)
	ctx := context.Background()

	_, err := s.auth.Me(ctx, "")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = s.auth.Me(ctx, "garbage")
	require.ErrorIs(t, err, ErrUnauthorized)

	ghost, _, err := s.codec.SignAccess(models.UserInfo{ID: "ghost", Email: gofakeit.Email()})
	require.NoError(t, err)

	_, err = s.auth.Me(ctx, ghost)
	require.ErrorIs(t, err, ErrUserNotFound)
}

// vanishingUsers reports every user as deleted on lookup by id.
type vanishingUsers struct {
	*sqlite.Storage
}

func (vanishingUsers) UserByID(context.Context, string) (models.User, error) {
	return models.User{}, storage.ErrUserNotFound
}

func TestRefresh_UserGone(t *testing.T) {
	s := newSuite(t)
	ctx := context.Background()

	reg, err := s.auth.Register(ctx, gofakeit.Email(), randomFakePassword(), gofakeit.Name())
	require.NoError(t, err)

	s.auth.userProvider = vanishingUsers{s.storage}

	_, err = s.auth.Refresh(ctx, reg.Credentials.RefreshToken)
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = s.auth.Authenticate(ctx, "", reg.Credentials.RefreshToken)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticate(t *testing.T) {
	s := newSuite(t)
	ctx := context.Background()

	reg, err := s.auth.Register(ctx, gofakeit.Email(), randomFakePassword(), gofakeit.Name())
	require.NoError(t, err)

	// a token signed half an hour ago is expired now
	expired, _, err := s.codec.WithClock(func() time.Time {
		return time.Now().Add(-jwt.DefaultAccessTTL - time.Second)
	}).SignAccess(reg.User)
	require.NoError(t, err)

	t.Run("valid access", func(t *testing.T) {
		res, err := s.auth.Authenticate(ctx, reg.Credentials.AccessToken, "")
		require.NoError(t, err)
		assert.Equal(t, reg.User, res.User)
		assert.Nil(t, res.Credentials)
	})

	t.Run("expired access with valid refresh", func(t *testing.T) {
		res, err := s.auth.Authenticate(ctx, expired, reg.Credentials.RefreshToken)
		require.NoError(t, err)
		require.NotNil(t, res.Credentials)
		assert.Equal(t, reg.User, res.User)

		_, err = s.codec.VerifyAccess(res.Credentials.AccessToken)
		require.NoError(t, err)
	})

	t.Run("no tokens", func(t *testing.T) {
		_, err := s.auth.Authenticate(ctx, "", "")
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("expired access without refresh", func(t *testing.T) {
		_, err := s.auth.Authenticate(ctx, expired, "")
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("expired access with revoked refresh", func(t *testing.T) {
		require.NoError(t, s.auth.Logout(ctx, reg.Credentials.RefreshToken))

		_, err := s.auth.Authenticate(ctx, expired, reg.Credentials.RefreshToken)
		require.ErrorIs(t, err, ErrUnauthorized)
	})
}
