package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quill/internal/domain/models"
	"quill/internal/lib/jwt"
	"quill/internal/lib/sl"
	"quill/internal/services/session"
	"quill/internal/storage"

	"github.com/google/uuid"
)

type Auth struct {
	log          *slog.Logger
	userSaver    UserSaver
	userProvider UserProvider
	sessions     SessionManager
	tokens       TokenCodec
	hasher       PasswordHasher
	now          func() time.Time
}

type UserSaver interface {
	SaveUser(ctx context.Context, user models.User) error
}

type UserProvider interface {
	User(ctx context.Context, email string) (models.User, error)
	UserByID(ctx context.Context, id string) (models.User, error)
}

type SessionManager interface {
	Create(ctx context.Context, userID string) (models.Session, error)
	Validate(ctx context.Context, token string) (models.Session, error)
	Delete(ctx context.Context, token string) error
}

type TokenCodec interface {
	SignAccess(user models.UserInfo) (string, time.Time, error)
	VerifyAccess(token string) (*jwt.AccessClaims, error)
}

type PasswordHasher interface {
	Hash(password string) ([]byte, error)
	Verify(password string, hash []byte) (bool, error)
}

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrUnauthorized       = errors.New("unauthorized")
)

// Credentials is a freshly issued token pair that the transport layer must
// hand back to the client.
type Credentials struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Result is the outcome of an auth operation. Credentials is nil when the
// client's tokens stay as they are.
type Result struct {
	User        models.UserInfo
	Credentials *Credentials
}

// New returns a new instance of the Auth service.
func New(
	log *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	sessions SessionManager,
	tokens TokenCodec,
	hasher PasswordHasher,
) *Auth {
	return &Auth{
		log:          log,
		userSaver:    userSaver,
		userProvider: userProvider,
		sessions:     sessions,
		tokens:       tokens,
		hasher:       hasher,
		now:          time.Now,
	}
}

// Register creates a free-tier user and logs it in.
func (a *Auth) Register(ctx context.Context, email, password, name string) (Result, error) {
	const op = "auth.Register"
	log := a.log.With(
		slog.String("op", op),
		slog.String("email", email),
	)
	log.Info("registering user")

	passHash, err := a.hasher.Hash(password)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	user := models.User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      name,
		PassHash:  passHash,
		CreatedAt: a.now(),
	}

	if err := a.userSaver.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			log.Warn("user already exists", sl.Err(err))
			return Result{}, fmt.Errorf("%s: %w", op, ErrUserAlreadyExists)
		}
		log.Error("failed to save user", sl.Err(err))
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.String("userID", user.ID))

	return a.issue(ctx, op, user.Info())
}

// Login checks the password and issues a new token pair. Unknown email and
// wrong password produce the same error.
func (a *Auth) Login(ctx context.Context, email, password string) (Result, error) {
	const op = "auth.Login"
	log := a.log.With(
		slog.String("op", op),
		slog.String("email", email),
	)
	log.Info("attempting to login user")

	user, err := a.userProvider.User(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", sl.Err(err))
			return Result{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		log.Error("failed to get user", sl.Err(err))
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	ok, err := a.hasher.Verify(password, user.PassHash)
	if err != nil {
		log.Error("failed to verify password", sl.Err(err))
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		log.Warn("invalid password")
		return Result{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	log.Info("user logged in", slog.String("userID", user.ID))

	return a.issue(ctx, op, user.Info())
}

// Refresh mints a new access token from a stored refresh session. The
// refresh token itself is handed back unchanged.
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (Result, error) {
	const op = "auth.Refresh"
	log := a.log.With(slog.String("op", op))

	if refreshToken == "" {
		return Result{}, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	sess, err := a.sessions.Validate(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, session.ErrInvalidSession) {
			log.Debug("refresh session rejected", sl.Err(err))
			return Result{}, fmt.Errorf("%s: %w", op, ErrUnauthorized)
		}
		log.Error("failed to validate session", sl.Err(err))
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	user, err := a.userProvider.UserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("session owner no longer exists", slog.String("userID", sess.UserID))
			return Result{}, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to get user", sl.Err(err))
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	info := user.Info()

	accessToken, accessExp, err := a.tokens.SignAccess(info)
	if err != nil {
		log.Error("failed to sign access token", sl.Err(err))
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Debug("access token refreshed", slog.String("userID", user.ID))

	return Result{
		User: info,
		Credentials: &Credentials{
			AccessToken:      accessToken,
			AccessExpiresAt:  accessExp,
			RefreshToken:     refreshToken,
			RefreshExpiresAt: sess.ExpiresAt,
		},
	}, nil
}

// Logout revokes the refresh session, if any. A session that is already gone
// is not an error.
func (a *Auth) Logout(ctx context.Context, refreshToken string) error {
	const op = "auth.Logout"

	if refreshToken == "" {
		return nil
	}

	if err := a.sessions.Delete(ctx, refreshToken); err != nil {
		a.log.Error("failed to delete session", slog.String("op", op), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	a.log.Info("user logged out", slog.String("op", op))

	return nil
}

// Me returns the stored user behind an access token.
func (a *Auth) Me(ctx context.Context, accessToken string) (models.UserInfo, error) {
	const op = "auth.Me"
	log := a.log.With(slog.String("op", op))

	if accessToken == "" {
		return models.UserInfo{}, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	claims, err := a.tokens.VerifyAccess(accessToken)
	if err != nil {
		log.Debug("access token rejected", sl.Err(err))
		return models.UserInfo{}, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	user, err := a.userProvider.UserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", slog.String("userID", claims.UserID))
			return models.UserInfo{}, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to get user", sl.Err(err))
		return models.UserInfo{}, fmt.Errorf("%s: %w", op, err)
	}

	return user.Info(), nil
}

// Authenticate resolves the caller of a request. A valid access token is
// trusted as is; otherwise the refresh token is used and the new credentials
// are returned. Any failure of the refresh path is ErrUnauthorized.
func (a *Auth) Authenticate(ctx context.Context, accessToken, refreshToken string) (Result, error) {
	const op = "auth.Authenticate"

	if accessToken != "" {
		if claims, err := a.tokens.VerifyAccess(accessToken); err == nil {
			return Result{User: claims.User()}, nil
		}
	}

	if refreshToken == "" {
		return Result{}, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	res, err := a.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrUserNotFound) {
			return Result{}, fmt.Errorf("%s: %w", op, ErrUnauthorized)
		}
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	return res, nil
}

func (a *Auth) issue(ctx context.Context, op string, user models.UserInfo) (Result, error) {
	accessToken, accessExp, err := a.tokens.SignAccess(user)
	if err != nil {
		a.log.Error("failed to sign access token", slog.String("op", op), sl.Err(err))
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	sess, err := a.sessions.Create(ctx, user.ID)
	if err != nil {
		a.log.Error("failed to create session", slog.String("op", op), sl.Err(err))
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	return Result{
		User: user,
		Credentials: &Credentials{
			AccessToken:      accessToken,
			AccessExpiresAt:  accessExp,
			RefreshToken:     sess.Token,
			RefreshExpiresAt: sess.ExpiresAt,
		},
	}, nil
}
