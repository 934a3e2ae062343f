package jwt

import (
	"errors"
	"fmt"
	"time"

	"quill/internal/domain/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = fmt.Errorf("%w: expired", ErrInvalidToken)
)

// AccessClaims identify a user for the lifetime of an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	IsPro  bool   `json:"isPro"`
}

func (c *AccessClaims) User() models.UserInfo {
	return models.UserInfo{
		ID:    c.UserID,
		Email: c.Email,
		Name:  c.Name,
		IsPro: c.IsPro,
	}
}

// RefreshClaims carry only the owner of a refresh session. The registered
// jti is random so tokens minted in the same second still differ.
type RefreshClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
}

// Codec signs and verifies access and refresh tokens with two independent
// HMAC secrets.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func New(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Codec {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}

	return &Codec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// WithClock returns a copy of the codec that reads the time from now.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	return &cp
}

func (c *Codec) AccessTTL() time.Duration  { return c.accessTTL }
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// SignAccess creates an access token for user and returns it with its expiry.
func (c *Codec) SignAccess(user models.UserInfo) (string, time.Time, error) {
	now := c.now()
	exp := jwt.NewNumericDate(now.Add(c.accessTTL))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: exp,
		},
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		IsPro:  user.IsPro,
	})

	signed, err := token.SignedString(c.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt.SignAccess: %w", err)
	}

	return signed, exp.Time, nil
}

// VerifyAccess parses an access token. Any failure is reported as an error
// matching ErrInvalidToken.
func (c *Codec) VerifyAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parse(tokenString, claims, c.accessSecret); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// SignRefresh creates a refresh token for userID and returns it with its expiry.
func (c *Codec) SignRefresh(userID string) (string, time.Time, error) {
	now := c.now()
	exp := jwt.NewNumericDate(now.Add(c.refreshTTL))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: exp,
		},
		UserID: userID,
	})

	signed, err := token.SignedString(c.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt.SignRefresh: %w", err)
	}

	return signed, exp.Time, nil
}

// VerifyRefresh parses a refresh token. It checks the signature and expiry
// only; revocation is the session manager's concern.
func (c *Codec) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parse(tokenString, claims, c.refreshSecret); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (c *Codec) parse(tokenString string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}

	return nil
}
