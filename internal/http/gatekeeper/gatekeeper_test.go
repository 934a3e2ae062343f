package gatekeeper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quill/internal/domain/models"
	"quill/internal/http/cookies"
	"quill/internal/http/metrics"
	"quill/internal/lib/handlers/slogdiscard"
	"quill/internal/services/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ann = models.UserInfo{ID: "u1", Email: "a@x.com", Name: "Ann"}

// fakeAuth accepts access token "good" and refresh token "fresh".
type fakeAuth struct {
	err error
}

func (f fakeAuth) Authenticate(_ context.Context, access, refresh string) (auth.Result, error) {
	if f.err != nil {
		return auth.Result{}, f.err
	}
	if access == "good" {
		return auth.Result{User: ann}, nil
	}
	if refresh == "fresh" {
		return auth.Result{
			User: ann,
			Credentials: &auth.Credentials{
				AccessToken:      "new-access",
				AccessExpiresAt:  time.Now().Add(30 * time.Minute),
				RefreshToken:     "fresh",
				RefreshExpiresAt: time.Now().Add(time.Hour),
			},
		}, nil
	}
	return auth.Result{}, auth.ErrUnauthorized
}

type outcomes map[string]int

func (o outcomes) AuthOutcome(outcome string) { o[outcome]++ }

type seen struct {
	user      models.UserInfo
	ok        bool
	sessionID string
	called    bool
}

func newGate(a Authenticator, rec Recorder) (http.Handler, *seen) {
	s := &seen{}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.called = true
		s.user, s.ok = UserFrom(r.Context())
		s.sessionID = r.Header.Get(SessionIDHeader)
		w.WriteHeader(http.StatusOK)
	})

	return New(slogdiscard.NewDiscardLogger(), a, cookies.Jar{}, rec).Middleware(next), s
}

func request(path string, cs ...*http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cs {
		r.AddCookie(c)
	}
	return r
}

func TestIsPublic(t *testing.T) {
	public := []string{"/", "/login", "/register", "/logout", "/terms", "/privacy", "/healthz", "/metrics",
		"/api/auth/login", "/api/auth/me", "/static/app.css"}
	protected := []string{"/editor", "/api/transform", "/api/sessions", "/api/auth", "/login/x", "/staticx"}

	for _, p := range public {
		assert.True(t, IsPublic(p), p)
	}
	for _, p := range protected {
		assert.False(t, IsPublic(p), p)
	}
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		cookies      []*http.Cookie
		wantStatus   int
		wantLocation string
		wantCalled   bool
		wantUser     bool
		wantRotated  bool
		wantOutcome  string
	}{
		{
			name:       "public passes without tokens",
			path:       "/terms",
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:        "valid access",
			path:        "/api/sessions",
			cookies:     []*http.Cookie{{Name: cookies.AccessToken, Value: "good"}},
			wantStatus:  http.StatusOK,
			wantCalled:  true,
			wantUser:    true,
			wantOutcome: metrics.OutcomeAuthorized,
		},
		{
			name: "stale access with valid refresh",
			path: "/api/sessions",
			cookies: []*http.Cookie{
				{Name: cookies.AccessToken, Value: "stale"},
				{Name: cookies.RefreshToken, Value: "fresh"},
			},
			wantStatus:  http.StatusOK,
			wantCalled:  true,
			wantUser:    true,
			wantRotated: true,
			wantOutcome: metrics.OutcomeRefreshed,
		},
		{
			name:        "api without tokens",
			path:        "/api/sessions",
			wantStatus:  http.StatusUnauthorized,
			wantOutcome: metrics.OutcomeUnauthorized,
		},
		{
			name: "api with revoked refresh",
			path: "/api/transform",
			cookies: []*http.Cookie{
				{Name: cookies.AccessToken, Value: "stale"},
				{Name: cookies.RefreshToken, Value: "revoked"},
			},
			wantStatus:  http.StatusUnauthorized,
			wantOutcome: metrics.OutcomeUnauthorized,
		},
		{
			name:         "page redirects to login",
			path:         "/editor",
			wantStatus:   http.StatusTemporaryRedirect,
			wantLocation: "/login?from=%2Feditor",
			wantOutcome:  metrics.OutcomeUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := outcomes{}
			h, s := newGate(fakeAuth{}, rec)
			w := httptest.NewRecorder()

			h.ServeHTTP(w, request(tt.path, tt.cookies...))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCalled, s.called)
			assert.Equal(t, tt.wantUser, s.ok)
			if tt.wantUser {
				assert.Equal(t, ann, s.user)
			}
			if tt.wantLocation != "" {
				assert.Equal(t, tt.wantLocation, w.Header().Get("Location"))
			}
			if tt.wantStatus == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())
			}

			rotated := false
			for _, c := range w.Result().Cookies() {
				if c.Name == cookies.AccessToken && c.Value == "new-access" {
					rotated = true
				}
			}
			assert.Equal(t, tt.wantRotated, rotated)

			if tt.wantOutcome != "" {
				assert.Equal(t, 1, rec[tt.wantOutcome])
			} else {
				assert.Empty(t, rec)
			}
		})
	}
}

func TestMiddleware_SessionHeader(t *testing.T) {
	h, s := newGate(fakeAuth{}, nil)

	r := request("/api/transform",
		&http.Cookie{Name: cookies.AccessToken, Value: "good"},
		&http.Cookie{Name: cookies.CurrentSessionID, Value: "ts-1"},
	)
	r.Header.Set(SessionIDHeader, "forged")
	h.ServeHTTP(httptest.NewRecorder(), r)

	require.True(t, s.called)
	assert.Equal(t, "ts-1", s.sessionID)

	// a client supplied header is dropped when there is no cookie
	r = request("/api/transform", &http.Cookie{Name: cookies.AccessToken, Value: "good"})
	r.Header.Set(SessionIDHeader, "forged")
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.Empty(t, s.sessionID)

	// other routes do not get the header
	r = request("/api/sessions",
		&http.Cookie{Name: cookies.AccessToken, Value: "good"},
		&http.Cookie{Name: cookies.CurrentSessionID, Value: "ts-1"},
	)
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.Empty(t, s.sessionID)
}

func TestMiddleware_InternalError(t *testing.T) {
	rec := outcomes{}
	h, s := newGate(fakeAuth{err: errors.New("db down")}, rec)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, request("/api/sessions", &http.Cookie{Name: cookies.RefreshToken, Value: "x"}))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, s.called)
	assert.NotContains(t, w.Body.String(), "db down")
	assert.Equal(t, 1, rec[metrics.OutcomeError])
}
