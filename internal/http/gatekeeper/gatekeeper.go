// Package gatekeeper guards every route that is not public. It accepts a
// valid access token, falls back to the refresh token when the access token
// is missing or stale, and otherwise rejects the request: API calls get a
// 401, pages are redirected to the login page.
package gatekeeper

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"quill/internal/domain/models"
	"quill/internal/http/cookies"
	"quill/internal/http/metrics"
	"quill/internal/lib/api"
	"quill/internal/lib/sl"
	"quill/internal/services/auth"
)

// SessionIDHeader carries the currentSessionId cookie to transform handlers.
const SessionIDHeader = "X-Session-Id"

const (
	loginPath       = "/login"
	apiPrefix       = "/api/"
	transformPrefix = "/api/transform"
)

var (
	publicPaths = map[string]struct{}{
		"/":         {},
		"/login":    {},
		"/register": {},
		"/logout":   {},
		"/terms":    {},
		"/privacy":  {},
		"/healthz":  {},
		"/metrics":  {},
	}
	publicPrefixes = []string{
		"/api/auth/",
		"/static/",
	}
)

type Authenticator interface {
	Authenticate(ctx context.Context, accessToken, refreshToken string) (auth.Result, error)
}

// Recorder counts authentication outcomes.
type Recorder interface {
	AuthOutcome(outcome string)
}

type Gatekeeper struct {
	log      *slog.Logger
	auth     Authenticator
	jar      cookies.Jar
	recorder Recorder
}

func New(log *slog.Logger, authenticator Authenticator, jar cookies.Jar, recorder Recorder) *Gatekeeper {
	return &Gatekeeper{
		log:      log,
		auth:     authenticator,
		jar:      jar,
		recorder: recorder,
	}
}

// IsPublic reports whether path is reachable without authentication.
func IsPublic(path string) bool {
	if _, ok := publicPaths[path]; ok {
		return true
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isAPI(path string) bool {
	return strings.HasPrefix(path, apiPrefix)
}

func isTransform(path string) bool {
	return path == transformPrefix || strings.HasPrefix(path, transformPrefix+"/")
}

func (g *Gatekeeper) Middleware(next http.Handler) http.Handler {
	const op = "gatekeeper.Middleware"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if isTransform(path) {
			// only the cookie may name the current session
			r.Header.Del(SessionIDHeader)
			if id := cookies.Value(r, cookies.CurrentSessionID); id != "" {
				r.Header.Set(SessionIDHeader, id)
			}
		}

		if IsPublic(path) {
			next.ServeHTTP(w, r)
			return
		}

		res, err := g.auth.Authenticate(
			r.Context(),
			cookies.Value(r, cookies.AccessToken),
			cookies.Value(r, cookies.RefreshToken),
		)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				g.record(metrics.OutcomeUnauthorized)
				g.reject(w, r)
				return
			}

			g.record(metrics.OutcomeError)
			g.log.Error("failed to authenticate request",
				slog.String("op", op),
				slog.String("path", path),
				sl.Err(err),
			)
			if isAPI(path) {
				api.Internal(w, err, false)
				return
			}
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		if res.Credentials != nil {
			g.record(metrics.OutcomeRefreshed)
			g.jar.SetCredentials(w, res.Credentials)
		} else {
			g.record(metrics.OutcomeAuthorized)
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), res.User)))
	})
}

func (g *Gatekeeper) reject(w http.ResponseWriter, r *http.Request) {
	if isAPI(r.URL.Path) {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	target := loginPath + "?" + url.Values{"from": {r.URL.Path}}.Encode()
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

func (g *Gatekeeper) record(outcome string) {
	if g.recorder != nil {
		g.recorder.AuthOutcome(outcome)
	}
}

type ctxKey struct{}

func WithUser(ctx context.Context, user models.UserInfo) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// UserFrom returns the authenticated user of a request that passed the
// gatekeeper.
func UserFrom(ctx context.Context) (models.UserInfo, bool) {
	user, ok := ctx.Value(ctxKey{}).(models.UserInfo)
	return user, ok && user.ID != ""
}
