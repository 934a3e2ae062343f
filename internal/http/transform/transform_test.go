package transform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"quill/internal/domain/models"
	"quill/internal/http/gatekeeper"
	"quill/internal/lib/handlers/slogdiscard"
	"quill/internal/services/transform"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransformer struct {
	got transform.Request
	err error
}

func (f *fakeTransformer) Transform(_ context.Context, req transform.Request) (transform.Response, error) {
	f.got = req
	if f.err != nil {
		return transform.Response{}, f.err
	}
	return transform.Response{Result: strings.ToUpper(req.Text), SessionID: req.SessionID}, nil
}

type counter struct{ n int }

func (c *counter) RateLimited() { c.n++ }

func serve(h *Handler, body string, user *models.UserInfo, header map[string]string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Route("/api/transform", h.Register)

	req := httptest.NewRequest(http.MethodPost, "/api/transform", strings.NewReader(body))
	req.RemoteAddr = "203.0.113.7:51234"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	if user != nil {
		req = req.WithContext(gatekeeper.WithUser(req.Context(), *user))
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTransform(t *testing.T) {
	user := &models.UserInfo{ID: "u1", IsPro: true}
	fake := &fakeTransformer{}
	h := New(slogdiscard.NewDiscardLogger(), fake, nil, false)

	w := serve(h, `{"text":"hi","instructions":"uppercase"}`, user,
		map[string]string{gatekeeper.SessionIDHeader: "ts-1"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"result":"HI","sessionId":"ts-1"}`, w.Body.String())
	assert.Equal(t, "203.0.113.7", fake.got.ClientIP)
	assert.Equal(t, *user, fake.got.User)
	assert.Equal(t, "uppercase", fake.got.Instructions)
}

func TestTransform_Errors(t *testing.T) {
	user := &models.UserInfo{ID: "u1"}

	tests := []struct {
		name       string
		body       string
		user       *models.UserInfo
		err        error
		wantStatus int
	}{
		{name: "no user", body: `{"text":"hi"}`, wantStatus: http.StatusUnauthorized},
		{name: "missing text", body: `{}`, user: user, wantStatus: http.StatusBadRequest},
		{name: "too long", body: `{"text":"hi"}`, user: user, err: fmt.Errorf("x: %w", transform.ErrTextTooLong), wantStatus: http.StatusBadRequest},
		{name: "rate limited", body: `{"text":"hi"}`, user: user, err: fmt.Errorf("x: %w", transform.ErrRateLimited), wantStatus: http.StatusTooManyRequests},
		{name: "engine down", body: `{"text":"hi"}`, user: user, err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &counter{}
			h := New(slogdiscard.NewDiscardLogger(), &fakeTransformer{err: tt.err}, rec, false)

			w := serve(h, tt.body, tt.user, nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), `"error"`)
			if tt.wantStatus == http.StatusTooManyRequests {
				assert.Equal(t, 1, rec.n)
			}
		})
	}
}
