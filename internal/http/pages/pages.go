// Package pages renders the server-side HTML pages and serves static files.
// The login, register and editor forms post back to this package, which talks
// to the same services as the JSON API.
package pages

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"quill/internal/domain/models"
	"quill/internal/http/cookies"
	"quill/internal/http/gatekeeper"
	"quill/internal/lib/api"
	"quill/internal/lib/password"
	"quill/internal/lib/sl"
	"quill/internal/services/auth"
	"quill/internal/services/textsession"
	"quill/internal/services/transform"

	"github.com/go-chi/chi/v5"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static
var staticFS embed.FS

const (
	defaultRedirect = "/editor"
	maxFormBytes    = 1 << 20
)

var pageNames = []string{"home", "login", "register", "terms", "privacy", "editor", "history"}

type Auth interface {
	Register(ctx context.Context, email, password, name string) (auth.Result, error)
	Login(ctx context.Context, email, password string) (auth.Result, error)
	Logout(ctx context.Context, refreshToken string) error
}

type TextSessions interface {
	Create(ctx context.Context, userID string, in textsession.CreateInput) (models.TextSession, error)
	Get(ctx context.Context, userID, id string) (models.TextSession, error)
	List(ctx context.Context, userID string) ([]models.TextSession, error)
}

type Transformer interface {
	Transform(ctx context.Context, req transform.Request) (transform.Response, error)
}

type Handler struct {
	log         *slog.Logger
	auth        Auth
	sessions    TextSessions
	transformer Transformer
	jar         cookies.Jar
	templates   map[string]*template.Template
}

type pageData struct {
	Title string
	User  models.UserInfo
	Error string

	// form values echoed back after a failed submit
	From         string
	Email        string
	Name         string
	Text         string
	Instructions string

	Session  *models.TextSession
	Sessions []models.TextSession
}

func New(
	log *slog.Logger,
	authService Auth,
	sessions TextSessions,
	transformer Transformer,
	jar cookies.Jar,
) (*Handler, error) {
	const op = "pages.New"

	templates := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.ParseFS(templatesFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", op, name, err)
		}
		templates[name] = t
	}

	return &Handler{
		log:         log,
		auth:        authService,
		sessions:    sessions,
		transformer: transformer,
		jar:         jar,
		templates:   templates,
	}, nil
}

func (h *Handler) Register(r chi.Router) {
	static, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	r.Get("/", h.page("home", "Home"))
	r.Get("/login", h.loginPage)
	r.Post("/login", h.login)
	r.Get("/register", h.page("register", "Sign up"))
	r.Post("/register", h.register)
	r.Post("/logout", h.logout)
	r.Get("/terms", h.page("terms", "Terms"))
	r.Get("/privacy", h.page("privacy", "Privacy"))
	r.Get("/editor", h.editor)
	r.Post("/editor", h.transform)
	r.Get("/history", h.history)
}

func (h *Handler) page(name, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := gatekeeper.UserFrom(r.Context())
		h.render(w, http.StatusOK, name, pageData{Title: title, User: user})
	}
}

func (h *Handler) loginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "login", pageData{Title: "Log in", From: r.URL.Query().Get("from")})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	const op = "pages.login"

	data := pageData{Title: "Log in"}
	if err := parseForm(w, r); err != nil {
		data.Error = "invalid form"
		h.render(w, http.StatusBadRequest, "login", data)
		return
	}

	data.From = r.PostFormValue("from")
	data.Email = r.PostFormValue("email")
	pass := r.PostFormValue("password")

	if data.Email == "" || pass == "" {
		data.Error = "email and password are required"
		h.render(w, http.StatusBadRequest, "login", data)
		return
	}

	res, err := h.auth.Login(r.Context(), data.Email, pass)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			data.Error = auth.ErrInvalidCredentials.Error()
			h.render(w, http.StatusUnauthorized, "login", data)
			return
		}
		h.log.Error("failed to log in", slog.String("op", op), sl.Err(err))
		data.Error = "something went wrong, try again"
		h.render(w, http.StatusInternalServerError, "login", data)
		return
	}

	h.jar.SetCredentials(w, res.Credentials)
	http.Redirect(w, r, safeRedirect(data.From), http.StatusSeeOther)
}

type registerForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	const op = "pages.register"

	data := pageData{Title: "Sign up"}
	if err := parseForm(w, r); err != nil {
		data.Error = "invalid form"
		h.render(w, http.StatusBadRequest, "register", data)
		return
	}

	form := registerForm{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
		Name:     r.PostFormValue("name"),
	}
	data.Email, data.Name = form.Email, form.Name

	if err := api.Validate(form); err != nil {
		data.Error = err.Error()
		h.render(w, http.StatusBadRequest, "register", data)
		return
	}

	res, err := h.auth.Register(r.Context(), form.Email, form.Password, form.Name)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserAlreadyExists):
			data.Error = "user with this email already exists"
			h.render(w, http.StatusConflict, "register", data)
		case errors.Is(err, password.ErrPasswordTooLong):
			data.Error = "password must be at most 72 bytes long"
			h.render(w, http.StatusBadRequest, "register", data)
		default:
			h.log.Error("failed to register", slog.String("op", op), sl.Err(err))
			data.Error = "something went wrong, try again"
			h.render(w, http.StatusInternalServerError, "register", data)
		}
		return
	}

	h.jar.SetCredentials(w, res.Credentials)
	http.Redirect(w, r, defaultRedirect, http.StatusSeeOther)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	const op = "pages.logout"

	err := h.auth.Logout(r.Context(), cookies.Value(r, cookies.RefreshToken))

	h.jar.ClearCredentials(w)
	h.jar.ClearCurrentSession(w)

	if err != nil {
		h.log.Error("failed to log out", slog.String("op", op), sl.Err(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) editor(w http.ResponseWriter, r *http.Request) {
	const op = "pages.editor"

	user, ok := gatekeeper.UserFrom(r.Context())
	if !ok {
		h.toLogin(w, r)
		return
	}

	data := pageData{Title: "Editor", User: user}

	id := r.URL.Query().Get("session")
	if id == "" {
		h.render(w, http.StatusOK, "editor", data)
		return
	}

	ts, err := h.sessions.Get(r.Context(), user.ID, id)
	if err != nil {
		if errors.Is(err, textsession.ErrNotFound) {
			data.Error = "text session not found"
			h.render(w, http.StatusNotFound, "editor", data)
			return
		}
		h.log.Error("failed to get text session", slog.String("op", op), sl.Err(err))
		data.Error = "something went wrong, try again"
		h.render(w, http.StatusInternalServerError, "editor", data)
		return
	}

	h.jar.SetCurrentSession(w, ts.ID)

	data.Session = &ts
	data.Text = ts.FinalText
	if data.Text == "" {
		data.Text = ts.OriginalText
	}
	data.Instructions = ts.Instructions

	h.render(w, http.StatusOK, "editor", data)
}

// transform runs the editor form. The result lands in the posted text
// session, or in a new one, and the browser is sent to view it.
func (h *Handler) transform(w http.ResponseWriter, r *http.Request) {
	const op = "pages.transform"

	user, ok := gatekeeper.UserFrom(r.Context())
	if !ok {
		h.toLogin(w, r)
		return
	}

	data := pageData{Title: "Editor", User: user}
	if err := parseForm(w, r); err != nil {
		data.Error = "invalid form"
		h.render(w, http.StatusBadRequest, "editor", data)
		return
	}

	data.Text = r.PostFormValue("text")
	data.Instructions = r.PostFormValue("instructions")

	resp, err := h.transformer.Transform(r.Context(), transform.Request{
		User:         user,
		ClientIP:     clientIP(r),
		Text:         data.Text,
		Instructions: data.Instructions,
		SessionID:    r.PostFormValue("session"),
	})
	if err != nil {
		switch {
		case errors.Is(err, transform.ErrEmptyText):
			data.Error = "text is required"
			h.render(w, http.StatusBadRequest, "editor", data)
		case errors.Is(err, transform.ErrTextTooLong):
			data.Error = "text is too long"
			h.render(w, http.StatusBadRequest, "editor", data)
		case errors.Is(err, transform.ErrRateLimited):
			data.Error = "rate limit exceeded, try again later"
			h.render(w, http.StatusTooManyRequests, "editor", data)
		default:
			h.log.Error("transform failed", slog.String("op", op), sl.Err(err))
			data.Error = "something went wrong, try again"
			h.render(w, http.StatusInternalServerError, "editor", data)
		}
		return
	}

	id := resp.SessionID
	if id == "" {
		ts, err := h.sessions.Create(r.Context(), user.ID, textsession.CreateInput{
			OriginalText: data.Text,
			FinalText:    resp.Result,
			Instructions: data.Instructions,
		})
		if err != nil {
			h.log.Error("failed to create text session", slog.String("op", op), sl.Err(err))
			data.Error = "something went wrong, try again"
			h.render(w, http.StatusInternalServerError, "editor", data)
			return
		}
		id = ts.ID
	}

	h.jar.SetCurrentSession(w, id)
	http.Redirect(w, r, defaultRedirect+"?"+url.Values{"session": {id}}.Encode(), http.StatusSeeOther)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	const op = "pages.history"

	user, ok := gatekeeper.UserFrom(r.Context())
	if !ok {
		h.toLogin(w, r)
		return
	}

	list, err := h.sessions.List(r.Context(), user.ID)
	if err != nil {
		h.log.Error("failed to list sessions", slog.String("op", op), sl.Err(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.render(w, http.StatusOK, "history", pageData{Title: "History", User: user, Sessions: list})
}

func (h *Handler) toLogin(w http.ResponseWriter, r *http.Request) {
	target := "/login?" + url.Values{"from": {r.URL.Path}}.Encode()
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *Handler) render(w http.ResponseWriter, status int, name string, data pageData) {
	var buf bytes.Buffer
	if err := h.templates[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		h.log.Error("failed to render page", slog.String("page", name), sl.Err(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	return r.ParseForm()
}

// safeRedirect returns from when it is a path on this site and
// defaultRedirect otherwise.
func safeRedirect(from string) string {
	if !strings.HasPrefix(from, "/") || strings.HasPrefix(from, "//") || strings.HasPrefix(from, "/\\") {
		return defaultRedirect
	}

	u, err := url.Parse(from)
	if err != nil || u.IsAbs() || u.Host != "" {
		return defaultRedirect
	}

	return from
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
