package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"quill/internal/domain/models"
	"quill/internal/http/cookies"
	"quill/internal/lib/api"
	"quill/internal/lib/password"
	"quill/internal/lib/sl"
	"quill/internal/services/auth"

	"github.com/go-chi/chi/v5"
)

type Auth interface {
	Register(ctx context.Context, email, password, name string) (auth.Result, error)
	Login(ctx context.Context, email, password string) (auth.Result, error)
	Refresh(ctx context.Context, refreshToken string) (auth.Result, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context, accessToken string) (models.UserInfo, error)
}

type Handler struct {
	log            *slog.Logger
	auth           Auth
	jar            cookies.Jar
	exposeInternal bool
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type UserResponse struct {
	User models.UserInfo `json:"user"`
}

func New(log *slog.Logger, auth Auth, jar cookies.Jar, exposeInternal bool) *Handler {
	return &Handler{
		log:            log,
		auth:           auth,
		jar:            jar,
		exposeInternal: exposeInternal,
	}
}

// Register mounts the auth endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/register", h.register)
	r.Post("/login", h.login)
	r.Post("/refresh", h.refresh)
	r.Post("/logout", h.logout)
	r.Get("/me", h.me)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.register"

	var req RegisterRequest
	if err := api.Bind(w, r, &req); err != nil {
		api.BadRequest(w, err)
		return
	}

	res, err := h.auth.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserAlreadyExists):
			api.Error(w, http.StatusConflict, "user with this email already exists")
		case errors.Is(err, password.ErrPasswordTooLong):
			api.BadRequest(w, &api.ValidationError{Fields: map[string]string{"password": "must be at most 72 bytes long"}})
		default:
			h.internal(w, op, err)
		}
		return
	}

	h.jar.SetCredentials(w, res.Credentials)
	api.JSON(w, http.StatusCreated, UserResponse{User: res.User})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.login"

	var req LoginRequest
	if err := api.Bind(w, r, &req); err != nil {
		api.BadRequest(w, err)
		return
	}

	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			api.Error(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		h.internal(w, op, err)
		return
	}

	h.jar.SetCredentials(w, res.Credentials)
	api.JSON(w, http.StatusOK, UserResponse{User: res.User})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.refresh"

	res, err := h.auth.Refresh(r.Context(), cookies.Value(r, cookies.RefreshToken))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnauthorized):
			api.Error(w, http.StatusUnauthorized, "invalid or expired refresh token")
		case errors.Is(err, auth.ErrUserNotFound):
			api.Error(w, http.StatusNotFound, "user not found")
		default:
			h.internal(w, op, err)
		}
		return
	}

	h.jar.SetCredentials(w, res.Credentials)
	api.JSON(w, http.StatusOK, UserResponse{User: res.User})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.logout"

	err := h.auth.Logout(r.Context(), cookies.Value(r, cookies.RefreshToken))

	h.jar.ClearCredentials(w)

	if err != nil {
		h.internal(w, op, err)
		return
	}

	api.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.me"

	user, err := h.auth.Me(r.Context(), cookies.Value(r, cookies.AccessToken))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnauthorized):
			api.Error(w, http.StatusUnauthorized, "unauthorized")
		case errors.Is(err, auth.ErrUserNotFound):
			api.Error(w, http.StatusNotFound, "user not found")
		default:
			h.internal(w, op, err)
		}
		return
	}

	api.JSON(w, http.StatusOK, UserResponse{User: user})
}

func (h *Handler) internal(w http.ResponseWriter, op string, err error) {
	h.log.Error("request failed", slog.String("op", op), sl.Err(err))
	api.Internal(w, err, h.exposeInternal)
}
