package textsessions

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"quill/internal/domain/models"
	"quill/internal/http/cookies"
	"quill/internal/http/gatekeeper"
	"quill/internal/lib/api"
	"quill/internal/lib/sl"
	"quill/internal/services/textsession"

	"github.com/go-chi/chi/v5"
)

type TextSessions interface {
	Create(ctx context.Context, userID string, in textsession.CreateInput) (models.TextSession, error)
	Get(ctx context.Context, userID, id string) (models.TextSession, error)
	List(ctx context.Context, userID string) ([]models.TextSession, error)
	Update(ctx context.Context, userID, id, finalText, instructions string) (models.TextSession, error)
	Delete(ctx context.Context, userID, id string) error
	Revisions(ctx context.Context, userID, id string) ([]models.Revision, error)
}

type Handler struct {
	log            *slog.Logger
	sessions       TextSessions
	jar            cookies.Jar
	exposeInternal bool
}

type CreateRequest struct {
	Title        string `json:"title" validate:"max=200"`
	OriginalText string `json:"originalText" validate:"required"`
	FinalText    string `json:"finalText"`
	Instructions string `json:"instructions"`
}

type UpdateRequest struct {
	FinalText    string `json:"finalText" validate:"required"`
	Instructions string `json:"instructions"`
}

type sessionResponse struct {
	Session models.TextSession `json:"session"`
}

type listResponse struct {
	Sessions []models.TextSession `json:"sessions"`
}

type revisionsResponse struct {
	Revisions []models.Revision `json:"revisions"`
}

func New(log *slog.Logger, sessions TextSessions, jar cookies.Jar, exposeInternal bool) *Handler {
	return &Handler{
		log:            log,
		sessions:       sessions,
		jar:            jar,
		exposeInternal: exposeInternal,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	r.Get("/{id}/revisions", h.revisions)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.textsessions.create"

	user, ok := gatekeeper.UserFrom(r.Context())
	if !ok {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CreateRequest
	if err := api.Bind(w, r, &req); err != nil {
		api.BadRequest(w, err)
		return
	}

	ts, err := h.sessions.Create(r.Context(), user.ID, textsession.CreateInput{
		Title:        req.Title,
		OriginalText: req.OriginalText,
		FinalText:    req.FinalText,
		Instructions: req.Instructions,
	})
	if err != nil {
		h.fail(w, op, err)
		return
	}

	h.jar.SetCurrentSession(w, ts.ID)
	api.JSON(w, http.StatusCreated, sessionResponse{Session: ts})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.textsessions.list"

	user, ok := gatekeeper.UserFrom(r.Context())
	if !ok {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	list, err := h.sessions.List(r.Context(), user.ID)
	if err != nil {
		h.fail(w, op, err)
		return
	}
	if list == nil {
		list = []models.TextSession{}
	}

	api.JSON(w, http.StatusOK, listResponse{Sessions: list})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.textsessions.get"

	user, ok := gatekeeper.UserFrom(r.Context())
	if !ok {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ts, err := h.sessions.Get(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, op, err)
		return
	}

	api.JSON(w, http.StatusOK, sessionResponse{Session: ts})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.textsessions.update"

	user, ok := gatekeeper.UserFrom(r.Context())
	if !ok {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req UpdateRequest
	if err := api.Bind(w, r, &req); err != nil {
		api.BadRequest(w, err)
		return
	}

	ts, err := h.sessions.Update(r.Context(), user.ID, chi.URLParam(r, "id"), req.FinalText, req.Instructions)
	if err != nil {
		h.fail(w, op, err)
		return
	}

	api.JSON(w, http.StatusOK, sessionResponse{Session: ts})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.textsessions.delete"

	user, ok := gatekeeper.UserFrom(r.Context())
	if !ok {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")

	if err := h.sessions.Delete(r.Context(), user.ID, id); err != nil {
		h.fail(w, op, err)
		return
	}

	if cookies.Value(r, cookies.CurrentSessionID) == id {
		h.jar.ClearCurrentSession(w)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revisions(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.textsessions.revisions"

	user, ok := gatekeeper.UserFrom(r.Context())
	if !ok {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	revs, err := h.sessions.Revisions(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, op, err)
		return
	}
	if revs == nil {
		revs = []models.Revision{}
	}

	api.JSON(w, http.StatusOK, revisionsResponse{Revisions: revs})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, textsession.ErrNotFound):
		api.Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, textsession.ErrEmptyText):
		api.BadRequest(w, &api.ValidationError{Fields: map[string]string{"originalText": "is required"}})
	default:
		h.log.Error("request failed", slog.String("op", op), sl.Err(err))
		api.Internal(w, err, h.exposeInternal)
	}
}
