package transform

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"quill/internal/http/gatekeeper"
	"quill/internal/lib/api"
	"quill/internal/lib/sl"
	"quill/internal/services/transform"

	"github.com/go-chi/chi/v5"
)

type Transformer interface {
	Transform(ctx context.Context, req transform.Request) (transform.Response, error)
}

// Recorder counts rejected requests.
type Recorder interface {
	RateLimited()
}

type Handler struct {
	log            *slog.Logger
	transformer    Transformer
	recorder       Recorder
	exposeInternal bool
}

type Request struct {
	Text         string `json:"text" validate:"required"`
	Instructions string `json:"instructions"`
}

func New(log *slog.Logger, transformer Transformer, recorder Recorder, exposeInternal bool) *Handler {
	return &Handler{
		log:            log,
		transformer:    transformer,
		recorder:       recorder,
		exposeInternal: exposeInternal,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/", h.transform)
}

func (h *Handler) transform(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.transform"

	user, ok := gatekeeper.UserFrom(r.Context())
	if !ok {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req Request
	if err := api.Bind(w, r, &req); err != nil {
		api.BadRequest(w, err)
		return
	}

	resp, err := h.transformer.Transform(r.Context(), transform.Request{
		User:         user,
		ClientIP:     clientIP(r),
		Text:         req.Text,
		Instructions: req.Instructions,
		SessionID:    r.Header.Get(gatekeeper.SessionIDHeader),
	})
	if err != nil {
		switch {
		case errors.Is(err, transform.ErrEmptyText):
			api.BadRequest(w, &api.ValidationError{Fields: map[string]string{"text": "is required"}})
		case errors.Is(err, transform.ErrTextTooLong):
			api.BadRequest(w, &api.ValidationError{Fields: map[string]string{"text": "is too long"}})
		case errors.Is(err, transform.ErrRateLimited):
			if h.recorder != nil {
				h.recorder.RateLimited()
			}
			api.Error(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
		default:
			h.log.Error("transform failed", slog.String("op", op), sl.Err(err))
			api.Internal(w, err, h.exposeInternal)
		}
		return
	}

	api.JSON(w, http.StatusOK, resp)
}

// clientIP strips the port from RemoteAddr, which chi's RealIP middleware
// has already replaced with the forwarded address when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
