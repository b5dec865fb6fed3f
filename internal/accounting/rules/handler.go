package rules

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-gl/internal/platform/httpx"
)

type ruleService interface {
	Get(ctx context.Context, id int64) (PostingRule, error)
	List(ctx context.Context, filter ListFilter) ([]PostingRule, error)
	Create(ctx context.Context, in RuleInput) (PostingRule, error)
	Update(ctx context.Context, id int64, in RuleInput) (PostingRule, error)
	Activate(ctx context.Context, id int64) error
	Deactivate(ctx context.Context, id int64) error
}

var ruleErrors = []httpx.Mapping{
	{Target: ErrDuplicateActiveRule, Status: http.StatusConflict, Title: "Duplicate Active Rule"},
}

// Handler exposes rule authoring over JSON.
type Handler struct {
	service ruleService
	logger  *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service ruleService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers rule routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/rules", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Post("/{id}/activate", h.activate)
		r.Post("/{id}/deactivate", h.deactivate)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		EventType:  r.URL.Query().Get("event_type"),
		ActiveOnly: r.URL.Query().Get("active") == "true",
	}
	rules, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list rules", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rules)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rule, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get rule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rule)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in RuleInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rule, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, "create rule", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rule)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in RuleInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rule, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		h.fail(w, "update rule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rule)
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.service.Activate)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.service.Deactivate)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64) error) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := fn(r.Context(), id); err != nil {
		h.fail(w, "toggle rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Warn(msg, slog.Any("error", err))
	httpx.RespondError(w, err, ruleErrors...)
}
