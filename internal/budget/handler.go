package budget

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/platform/httpx"
)

type budgetService interface {
	CreateBudget(ctx context.Context, in CreateBudgetInput) (Budget, error)
	GetBudget(ctx context.Context, id int64) (Budget, error)
	ListBudgets(ctx context.Context, fiscalYear int) ([]Budget, error)
	DeactivateBudget(ctx context.Context, id int64) error
	ListEncumbrances(ctx context.Context, budgetID int64) ([]Encumbrance, error)
	Status(ctx context.Context, budgetID int64) (StatusReport, error)
	Commit(ctx context.Context, budgetID int64, source Encumberable, amount decimal.Decimal) (Encumbrance, error)
	Release(ctx context.Context, id int64) (Encumbrance, error)
	Consume(ctx context.Context, id int64, actual decimal.Decimal) (Encumbrance, error)
}

var budgetErrors = []httpx.Mapping{
	{Target: ErrBudgetExceeded, Status: http.StatusUnprocessableEntity, Title: "Budget Exceeded"},
	{Target: ErrBudgetInactive, Status: http.StatusUnprocessableEntity, Title: "Budget Inactive"},
	{Target: ErrBudgetNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrEncumbranceNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrAlreadyEncumbered, Status: http.StatusConflict, Title: "Already Encumbered"},
	{Target: ErrInvalidTransition, Status: http.StatusConflict, Title: "Invalid State Transition"},
	{Target: ErrInvalidAmount, Status: http.StatusBadRequest, Title: "Invalid Amount"},
	{Target: ErrInvalidSource, Status: http.StatusBadRequest, Title: "Invalid Source"},
	{Target: ErrInvalidBudget, Status: http.StatusBadRequest, Title: "Invalid Budget"},
}

// Handler exposes the encumbrance ledger over JSON.
type Handler struct {
	service budgetService
	logger  *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service budgetService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers budget and encumbrance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/budgets", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Get("/{id}/status", h.status)
		r.Post("/{id}/deactivate", h.deactivate)
		r.Get("/{id}/encumbrances", h.listEncumbrances)
		r.Post("/{id}/encumbrances", h.commit)
	})
	r.Post("/encumbrances/{id}/release", h.release)
	r.Post("/encumbrances/{id}/consume", h.consume)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	year := 0
	if raw := r.URL.Query().Get("fiscal_year"); raw != "" {
		var err error
		year, err = strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, &httpx.BadRequestError{Err: err})
			return
		}
	}
	budgets, err := h.service.ListBudgets(r.Context(), year)
	if err != nil {
		h.fail(w, "list budgets", err)
		return
	}
	httpx.JSON(w, http.StatusOK, budgets)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateBudgetInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	b, err := h.service.CreateBudget(r.Context(), in)
	if err != nil {
		h.fail(w, "create budget", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, b)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	b, err := h.service.GetBudget(r.Context(), id)
	if err != nil {
		h.fail(w, "get budget", err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.Status(r.Context(), id)
	if err != nil {
		h.fail(w, "budget status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeactivateBudget(r.Context(), id); err != nil {
		h.fail(w, "deactivate budget", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listEncumbrances(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.ListEncumbrances(r.Context(), id)
	if err != nil {
		h.fail(w, "list encumbrances", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

type commitRequest struct {
	Source Encumberable    `json:"source"`
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req commitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	e, err := h.service.Commit(r.Context(), id, req.Source, req.Amount)
	if err != nil {
		h.fail(w, "commit encumbrance", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, e)
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	e, err := h.service.Release(r.Context(), id)
	if err != nil {
		h.fail(w, "release encumbrance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

type consumeRequest struct {
	Actual decimal.Decimal `json:"actual"`
}

func (h *Handler) consume(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req consumeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	e, err := h.service.Consume(r.Context(), id, req.Actual)
	if err != nil {
		h.fail(w, "consume encumbrance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Warn(msg, slog.Any("error", err))
	httpx.RespondError(w, err, budgetErrors...)
}
