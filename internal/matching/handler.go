package matching

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/platform/httpx"
)

type matchingService interface {
	MatchBill(ctx context.Context, billID int64) (MatchResult, error)
	GetMatch(ctx context.Context, billID int64) (MatchResult, error)
	CreateReturn(ctx context.Context, in CreateReturnInput) (PurchaseReturn, error)
	GetReturn(ctx context.Context, id int64) (PurchaseReturn, error)
	Transition(ctx context.Context, id int64, action ReturnAction, on time.Time) (PurchaseReturn, error)
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListAllocations(ctx context.Context, invoiceID int64) ([]Allocation, error)
	Allocate(ctx context.Context, in AllocationInput) (Invoice, error)
}

var matchingErrors = []httpx.Mapping{
	{Target: ErrInvalidStateTransition, Status: http.StatusConflict, Title: "Invalid State Transition"},
	{Target: ErrBillNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrMatchNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrReturnNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrInvoiceNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrUnknownAction, Status: http.StatusNotFound, Title: "Unknown Action"},
	{Target: ErrDuplicateReturn, Status: http.StatusConflict, Title: "Duplicate"},
	{Target: ErrDuplicateAllocation, Status: http.StatusConflict, Title: "Duplicate Allocation"},
	{Target: ErrOverAllocation, Status: http.StatusUnprocessableEntity, Title: "Over Allocation"},
	{Target: ErrInvalidAmount, Status: http.StatusBadRequest, Title: "Invalid Amount"},
}

// Handler exposes matching and settlement over JSON.
type Handler struct {
	service matchingService
	logger  *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service matchingService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers bill, purchase return and invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/bills/{id}/match", h.match)
	r.Get("/bills/{id}/match", h.getMatch)
	r.Route("/purchase-returns", func(r chi.Router) {
		r.Post("/", h.createReturn)
		r.Get("/{id}", h.getReturn)
		r.Post("/{id}/{action}", h.transition)
	})
	r.Get("/invoices/{id}", h.getInvoice)
	r.Get("/invoices/{id}/allocations", h.listAllocations)
	r.Post("/invoices/{id}/allocations", h.allocate)
}

func (h *Handler) match(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.MatchBill(r.Context(), id)
	if err != nil {
		h.fail(w, "match bill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) getMatch(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.GetMatch(r.Context(), id)
	if err != nil {
		h.fail(w, "get bill match", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	var in CreateReturnInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	pr, err := h.service.CreateReturn(r.Context(), in)
	if err != nil {
		h.fail(w, "create purchase return", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, pr)
}

func (h *Handler) getReturn(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	pr, err := h.service.GetReturn(r.Context(), id)
	if err != nil {
		h.fail(w, "get purchase return", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

type transitionRequest struct {
	Date string `json:"date"`
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req transitionRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	var on time.Time
	if req.Date != "" {
		on, err = time.Parse("2006-01-02", req.Date)
		if err != nil {
			httpx.RespondError(w, &httpx.BadRequestError{Err: err})
			return
		}
	}
	pr, err := h.service.Transition(r.Context(), id, ReturnAction(chi.URLParam(r, "action")), on)
	if err != nil {
		h.fail(w, "purchase return transition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) listAllocations(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.ListAllocations(r.Context(), id)
	if err != nil {
		h.fail(w, "list allocations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

type allocationRequest struct {
	PaymentReference string          `json:"payment_reference"`
	Amount           decimal.Decimal `json:"amount"`
	Date             string          `json:"date"`
	ActorID          int64           `json:"actor_id"`
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req allocationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := AllocationInput{InvoiceID: id, PaymentReference: req.PaymentReference, Amount: req.Amount, ActorID: req.ActorID}
	if req.Date != "" {
		in.Date, err = time.Parse("2006-01-02", req.Date)
		if err != nil {
			httpx.RespondError(w, &httpx.BadRequestError{Err: err})
			return
		}
	}
	inv, err := h.service.Allocate(r.Context(), in)
	if err != nil {
		h.fail(w, "allocate payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Warn(msg, slog.Any("error", err))
	httpx.RespondError(w, err, matchingErrors...)
}
