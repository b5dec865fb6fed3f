package journals

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

type journalService interface {
	GetByReference(ctx context.Context, reference string) (JournalEntry, error)
	List(ctx context.Context, filter ListFilter) ([]JournalEntry, error)
	Reverse(ctx context.Context, in ReverseInput) (JournalEntry, error)
	AccountBalance(ctx context.Context, accountID int64, asOf time.Time) (AccountBalance, error)
}

// Handler exposes journal queries and reversal.
type Handler struct {
	service journalService
	logger  *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service journalService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers journal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/journals", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/{reference}", h.getByReference)
		r.Post("/{id}/reverse", h.reverse)
	})
	r.Get("/balances/{accountID}", h.balance)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Status: accounting.JournalStatus(q.Get("status"))}
	for name, target := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		if raw := q.Get(name); raw != "" {
			d, err := time.Parse("2006-01-02", raw)
			if err != nil {
				httpx.RespondError(w, &httpx.BadRequestError{Err: err})
				return
			}
			*target = &d
		}
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	filter.Page = shared.NewPage(limit, offset)
	entries, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list journals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) getByReference(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.GetByReference(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		h.fail(w, "get journal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

type reverseRequest struct {
	ReferenceNumber string `json:"reference_number"`
	Date            string `json:"date"`
	Memo            string `json:"memo"`
	ActorID         int64  `json:"actor_id"`
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reverseRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	in := ReverseInput{EntryID: id, ReferenceNumber: req.ReferenceNumber, Memo: req.Memo, ActorID: req.ActorID}
	if req.Date != "" {
		in.Date, err = time.Parse("2006-01-02", req.Date)
		if err != nil {
			httpx.RespondError(w, &httpx.BadRequestError{Err: err})
			return
		}
	}
	reversal, err := h.service.Reverse(r.Context(), in)
	if err != nil {
		h.fail(w, "reverse journal", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, reversal)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "accountID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	asOf := time.Now().UTC()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		asOf, err = time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.RespondError(w, &httpx.BadRequestError{Err: err})
			return
		}
	}
	bal, err := h.service.AccountBalance(r.Context(), id, asOf)
	if err != nil {
		h.fail(w, "account balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bal)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Warn(msg, slog.Any("error", err))
	httpx.RespondError(w, err)
}
