package periods

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-gl/internal/platform/httpx"
)

type periodService interface {
	List(ctx context.Context) ([]Period, error)
	Get(ctx context.Context, id int64) (Period, error)
	Create(ctx context.Context, in CreatePeriodInput) (Period, error)
	Update(ctx context.Context, id int64, in UpdatePeriodInput) (Period, error)
	Delete(ctx context.Context, id int64) error
	Lock(ctx context.Context, id, actorID int64, notes string) (Period, error)
	Unlock(ctx context.Context, id, actorID int64) (Period, error)
}

var periodErrors = []httpx.Mapping{
	{Target: ErrPeriodNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrPeriodOverlap, Status: http.StatusConflict, Title: "Period Overlap"},
	{Target: ErrPeriodAlreadyLocked, Status: http.StatusConflict, Title: "Period Already Locked"},
	{Target: ErrPeriodNotLocked, Status: http.StatusConflict, Title: "Period Not Locked"},
	{Target: ErrPeriodNotOpen, Status: http.StatusConflict, Title: "Period Not Open"},
	{Target: ErrPeriodHasEntries, Status: http.StatusConflict, Title: "Period Has Entries"},
}

// Handler wires HTTP endpoints for managing accounting periods.
type Handler struct {
	logger  *slog.Logger
	service periodService
}

// NewHandler constructs a period HTTP handler.
func NewHandler(logger *slog.Logger, service periodService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/periods", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
		r.Post("/{id}/lock", h.lock)
		r.Post("/{id}/unlock", h.unlock)
	})
}

type periodRequest struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (p periodRequest) dates() (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", p.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, &httpx.BadRequestError{Err: err}
	}
	end, err := time.Parse("2006-01-02", p.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, &httpx.BadRequestError{Err: err}
	}
	return start, end, nil
}

type lockRequest struct {
	ActorID int64  `json:"actor_id"`
	Notes   string `json:"notes"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	periods, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, "list periods", err)
		return
	}
	httpx.JSON(w, http.StatusOK, periods)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req periodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	start, end, err := req.dates()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := h.service.Create(r.Context(), CreatePeriodInput{Name: req.Name, StartDate: start, EndDate: end})
	if err != nil {
		h.fail(w, "create period", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, period)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req periodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	start, end, err := req.dates()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := h.service.Update(r.Context(), id, UpdatePeriodInput{Name: req.Name, StartDate: start, EndDate: end})
	if err != nil {
		h.fail(w, "update period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, "delete period", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) lock(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req lockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := h.service.Lock(r.Context(), id, req.ActorID, req.Notes)
	if err != nil {
		h.fail(w, "lock period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) unlock(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req lockRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	period, err := h.service.Unlock(r.Context(), id, req.ActorID)
	if err != nil {
		h.fail(w, "unlock period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Warn(msg, slog.Any("error", err))
	httpx.RespondError(w, err, periodErrors...)
}
