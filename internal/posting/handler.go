package posting

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/payload"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

type eventHandler interface {
	Handle(ctx context.Context, ev Event) (*journals.JournalEntry, error)
}

// Enqueuer defers an event to the background worker and returns the task id.
type Enqueuer interface {
	EnqueueEvent(ctx context.Context, ev Event) (string, error)
}

var postingErrors = []httpx.Mapping{
	{Target: payload.ErrMissingAmountKey, Status: http.StatusUnprocessableEntity, Title: "Missing Amount"},
	{Target: payload.ErrInvalidAmountType, Status: http.StatusUnprocessableEntity, Title: "Invalid Amount"},
}

// Handler accepts business events over JSON.
type Handler struct {
	service   eventHandler
	keys      shared.KeyStore
	queue     Enqueuer
	rateLimit int
	logger    *slog.Logger
}

// NewHandler constructs a Handler. keys may be nil to disable Idempotency-Key
// tracking; rateLimit <= 0 disables rate limiting.
func NewHandler(logger *slog.Logger, service eventHandler, keys shared.KeyStore, rateLimit int) *Handler {
	return &Handler{logger: logger, service: service, keys: keys, rateLimit: rateLimit}
}

// WithQueue enables asynchronous submission for requests sending
// "Prefer: respond-async".
func (h *Handler) WithQueue(queue Enqueuer) *Handler {
	h.queue = queue
	return h
}

// MountRoutes registers the event submission route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.rateLimit > 0 {
			r.Use(httprate.LimitByIP(h.rateLimit, time.Minute))
		}
		r.Use(shared.Idempotent(h.keys, "posting.events"))
		r.Post("/events", h.submit)
	})
}

type eventRequest struct {
	EventType       string         `json:"event_type"`
	ReferenceNumber string         `json:"reference_number"`
	Description     string         `json:"description"`
	Date            string         `json:"date"`
	ActorID         int64          `json:"actor_id"`
	Payload         map[string]any `json:"payload"`
}

func (req eventRequest) event() (Event, error) {
	ev := Event{
		Type:            req.EventType,
		ReferenceNumber: req.ReferenceNumber,
		Description:     req.Description,
		ActorID:         req.ActorID,
	}
	if req.Date != "" {
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			return Event{}, &httpx.BadRequestError{Err: err}
		}
		ev.Date = date
	}
	flat, err := payload.Flatten(req.Payload)
	if err != nil {
		return Event{}, &httpx.BadRequestError{Err: err}
	}
	ev.Payload = flat
	return ev, nil
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ev, err := req.event()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if h.queue != nil && strings.Contains(r.Header.Get("Prefer"), "respond-async") {
		h.enqueue(w, r, ev)
		return
	}
	entry, err := h.service.Handle(r.Context(), ev)
	if err != nil {
		h.logger.Warn("submit event", slog.String("event_type", ev.Type), slog.Any("error", err))
		httpx.RespondError(w, err, postingErrors...)
		return
	}
	if entry == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, ev Event) {
	if ev.Type == "" || ev.ReferenceNumber == "" {
		httpx.RespondError(w, &httpx.BadRequestError{Err: errors.New("event_type and reference_number are required")})
		return
	}
	taskID, err := h.queue.EnqueueEvent(r.Context(), ev)
	if err != nil {
		h.logger.Error("enqueue event", slog.String("event_type", ev.Type), slog.String("reference", ev.ReferenceNumber), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "event could not be queued")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "reference_number": ev.ReferenceNumber})
}
