package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"Mansoor88-6/fieldsync-agent/internal/models"
	"Mansoor88-6/fieldsync-agent/internal/queue"
	"Mansoor88-6/fieldsync-agent/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Engine is the part of the sync engine exposed to the local UI
type Engine interface {
	Capture(ctx context.Context, category models.Category, raw map[string]any) (service.CaptureResult, error)
	SyncNow(ctx context.Context) (models.DrainSummary, error)
	Retry(ctx context.Context, id string) error
	Status(ctx context.Context) (service.Status, error)
	PendingEvents(ctx context.Context) ([]models.CapturedEvent, error)
	Event(ctx context.Context, id string) (*models.CapturedEvent, error)
}

// CaptureRequest is the body of POST /api/v1/events
type CaptureRequest struct {
	Category string         `json:"category" validate:"required,max=64"`
	Fields   map[string]any `json:"fields" validate:"required"`
}

// CaptureResponse is returned for a stored event
type CaptureResponse struct {
	Event         *models.CapturedEvent `json:"event"`
	LocationError string                `json:"locationError,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
}

type EventHandler struct {
	engine      Engine
	validate    *validator.Validate
	syncTimeout time.Duration
	logger      *zap.Logger
}

// NewEventHandler creates the handler. syncTimeout bounds POST /api/v1/sync.
func NewEventHandler(engine Engine, syncTimeout time.Duration, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		engine:      engine,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		syncTimeout: syncTimeout,
		logger:      logger,
	}
}

func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode capture request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.engine.Capture(r.Context(), models.Category(req.Category), req.Fields)
	if err != nil {
		h.logger.Error("Failed to capture event", zap.Error(err))
		var storageErr *queue.StorageError
		if errors.As(err, &storageErr) {
			writeError(w, http.StatusServiceUnavailable, "Event was not stored")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to capture event")
		return
	}

	resp := CaptureResponse{Event: res.Event}
	if res.LocationErr != nil {
		resp.LocationError = res.LocationErr.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListEvents returns every event that is not yet synced, failed ones included
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.engine.PendingEvents(r.Context())
	if err != nil {
		h.logger.Error("Failed to list events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list events")
		return
	}
	if events == nil {
		events = []models.CapturedEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	ev, err := h.engine.Event(r.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Event not found")
			return
		}
		h.logger.Error("Failed to get event", zap.String("event_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get event")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *EventHandler) RetryEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := h.engine.Retry(r.Context(), id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, queue.ErrNotFound):
		writeError(w, http.StatusNotFound, "Event not found")
	case errors.Is(err, queue.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "Only failed events can be retried")
	default:
		h.logger.Error("Failed to retry event", zap.String("event_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to retry event")
	}
}

// SyncNow runs an explicit drain pass and returns its summary
func (h *EventHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.syncTimeout)
	defer cancel()

	summary, err := h.engine.SyncNow(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, "Sync still running")
			return
		}
		h.logger.Error("Sync failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Sync unavailable")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *EventHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status(r.Context())
	if err != nil {
		h.logger.Error("Failed to read status", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to read status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *EventHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
