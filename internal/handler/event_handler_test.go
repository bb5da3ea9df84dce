package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"Mansoor88-6/fieldsync-agent/internal/location"
	"Mansoor88-6/fieldsync-agent/internal/models"
	"Mansoor88-6/fieldsync-agent/internal/queue"
	"Mansoor88-6/fieldsync-agent/internal/service"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubEngine struct {
	captured   []models.Category
	captureErr error
	locErr     error
	retryErr   error
	syncErr    error
	events     map[string]*models.CapturedEvent
}

func (s *stubEngine) Capture(ctx context.Context, category models.Category, raw map[string]any) (service.CaptureResult, error) {
	if s.captureErr != nil {
		return service.CaptureResult{}, s.captureErr
	}
	s.captured = append(s.captured, category)
	ev := models.NewCapturedEvent("evt-1", "device-1", category, raw, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), nil)
	return service.CaptureResult{Event: ev, LocationErr: s.locErr}, nil
}

func (s *stubEngine) SyncNow(ctx context.Context) (models.DrainSummary, error) {
	if s.syncErr != nil {
		return models.DrainSummary{}, s.syncErr
	}
	return models.DrainSummary{Trigger: "manual", Synced: 2}, nil
}

func (s *stubEngine) Retry(ctx context.Context, id string) error {
	return s.retryErr
}

func (s *stubEngine) Status(ctx context.Context) (service.Status, error) {
	return service.Status{Online: true, Counts: models.QueueCounts{Pending: 3, Failed: 1}}, nil
}

func (s *stubEngine) PendingEvents(ctx context.Context) ([]models.CapturedEvent, error) {
	var out []models.CapturedEvent
	for _, ev := range s.events {
		out = append(out, *ev)
	}
	return out, nil
}

func (s *stubEngine) Event(ctx context.Context, id string) (*models.CapturedEvent, error) {
	if ev, ok := s.events[id]; ok {
		return ev, nil
	}
	return nil, fmt.Errorf("%w: %s", queue.ErrNotFound, id)
}

func newTestMux(engine Engine) *http.ServeMux {
	h := NewEventHandler(engine, time.Second, zap.NewNop())
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/events", h.CreateEvent)
	mux.HandleFunc("GET /api/v1/events", h.ListEvents)
	mux.HandleFunc("GET /api/v1/events/{id}", h.GetEvent)
	mux.HandleFunc("POST /api/v1/events/{id}/retry", h.RetryEvent)
	mux.HandleFunc("POST /api/v1/sync", h.SyncNow)
	mux.HandleFunc("GET /api/v1/status", h.Status)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	return mux
}

func do(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCreateEvent(t *testing.T) {
	engine := &stubEngine{locErr: location.ErrTimeout}
	mux := newTestMux(engine)

	rec := do(t, mux, http.MethodPost, "/api/v1/events",
		`{"category":"irrigation","fields":{"volume":"300 L","method":"drip"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp CaptureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Event)
	assert.Equal(t, "evt-1", resp.Event.ID)
	assert.Equal(t, models.StatePending, resp.Event.SyncState)
	assert.Equal(t, "drip", resp.Event.RawPayload["method"])
	assert.Equal(t, location.ErrTimeout.Error(), resp.LocationError)
	assert.Equal(t, []models.Category{models.CategoryIrrigation}, engine.captured)
}

func TestCreateEvent_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"category":`},
		{"missing category", `{"fields":{"volume":1}}`},
		{"missing fields", `{"category":"harvest"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &stubEngine{}
			rec := do(t, newTestMux(engine), http.MethodPost, "/api/v1/events", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, engine.captured)
		})
	}
}

func TestCreateEvent_StorageFailure(t *testing.T) {
	engine := &stubEngine{captureErr: &queue.StorageError{Op: "enqueue", Err: errors.New("disk full")}}

	rec := do(t, newTestMux(engine), http.MethodPost, "/api/v1/events", `{"category":"harvest","fields":{}}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Event was not stored", resp.Error)
}

func TestGetEvent(t *testing.T) {
	ev := models.NewCapturedEvent("evt-9", "device-1", models.CategoryHarvest, nil, time.Now(), nil)
	mux := newTestMux(&stubEngine{events: map[string]*models.CapturedEvent{"evt-9": ev}})

	rec := do(t, mux, http.MethodGet, "/api/v1/events/evt-9", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.CapturedEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "evt-9", got.ID)

	rec = do(t, mux, http.MethodGet, "/api/v1/events/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEvents_EmptyIsArray(t *testing.T) {
	rec := do(t, newTestMux(&stubEngine{}), http.MethodGet, "/api/v1/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRetryEvent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"rearmed", nil, http.StatusAccepted},
		{"unknown", fmt.Errorf("%w: x", queue.ErrNotFound), http.StatusNotFound},
		{"not failed", fmt.Errorf("%w: rearm from synced", queue.ErrInvalidTransition), http.StatusConflict},
		{"storage", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestMux(&stubEngine{retryErr: tt.err}), http.MethodPost, "/api/v1/events/evt-1/retry", "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestSyncNow(t *testing.T) {
	rec := do(t, newTestMux(&stubEngine{}), http.MethodPost, "/api/v1/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary models.DrainSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Synced)

	rec = do(t, newTestMux(&stubEngine{syncErr: context.DeadlineExceeded}), http.MethodPost, "/api/v1/sync", "")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	rec = do(t, newTestMux(&stubEngine{syncErr: service.ErrEngineStopped}), http.MethodPost, "/api/v1/sync", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatus(t *testing.T) {
	rec := do(t, newTestMux(&stubEngine{}), http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status service.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Online)
	assert.Equal(t, 3, status.Counts.Pending)
	assert.Equal(t, 1, status.Counts.Failed)
}
