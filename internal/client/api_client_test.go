package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"Mansoor88-6/fieldsync-agent/internal/models"
	"Mansoor88-6/fieldsync-agent/internal/translator"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRecord(id string) translator.Record {
	return translator.Record{
		IdempotencyKey: id,
		EventType:      models.CategoryFertilizer,
		OccurredAt:     time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
		Fertilizer:     &translator.FertilizerDetails{Product: "urea", Quantity: translator.Quantity{Value: 20, Unit: "kg"}, Method: "broadcast"},
	}
}

func TestDeliver_SendsRecordWithIdempotencyKey(t *testing.T) {
	var gotKey, gotAuth, gotPath string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(IdempotencyKeyHeader)
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	c := NewAPIClient(server.URL, "api-key", 5*time.Second, zap.NewNop())
	c.SetDeviceToken("device-jwt")

	require.NoError(t, c.Deliver(context.Background(), testRecord("evt-1")))

	assert.Equal(t, "/api/v1/events", gotPath)
	assert.Equal(t, "evt-1", gotKey)
	assert.Equal(t, "Bearer device-jwt", gotAuth)
	assert.Equal(t, "evt-1", gotBody["idempotencyKey"])
	assert.Equal(t, "fertilizer", gotBody["eventType"])
}

func TestDeliver_FallsBackToAPIKey(t *testing.T) {
	var gotAuth string
	gotName := "unset"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotName = r.Header.Get(DeviceNameHeader)
	}))
	defer server.Close()

	c := NewAPIClient(server.URL, "api-key", 5*time.Second, zap.NewNop())
	require.NoError(t, c.Deliver(context.Background(), testRecord("evt-1")))
	assert.Equal(t, "Bearer api-key", gotAuth)
	assert.Empty(t, gotName)
}

func TestDeliver_SendsDeviceName(t *testing.T) {
	var gotName string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotName = r.Header.Get(DeviceNameHeader)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	c := NewAPIClient(server.URL, "", 5*time.Second, zap.NewNop())
	c.SetDeviceName("North orchard tablet")

	require.NoError(t, c.Deliver(context.Background(), testRecord("evt-1")))
	assert.Equal(t, "North orchard tablet", gotName)
}

func TestDeliver_StatusClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantErr  bool
		terminal bool
		target   any
	}{
		{name: "created", status: http.StatusCreated},
		{name: "ok", status: http.StatusOK},
		{name: "duplicate accepted", status: http.StatusConflict},
		{name: "bad request", status: http.StatusBadRequest, wantErr: true, terminal: true, target: new(*BadRequestError)},
		{name: "unprocessable", status: http.StatusUnprocessableEntity, wantErr: true, terminal: true, target: new(*BadRequestError)},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: true, target: new(*AuthError)},
		{name: "forbidden", status: http.StatusForbidden, wantErr: true, target: new(*AuthError)},
		{name: "rate limited", status: http.StatusTooManyRequests, wantErr: true, target: new(*RateLimitError)},
		{name: "request timeout", status: http.StatusRequestTimeout, wantErr: true, target: new(*RateLimitError)},
		{name: "server error", status: http.StatusInternalServerError, wantErr: true, target: new(*BackendError)},
		{name: "unavailable", status: http.StatusServiceUnavailable, wantErr: true, target: new(*BackendError)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"nope"}`))
			}))
			defer server.Close()

			c := NewAPIClient(server.URL, "", 5*time.Second, zap.NewNop())
			err := c.Deliver(context.Background(), testRecord("evt-1"))

			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorAs(t, err, tt.target)
			assert.Equal(t, tt.terminal, IsTerminal(err))
		})
	}
}

func TestDeliver_NetworkErrorIsRetriable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := NewAPIClient(url, "", time.Second, zap.NewNop())
	err := c.Deliver(context.Background(), testRecord("evt-1"))

	require.Error(t, err)
	assert.False(t, IsTerminal(err))
}

func TestDeliver_TimeoutIsRetriable(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := NewAPIClient(server.URL, "", 5*time.Second, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Deliver(ctx, testRecord("evt-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsTerminal(err))
}

func TestReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	c := NewAPIClient(server.URL, "", time.Second, zap.NewNop())
	assert.NoError(t, c.Reachable(context.Background()))

	server.Close()
	assert.Error(t, c.Reachable(context.Background()))
}

type stubDeliverer struct {
	calls atomic.Int32
	err   error
}

func (s *stubDeliverer) Deliver(ctx context.Context, rec translator.Record) error {
	s.calls.Add(1)
	return s.err
}

func TestBreakerClient_OpensAfterConsecutiveFailures(t *testing.T) {
	stub := &stubDeliverer{err: &BackendError{Message: "down", StatusCode: 503}}
	b := NewBreakerClient(stub, BreakerSettings{Name: "test-open", FailureThreshold: 3, OpenTimeout: time.Minute}, zap.NewNop())

	for i := 0; i < 3; i++ {
		err := b.Deliver(context.Background(), testRecord("evt"))
		var backendErr *BackendError
		assert.ErrorAs(t, err, &backendErr)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.Deliver(context.Background(), testRecord("evt"))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(3), stub.calls.Load())
}

func TestBreakerClient_TerminalRejectionsKeepCircuitClosed(t *testing.T) {
	stub := &stubDeliverer{err: &BadRequestError{Message: "invalid", StatusCode: 400}}
	b := NewBreakerClient(stub, BreakerSettings{Name: "test-terminal", FailureThreshold: 2, OpenTimeout: time.Minute}, zap.NewNop())

	for i := 0; i < 5; i++ {
		err := b.Deliver(context.Background(), testRecord("evt"))
		assert.True(t, IsTerminal(err))
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, int32(5), stub.calls.Load())
}

func TestBreakerClient_CancellationDoesNotTrip(t *testing.T) {
	stub := &stubDeliverer{err: errors.Join(errors.New("request failed"), context.Canceled)}
	b := NewBreakerClient(stub, BreakerSettings{Name: "test-cancel", FailureThreshold: 1, OpenTimeout: time.Minute}, zap.NewNop())

	err := b.Deliver(context.Background(), testRecord("evt"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
