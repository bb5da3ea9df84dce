package client

import (
	"context"
	"errors"
	"time"

	"Mansoor88-6/fieldsync-agent/internal/metrics"
	"Mansoor88-6/fieldsync-agent/internal/translator"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned without contacting the API while the breaker
// is open
var ErrCircuitOpen = errors.New("ingestion api circuit open")

// Deliverer submits canonical records to the ingestion API
type Deliverer interface {
	Deliver(ctx context.Context, rec translator.Record) error
}

// BreakerSettings configures the circuit breaker around delivery
type BreakerSettings struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// BreakerClient guards a Deliverer with a circuit breaker. Terminal
// rejections and caller cancellation do not count against the backend.
type BreakerClient struct {
	next    Deliverer
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *zap.Logger
}

// NewBreakerClient wraps next with a circuit breaker
func NewBreakerClient(next Deliverer, settings BreakerSettings, logger *zap.Logger) *BreakerClient {
	if settings.Name == "" {
		settings.Name = "ingestion"
	}

	metrics.CircuitBreakerState.WithLabelValues(settings.Name).Set(0)

	cbSettings := gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsTerminal(err) || errors.Is(err, context.Canceled)
		},
	}

	return &BreakerClient{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[struct{}](cbSettings),
		logger:  logger,
	}
}

// Deliver forwards rec unless the breaker is open
func (b *BreakerClient) Deliver(ctx context.Context, rec translator.Record) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Deliver(ctx, rec)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State returns the current breaker state
func (b *BreakerClient) State() gobreaker.State {
	return b.breaker.State()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
