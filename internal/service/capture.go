package service

import (
	"context"
	"errors"
	"fmt"

	"Mansoor88-6/fieldsync-agent/internal/location"
	"Mansoor88-6/fieldsync-agent/internal/metrics"
	"Mansoor88-6/fieldsync-agent/internal/models"
	"Mansoor88-6/fieldsync-agent/internal/translator"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CaptureResult is a durably stored event plus the location outcome
type CaptureResult struct {
	Event *models.CapturedEvent
	// LocationErr is set when no fix was attached. It never fails the capture.
	LocationErr error
}

// Capture records one field event. The event is durable when Capture returns
// without error; a *queue.StorageError means it was not stored and the caller
// must not assume it was.
func (e *SyncEngine) Capture(ctx context.Context, category models.Category, raw map[string]any) (CaptureResult, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return CaptureResult{}, fmt.Errorf("failed to generate event id: %w", err)
	}

	var result CaptureResult

	fix, err := e.sampler.Sample(ctx, e.opts.LocationTimeout, e.opts.LocationAccuracy)
	metrics.CaptureLocation.WithLabelValues(locationResult(err)).Inc()

	var loc *models.LocationFix
	if err != nil {
		result.LocationErr = err
		e.logger.Debug("Capturing without location", zap.Error(err))
	} else {
		loc = &fix
	}

	ev := models.NewCapturedEvent(id.String(), e.opts.DeviceID, category, raw, e.clock.Now().UTC(), loc)
	if err := e.queue.Enqueue(ctx, ev); err != nil {
		e.logger.Error("Failed to store captured event",
			zap.String("event_id", ev.ID),
			zap.String("category", string(category)),
			zap.Error(err),
		)
		return CaptureResult{}, err
	}
	result.Event = ev

	metrics.EventsCaptured.WithLabelValues(categoryLabel(category)).Inc()

	e.logger.Info("Event captured",
		zap.String("event_id", ev.ID),
		zap.String("category", string(category)),
		zap.Bool("has_location", loc != nil),
	)

	e.refreshCounts(ctx)
	if e.monitor.IsOnline() {
		e.trigger(TriggerCapture)
	}
	return result, nil
}

// categoryLabel folds category the way the translator does, so spellings
// that sync under a known category are counted under it
func categoryLabel(category models.Category) string {
	normalized := translator.NormalizeCategory(category)
	if !normalized.Known() {
		return "unknown"
	}
	return string(normalized)
}

func locationResult(err error) string {
	switch {
	case err == nil:
		return "fix"
	case errors.Is(err, location.ErrUnsupported):
		return "unsupported"
	case errors.Is(err, location.ErrDenied):
		return "denied"
	case errors.Is(err, location.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
