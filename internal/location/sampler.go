// Package location obtains a single best-effort geolocation fix for a
// captured event.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Mansoor88-6/fieldsync-agent/internal/models"

	"github.com/go-playground/validator/v10"
)

// Sampling failures. None of them is fatal to capture; samplers never retry.
var (
	ErrUnsupported = errors.New("location unsupported")
	ErrDenied      = errors.New("location permission denied")
	ErrTimeout     = errors.New("location timeout")
)

// Accuracy is the caller's preference between a precise and a cheap fix
type Accuracy string

const (
	AccuracyHigh   Accuracy = "high"
	AccuracyCoarse Accuracy = "coarse"
)

// Sampler returns one fix within timeout
type Sampler interface {
	Sample(ctx context.Context, timeout time.Duration, accuracy Accuracy) (models.LocationFix, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validFix(fix models.LocationFix) (models.LocationFix, error) {
	if err := validate.Struct(fix); err != nil {
		return models.LocationFix{}, fmt.Errorf("invalid fix: %w", err)
	}
	return fix, nil
}

// Static reports a configured site position, for devices without a receiver
type Static struct {
	Fix models.LocationFix
	Now func() time.Time
}

func NewStatic(lat, lon, accuracyMeters float64, now func() time.Time) *Static {
	return &Static{
		Fix: models.LocationFix{Latitude: lat, Longitude: lon, AccuracyMeters: accuracyMeters},
		Now: now,
	}
}

func (s *Static) Sample(ctx context.Context, timeout time.Duration, accuracy Accuracy) (models.LocationFix, error) {
	fix := s.Fix
	fix.SampledAt = s.Now().UTC()
	return validFix(fix)
}

// Unavailable is the sampler for devices with no location capability
type Unavailable struct{}

func (Unavailable) Sample(ctx context.Context, timeout time.Duration, accuracy Accuracy) (models.LocationFix, error) {
	return models.LocationFix{}, ErrUnsupported
}
