package location

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"syscall"
	"time"

	"Mansoor88-6/fieldsync-agent/internal/models"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const watchCommand = `?WATCH={"enable":true,"json":true};` + "\n"

// gpsd fix modes
const (
	mode2D = 2
	mode3D = 3
)

// HighAccuracyMaxError is the largest horizontal error, in metres, accepted
// for a high accuracy fix. Reports without an error estimate are accepted.
const HighAccuracyMaxError = 25.0

// GPSD samples the receiver through a gpsd daemon
type GPSD struct {
	addr   string
	dialer net.Dialer
	logger *zap.Logger
}

// NewGPSD creates a sampler for the daemon at addr (host:port)
func NewGPSD(addr string, logger *zap.Logger) *GPSD {
	return &GPSD{
		addr:   addr,
		logger: logger,
	}
}

// tpv is a gpsd time-position-velocity report
type tpv struct {
	Class string    `json:"class"`
	Mode  int       `json:"mode"`
	Time  time.Time `json:"time"`
	Lat   *float64  `json:"lat"`
	Lon   *float64  `json:"lon"`
	Eph   *float64  `json:"eph"`
	Epx   *float64  `json:"epx"`
	Epy   *float64  `json:"epy"`
}

// Sample waits for the first TPV report that satisfies accuracy. High
// accuracy needs a 3D fix within HighAccuracyMaxError; coarse accepts any 2D
// fix.
func (g *GPSD) Sample(ctx context.Context, timeout time.Duration, accuracy Accuracy) (models.LocationFix, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := g.dialer.DialContext(ctx, "tcp", g.addr)
	if err != nil {
		return models.LocationFix{}, classify(ctx, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	// unblock the reader if the parent is cancelled before the deadline
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write([]byte(watchCommand)); err != nil {
		return models.LocationFix{}, classify(ctx, err)
	}

	minMode := mode3D
	if accuracy == AccuracyCoarse {
		minMode = mode2D
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var report tpv
		if err := json.Unmarshal(scanner.Bytes(), &report); err != nil {
			g.logger.Debug("Skipping undecodable gpsd line", zap.Error(err))
			continue
		}
		if report.Class != "TPV" || report.Mode < minMode || report.Lat == nil || report.Lon == nil {
			continue
		}

		errMeters := horizontalError(report)
		if accuracy != AccuracyCoarse && errMeters > HighAccuracyMaxError {
			continue
		}

		fix := models.LocationFix{
			Latitude:       *report.Lat,
			Longitude:      *report.Lon,
			AccuracyMeters: errMeters,
			SampledAt:      report.Time.UTC(),
		}
		if fix.SampledAt.IsZero() {
			fix.SampledAt = time.Now().UTC()
		}
		return validFix(fix)
	}

	if err := scanner.Err(); err != nil {
		return models.LocationFix{}, classify(ctx, err)
	}
	return models.LocationFix{}, fmt.Errorf("%w: gpsd closed the connection", ErrUnsupported)
}

// horizontalError prefers eph and falls back to the larger of epx/epy
func horizontalError(r tpv) float64 {
	if r.Eph != nil {
		return *r.Eph
	}
	var e float64
	if r.Epx != nil {
		e = *r.Epx
	}
	if r.Epy != nil {
		e = math.Max(e, *r.Epy)
	}
	return e
}

func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return fmt.Errorf("%w: %v", ErrDenied, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return ctx.Err()
	default:
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
}
