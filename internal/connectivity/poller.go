package connectivity

import (
	"context"
	"sync"
	"time"

	"Mansoor88-6/fieldsync-agent/internal/clock"
	"Mansoor88-6/fieldsync-agent/internal/metrics"

	"go.uber.org/zap"
)

// Probe reports whether the network is usable right now
type Probe interface {
	Online(ctx context.Context) bool
}

// ProbeFunc adapts a function to Probe
type ProbeFunc func(ctx context.Context) bool

func (f ProbeFunc) Online(ctx context.Context) bool { return f(ctx) }

// PollerConfig controls sampling and debounce
type PollerConfig struct {
	Interval      time.Duration
	Stabilization time.Duration
	ProbeTimeout  time.Duration
}

// Poller is a Monitor for platforms without change notifications. It samples
// a probe on an interval and only flips state once the new observation has
// held for the stabilization window, so a flapping link produces no edges.
type Poller struct {
	probe  Probe
	clock  clock.Clock
	config PollerConfig
	logger *zap.Logger

	mu        sync.RWMutex
	online    bool
	flipping  bool
	candidate bool
	since     time.Time

	subs subscribers
}

// NewPoller creates a polling monitor. Call Prime before use to read the
// initial state.
func NewPoller(probe Probe, clk clock.Clock, config PollerConfig, logger *zap.Logger) *Poller {
	return &Poller{
		probe:  probe,
		clock:  clk,
		config: config,
		logger: logger,
	}
}

// Prime reads the current state without firing a transition
func (p *Poller) Prime(ctx context.Context) bool {
	online := p.sample(ctx)

	p.mu.Lock()
	p.online = online
	p.flipping = false
	p.mu.Unlock()

	if online {
		metrics.ConnectivityOnline.Set(1)
	} else {
		metrics.ConnectivityOnline.Set(0)
	}
	p.logger.Info("Connectivity monitor primed", zap.Bool("online", online))
	return online
}

func (p *Poller) IsOnline() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

func (p *Poller) OnTransition(fn func(online bool)) func() {
	return p.subs.add(fn)
}

// Run polls until ctx is cancelled
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.logger.Info("Connectivity poller started",
		zap.Duration("interval", p.config.Interval),
		zap.Duration("stabilization", p.config.Stabilization),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Connectivity poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

// Check takes one sample and fires a transition if the debounced state
// changed
func (p *Poller) Check(ctx context.Context) {
	p.observe(p.sample(ctx))
}

func (p *Poller) sample(ctx context.Context) bool {
	if p.config.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.ProbeTimeout)
		defer cancel()
	}
	return p.probe.Online(ctx)
}

func (p *Poller) observe(observed bool) {
	p.subs.fireMu.Lock()
	defer p.subs.fireMu.Unlock()

	now := p.clock.Now()

	p.mu.Lock()
	if observed == p.online {
		if p.flipping {
			p.logger.Debug("Connectivity change did not stabilize", zap.Bool("online", p.online))
		}
		p.flipping = false
		p.mu.Unlock()
		return
	}

	if !p.flipping || p.candidate != observed {
		p.flipping = true
		p.candidate = observed
		p.since = now
	}
	if now.Sub(p.since) < p.config.Stabilization {
		p.mu.Unlock()
		return
	}

	p.online = observed
	p.flipping = false
	p.mu.Unlock()

	p.subs.notify(observed, p.logger)
}
