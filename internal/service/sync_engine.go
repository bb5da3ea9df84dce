package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"Mansoor88-6/fieldsync-agent/internal/client"
	"Mansoor88-6/fieldsync-agent/internal/clock"
	"Mansoor88-6/fieldsync-agent/internal/connectivity"
	"Mansoor88-6/fieldsync-agent/internal/location"
	"Mansoor88-6/fieldsync-agent/internal/metrics"
	"Mansoor88-6/fieldsync-agent/internal/models"
	"Mansoor88-6/fieldsync-agent/internal/queue"
	"Mansoor88-6/fieldsync-agent/internal/translator"

	"go.uber.org/zap"
)

// ErrEngineStopped is returned to SyncNow callers when the engine shuts down
// before their pass ran
var ErrEngineStopped = errors.New("sync engine stopped")

// minRetryDelay bounds how soon a scheduled automatic pass may fire
const minRetryDelay = time.Second

// ReasonRetryBudgetExhausted prefixes the failure reason of events that
// used up MaxAttempts
const ReasonRetryBudgetExhausted = "retry budget exhausted"

// Trigger names what started a drain pass
type Trigger string

const (
	TriggerStartup      Trigger = "startup"
	TriggerConnectivity Trigger = "connectivity"
	TriggerManual       Trigger = "manual"
	TriggerRetry        Trigger = "retry"
	TriggerCapture      Trigger = "capture"
	TriggerBackoff      Trigger = "backoff"
)

// explicit passes attempt every pending event; automatic passes honour
// backoff schedules and the automatic retry budget
func (t Trigger) explicit() bool {
	return t != TriggerCapture && t != TriggerBackoff
}

// Options tunes the engine
type Options struct {
	DeviceID         string
	LocationTimeout  time.Duration
	LocationAccuracy location.Accuracy
	DeliveryTimeout  time.Duration
	// AutoRetryLimit is the number of attempts after which an event is only
	// retried by explicit triggers
	AutoRetryLimit int
	// MaxAttempts is the total number of attempts before an event fails
	MaxAttempts int
	Backoff     BackoffPolicy
	// BreakerCooldown is how long to wait before retrying after the circuit
	// breaker rejected a delivery
	BreakerCooldown time.Duration
	Retention       time.Duration
	PruneInterval   time.Duration
}

// DefaultOptions returns the production retry policy
func DefaultOptions() Options {
	return Options{
		LocationTimeout:  5 * time.Second,
		LocationAccuracy: location.AccuracyHigh,
		DeliveryTimeout:  20 * time.Second,
		AutoRetryLimit:   5,
		MaxAttempts:      20,
		Backoff:          BackoffPolicy{Base: 2 * time.Second, Max: 5 * time.Minute, Jitter: 0.2},
		BreakerCooldown:  time.Minute,
		Retention:        7 * 24 * time.Hour,
		PruneInterval:    time.Hour,
	}
}

// Status is the snapshot rendered by the pending-count indicator
type Status struct {
	Online    bool                   `json:"online"`
	Counts    models.QueueCounts     `json:"counts"`
	Failed    []models.CapturedEvent `json:"failed,omitempty"`
	LastDrain *models.DrainSummary   `json:"lastDrain,omitempty"`
}

type waiter struct {
	summary models.DrainSummary
	err     error
}

// SyncEngine drains the event queue against the ingestion API. A single
// worker goroutine runs every pass, so an event is never submitted twice
// concurrently; triggers that arrive during a pass coalesce into one
// follow-up pass.
type SyncEngine struct {
	queue     queue.Queue
	deliverer client.Deliverer
	monitor   connectivity.Monitor
	sampler   location.Sampler
	clock     clock.Clock
	opts      Options
	logger    *zap.Logger

	wake chan struct{}

	mu              sync.Mutex
	pendingExplicit bool
	pendingAuto     bool
	pendingTrigger  Trigger
	waiters         []chan waiter
	retryTimer      *clock.Timer
	lastSummary     *models.DrainSummary
	cancel          context.CancelFunc

	subsMu  sync.Mutex
	nextSub int
	subs    map[int]func(models.DrainSummary)

	wg sync.WaitGroup
}

// NewSyncEngine creates a sync engine. Call Run (or Start) to begin draining.
func NewSyncEngine(
	q queue.Queue,
	deliverer client.Deliverer,
	monitor connectivity.Monitor,
	sampler location.Sampler,
	clk clock.Clock,
	opts Options,
	logger *zap.Logger,
) *SyncEngine {
	return &SyncEngine{
		queue:     q,
		deliverer: deliverer,
		monitor:   monitor,
		sampler:   sampler,
		clock:     clk,
		opts:      opts,
		logger:    logger,
		wake:      make(chan struct{}, 1),
		subs:      make(map[int]func(models.DrainSummary)),
	}
}

// TriggerSync requests a drain pass. It never blocks and is safe to call
// repeatedly: while a pass is running, any number of calls fold into one
// follow-up pass that also picks up newly captured events.
func (e *SyncEngine) TriggerSync() {
	e.trigger(TriggerManual)
}

func (e *SyncEngine) trigger(t Trigger) {
	e.mu.Lock()
	switch {
	case t.explicit():
		if !e.pendingExplicit {
			e.pendingTrigger = t
		}
		e.pendingExplicit = true
	case !e.pendingExplicit && !e.pendingAuto:
		e.pendingTrigger = t
		e.pendingAuto = true
	}
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// SyncNow runs an explicit pass and waits for its summary. The summary is
// from a pass that started after the call.
func (e *SyncEngine) SyncNow(ctx context.Context) (models.DrainSummary, error) {
	ch := make(chan waiter, 1)

	e.mu.Lock()
	e.waiters = append(e.waiters, ch)
	e.mu.Unlock()

	e.trigger(TriggerManual)

	select {
	case w := <-ch:
		return w.summary, w.err
	case <-ctx.Done():
		return models.DrainSummary{}, ctx.Err()
	}
}

// Retry re-arms a Failed event to Pending and triggers a pass
func (e *SyncEngine) Retry(ctx context.Context, id string) error {
	if err := e.queue.Rearm(ctx, id); err != nil {
		return err
	}
	e.logger.Info("Event re-armed for delivery", zap.String("event_id", id))
	e.refreshCounts(ctx)
	e.trigger(TriggerRetry)
	return nil
}

// OnDrainComplete registers fn to receive every pass summary. Callbacks run
// on the drain goroutine and must not block.
func (e *SyncEngine) OnDrainComplete(fn func(models.DrainSummary)) (cancel func()) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn

	return func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		delete(e.subs, id)
	}
}

// Status returns queue counts, failed events and the last pass summary
func (e *SyncEngine) Status(ctx context.Context) (Status, error) {
	counts, err := e.queue.Counts(ctx)
	if err != nil {
		return Status{}, err
	}

	events, err := e.queue.PendingEvents(ctx)
	if err != nil {
		return Status{}, err
	}

	status := Status{
		Online: e.monitor.IsOnline(),
		Counts: counts,
	}
	for _, ev := range events {
		if ev.SyncState == models.StateFailed {
			status.Failed = append(status.Failed, ev)
		}
	}

	e.mu.Lock()
	if e.lastSummary != nil {
		last := *e.lastSummary
		status.LastDrain = &last
	}
	e.mu.Unlock()

	return status, nil
}

// PendingEvents lists events that are not yet synced, failed ones included
func (e *SyncEngine) PendingEvents(ctx context.Context) ([]models.CapturedEvent, error) {
	return e.queue.PendingEvents(ctx)
}

// Event returns one event by id
func (e *SyncEngine) Event(ctx context.Context, id string) (*models.CapturedEvent, error) {
	return e.queue.Get(ctx, id)
}

// Run recovers interrupted deliveries and then drains on every trigger until
// ctx is cancelled. Cancelling ctx mid-pass leaves the current event
// InFlight; the next Run treats it as Pending again.
func (e *SyncEngine) Run(ctx context.Context) error {
	recovered, err := e.queue.RecoverInFlight(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover in-flight events: %w", err)
	}

	unsubscribe := e.monitor.OnTransition(func(online bool) {
		if online {
			e.trigger(TriggerConnectivity)
		}
	})
	defer unsubscribe()
	defer e.stopRetryTimer()
	defer e.releaseWaiters(ErrEngineStopped)

	e.logger.Info("Sync engine started",
		zap.Int("recovered", recovered),
		zap.Bool("online", e.monitor.IsOnline()),
	)

	e.refreshCounts(ctx)
	if e.monitor.IsOnline() {
		e.trigger(TriggerStartup)
	}

	var pruneC <-chan time.Time
	if e.opts.PruneInterval > 0 {
		pruneTicker := e.clock.NewTicker(e.opts.PruneInterval)
		defer pruneTicker.Stop()
		pruneC = pruneTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Sync engine stopped")
			return ctx.Err()
		case <-pruneC:
			e.prune(ctx)
		case <-e.wake:
			trigger, explicit, waiters, ok := e.takePending()
			if !ok {
				continue
			}

			summary := e.drain(ctx, trigger, explicit)
			e.publish(summary, waiters)

			if summary.Interrupted {
				e.logger.Info("Sync engine stopped mid-pass")
				return ctx.Err()
			}
		}
	}
}

// DrainOnce recovers interrupted deliveries and runs a single explicit pass
// on the calling goroutine. It is for one-shot tools and must not be called
// while Run is active.
func (e *SyncEngine) DrainOnce(ctx context.Context) (models.DrainSummary, error) {
	if _, err := e.queue.RecoverInFlight(ctx); err != nil {
		return models.DrainSummary{}, fmt.Errorf("failed to recover in-flight events: %w", err)
	}

	summary := e.drain(ctx, TriggerManual, true)
	e.stopRetryTimer()
	e.publish(summary, nil)
	return summary, nil
}

// Start runs the engine in the background until Stop
func (e *SyncEngine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error("Sync engine exited", zap.Error(err))
		}
	}()
}

// Stop cancels a running pass and waits for the engine to exit
func (e *SyncEngine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

func (e *SyncEngine) takePending() (Trigger, bool, []chan waiter, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.pendingExplicit && !e.pendingAuto {
		return "", false, nil, false
	}

	trigger, explicit := e.pendingTrigger, e.pendingExplicit
	waiters := e.waiters

	e.pendingExplicit = false
	e.pendingAuto = false
	e.pendingTrigger = ""
	e.waiters = nil

	return trigger, explicit, waiters, true
}

func (e *SyncEngine) publish(summary models.DrainSummary, waiters []chan waiter) {
	e.mu.Lock()
	e.lastSummary = &summary
	e.mu.Unlock()

	for _, ch := range waiters {
		ch <- waiter{summary: summary}
	}

	e.subsMu.Lock()
	subs := make([]func(models.DrainSummary), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.subsMu.Unlock()

	for _, fn := range subs {
		fn(summary)
	}
}

func (e *SyncEngine) releaseWaiters(err error) {
	e.mu.Lock()
	waiters := e.waiters
	e.waiters = nil
	e.mu.Unlock()

	for _, ch := range waiters {
		ch <- waiter{err: err}
	}
}

// passOutcome tells the drain loop whether to continue with the next event
type passOutcome int

const (
	nextEvent passOutcome = iota
	endPass
)

func (e *SyncEngine) drain(ctx context.Context, trigger Trigger, explicit bool) models.DrainSummary {
	started := e.clock.Now()
	summary := models.DrainSummary{
		Trigger:   string(trigger),
		StartedAt: started,
	}

	// state writes must land even when the pass is cancelled mid-delivery
	writeCtx := context.WithoutCancel(ctx)
	breakerOpen := false

	if !e.monitor.IsOnline() {
		summary.Offline = true
	} else {
		events, err := e.queue.PendingEvents(writeCtx)
		if err != nil {
			e.logger.Error("Failed to read pending events", zap.Error(err))
		}

		for _, ev := range events {
			if ctx.Err() != nil {
				summary.Interrupted = true
				break
			}
			if !e.monitor.IsOnline() {
				summary.Offline = true
				break
			}
			if ev.SyncState == models.StateFailed {
				continue
			}
			if !explicit && !e.autoRetryDue(ev, e.clock.Now()) {
				continue
			}

			if e.deliverOne(ctx, writeCtx, ev, &summary) == endPass {
				breakerOpen = !summary.Interrupted
				break
			}
		}
	}

	counts, err := e.queue.Counts(writeCtx)
	if err != nil {
		e.logger.Error("Failed to count events", zap.Error(err))
	} else {
		summary.StillPending = counts.Pending + counts.InFlight
		metrics.SetQueueCounts(counts.Pending, counts.InFlight, counts.Synced, counts.Failed)
	}

	switch {
	case summary.Interrupted:
	case summary.Offline:
		// the next online edge triggers a pass
		e.stopRetryTimer()
	default:
		e.scheduleRetry(writeCtx, breakerOpen)
	}

	summary.FinishedAt = e.clock.Now()
	metrics.RecordDrain(string(trigger), summary.FinishedAt.Sub(started))

	e.logger.Info("Drain pass completed",
		zap.String("trigger", summary.Trigger),
		zap.Int("synced", summary.Synced),
		zap.Int("still_pending", summary.StillPending),
		zap.Int("failed_terminal", summary.FailedTerminal),
		zap.Bool("offline", summary.Offline),
		zap.Bool("interrupted", summary.Interrupted),
	)
	return summary
}

func (e *SyncEngine) autoRetryDue(ev models.CapturedEvent, now time.Time) bool {
	if ev.Attempts >= e.opts.AutoRetryLimit {
		return false
	}
	return ev.NextAttemptAt == nil || !ev.NextAttemptAt.After(now)
}

func (e *SyncEngine) deliverOne(ctx, writeCtx context.Context, ev models.CapturedEvent, summary *models.DrainSummary) passOutcome {
	logger := e.logger.With(zap.String("event_id", ev.ID), zap.String("category", string(ev.Category)))

	rec, err := translator.Translate(ev)
	if err != nil {
		logger.Warn("Event cannot be translated", zap.Error(err))
		e.fail(writeCtx, ev, err.Error(), summary, logger)
		return nextEvent
	}

	if err := e.queue.MarkInFlight(writeCtx, ev.ID); err != nil {
		logger.Error("Failed to mark event in flight", zap.Error(err))
		return nextEvent
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.opts.DeliveryTimeout)
	started := time.Now()
	err = e.deliverer.Deliver(attemptCtx, rec)
	cancel()
	elapsed := time.Since(started)

	switch {
	case err == nil:
		metrics.RecordDelivery("synced", elapsed)
		if err := e.queue.MarkSynced(writeCtx, ev.ID); err != nil {
			logger.Error("Failed to mark event synced", zap.Error(err))
			return nextEvent
		}
		summary.Synced++
		logger.Info("Event synced", zap.Int("attempt", ev.Attempts+1))
		return nextEvent

	case ctx.Err() != nil:
		metrics.RecordDelivery("interrupted", elapsed)
		summary.Interrupted = true
		logger.Info("Delivery interrupted, event left in flight")
		return endPass

	case errors.Is(err, client.ErrCircuitOpen):
		metrics.RecordDelivery("rejected", elapsed)
		if err := e.queue.Release(writeCtx, ev.ID); err != nil {
			logger.Error("Failed to release event", zap.Error(err))
		}
		logger.Warn("Circuit breaker open, ending pass")
		return endPass

	case client.IsTerminal(err):
		metrics.RecordDelivery("terminal", elapsed)
		e.fail(writeCtx, ev, err.Error(), summary, logger)
		return nextEvent
	}

	metrics.RecordDelivery("retry", elapsed)
	attempts := ev.Attempts + 1
	reason := err.Error()

	if attempts >= e.opts.MaxAttempts {
		if err := e.queue.MarkRetry(writeCtx, ev.ID, reason, time.Time{}); err != nil {
			logger.Error("Failed to record attempt", zap.Error(err))
			return nextEvent
		}
		e.fail(writeCtx, ev, fmt.Sprintf("%s: %s", ReasonRetryBudgetExhausted, reason), summary, logger)
		return nextEvent
	}

	var next time.Time
	if attempts < e.opts.AutoRetryLimit {
		next = e.clock.Now().Add(e.opts.Backoff.NextDelay(attempts))
	}
	if err := e.queue.MarkRetry(writeCtx, ev.ID, reason, next); err != nil {
		logger.Error("Failed to schedule retry", zap.Error(err))
		return nextEvent
	}

	logger.Warn("Delivery failed, will retry",
		zap.Int("attempts", attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(err),
	)
	return nextEvent
}

func (e *SyncEngine) fail(ctx context.Context, ev models.CapturedEvent, reason string, summary *models.DrainSummary, logger *zap.Logger) {
	if err := e.queue.MarkFailed(ctx, ev.ID, reason); err != nil {
		logger.Error("Failed to mark event failed", zap.Error(err))
		return
	}
	summary.FailedTerminal++
	summary.Failures = append(summary.Failures, models.EventFailure{
		EventID:  ev.ID,
		Category: ev.Category,
		Reason:   reason,
	})
	logger.Warn("Event failed terminally", zap.String("reason", reason))
}

// scheduleRetry arms one timer for the earliest automatic retry. After the
// breaker rejected a delivery the next pass waits for the cooldown instead.
func (e *SyncEngine) scheduleRetry(ctx context.Context, breakerOpen bool) {
	now := e.clock.Now()
	var due time.Time

	if breakerOpen {
		due = now.Add(e.opts.BreakerCooldown)
	} else {
		events, err := e.queue.PendingEvents(ctx)
		if err != nil {
			e.logger.Error("Failed to read pending events", zap.Error(err))
			return
		}
		for _, ev := range events {
			if ev.SyncState != models.StatePending || ev.NextAttemptAt == nil || ev.Attempts >= e.opts.AutoRetryLimit {
				continue
			}
			if due.IsZero() || ev.NextAttemptAt.Before(due) {
				due = *ev.NextAttemptAt
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	if due.IsZero() {
		return
	}

	delay := due.Sub(now)
	if delay < minRetryDelay {
		delay = minRetryDelay
	}
	e.retryTimer = e.clock.AfterFunc(delay, func() {
		e.trigger(TriggerBackoff)
	})
	e.logger.Debug("Automatic retry scheduled", zap.Time("at", due))
}

func (e *SyncEngine) stopRetryTimer() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
}

func (e *SyncEngine) prune(ctx context.Context) {
	cutoff := e.clock.Now().Add(-e.opts.Retention)
	if _, err := e.queue.Prune(ctx, cutoff); err != nil {
		e.logger.Error("Failed to prune synced events", zap.Error(err))
		return
	}
	e.refreshCounts(ctx)
}

func (e *SyncEngine) refreshCounts(ctx context.Context) {
	counts, err := e.queue.Counts(ctx)
	if err != nil {
		e.logger.Warn("Failed to count events", zap.Error(err))
		return
	}
	metrics.SetQueueCounts(counts.Pending, counts.InFlight, counts.Synced, counts.Failed)
}
