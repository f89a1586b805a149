package pulling

import (
	"context"
	"sync"
	"time"

	"github.com/alfred-ai/feedpull/events"
	"github.com/alfred-ai/feedpull/observability"
	"github.com/rs/zerolog"
)

// EngineConfig bundles everything PullingEngine needs to construct its
// collaborators.
type EngineConfig struct {
	RateLimits      RateLimitConfig
	Dispatcher      DispatcherConfig
	Retry           *RetryPolicy
	TickInterval    time.Duration // how often the due-requests loop wakes
	ResponseWorkers int           // bounded worker pool delivering to responses()
	GraceDuration   time.Duration
}

// DefaultEngineConfig returns sane defaults for all of the above.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		RateLimits:      DefaultRateLimitConfig(),
		Dispatcher:      DefaultDispatcherConfig(),
		Retry:           DefaultRetryPolicy(),
		TickInterval:    100 * time.Millisecond,
		ResponseWorkers: 8,
		GraceDuration:   5 * time.Second,
	}
}

// PullingEngine orchestrates RequestRegistry, PriorityRateLimiter,
// HttpDispatcher, and RetryPolicy: it accepts requests, drives admitted
// ones through rate-limited dispatch with retries, and republishes
// completions on a hot multicast stream. Its background loop runs once
// immediately, then ticks on an interval, with explicit start/stop
// lifecycle methods.
type PullingEngine struct {
	logger zerolog.Logger
	cfg    EngineConfig

	registry *RequestRegistry
	limiter  *PriorityRateLimiter
	dispatch *HttpDispatcher
	retry    *RetryPolicy
	events   *events.Pipeline
	metrics  *observability.Metrics

	mu          sync.RWMutex
	subscribers []chan FeedResponse

	responseCh chan FeedResponse

	ctx    context.Context
	cancel context.CancelFunc

	// loopWg tracks the long-lived deliveryWorker/tickLoop goroutines,
	// which only exit once ctx is cancelled. attemptWg tracks in-flight
	// per-request attempt goroutines, which exit on their own as pulls
	// complete. Shutdown drains attemptWg (bounded by grace) before
	// cancelling ctx to stop the loops — waiting on a combined WaitGroup
	// would block the full grace period on every shutdown, since the
	// loops never exit until ctx is cancelled.
	loopWg    sync.WaitGroup
	attemptWg sync.WaitGroup

	shutdownMu sync.Mutex
	shutDown   bool
}

// NewPullingEngine constructs the engine and its collaborators but does
// not start the background loop — call Start.
func NewPullingEngine(logger zerolog.Logger, cfg EngineConfig, pipeline *events.Pipeline) *PullingEngine {
	if cfg.TickInterval <= 0 {
		cfg = DefaultEngineConfig()
	}
	if cfg.Retry == nil {
		cfg.Retry = DefaultRetryPolicy()
	}
	e := &PullingEngine{
		logger:     logger.With().Str("component", "pulling_engine").Logger(),
		cfg:        cfg,
		registry:   NewRequestRegistry(),
		limiter:    NewPriorityRateLimiter(cfg.RateLimits),
		dispatch:   NewHttpDispatcher(cfg.Dispatcher),
		retry:      cfg.Retry,
		events:     pipeline,
		responseCh: make(chan FeedResponse, 256),
	}
	return e
}

// Start launches the due-requests ticking loop and the bounded
// response-delivery worker pool.
func (e *PullingEngine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)

	for i := 0; i < e.cfg.ResponseWorkers; i++ {
		e.loopWg.Add(1)
		go e.deliveryWorker()
	}

	e.loopWg.Add(1)
	go e.tickLoop()
}

// Submit admits req and, if admitted, schedules it for dispatch. It
// returns synchronously; the HTTP work happens on an attempt goroutine
// that Submit launches.
func (e *PullingEngine) Submit(req *FeedRequest) error {
	e.shutdownMu.Lock()
	down := e.shutDown
	e.shutdownMu.Unlock()
	if down {
		return &SubmissionRejected{Fingerprint: req.Fingerprint(), Reason: "shutdown"}
	}

	result, retryAfter := e.registry.Admit(req, time.Now())
	switch result {
	case DuplicateDrop:
		return &SubmissionRejected{Fingerprint: req.Fingerprint(), Reason: "duplicate"}
	case CooldownDefer:
		return &SubmissionRejected{Fingerprint: req.Fingerprint(), Reason: "cooldown", RetryAfter: retryAfter}
	}

	e.attemptWg.Add(1)
	go e.attempt(req)
	return nil
}

// SchedulePeriodic submits req configured with sched and returns a
// Handle for later cancellation. The handle is registry-owned: it
// carries only the fingerprint, never a direct reference back into the
// engine, so it stays valid across the engine's internal churn.
func (e *PullingEngine) SchedulePeriodic(req *FeedRequest, sched Schedule) (Handle, error) {
	scheduled := req.WithSchedule(sched)
	if err := e.Submit(scheduled); err != nil {
		if rej, ok := err.(*SubmissionRejected); ok && rej.Reason == "duplicate" {
			// Already tracked (e.g. re-registering the same periodic
			// feed); treat it as success so callers can call this
			// idempotently.
			return Handle{fingerprint: scheduled.Fingerprint()}, nil
		}
		return Handle{}, err
	}
	return Handle{fingerprint: scheduled.Fingerprint()}, nil
}

// SetMetrics attaches a metrics registry the engine reports pull
// outcomes and periodic gauges to. Optional — a nil or never-called
// SetMetrics leaves the engine fully functional, just unobserved.
func (e *PullingEngine) SetMetrics(m *observability.Metrics) {
	e.metrics = m
}

// Dispatcher exposes the underlying HttpDispatcher for observability
// callers (the admin stats endpoint reads its per-class metrics).
func (e *PullingEngine) Dispatcher() *HttpDispatcher { return e.dispatch }

// RegistrySize returns the number of fingerprints currently tracked by
// the registry (advisory; for metrics/logging).
func (e *PullingEngine) RegistrySize() int { return e.registry.Len() }

// Cancel marks a handle's fingerprint CANCELLED. If it is IN_FLIGHT, the
// in-flight transport request is aborted best-effort via context
// cancellation and its error is suppressed from responses().
func (e *PullingEngine) Cancel(h Handle) {
	e.registry.Cancel(h.fingerprint)
}

// Responses returns a new channel subscribed to the engine's hot
// multicast output stream. There is no global ordering across
// fingerprints; within one fingerprint, responses are emitted in
// completion order, which equals dispatch order because at most one
// request per fingerprint is ever in flight (RequestRegistry enforces
// this).
func (e *PullingEngine) Responses() <-chan FeedResponse {
	ch := make(chan FeedResponse, 32)
	e.mu.Lock()
	e.subscribers = append(e.subscribers, ch)
	e.mu.Unlock()
	return ch
}

// Shutdown stops accepting new submissions, waits up to grace for
// in-flight requests to complete, then cancels the engine context so
// any still-outstanding dispatch resolves with ShutdownError.
func (e *PullingEngine) Shutdown(grace time.Duration) {
	e.shutdownMu.Lock()
	if e.shutDown {
		e.shutdownMu.Unlock()
		return
	}
	e.shutDown = true
	e.shutdownMu.Unlock()

	done := make(chan struct{})
	go func() {
		e.attemptWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		e.logger.Warn().Dur("grace", grace).Msg("shutdown grace period elapsed with requests still in flight")
	}

	e.dispatch.Shutdown()
	if e.cancel != nil {
		e.cancel()
	}

	// The delivery and tick loops select on ctx.Done, so now that ctx is
	// cancelled they return on their very next iteration.
	e.loopWg.Wait()

	e.mu.Lock()
	for _, ch := range e.subscribers {
		close(ch)
	}
	e.subscribers = nil
	e.mu.Unlock()
}

// attempt performs one admitted request's full lifecycle: rate-limit
// acquire, dispatch, and — on failure — consult RetryPolicy and either
// retry (by re-queuing through the tick loop via COOLDOWN) or give up.
func (e *PullingEngine) attempt(req *FeedRequest) {
	defer e.attemptWg.Done()

	fp := req.Fingerprint()
	tok, err := e.limiter.Acquire(e.ctx, req.Priority)
	if err != nil {
		// Context cancelled (shutdown); the registry entry is left in
		// PENDING and will be garbage with the rest of the engine.
		return
	}
	defer func() { _ = e.limiter.Release(tok) }()

	e.registry.MarkInFlight(fp, time.Now())
	start := time.Now()

	select {
	case res := <-e.dispatch.Send(e.ctx, req):
		e.handleResult(req, res, start)
	case <-e.ctx.Done():
		e.registry.MarkCompleted(fp, Outcome{Success: false, GiveUp: true}, time.Now())
	}
}

func (e *PullingEngine) handleResult(req *FeedRequest, res result, start time.Time) {
	fp := req.Fingerprint()
	entry, _ := e.registry.Get(fp)
	now := time.Now()

	elapsedMs := float64(now.Sub(start).Microseconds()) / 1000

	if res.err == nil {
		e.track(events.HttpClientGotAcceptedRQ, map[string]any{
			"fingerprint": fp,
			"status":      res.status,
			"priority":    req.Priority.String(),
		})
		e.trackMetric(req.Priority.String(), res.status, elapsedMs, "success")
		e.registry.MarkCompleted(fp, Outcome{Success: true}, now)
		e.publish(FeedResponse{
			Fingerprint: fp,
			StatusCode:  res.status,
			Body:        res.body,
			ReceivedAt:  now,
			Elapsed:     now.Sub(start),
		})
		return
	}

	decision := e.retry.Decide(fp, entry.AttemptCount, res.err)
	switch decision.Kind {
	case GiveUp:
		e.logger.Warn().Str("fingerprint", fp).Err(res.err).Msg("pull gave up after retries")
		e.trackMetric(req.Priority.String(), res.status, elapsedMs, "give_up")
		e.registry.MarkCompleted(fp, Outcome{Success: false, GiveUp: true}, now)
	case RetryAfter:
		e.trackMetric(req.Priority.String(), res.status, elapsedMs, "retry")
		e.registry.MarkCompleted(fp, Outcome{Success: false, RetryAfter: decision.After}, now)
	}
}

func (e *PullingEngine) trackMetric(priority string, statusCode int, latencyMs float64, outcome string) {
	if e.metrics != nil {
		e.metrics.TrackPull(priority, statusCode, latencyMs, outcome)
	}
}

func (e *PullingEngine) publish(resp FeedResponse) {
	select {
	case e.responseCh <- resp:
	case <-e.ctx.Done():
	}
}

// deliveryWorker is one of a bounded pool hopping responses off the
// dispatch goroutines onto subscriber channels, so a slow subscriber
// can never starve HTTP reception (spec §5, execution-context hygiene).
func (e *PullingEngine) deliveryWorker() {
	defer e.loopWg.Done()
	for {
		select {
		case resp, ok := <-e.responseCh:
			if !ok {
				return
			}
			e.mu.RLock()
			for _, ch := range e.subscribers {
				select {
				case ch <- resp:
				default:
				}
			}
			e.mu.RUnlock()
		case <-e.ctx.Done():
			return
		}
	}
}

// tickLoop periodically asks the registry for due periodic requests and
// resubmits them: runs once immediately, then on a time.Ticker.
func (e *PullingEngine) tickLoop() {
	defer e.loopWg.Done()
	e.pollDue()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.pollDue()
		}
	}
}

// pollDue claims every due COOLDOWN entry and launches its attempt.
// Claiming (via RequestRegistry.ClaimDue) transitions each entry out of
// COOLDOWN in the same locked pass that selects it, so a fingerprint
// can never be claimed twice by overlapping ticks.
func (e *PullingEngine) pollDue() {
	due := e.registry.ClaimDue(time.Now())
	for _, req := range due {
		e.attemptWg.Add(1)
		go e.attempt(req)
	}
	if e.metrics != nil {
		e.metrics.TrackRegistrySize(e.registry.Len())
	}
}

func (e *PullingEngine) track(id events.ID, fields map[string]any) {
	if e.events != nil {
		e.events.Track(id, fields)
	}
}
