package sequential

import (
	"fmt"
	"sync"
	"time"

	"github.com/alfred-ai/feedpull/events"
	"github.com/alfred-ai/feedpull/observability"
	"github.com/rs/zerolog"
)

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	ShardCount int
	// CapPerShard bounds each shard's queue depth; 0 is unbounded (the
	// default — see ShardedQueueSet).
	CapPerShard int
	// StallThreshold is how long an item may wait enqueued before a
	// warning is logged and an enqueued_input_for_too_long event fires.
	StallThreshold time.Duration
}

// DefaultProcessorConfig returns a default shard count of 100,000 —
// large enough to minimise hash collisions on key-heavy workloads — and
// a default 2-second stall threshold.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		ShardCount:     100000,
		StallThreshold: 2 * time.Second,
	}
}

// Processor routes SequentialInputs to shards by their QueueResolver,
// enforcing at-most-one in-flight Subscriber per shard while placing no
// limit on cross-shard parallelism.
type Processor struct {
	logger  zerolog.Logger
	cfg     ProcessorConfig
	queues  *ShardedQueueSet
	events  *events.Pipeline
	metrics *observability.Metrics
}

// NewProcessor builds a Processor. pipeline may be nil, in which case
// analytics events are simply not emitted.
func NewProcessor(logger zerolog.Logger, cfg ProcessorConfig, pipeline *events.Pipeline) *Processor {
	if cfg.ShardCount <= 0 {
		cfg = DefaultProcessorConfig()
	}
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = 2 * time.Second
	}
	return &Processor{
		logger: logger.With().Str("component", "sequential_processor").Logger(),
		cfg:    cfg,
		queues: NewShardedQueueSet(cfg.ShardCount, cfg.CapPerShard),
		events: pipeline,
	}
}

// SetMetrics attaches a metrics registry the processor reports queue
// depth gauges to. Optional, like the events pipeline.
func (p *Processor) SetMetrics(m *observability.Metrics) {
	p.metrics = m
}

// ProcessSequentially enqueues input. If its shard was empty,
// processing starts right away on the calling goroutine: the
// Subscriber's Run is invoked before ProcessSequentially returns.
// Otherwise the item waits behind whatever is currently in flight on
// that shard, is picked up by that item's completion callback, and
// ProcessSequentially returns right after the enqueue.
func (p *Processor) ProcessSequentially(input SequentialInput) error {
	shardIdx := input.Resolver(input.Payload, p.queues.ShardCount())
	if shardIdx < 0 || shardIdx >= p.queues.ShardCount() {
		return fmt.Errorf("queue resolver returned out-of-range shard %d (shard count %d)", shardIdx, p.queues.ShardCount())
	}

	item := enqueuedInput{shardIdx: shardIdx, input: input, enqueuedAt: time.Now()}
	newSize, wasEmptyBefore, ok := p.queues.Enqueue(item)
	if !ok {
		return fmt.Errorf("shard %d is at capacity", shardIdx)
	}

	if p.events != nil {
		p.events.Track(events.UnprocessedTotal, map[string]any{"count": p.queues.Total(), "shard": shardIdx, "shard_size": newSize})
	}
	if p.metrics != nil {
		p.metrics.TrackQueueDepth(p.queues.Total())
	}

	if wasEmptyBefore {
		p.processNext(item)
	}
	return nil
}

// processNext invokes item's Subscriber, wiring both terminal callbacks
// to dequeueAndAdvance — this is the mechanism that guarantees ordering:
// the next item on the shard cannot start until the current one
// signals completion, success or failure alike.
func (p *Processor) processNext(item enqueuedInput) {
	if !p.queues.BeginProcessing(item.shardIdx) {
		// Two subscribers in flight for the same shard at once is a
		// contract violation this processor's own logic must never
		// produce; surfaced as a ProgrammingError rather than silently
		// racing two Subscribers against one queue.
		p.logger.Error().Int("shard", item.shardIdx).Msg("programming error: shard already processing")
		return
	}

	p.warnIfStale(item)

	// advance is shared by the two callbacks and by the panic recovery
	// below, guarded by a sync.Once: whichever fires first is the one
	// that actually moves the shard forward, so a subscriber that
	// panics after already signalling completion can't double-advance.
	var once sync.Once
	advance := func() { once.Do(func() { p.dequeueAndAdvance(item.shardIdx) }) }

	onSuccess := func() { advance() }
	onFailure := func(err error) {
		if err != nil {
			p.logger.Debug().Int("shard", item.shardIdx).Err(err).Msg("subscriber signalled failure")
		}
		advance()
	}

	p.runSubscriber(item, onSuccess, onFailure, advance)
}

// runSubscriber invokes the subscriber, recovering a panic from either
// the subscriber itself or from a callback it calls synchronously and
// logging it. A subscriber that panics instead of signalling completion
// must not take down the shard's advancement with it, so the recovery
// advances the shard itself, as if the subscriber had signalled failure.
func (p *Processor) runSubscriber(item enqueuedInput, onSuccess func(), onFailure func(err error), advance func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Int("shard", item.shardIdx).Interface("panic", r).Msg("subscriber panicked")
			advance()
		}
	}()
	item.input.Subscriber.Run(onSuccess, onFailure)
}

// dequeueAndAdvance removes the just-finished head under the lock,
// reads the new head, and starts it if one exists. Anything thrown
// inside here is caught and logged — letting it escape would stall the
// shard permanently, which is the one failure mode this routine exists
// to prevent.
func (p *Processor) dequeueAndAdvance(shardIdx int) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Int("shard", shardIdx).Interface("panic", r).Msg("dequeueAndAdvance panicked; shard may stall")
		}
	}()

	p.queues.EndProcessing(shardIdx)

	newSize, head, ok := p.queues.DequeueHead(shardIdx)
	if !ok {
		return
	}
	if p.events != nil {
		p.events.Track(events.UnprocessedTotal, map[string]any{"count": p.queues.Total(), "shard": shardIdx, "shard_size": newSize})
	}
	if p.metrics != nil {
		p.metrics.TrackQueueDepth(p.queues.Total())
	}
	if head != nil {
		p.processNext(*head)
	}
}

// warnIfStale logs a warning and fires enqueued_input_for_too_long if
// item waited longer than StallThreshold between enqueue and the start
// of its processing.
func (p *Processor) warnIfStale(item enqueuedInput) {
	waited := time.Since(item.enqueuedAt)
	if waited < p.cfg.StallThreshold {
		return
	}
	ev := p.logger.Warn().
		Int("shard", item.shardIdx).
		Dur("waited", waited)
	for k, v := range item.input.LogContext {
		ev = ev.Interface(k, v)
	}
	ev.Msg("enqueued input waited too long before processing started")

	if p.events != nil {
		fields := map[string]any{"shard": item.shardIdx, "waiting_millis": waited.Milliseconds()}
		for k, v := range item.input.LogContext {
			fields[k] = v
		}
		p.events.Track(events.EnqueuedInputTooLong, fields)
	}
}

// Total returns the processor's current global enqueued counter
// (advisory; for metrics/logging).
func (p *Processor) Total() int { return p.queues.Total() }

// ShardCount returns the fixed shard count.
func (p *Processor) ShardCount() int { return p.queues.ShardCount() }
