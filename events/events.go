// Package events is a small analytics ingestion pipeline: a buffered
// channel of structured events, flushed to a pluggable Sink on a
// batch-size-or-interval trigger. It carries the single generic Event
// the pulling and sequential packages both emit, identified by three
// analytics IDs: http_client_got_accepted_rq, unprocessed_total, and
// enqueued_input_for_too_long.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ID is one of the observable analytics event identifiers.
type ID string

const (
	HttpClientGotAcceptedRQ ID = "http_client_got_accepted_rq"
	UnprocessedTotal        ID = "unprocessed_total"
	EnqueuedInputTooLong    ID = "enqueued_input_for_too_long"
)

// Event is one structured analytics event.
type Event struct {
	ID        ID
	Fields    map[string]any
	CreatedAt time.Time
}

// Sink is the destination for flushed event batches.
type Sink interface {
	Write(ctx context.Context, batch []Event) error
	Close() error
}

// LogSink writes each event as a zerolog line. This is the default sink
// when no external sink is configured.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "events").Logger()}
}

func (s *LogSink) Write(_ context.Context, batch []Event) error {
	for _, e := range batch {
		ev := s.logger.Info().Str("event", string(e.ID)).Time("created_at", e.CreatedAt)
		for k, v := range e.Fields {
			ev = ev.Interface(k, v)
		}
		ev.Msg("analytics event")
	}
	return nil
}

func (s *LogSink) Close() error { return nil }

// PipelineConfig controls batching.
type PipelineConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		BufferSize:    10000,
		BatchSize:     200,
		FlushInterval: 2 * time.Second,
	}
}

// Pipeline is the async event ingestion engine: Track is non-blocking
// (drops on a full buffer) and a single background worker batches by
// size or by FlushInterval, whichever comes first.
type Pipeline struct {
	logger zerolog.Logger
	config PipelineConfig
	sink   Sink

	ch     chan Event
	wg     sync.WaitGroup
	cancel context.CancelFunc

	dropped int64
}

func NewPipeline(logger zerolog.Logger, sink Sink, config ...PipelineConfig) *Pipeline {
	cfg := DefaultPipelineConfig()
	if len(config) > 0 {
		cfg = config[0]
	}
	return &Pipeline{
		logger: logger.With().Str("component", "events-pipeline").Logger(),
		config: cfg,
		sink:   sink,
		ch:     make(chan Event, cfg.BufferSize),
	}
}

// Start launches the background flush worker.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.worker(ctx)
}

// Stop drains the buffer and closes the sink.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	if p.sink != nil {
		_ = p.sink.Close()
	}
}

// Track submits an event. Non-blocking: drops it and logs a warning if
// the buffer is full.
func (p *Pipeline) Track(id ID, fields map[string]any) {
	e := Event{ID: id, Fields: fields, CreatedAt: time.Now()}
	select {
	case p.ch <- e:
	default:
		atomic.AddInt64(&p.dropped, 1)
		p.logger.Warn().Str("event", string(id)).Msg("analytics event dropped: buffer full")
	}
}

// Dropped returns the running count of events dropped because the
// buffer was full when Track was called.
func (p *Pipeline) Dropped() int64 {
	return atomic.LoadInt64(&p.dropped)
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, p.config.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := p.sink.Write(context.Background(), batch); err != nil {
			p.logger.Warn().Err(err).Int("batch_size", len(batch)).Msg("event flush failed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e := <-p.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-p.ch:
			batch = append(batch, e)
			if len(batch) >= p.config.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
