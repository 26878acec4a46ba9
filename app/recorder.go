package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/usagegate/adapters/metrics"
	"github.com/artpar/usagegate/domain/usage"
	"github.com/artpar/usagegate/ports"
)

// Recorder buffers usage events and writes them to the store in batches.
// Record never blocks the request path; a full buffer past the hard cap
// drops the oldest events, counted and logged, never silently.
type Recorder struct {
	store         ports.UsageStore
	log           zerolog.Logger
	metrics       *metrics.Collector
	batchSize     int
	maxBuffer     int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []usage.Event

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// RecorderConfig tunes the batching behavior.
type RecorderConfig struct {
	BatchSize     int           // default 100
	MaxBuffer     int           // default 100x batch size
	FlushInterval time.Duration // default 10s
}

// NewRecorder creates a batching usage recorder and starts its flush loop.
func NewRecorder(store ports.UsageStore, cfg RecorderConfig, m *metrics.Collector, log zerolog.Logger) *Recorder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = cfg.BatchSize * 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	r := &Recorder{
		store:         store,
		log:           log.With().Str("component", "recorder").Logger(),
		metrics:       m,
		batchSize:     cfg.BatchSize,
		maxBuffer:     cfg.MaxBuffer,
		flushInterval: cfg.FlushInterval,
		buffer:        make([]usage.Event, 0, cfg.BatchSize),
		stopCh:        make(chan struct{}),
	}

	r.wg.Add(1)
	go r.flushLoop()

	return r
}

// Record queues a usage event for processing.
func (r *Recorder) Record(e usage.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buffer) >= r.maxBuffer {
		dropped := r.buffer[0]
		r.buffer = r.buffer[1:]
		if r.metrics != nil {
			r.metrics.RecorderDropped.Inc()
		}
		r.log.Error().Str("event_id", dropped.ID).Msg("recorder buffer full, dropping oldest event")
	}
	r.buffer = append(r.buffer, e)
	if r.metrics != nil {
		r.metrics.RecorderQueued.Set(float64(len(r.buffer)))
	}

	if len(r.buffer) >= r.batchSize {
		events := r.take()
		go r.write(events)
	}
}

// Flush writes all queued events synchronously.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	events := r.take()
	r.mu.Unlock()

	if len(events) == 0 {
		return nil
	}
	if err := r.store.RecordBatch(ctx, events); err != nil {
		r.requeue(events)
		return err
	}
	return nil
}

// take drains the buffer. Callers must hold r.mu.
func (r *Recorder) take() []usage.Event {
	if len(r.buffer) == 0 {
		return nil
	}
	events := make([]usage.Event, len(r.buffer))
	copy(events, r.buffer)
	r.buffer = r.buffer[:0]
	if r.metrics != nil {
		r.metrics.RecorderQueued.Set(0)
	}
	return events
}

// write persists a drained batch, putting it back on failure so the
// next flush retries.
func (r *Recorder) write(events []usage.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.store.RecordBatch(ctx, events); err != nil {
		r.log.Error().Err(err).Int("events", len(events)).Msg("usage batch write failed, requeueing")
		r.requeue(events)
	}
}

func (r *Recorder) requeue(events []usage.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Requeue in front so ordering survives a transient store failure.
	r.buffer = append(events, r.buffer...)
	if len(r.buffer) > r.maxBuffer {
		dropped := len(r.buffer) - r.maxBuffer
		r.buffer = r.buffer[:r.maxBuffer]
		if r.metrics != nil {
			r.metrics.RecorderDropped.Add(float64(dropped))
		}
		r.log.Error().Int("dropped", dropped).Msg("recorder buffer full after requeue")
	}
	if r.metrics != nil {
		r.metrics.RecorderQueued.Set(float64(len(r.buffer)))
	}
}

func (r *Recorder) flushLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Flush(context.Background()); err != nil {
				r.log.Error().Err(err).Msg("periodic flush failed")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Close stops the recorder and flushes remaining events.
func (r *Recorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = r.Flush(ctx)
	})
	return err
}

// Ensure interface compliance.
var _ ports.UsageRecorder = (*Recorder)(nil)
