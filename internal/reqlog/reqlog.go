// Package reqlog persists per-attempt request logs without blocking the
// proxy hot path.
//
// Entries are written to an internal buffered channel and flushed in
// batches by a single background goroutine. If the channel fills up, new
// entries are dropped and counted in Dropped.
package reqlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nulpointcorp/llmur/internal/store"
)

const (
	defaultCapacity  = 1024
	defaultBatchSize = 500
	defaultInterval  = 750 * time.Millisecond

	flushTimeout = 10 * time.Second
)

// Sink receives flushed batches. Implementations must not retain the slice
// past the call. *store.Store satisfies it.
type Sink interface {
	InsertRequestLogs(ctx context.Context, logs []*store.RequestLog) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, logs []*store.RequestLog) error

func (f SinkFunc) InsertRequestLogs(ctx context.Context, logs []*store.RequestLog) error {
	return f(ctx, logs)
}

type Options struct {
	// Capacity bounds the internal channel. Zero selects 1024.
	Capacity int
	// BatchSize triggers a flush when reached. Zero selects 500.
	BatchSize int
	// FlushInterval bounds how long an entry waits for company. Zero
	// selects 750ms.
	FlushInterval time.Duration
	// Mirrors receive every batch after the primary sink, best effort.
	Mirrors []Sink
	Logger  *slog.Logger
}

// Recorder is the async request logger. One instance serves the whole
// process; Record is safe for concurrent use.
type Recorder struct {
	sink    Sink
	mirrors []Sink
	log     *slog.Logger

	ch        chan *store.RequestLog
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	batchSize int
	interval  time.Duration

	dropped int64

	baseCtx context.Context
}

func New(ctx context.Context, sink Sink, opts Options) (*Recorder, error) {
	if ctx == nil {
		return nil, fmt.Errorf("reqlog: context must not be nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("reqlog: sink must not be nil")
	}
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	r := &Recorder{
		sink:      sink,
		mirrors:   opts.Mirrors,
		log:       opts.Logger,
		ch:        make(chan *store.RequestLog, opts.Capacity),
		done:      make(chan struct{}),
		batchSize: opts.BatchSize,
		interval:  opts.FlushInterval,
		baseCtx:   ctx,
	}

	r.wg.Add(1)
	go r.run()

	return r, nil
}

// Record enqueues one attempt log. It never blocks: when the channel is
// full the entry is dropped and counted.
func (r *Recorder) Record(entry *store.RequestLog) {
	if entry == nil {
		return
	}
	select {
	case r.ch <- entry:
	default:
		atomic.AddInt64(&r.dropped, 1)
	}
}

// Dropped reports how many entries were discarded because the channel was
// full.
func (r *Recorder) Dropped() int64 {
	return atomic.LoadInt64(&r.dropped)
}

// Close drains the channel, flushes the remainder and stops the worker.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
	return nil
}

func (r *Recorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	batch := make([]*store.RequestLog, 0, r.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(r.baseCtx, flushTimeout)
		if err := r.sink.InsertRequestLogs(ctx, batch); err != nil {
			r.log.Error("request_log_flush_error",
				slog.Int("batch", len(batch)),
				slog.String("error", err.Error()),
			)
		}
		for _, m := range r.mirrors {
			if err := m.InsertRequestLogs(ctx, batch); err != nil {
				r.log.Warn("request_log_mirror_error",
					slog.Int("batch", len(batch)),
					slog.String("error", err.Error()),
				)
			}
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-r.ch:
			batch = append(batch, entry)
			if len(batch) >= r.batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-r.done:
			for {
				select {
				case entry := <-r.ch:
					batch = append(batch, entry)
					if len(batch) >= r.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
