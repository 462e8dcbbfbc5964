package reqlog_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/llmur/internal/reqlog"
	"github.com/nulpointcorp/llmur/internal/store"
)

// captureSink records every batch it receives. A non-nil entered/release
// pair turns the first insert into a controllable barrier.
type captureSink struct {
	mu      sync.Mutex
	batches [][]*store.RequestLog
	err     error

	flushed chan struct{}
	entered chan struct{}
	release chan struct{}
}

func (c *captureSink) InsertRequestLogs(ctx context.Context, logs []*store.RequestLog) error {
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.release != nil {
		<-c.release
	}

	c.mu.Lock()
	batch := make([]*store.RequestLog, len(logs))
	copy(batch, logs)
	c.batches = append(c.batches, batch)
	c.mu.Unlock()

	if c.flushed != nil {
		select {
		case c.flushed <- struct{}{}:
		default:
		}
	}
	return c.err
}

func (c *captureSink) all() []*store.RequestLog {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*store.RequestLog
	for _, b := range c.batches {
		out = append(out, b...)
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func entry(status int) *store.RequestLog {
	now := time.Now()
	return &store.RequestLog{
		ID:             uuid.New(),
		AttemptNumber:  1,
		VirtualKeyID:   uuid.New(),
		HTTPStatusCode: status,
		RequestTS:      now,
		ResponseTS:     now,
		Method:         "POST",
		Path:           "/v1/chat/completions",
		Provider:       "openai/v1",
	}
}

func waitFlush(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a flush")
	}
}

func TestRecorderFlushesFullBatches(t *testing.T) {
	sink := &captureSink{flushed: make(chan struct{}, 1)}
	rec, err := reqlog.New(context.Background(), sink, reqlog.Options{
		BatchSize:     3,
		FlushInterval: time.Hour,
		Logger:        testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rec.Close()

	want := []*store.RequestLog{entry(200), entry(200), entry(502)}
	for _, e := range want {
		rec.Record(e)
	}
	waitFlush(t, sink.flushed)

	got := sink.all()
	if len(got) != 3 {
		t.Fatalf("flushed %d entries, want 3", len(got))
	}
	for i := range want {
		if got[i].ID != want[i].ID {
			t.Errorf("entry %d = %s, want %s (order lost)", i, got[i].ID, want[i].ID)
		}
	}
	if rec.Dropped() != 0 {
		t.Errorf("Dropped = %d, want 0", rec.Dropped())
	}
}

func TestRecorderFlushesOnInterval(t *testing.T) {
	sink := &captureSink{flushed: make(chan struct{}, 1)}
	rec, err := reqlog.New(context.Background(), sink, reqlog.Options{
		BatchSize:     100,
		FlushInterval: 20 * time.Millisecond,
		Logger:        testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rec.Close()

	rec.Record(entry(200))
	rec.Record(entry(200))
	waitFlush(t, sink.flushed)

	if got := len(sink.all()); got != 2 {
		t.Errorf("flushed %d entries, want 2", got)
	}
}

func TestRecorderDropsWhenFull(t *testing.T) {
	sink := &captureSink{
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
	rec, err := reqlog.New(context.Background(), sink, reqlog.Options{
		Capacity:      1,
		BatchSize:     1,
		FlushInterval: time.Hour,
		Logger:        testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first := entry(200)
	rec.Record(first)
	<-sink.entered // worker is mid-flush, channel empty

	queued := entry(200)
	rec.Record(queued) // fills the channel
	rec.Record(entry(200))
	rec.Record(entry(200))

	if got := rec.Dropped(); got != 2 {
		t.Errorf("Dropped = %d, want 2", got)
	}

	close(sink.release)
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := sink.all()
	if len(got) != 2 {
		t.Fatalf("flushed %d entries, want the first and the queued one", len(got))
	}
	if got[0].ID != first.ID || got[1].ID != queued.ID {
		t.Errorf("flushed [%s %s], want [%s %s]", got[0].ID, got[1].ID, first.ID, queued.ID)
	}
}

func TestRecorderDrainsOnClose(t *testing.T) {
	sink := &captureSink{}
	rec, err := reqlog.New(context.Background(), sink, reqlog.Options{
		BatchSize:     100,
		FlushInterval: time.Hour,
		Logger:        testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for range 5 {
		rec.Record(entry(200))
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := len(sink.all()); got != 5 {
		t.Errorf("flushed %d entries, want all 5 on close", got)
	}
}

func TestRecorderMirrorsBatches(t *testing.T) {
	sink := &captureSink{}
	mirror := &captureSink{err: errors.New("analytics down")}
	rec, err := reqlog.New(context.Background(), sink, reqlog.Options{
		BatchSize:     100,
		FlushInterval: time.Hour,
		Mirrors:       []reqlog.Sink{mirror},
		Logger:        testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e := entry(200)
	rec.Record(e)
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The mirror failing must not cost the primary sink its batch.
	if got := sink.all(); len(got) != 1 || got[0].ID != e.ID {
		t.Errorf("primary sink got %d entries, want the recorded one", len(got))
	}
	if got := mirror.all(); len(got) != 1 || got[0].ID != e.ID {
		t.Errorf("mirror got %d entries, want the recorded one", len(got))
	}
}

func TestRecorderSurvivesSinkErrors(t *testing.T) {
	sink := &captureSink{err: errors.New("insert failed"), flushed: make(chan struct{}, 1)}
	rec, err := reqlog.New(context.Background(), sink, reqlog.Options{
		BatchSize:     1,
		FlushInterval: time.Hour,
		Logger:        testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rec.Close()

	rec.Record(entry(200))
	waitFlush(t, sink.flushed)
	rec.Record(entry(200))
	waitFlush(t, sink.flushed)

	if got := len(sink.batches); got != 2 {
		t.Errorf("sink saw %d batches, want 2 despite errors", got)
	}
}

func TestRecorderRejectsNilArguments(t *testing.T) {
	if _, err := reqlog.New(nil, &captureSink{}, reqlog.Options{}); err == nil { //nolint:staticcheck
		t.Error("New with nil context should fail")
	}
	if _, err := reqlog.New(context.Background(), nil, reqlog.Options{}); err == nil {
		t.Error("New with nil sink should fail")
	}
}
