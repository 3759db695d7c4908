package storage

// sink.go — Telemetry asíncrona.
//
// El camino de trading nunca espera a SQLite: los registros entran en un
// channel con buffer y un único goroutine los escribe. Con el buffer lleno
// el registro se descarta con un warning.

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/polyhedge/internal/domain"
	"github.com/alejandrodnm/polyhedge/internal/ports"
)

const defaultSinkBuffer = 1024

// Writer es la parte de SQLiteStorage que usa AsyncSink.
type Writer interface {
	InsertTrade(ctx context.Context, t domain.TradeRecord) error
	InsertFill(ctx context.Context, f domain.FillRecord) error
	InsertEvent(ctx context.Context, e domain.Event) error
	InsertLifecycle(ctx context.Context, l domain.LifecycleEvent) error
	InsertSnapshot(ctx context.Context, s domain.Snapshot) error
}

// record es una escritura pendiente.
type record func(ctx context.Context, w Writer) error

// AsyncSink implementa ports.Telemetry sobre un Writer.
type AsyncSink struct {
	w       Writer
	ch      chan record
	done    chan struct{}
	dropped atomic.Int64

	closeOnce sync.Once
	mu        sync.RWMutex // protege closed frente a envíos concurrentes
	closed    bool
}

// NewAsyncSink arranca el writer. buffer <= 0 usa el valor por defecto.
func NewAsyncSink(w Writer, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = defaultSinkBuffer
	}
	s := &AsyncSink{
		w:    w,
		ch:   make(chan record, buffer),
		done: make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *AsyncSink) loop() {
	defer close(s.done)
	for rec := range s.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rec(ctx, s.w); err != nil {
			slog.Warn("storage: telemetry write failed", "err", err)
		}
		cancel()
	}
}

func (s *AsyncSink) enqueue(kind string, rec record) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- rec:
	default:
		n := s.dropped.Add(1)
		slog.Warn("storage: telemetry buffer full, record dropped", "kind", kind, "dropped_total", n)
	}
}

// Dropped devuelve cuántos registros se han descartado.
func (s *AsyncSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close deja de aceptar registros y espera a que se escriban los pendientes.
func (s *AsyncSink) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
	<-s.done
}

func (s *AsyncSink) RecordTrade(t domain.TradeRecord) {
	s.enqueue("trade", func(ctx context.Context, w Writer) error { return w.InsertTrade(ctx, t) })
}

func (s *AsyncSink) RecordFill(f domain.FillRecord) {
	s.enqueue("fill", func(ctx context.Context, w Writer) error { return w.InsertFill(ctx, f) })
}

func (s *AsyncSink) RecordEvent(e domain.Event) {
	s.enqueue("event", func(ctx context.Context, w Writer) error { return w.InsertEvent(ctx, e) })
}

func (s *AsyncSink) RecordLifecycle(l domain.LifecycleEvent) {
	s.enqueue("lifecycle", func(ctx context.Context, w Writer) error { return w.InsertLifecycle(ctx, l) })
}

func (s *AsyncSink) RecordSnapshot(sn domain.Snapshot) {
	s.enqueue("snapshot", func(ctx context.Context, w Writer) error { return w.InsertSnapshot(ctx, sn) })
}

var (
	_ ports.Telemetry   = (*AsyncSink)(nil)
	_ ports.OrderQueue  = (*SQLiteStorage)(nil)
	_ ports.ReportStore = (*SQLiteStorage)(nil)
	_ Writer            = (*SQLiteStorage)(nil)
)
