package event

import (
	"log/slog"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/logging"
)

// pointWriter is the part of api.WriteAPI the Writer needs.
type pointWriter interface {
	WritePoint(p *write.Point)
	Errors() <-chan error
}

// Writer wraps the non-blocking Influx write API and remembers when the last
// asynchronous write error happened, for /healthz and /readyz.
type Writer struct {
	api     pointWriter
	log     *slog.Logger
	mu      sync.RWMutex
	lastErr time.Time
	counts  map[string]int64
	done    chan struct{}
}

// NewWriter starts draining w.Errors(). The goroutine exits when the
// channel is closed, which happens when the Influx client is closed.
func NewWriter(w pointWriter, log *slog.Logger) *Writer {
	ww := &Writer{
		api:    w,
		log:    logging.OrDiscard(log),
		counts: make(map[string]int64),
		done:   make(chan struct{}),
	}
	go ww.drain()
	return ww
}

func (w *Writer) drain() {
	defer close(w.done)
	for err := range w.api.Errors() {
		if err == nil {
			continue
		}
		w.mu.Lock()
		w.lastErr = time.Now()
		w.mu.Unlock()
		w.log.Warn("influx write error", "error", err)
	}
}

// Write queues p and counts it under kind.
func (w *Writer) Write(kind string, p *write.Point) {
	w.api.WritePoint(p)
	w.mu.Lock()
	w.counts[kind]++
	w.mu.Unlock()
}

// LastErrorAge reports how long ago the last write error happened. A writer
// that never failed reports a very large age.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	if t.IsZero() {
		return 99999 * time.Hour
	}
	return time.Since(t)
}

func (w *Writer) Count(kind string) int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.counts[kind]
}

// Done is closed once the error channel has been drained.
func (w *Writer) Done() <-chan struct{} { return w.done }
