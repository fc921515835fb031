package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-sentry/internal/log"
	"github.com/teslashibe/go-sentry/pkg/fusion"
	"github.com/teslashibe/go-sentry/pkg/metrics"
)

// Dispatcher fans transitions out to sinks.
type Dispatcher struct {
	workers []*worker
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher for sinks.
func NewDispatcher(cfg Config, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	logger = log.Or(logger, "alert")
	d := &Dispatcher{logger: logger}
	for _, s := range sinks {
		d.workers = append(d.workers, &worker{
			sink:    s,
			size:    cfg.Buffer,
			timeout: cfg.SinkTimeout,
			notify:  make(chan struct{}, 1),
			logger:  logger.With("sink", s.Name()),
		})
	}
	return d
}

// Dispatch queues state for every sink. It never blocks; a full queue
// loses its oldest entry.
func (d *Dispatcher) Dispatch(state fusion.AlertState) {
	for _, w := range d.workers {
		w.push(state)
	}
}

// Pending returns the number of queued, undelivered alerts across sinks.
func (d *Dispatcher) Pending() int {
	n := 0
	for _, w := range d.workers {
		w.mu.Lock()
		n += len(w.queue)
		w.mu.Unlock()
	}
	return n
}

// String implements fmt.Stringer for supervisor logs.
func (d *Dispatcher) String() string { return "alert-dispatcher" }

// Serve delivers queued alerts until ctx ends.
func (d *Dispatcher) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.run(ctx)
		}(w)
	}
	wg.Wait()
	return ctx.Err()
}

type worker struct {
	sink    Sink
	size    int
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	queue  []fusion.AlertState
	notify chan struct{}
}

func (w *worker) push(state fusion.AlertState) {
	w.mu.Lock()
	if len(w.queue) >= w.size {
		dropped := w.queue[0]
		w.queue = w.queue[1:]
		metrics.AlertsDropped.Inc()
		w.logger.Warn("alert queue full, dropping oldest", "dropped", dropped.ID, "level", dropped.Level.String())
	}
	w.queue = append(w.queue, state)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *worker) pop() (fusion.AlertState, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return fusion.AlertState{}, false
	}
	s := w.queue[0]
	w.queue = w.queue[1:]
	return s, true
}

func (w *worker) run(ctx context.Context) {
	for {
		for {
			state, ok := w.pop()
			if !ok {
				break
			}
			if ctx.Err() != nil {
				return
			}
			w.deliver(ctx, state)
		}

		select {
		case <-ctx.Done():
			return
		case <-w.notify:
		}
	}
}

func (w *worker) deliver(ctx context.Context, state fusion.AlertState) {
	dctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := w.sink.Deliver(dctx, state); err != nil {
		metrics.SinkErrors.WithLabelValues(w.sink.Name()).Inc()
		w.logger.Warn("alert delivery failed", "error", err, "id", state.ID, "level", state.Level.String())
	}
}
