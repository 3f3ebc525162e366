package bus

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// ErrWorkerPanic marks a worker result produced by a recovered panic.
var ErrWorkerPanic = errors.New("bus: worker panicked")

// resultBuffer bounds how many results Results can hold without a reader.
const resultBuffer = 64

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Worker is a long-running actor. Run returns when ctx is cancelled or the
// worker can no longer make progress.
type Worker interface {
	Run(ctx context.Context) error
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context) error

func (f WorkerFunc) Run(ctx context.Context) error { return f(ctx) }

// WorkerResult records how a worker exited.
type WorkerResult struct {
	Name    string
	Err     error
	Stopped time.Time
}

type namedWorker struct {
	name   string
	worker Worker
}

// Supervisor runs workers side by side. A failing worker is reported, never
// propagated to its siblings.
type Supervisor struct {
	logger  Logger
	health  *Topic[HealthEvent]
	mu      sync.Mutex
	workers []namedWorker
	results chan WorkerResult
	running bool
}

// NewSupervisor creates a supervisor. health may be nil.
func NewSupervisor(logger Logger, health *Topic[HealthEvent]) *Supervisor {
	return &Supervisor{
		logger:  logger,
		health:  health,
		results: make(chan WorkerResult, resultBuffer),
	}
}

// Go registers a worker. It must be called before Run.
func (s *Supervisor) Go(name string, w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		panic("bus: Supervisor.Go called after Run")
	}
	s.workers = append(s.workers, namedWorker{name: name, worker: w})
}

// Results streams one WorkerResult per worker as it exits and is closed when Run returns.
// Results a slow reader misses are still part of Run's return value.
func (s *Supervisor) Results() <-chan WorkerResult { return s.results }

// Run starts every worker and blocks until all of them have exited. The
// returned results are in exit order.
func (s *Supervisor) Run(ctx context.Context) []WorkerResult {
	s.mu.Lock()
	s.running = true
	workers := append([]namedWorker(nil), s.workers...)
	s.mu.Unlock()
	defer close(s.results)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out = make([]WorkerResult, 0, len(workers))
	)
	for _, nw := range workers {
		wg.Add(1)
		go func(nw namedWorker) {
			defer wg.Done()
			s.publish(nw.name, HealthStarted, nil)
			s.logger.Info("Worker started", "worker", nw.name)

			err := runSafely(ctx, nw.worker)
			res := WorkerResult{Name: nw.name, Err: err, Stopped: time.Now()}
			switch {
			case err == nil, errors.Is(err, context.Canceled):
				s.logger.Info("Worker stopped", "worker", nw.name)
			default:
				s.logger.Error("Worker failed", "worker", nw.name, "error", err)
			}
			s.publish(nw.name, HealthStopped, err)

			mu.Lock()
			out = append(out, res)
			mu.Unlock()
			select {
			case s.results <- res:
			default:
				s.logger.Warn("Worker result dropped from stream", "worker", nw.name)
			}
		}(nw)
	}
	wg.Wait()
	return out
}

func (s *Supervisor) publish(name string, status HealthStatus, err error) {
	if s.health == nil {
		return
	}
	ev := HealthEvent{Worker: name, Status: status, At: time.Now()}
	if err != nil {
		ev.Err = err.Error()
	}
	s.health.Publish(ev)
}

func runSafely(ctx context.Context, w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrWorkerPanic, r, debug.Stack())
		}
	}()
	return w.Run(ctx)
}
