package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Aman-CERP/pagesearch/internal/embed"
	apperr "github.com/Aman-CERP/pagesearch/internal/errors"
)

// Scheduler defaults.
const (
	DefaultQueueSize       = 256
	DefaultShutdownTimeout = 5 * time.Second
)

// ErrQueueFull is returned by Submit when the queue has no room. The page
// is picked up again on its next visit.
var ErrQueueFull = apperr.New(apperr.ErrCodeQueueFull, "indexing queue is full", nil)

// ErrShutdown is returned by Submit after Shutdown.
var ErrShutdown = apperr.New(apperr.ErrCodeShutdown, "indexing scheduler is shut down", nil)

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Workers   int
	QueueSize int

	// Retry applies to transient provider failures. The zero value never
	// retries.
	Retry apperr.RetryConfig

	// OnDone, when set, is called after every job.
	OnDone func(PageContext, Outcome, error)
}

// Scheduler runs IndexPage in the background. Submit only enqueues, so
// page navigation never waits on indexing.
type Scheduler struct {
	pipeline *Pipeline
	cfg      SchedulerConfig
	pool     *ants.Pool
	queue    chan PageContext

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup

	dispatched chan struct{}
}

// NewScheduler starts a scheduler over p.
func NewScheduler(p *Pipeline, cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultQueueSize
	}

	if cfg.Retry.ShouldRetry == nil {
		cfg.Retry.ShouldRetry = retryableProviderFailure
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, apperr.InternalError("create indexing worker pool", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		pipeline:   p,
		cfg:        cfg,
		pool:       pool,
		queue:      make(chan PageContext, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
		dispatched: make(chan struct{}),
	}
	go s.dispatch()
	return s, nil
}

// Submit enqueues pc without blocking. It returns ErrQueueFull when the
// queue is full and ErrShutdown after Shutdown.
func (s *Scheduler) Submit(pc PageContext) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrShutdown
	}
	if pc.VisitedAt.IsZero() {
		pc.VisitedAt = s.pipeline.now()
	}

	s.pending.Add(1)
	select {
	case s.queue <- pc:
		return nil
	default:
		s.pending.Done()
		slog.Warn("index_queue_full", slog.String("url", pc.URL), slog.Int("capacity", cap(s.queue)))
		return ErrQueueFull
	}
}

// Queued returns the number of jobs waiting for a worker.
func (s *Scheduler) Queued() int { return len(s.queue) }

// Running returns the number of busy workers.
func (s *Scheduler) Running() int { return s.pool.Running() }

// dispatch hands queued jobs to the pool. Submit on a blocking pool waits
// for a free worker, which keeps the queue as the only buffer.
func (s *Scheduler) dispatch() {
	defer close(s.dispatched)
	for pc := range s.queue {
		if err := s.pool.Submit(func() { s.run(pc) }); err != nil {
			s.complete(pc, Outcome{}, apperr.InternalError("submit index job", err))
		}
	}
}

// run indexes pc. Retries skip the visit, which the first attempt already
// recorded.
func (s *Scheduler) run(pc PageContext) {
	var (
		out Outcome
		err error
	)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("index_job_panic", slog.String("url", pc.URL), slog.String("panic", fmt.Sprint(r)))
			err = apperr.InternalError(fmt.Sprintf("index job panicked: %v", r), nil)
		}
		s.complete(pc, out, err)
	}()

	attempt := 0
	out, err = apperr.RetryWithResult(s.ctx, s.cfg.Retry, func() (Outcome, error) {
		attempt++
		if attempt == 1 {
			return s.pipeline.IndexPage(s.ctx, pc)
		}
		slog.Debug("index_job_retry", slog.String("url", pc.URL), slog.Int("attempt", attempt))
		return s.pipeline.coalesce(s.ctx, pc.URL, func(jobCtx context.Context) (Outcome, error) {
			return s.pipeline.index(jobCtx, pc)
		})
	})
}

// retryableProviderFailure retries only transient provider errors.
func retryableProviderFailure(err error) bool {
	var pe *embed.ProviderError
	return errors.As(err, &pe) && pe.Retryable()
}

func (s *Scheduler) complete(pc PageContext, out Outcome, err error) {
	defer s.pending.Done()
	if s.cfg.OnDone != nil {
		s.cfg.OnDone(pc, out, err)
	}
}

// Shutdown stops accepting jobs and waits up to timeout for queued and
// running jobs to finish. Jobs still running after the budget are
// cancelled and an ERR_404 error is returned.
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	drained := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-time.After(timeout):
		left := len(s.queue) + s.pool.Running()
		slog.Warn("index_shutdown_timeout",
			slog.Duration("timeout", timeout),
			slog.Int("unfinished", left))
		err = apperr.New(apperr.ErrCodeShutdown,
			fmt.Sprintf("%d indexing jobs unfinished after %s", left, timeout), nil)
		s.cancel()
		<-drained
	}

	<-s.dispatched
	s.cancel()
	s.pool.Release()
	return err
}
