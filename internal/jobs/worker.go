package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type WorkerPool struct {
	repo        *Repository
	handlers    map[string]Handler
	logger      *slog.Logger
	workerCount int
	poll        time.Duration
	backoff     func(attempt int) time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// PoolOption customises a WorkerPool.
type PoolOption func(*WorkerPool)

// WithPollInterval sets how long an idle worker waits before looking again.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *WorkerPool) {
		if d > 0 {
			p.poll = d
		}
	}
}

// WithBackoff replaces BackoffDuration for retries.
func WithBackoff(f func(attempt int) time.Duration) PoolOption {
	return func(p *WorkerPool) {
		if f != nil {
			p.backoff = f
		}
	}
}

func NewWorkerPool(repo *Repository, handlers map[string]Handler, logger *slog.Logger, workerCount int, opts ...PoolOption) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &WorkerPool{
		repo:        repo,
		handlers:    handlers,
		logger:      logger,
		workerCount: workerCount,
		poll:        500 * time.Millisecond,
		backoff:     BackoffDuration,
		stop:        make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start requeues jobs a previous process left running and launches the workers.
func (p *WorkerPool) Start(ctx context.Context) {
	if n, err := p.repo.RequeueRunning(ctx); err != nil {
		p.logger.Error("requeue running jobs", "err", err)
	} else if n > 0 {
		p.logger.Warn("requeued interrupted jobs", "count", n)
	}
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop signals workers to stop and waits for them. It is safe to call twice.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}

// wait sleeps for d unless the pool is stopping. It reports whether to keep going.
func (p *WorkerPool) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.stop:
		return false
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			p.logger.Debug("worker stopping", "id", id)
			return
		case <-ctx.Done():
			p.logger.Debug("context canceled, worker exiting", "id", id)
			return
		default:
		}

		job, err := p.repo.Claim(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error("claim job", "err", err)
			}
			if !p.wait(ctx, 2*p.poll) {
				return
			}
			continue
		}
		if job == nil {
			if !p.wait(ctx, p.poll) {
				return
			}
			continue
		}
		p.run(ctx, job)
	}
}

func (p *WorkerPool) run(ctx context.Context, job *Job) {
	log := p.logger.With("job_id", job.ID, "type", job.Type, "attempt", job.Attempts+1)

	h, ok := p.handlers[job.Type]
	if !ok {
		job.Status = StatusFailed
		job.LastError = "no handler"
		if err := p.repo.MoveToDeadLetter(ctx, job); err != nil {
			log.Error("move to dead letter", "err", err)
		}
		log.Warn("job has no handler")
		return
	}

	err := h(ctx, job)
	if err == nil {
		job.Status = StatusDone
		job.LastError = ""
		if upErr := p.repo.UpdateJob(ctx, job); upErr != nil {
			log.Error("mark job done", "err", upErr)
		}
		log.Info("job done")
		return
	}

	job.Attempts++
	job.LastError = err.Error()
	if errors.Is(err, ErrPermanent) || job.Attempts >= job.MaxAttempts {
		job.Status = StatusFailed
		if !errors.Is(err, ErrPermanent) {
			job.LastError = fmt.Sprintf("%s: %s", ErrMaxAttempts, err)
		}
		if mvErr := p.repo.MoveToDeadLetter(ctx, job); mvErr != nil {
			log.Error("move to dead letter", "err", mvErr)
		}
		log.Warn("job dead-lettered", "err", err)
		return
	}

	t := p.repo.now().Add(p.backoff(job.Attempts))
	job.NextTryAt = &t
	job.Status = StatusRetry
	if upErr := p.repo.UpdateJob(ctx, job); upErr != nil {
		log.Error("update job for retry", "err", upErr)
	}
	log.Warn("job failed, will retry", "err", err, "next_try_at", t)
}

// Enqueue convenience helper that creates a job and persists it
func (p *WorkerPool) Enqueue(ctx context.Context, typ string, payload any, priority int, maxAttempts int) (int64, error) {
	return Enqueue(ctx, p.repo, typ, payload, priority, maxAttempts)
}

// Enqueue marshals payload and inserts a job of typ.
func Enqueue(ctx context.Context, repo *Repository, typ string, payload any, priority int, maxAttempts int) (int64, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	return repo.Enqueue(ctx, &Job{Type: typ, Payload: b, Priority: priority, MaxAttempts: maxAttempts})
}
