package replicator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

type Storage interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
}

type Job struct {
	Filename string
	Size     int64
	Hash     string
}

// Replicator copies artifacts from local to remote storage in the
// background. A job is retried in place up to maxRetries times.
type Replicator struct {
	local  Storage
	remote Storage

	queue      chan Job
	workerNum  int
	maxRetries int
	backoff    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

func New(local, remote Storage, queueSize, workerNum, maxRetries int) *Replicator {
	if queueSize <= 0 {
		queueSize = 100
	}
	if workerNum <= 0 {
		workerNum = 1
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Replicator{
		local:      local,
		remote:     remote,
		queue:      make(chan Job, queueSize),
		workerNum:  workerNum,
		maxRetries: maxRetries,
		backoff:    500 * time.Millisecond,
	}
}

func (r *Replicator) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.started {
		return
	}
	r.started = true
	// Workers outlive ctx so Stop can drain the queue on shutdown.
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))

	r.wg.Add(r.workerNum)
	for i := range r.workerNum {
		go r.worker(i)
	}
}

// Stop refuses new jobs and waits for queued ones until ctx is done. Jobs
// still pending at that point are abandoned.
func (r *Replicator) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	started := r.started
	r.mu.Unlock()

	if !started {
		return nil
	}

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		r.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		r.cancel()
		return fmt.Errorf("replicator: drain interrupted: %w", ctx.Err())
	case <-doneCh:
		r.cancel()
	}

	slog.Info("replicator: stopped")
	return nil
}

// Enqueue schedules a job. It reports false when the queue is full or the
// replicator is stopped.
func (r *Replicator) Enqueue(job Job) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return false
	}
	select {
	case r.queue <- job:
		return true
	default:
		return false
	}
}

func (r *Replicator) worker(id int) {
	defer r.wg.Done()

	for job := range r.queue {
		if r.ctx.Err() != nil {
			return
		}
		r.handleJob(r.ctx, id, job)
	}
}

func (r *Replicator) handleJob(ctx context.Context, worker int, job Job) {
	l := slog.With(
		slog.String("filename", job.Filename),
		slog.Int("worker", worker),
	)

	delay := r.backoff
	for attempt := 0; ; attempt++ {
		err := r.replicateOnce(ctx, job)
		if err == nil {
			return
		}
		if attempt >= r.maxRetries {
			l.Error("replication failed, max retries exceeded",
				slog.Int("attempts", attempt+1),
				slog.String("error", err.Error()),
			)
			return
		}

		l.Warn("replication failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay *= 2
	}
}

func (r *Replicator) replicateOnce(ctx context.Context, job Job) error {
	rc, size, err := r.local.Open(ctx, job.Filename)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer rc.Close()

	if job.Size > 0 {
		size = job.Size
	}

	written, remoteHash, err := r.remote.Save(ctx, rc, job.Filename, size)
	if err != nil {
		return fmt.Errorf("save to remote: %w", err)
	}
	if written <= 0 {
		return fmt.Errorf("remote save wrote zero bytes")
	}
	if job.Hash != "" && remoteHash != "" && job.Hash != remoteHash {
		return fmt.Errorf("hash mismatch: local=%s remote=%s", job.Hash, remoteHash)
	}

	slog.Debug("replicator: artifact mirrored",
		slog.String("filename", job.Filename),
		slog.Int64("size", written),
	)
	return nil
}
