package scribe

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/bosley/voxnote/auth"
	"github.com/bosley/voxnote/pipeline"
)

var (
	ErrQueueFull   = errors.New("job queue is full")
	ErrQueueClosed = errors.New("job queue is closed")
)

// Queue is the in-process hand-off between uploads and analysis workers.
type Queue struct {
	mu       sync.RWMutex
	closed   bool
	jobs     chan pipeline.Job
	stopping chan struct{}
	stopOnce sync.Once
}

func NewQueue(size int) *Queue {
	return &Queue{
		jobs:     make(chan pipeline.Job, size),
		stopping: make(chan struct{}),
	}
}

// Dispatch enqueues without blocking.
func (q *Queue) Dispatch(ctx context.Context, job pipeline.Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		slog.Info("Queued recording for analysis", "recordingID", job.RecordingID, "ownerID", job.OwnerID)
		return nil
	default:
		return ErrQueueFull
	}
}

// Put waits for room in the queue.
func (q *Queue) Put(ctx context.Context, job pipeline.Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.stopping:
		return ErrQueueClosed
	}
}

// Close stops accepting jobs. Jobs already queued are still delivered.
func (q *Queue) Close() {
	// Wake blocked Put calls before taking the write lock.
	q.stopOnce.Do(func() { close(q.stopping) })

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}

func (s *Scribe) startWorkers() {
	s.workersOnce.Do(func() {
		for i := 0; i < s.config.Workers; i++ {
			s.workers.Add(1)
			go s.worker()
		}
	})
}

// worker runs jobs until the queue is closed and drained. Jobs are not
// cancelled by shutdown; each one runs to a terminal status.
func (s *Scribe) worker() {
	slog.Debug("Worker starting")
	defer func() {
		slog.Debug("Worker shutting down")
		s.workers.Done()
	}()

	for job := range s.queue.jobs {
		s.processJob(job)
	}
}

func (s *Scribe) processJob(job pipeline.Job) {
	slog.Info("Processing recording",
		"recordingID", job.RecordingID,
		"ownerID", job.OwnerID)

	ctx := auth.WithIdentity(context.Background(), job.RequestedBy)
	if _, err := s.analyzer.Process(ctx, job); err != nil {
		slog.Error("Failed to process analysis job",
			"error", err,
			"recordingID", job.RecordingID,
			"ownerID", job.OwnerID)
	}
}
