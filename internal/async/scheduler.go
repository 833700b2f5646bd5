// Package async dispatches indexing runs onto a worker pool. Triggering
// returns immediately with the job's window bounds; the run itself
// executes in the background.
package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/driftline/driftline/internal/index"
	"github.com/driftline/driftline/internal/store"
)

// DefaultWorkers sizes the indexing pool when unconfigured.
const DefaultWorkers = 4

// Job is the immediately-returned handle for a triggered indexing run.
type Job struct {
	ID            string
	ConnectorID   int64
	SearchSpaceID int64
	WindowStart   time.Time
	WindowEnd     time.Time

	done chan struct{}

	mu      sync.Mutex
	indexed int
	outcome index.Outcome
}

// Wait blocks until the run completes or ctx is done.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result returns the run's document count and outcome. Valid only
// after Wait has returned nil.
func (j *Job) Result() (int, index.Outcome) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.indexed, j.outcome
}

// Scheduler validates trigger requests, submits runs to the pool, and
// serializes runs of the same connector with a keyed mutex so
// overlapping triggers queue instead of racing the checkpoint.
type Scheduler struct {
	store  store.ContentStore
	runner *index.Runner
	pool   *ants.Pool

	mu       sync.Mutex
	perConn  map[int64]*sync.Mutex
	closed   bool
	inFlight sync.WaitGroup
}

// NewScheduler creates a scheduler with the given pool size.
func NewScheduler(st store.ContentStore, runner *index.Runner, workers int) (*Scheduler, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("async: create pool: %w", err)
	}
	return &Scheduler{
		store:   st,
		runner:  runner,
		pool:    pool,
		perConn: make(map[int64]*sync.Mutex),
	}, nil
}

// Trigger validates the request, computes the window the run will
// fetch, and submits it. It returns the job handle without waiting for
// the run.
func (s *Scheduler) Trigger(ctx context.Context, connectorID, searchSpaceID int64) (*Job, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("async: scheduler is closed")
	}
	s.mu.Unlock()

	conn, err := s.store.GetConnector(ctx, connectorID)
	if err != nil {
		return nil, fmt.Errorf("async: connector %d: %w", connectorID, err)
	}
	if !conn.IsIndexable {
		return nil, fmt.Errorf("async: connector %d (%s) is not indexable", connectorID, conn.Type)
	}
	if _, err := s.store.GetSearchSpace(ctx, searchSpaceID); err != nil {
		return nil, fmt.Errorf("async: search space %d: %w", searchSpaceID, err)
	}

	since, until := s.runner.Window(conn.LastIndexedAt)
	job := &Job{
		ID:            uuid.NewString(),
		ConnectorID:   connectorID,
		SearchSpaceID: searchSpaceID,
		WindowStart:   since,
		WindowEnd:     until,
		done:          make(chan struct{}),
	}

	lock := s.connLock(connectorID)

	s.inFlight.Add(1)
	submitErr := s.pool.Submit(func() {
		defer s.inFlight.Done()
		defer close(job.done)

		// Same-connector runs execute one at a time.
		lock.Lock()
		defer lock.Unlock()

		indexed, outcome := s.runner.RunIndexing(context.Background(), connectorID, searchSpaceID)

		job.mu.Lock()
		job.indexed = indexed
		job.outcome = outcome
		job.mu.Unlock()

		slog.Info("indexing job finished",
			slog.String("job_id", job.ID),
			slog.Int64("connector_id", connectorID),
			slog.Int("indexed", indexed),
			slog.String("status", string(outcome.Status)),
			slog.String("message", outcome.Message))
	})
	if submitErr != nil {
		s.inFlight.Done()
		return nil, fmt.Errorf("async: submit job: %w", submitErr)
	}

	return job, nil
}

func (s *Scheduler) connLock(connectorID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.perConn[connectorID]
	if !ok {
		lock = &sync.Mutex{}
		s.perConn[connectorID] = lock
	}
	return lock
}

// Close waits for in-flight jobs and releases the pool.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.inFlight.Wait()
	s.pool.Release()
}
