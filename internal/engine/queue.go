package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc"

	"synccity/internal/logging"
)

var (
	errQueueFull   = errors.New("scan queue full")
	errQueueClosed = errors.New("scan queue closed")
)

// scanQueue runs project scans on a fixed set of workers. A project that is
// already waiting is not queued twice; the worker reloads it before scanning
// so it always sees the latest write.
type scanQueue struct {
	engine *Engine
	logger *slog.Logger
	ch     chan string
	wg     conc.WaitGroup

	mu      sync.Mutex
	pending map[string]bool
	closed  bool
}

func newScanQueue(e *Engine, workers, size int) *scanQueue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	q := &scanQueue{
		engine:  e,
		logger:  logging.WithComponent(e.Logger, "engine.queue"),
		ch:      make(chan string, size),
		pending: map[string]bool{},
	}
	for i := 0; i < workers; i++ {
		q.wg.Go(q.work)
	}
	return q
}

// Enqueue schedules a scan of projectID. It never blocks.
func (q *scanQueue) Enqueue(projectID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errQueueClosed
	}
	if q.pending[projectID] {
		q.logger.Debug("scan coalesced", slog.String("project_id", projectID))
		return nil
	}
	select {
	case q.ch <- projectID:
		q.pending[projectID] = true
		return nil
	default:
		return errQueueFull
	}
}

func (q *scanQueue) work() {
	for id := range q.ch {
		q.mu.Lock()
		delete(q.pending, id)
		q.mu.Unlock()
		q.engine.scanByID(context.Background(), id)
	}
}

// Close stops accepting work and waits for queued scans to finish or ctx to end.
func (q *scanQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "drain scan queue")
	}
}
