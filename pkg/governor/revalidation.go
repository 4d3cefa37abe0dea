package governor

import (
	"context"

	"github.com/Sternrassler/httpgov/pkg/cacheentry"
	"github.com/Sternrassler/httpgov/pkg/ratelimit"
)

// revalidationTask is a fire-and-forget background task registered in the
// orchestrator's process-local pending list, so tests can drain it
// deterministically instead of racing a timer.
type revalidationTask struct {
	done chan struct{}
	err  error
}

// scheduleRevalidation issues a conditional re-fetch for a
// stale-while-revalidate hit without blocking the caller. Any failure is
// swallowed; the stale entry remains in the cache until it falls out of the
// SWR window.
func (o *Orchestrator) scheduleRevalidation(rawURL string, opts Options, fp string, stale *cacheentry.Entry, origin, resource string, priority ratelimit.Priority) {
	task := &revalidationTask{done: make(chan struct{})}
	o.mu.Lock()
	o.pending = append(o.pending, task)
	o.mu.Unlock()

	go func() {
		defer close(task.done)
		defer o.deregister(task)
		_, err := o.fetchRecordAndCache(context.Background(), rawURL, origin, resource, priority, fp, opts, stale)
		task.err = err
	}()
}

func (o *Orchestrator) deregister(task *revalidationTask) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, t := range o.pending {
		if t == task {
			o.pending = append(o.pending[:i], o.pending[i+1:]...)
			return
		}
	}
}

// Drain blocks until every background revalidation pending at the time of
// the call has settled, for deterministic tests.
func (o *Orchestrator) Drain(ctx context.Context) error {
	o.mu.Lock()
	tasks := append([]*revalidationTask(nil), o.pending...)
	o.mu.Unlock()

	for _, t := range tasks {
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
