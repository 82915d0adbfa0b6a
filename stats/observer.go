package stats

import (
	"log/slog"

	"github.com/vechain/dposcore/types"
)

// Observer fans committed events out to the handlers through the pool. It
// satisfies consensus.Observer.
type Observer struct {
	pool     *WorkerPool
	handlers map[string]Handler
}

func NewObserver(pool *WorkerPool, handlers map[string]Handler) *Observer {
	return &Observer{pool: pool, handlers: handlers}
}

func (o *Observer) Observe(event types.Event) {
	ev := event
	tasks := make([]Task, 0, len(o.handlers))
	for name, handler := range o.handlers {
		tasks = append(tasks, Task{
			EventType: name,
			Handler:   handler,
			Event:     &ev,
		})
	}
	if err := o.pool.SubmitBatch(tasks); err != nil {
		slog.Error("failed to submit tasks to worker pool", "kind", event.Kind, "height", event.Height, "error", err)
	}
}
