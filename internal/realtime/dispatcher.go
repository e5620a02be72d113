package realtime

import (
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/b3vet/swiftbase/internal/metrics"
	"github.com/b3vet/swiftbase/internal/model"
)

// Dispatcher fans committed change records out to matching subscriptions.
// Delivery is an enqueue onto the owning connection's outbound buffer:
// non-blocking, so a slow or dead connection can never block or fail a
// write. Fan-out over the matches of one record runs on a bounded worker
// pool and completes before the next record's fan-out starts, which keeps
// per-subscription delivery in commit order.
type Dispatcher struct {
	registry *Registry
	pool     *ants.Pool
	log      *zap.SugaredLogger
}

func NewDispatcher(registry *Registry, poolSize int, log *zap.SugaredLogger) (*Dispatcher, error) {
	pool, err := ants.NewPool(poolSize, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	return &Dispatcher{registry: registry, pool: pool, log: log}, nil
}

// Dispatch delivers one change record. Errors are logged and dropped; they
// never reach the write caller.
func (d *Dispatcher) Dispatch(rec model.ChangeRecord) {
	matches := d.registry.Matching(&rec)
	if len(matches) == 0 {
		return
	}
	msg := eventMessage(rec)

	var wg sync.WaitGroup
	for _, sub := range matches {
		sub := sub
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if sub.Conn.TrySend(msg) {
				metrics.EventsDelivered.Inc()
			} else {
				metrics.EventsDropped.Inc()
				d.log.Warnw("event dropped on slow connection",
					"connection", sub.Conn.ID(),
					"subscription", sub.ID,
					"collection", rec.Collection)
			}
		}
		if err := d.pool.Submit(task); err != nil {
			// Pool exhausted or closed; deliver inline rather than lose
			// the event.
			task()
		}
	}
	wg.Wait()
}

// Close releases the worker pool.
func (d *Dispatcher) Close() {
	d.pool.Release()
}
