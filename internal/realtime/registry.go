package realtime

import (
	"sync"

	"github.com/b3vet/swiftbase/internal/metrics"
	"github.com/b3vet/swiftbase/internal/model"
	"github.com/b3vet/swiftbase/internal/query"
)

// Conn is a subscription's owning connection: the dispatcher's delivery
// target. TrySend must not block; it reports false when the event was
// dropped.
type Conn interface {
	ID() string
	TrySend(msg any) bool
}

// Subscription is one registered interest. DocumentID empty means
// collection-level; Filter, when present, is evaluated against the change
// record's document image with the same semantics as a where clause.
type Subscription struct {
	ID            uint64
	Conn          Conn
	Collection    string
	DocumentID    string
	Filter        []query.Condition
	FilterCombine string
}

func (s *Subscription) matches(rec *model.ChangeRecord) bool {
	if s.Collection != rec.Collection {
		return false
	}
	if s.DocumentID != "" && s.DocumentID != rec.DocumentID {
		return false
	}
	if len(s.Filter) == 0 {
		return true
	}
	return query.Matches(rec.Document, s.Filter, s.FilterCombine)
}

// Registry indexes subscriptions by collection. A single goroutine owns the
// index; all operations are messages to it, so add/remove/match never
// contend on a lock and each runs as one short critical section.
type Registry struct {
	ops       chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	nextID    uint64
	byColl    map[string]map[uint64]*Subscription
	byConn    map[string]map[uint64]*Subscription
}

func NewRegistry() *Registry {
	r := &Registry{
		ops:    make(chan func(), 128),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		byColl: make(map[string]map[uint64]*Subscription),
		byConn: make(map[string]map[uint64]*Subscription),
	}
	go r.run()
	return r
}

func (r *Registry) run() {
	defer close(r.done)
	for {
		select {
		case op := <-r.ops:
			op()
		case <-r.quit:
			// Drain what was enqueued before the quit signal, then stop.
			for {
				select {
				case op := <-r.ops:
					op()
				default:
					return
				}
			}
		}
	}
}

// Close stops the owning goroutine. Pending operations drain first; any
// operation arriving afterwards is a no-op, so a session tearing down
// during shutdown cannot trip over a stopped registry.
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.quit) })
	<-r.done
}

// do runs op on the owning goroutine and waits for it. After Close it
// returns without running op.
func (r *Registry) do(op func()) {
	wait := make(chan struct{})
	select {
	case r.ops <- func() { op(); close(wait) }:
	case <-r.done:
		return
	}
	select {
	case <-wait:
	case <-r.done:
	}
}

// Subscribe registers sub and returns its id.
func (r *Registry) Subscribe(conn Conn, collection, documentID string, filter []query.Condition, combine string) uint64 {
	var id uint64
	r.do(func() {
		r.nextID++
		id = r.nextID
		sub := &Subscription{
			ID:            id,
			Conn:          conn,
			Collection:    collection,
			DocumentID:    documentID,
			Filter:        filter,
			FilterCombine: combine,
		}
		if r.byColl[collection] == nil {
			r.byColl[collection] = make(map[uint64]*Subscription)
		}
		r.byColl[collection][id] = sub
		if r.byConn[conn.ID()] == nil {
			r.byConn[conn.ID()] = make(map[uint64]*Subscription)
		}
		r.byConn[conn.ID()][id] = sub
		metrics.ActiveSubscriptions.Inc()
	})
	return id
}

// Unsubscribe removes one subscription; unknown ids are a no-op.
func (r *Registry) Unsubscribe(id uint64) {
	r.do(func() {
		for _, sub := range r.byConn {
			if s, ok := sub[id]; ok {
				r.remove(s)
				return
			}
		}
	})
}

// UnsubscribeAll removes every subscription of a connection, used on
// disconnect before any further dispatch can reference it.
func (r *Registry) UnsubscribeAll(connID string) {
	r.do(func() {
		for _, s := range r.byConn[connID] {
			r.remove(s)
		}
	})
}

func (r *Registry) remove(s *Subscription) {
	delete(r.byColl[s.Collection], s.ID)
	if len(r.byColl[s.Collection]) == 0 {
		delete(r.byColl, s.Collection)
	}
	delete(r.byConn[s.Conn.ID()], s.ID)
	if len(r.byConn[s.Conn.ID()]) == 0 {
		delete(r.byConn, s.Conn.ID())
	}
	metrics.ActiveSubscriptions.Dec()
}

// Matching returns the subscriptions a change record must be delivered to.
// Each matching subscription appears exactly once.
func (r *Registry) Matching(rec *model.ChangeRecord) []*Subscription {
	var out []*Subscription
	r.do(func() {
		for _, s := range r.byColl[rec.Collection] {
			if s.matches(rec) {
				out = append(out, s)
			}
		}
	})
	return out
}
