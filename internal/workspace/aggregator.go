// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package workspace

import (
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/catalog-engine/internal/events"
	"github.com/pdiddy/catalog-engine/internal/identity"
	"github.com/pdiddy/catalog-engine/internal/observe"
	"github.com/pdiddy/catalog-engine/internal/query"
	"github.com/pdiddy/catalog-engine/internal/result"
)

// DefaultDebounce is the aggregate batch window when none is configured.
const DefaultDebounce = 16 * time.Millisecond

// Aggregate is a published aggregate snapshot.
type Aggregate struct {
	WorkspaceID string
	Results     []*result.Record
}

// Aggregator maintains the identity-deduplicated union of every result set
// in a workspace. It joins over shared record pointers and never copies data.
type Aggregator struct {
	workspaceID string
	members     func() []*query.ResultSet
	hidden      func(identity.Key) bool
	bus         *events.Bus
	log         *zap.Logger
	batch       *debouncer

	// recompute serializes HandleUpdate from snapshot to publish, so an
	// older union never replaces a newer one.
	recompute sync.Mutex

	mu         sync.Mutex
	results    []*result.Record
	index      map[identity.Key]*result.Record
	watching   map[*query.ResultSet]func()
	recomputes int
	closed     bool

	changes observe.Subject[Aggregate]
}

func newAggregator(workspaceID string, members func() []*query.ResultSet, hidden func(identity.Key) bool, debounce time.Duration, bus *events.Bus, log *zap.Logger) *Aggregator {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	a := &Aggregator{
		workspaceID: workspaceID,
		members:     members,
		hidden:      hidden,
		bus:         bus,
		log:         log,
		index:       make(map[identity.Key]*result.Record),
		watching:    make(map[*query.ResultSet]func()),
	}
	a.batch = newDebouncer(debounce, a.HandleUpdate)
	return a
}

// watch starts scheduling recomputes on changes to rs.
func (a *Aggregator) watch(rs *query.ResultSet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.watching[rs]; ok || a.closed {
		return
	}
	a.watching[rs] = rs.Subscribe(func(query.Change) { a.Schedule() })
}

func (a *Aggregator) unwatch(rs *query.ResultSet) {
	a.mu.Lock()
	cancel, ok := a.watching[rs]
	delete(a.watching, rs)
	a.mu.Unlock()
	if ok {
		cancel()
	}
}

// Schedule requests a recompute within the batch window. Many changes in
// the same window cost one recompute.
func (a *Aggregator) Schedule() {
	a.batch.Trigger()
}

// Flush runs a scheduled recompute now and waits for one already running.
// It reports whether one was pending.
func (a *Aggregator) Flush() bool {
	pending := a.batch.Flush()
	a.recompute.Lock()
	defer a.recompute.Unlock()
	return pending
}

// HandleUpdate recomputes the aggregate from the current member result sets.
// Records are walked in query order then result order; the first record seen
// for an identity is the one kept. Unidentifiable records are included once
// each. Records of removed queries disappear because the union is rebuilt
// from scratch.
func (a *Aggregator) HandleUpdate() {
	a.recompute.Lock()
	defer a.recompute.Unlock()

	var (
		results []*result.Record
		index   = make(map[identity.Key]*result.Record)
		seen    = make(map[*result.Record]bool)
	)
	for _, rs := range a.members() {
		for _, rec := range rs.Results() {
			if seen[rec] {
				continue
			}
			key, ok := rec.Key()
			if ok {
				if _, dup := index[key]; dup {
					continue
				}
				if a.hidden != nil && a.hidden(key) {
					continue
				}
				index[key] = rec
			}
			seen[rec] = true
			results = append(results, rec)
		}
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.results = results
	a.index = index
	a.recomputes++
	a.mu.Unlock()

	a.log.Debug("aggregate recomputed", zap.String("workspace", a.workspaceID), zap.Int("results", len(results)))
	a.bus.Publish(events.AggregateUpdated{WorkspaceID: a.workspaceID, Len: len(results)})
	a.changes.Publish(Aggregate{WorkspaceID: a.workspaceID, Results: slices.Clone(results)})
}

// Subscribe registers fn for every recomputed aggregate.
func (a *Aggregator) Subscribe(fn func(Aggregate)) (cancel func()) {
	return a.changes.Subscribe(fn)
}

// Results returns the current aggregate.
func (a *Aggregator) Results() []*result.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.results)
}

// Len returns the number of aggregated records.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

// Lookup returns the aggregated record for key.
func (a *Aggregator) Lookup(key identity.Key) (*result.Record, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.index[key]
	return r, ok
}

// Recomputes returns how many times the aggregate has been rebuilt.
func (a *Aggregator) Recomputes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recomputes
}

func (a *Aggregator) close() {
	a.batch.Stop()
	a.mu.Lock()
	a.closed = true
	cancels := make([]func(), 0, len(a.watching))
	for _, c := range a.watching {
		cancels = append(cancels, c)
	}
	a.watching = nil
	a.results = nil
	a.index = nil
	a.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	a.changes.Reset()
}
