// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package query owns the result set of a single query: one asynchronous
// multi-source search at a time, merged on arrival into an ordered,
// identity-deduplicated list of shared records.
package query

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/catalog-engine/internal/events"
	"github.com/pdiddy/catalog-engine/internal/identity"
	"github.com/pdiddy/catalog-engine/internal/observe"
	"github.com/pdiddy/catalog-engine/internal/result"
	"github.com/pdiddy/catalog-engine/pkg/types"
)

var (
	// ErrNoSources is returned when a search is started for a query with no sources.
	ErrNoSources = errors.New("query has no sources")

	// ErrClosed is returned when a search is started on a closed result set.
	ErrClosed = errors.New("result set is closed")
)

// Searcher runs one query against one federated source. Each source of a
// query is searched independently so responses can be merged as they arrive.
type Searcher interface {
	Search(ctx context.Context, q types.QueryDescriptor, sourceID string) (types.SourceResponse, error)
}

// State is the lifecycle state of the current search.
type State int

const (
	StateIdle State = iota
	StatePending
	StatePartial
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StatePartial:
		return "partial"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further source responses will be merged.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// ChangeKind classifies a result set Change.
type ChangeKind int

const (
	// Reset means results were cleared for a new search execution.
	Reset ChangeKind = iota
	// Merged means a source response was merged.
	Merged
	// StatusChanged means only the state or status block changed.
	StatusChanged
	// RecordRemoved means a record was explicitly removed.
	RecordRemoved
	// Closed means the result set was torn down.
	Closed
)

// Change describes one mutation of a ResultSet.
type Change struct {
	Set     *ResultSet
	Kind    ChangeKind
	Source  string
	Added   []*result.Record
	Updated []*result.Record
	Removed []*result.Record
}

// Options configures a ResultSet.
type Options struct {
	Searcher Searcher
	// Fetcher is handed to every record the set creates.
	Fetcher result.Fetcher
	Bus     *events.Bus
	Logger  *zap.Logger
	// Now is the clock used for the initiated timestamp. Tests override it.
	Now func() time.Time
}

// ResultSet is the ordered collection of records produced by one query.
// ResultSet is safe for concurrent use.
type ResultSet struct {
	searcher Searcher
	fetcher  result.Fetcher
	bus      *events.Bus
	log      *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	desc      types.QueryDescriptor
	results   []*result.Record
	index     map[identity.Key]*result.Record
	status    map[string]types.SourceStatus
	initiated time.Time
	state     State
	canceled  bool
	closed    bool

	// gen is the generation token of the current search. Every response
	// carries the generation it was issued under and is discarded unless it
	// still matches.
	gen       uint64
	cancel    context.CancelFunc
	done      chan struct{}
	remaining int

	changes observe.Subject[Change]
}

// New creates an idle result set for desc. A missing query id is filled
// with a random UUID.
func New(desc types.QueryDescriptor, opts Options) *ResultSet {
	if desc.ID == "" {
		desc.ID = uuid.NewString()
	}
	desc.Sources = uniqueSources(desc.Sources)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ResultSet{
		searcher: opts.Searcher,
		fetcher:  opts.Fetcher,
		bus:      opts.Bus,
		log:      opts.Logger.With(zap.String("query", desc.ID)),
		now:      opts.Now,
		desc:     desc,
		index:    make(map[identity.Key]*result.Record),
		status:   make(map[string]types.SourceStatus),
	}
}

// ID returns the query id.
func (s *ResultSet) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc.ID
}

// Descriptor returns the query the set executes.
func (s *ResultSet) Descriptor() types.QueryDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc
}

// SetDescriptor replaces the query. The id is kept; the change takes effect
// on the next StartSearch.
func (s *ResultSet) SetDescriptor(desc types.QueryDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	desc.ID = s.desc.ID
	desc.Sources = uniqueSources(desc.Sources)
	s.desc = desc
}

// uniqueSources drops repeated source ids, keeping first-seen order. Each
// source is searched and reported once.
func uniqueSources(sources []string) []string {
	if len(sources) == 0 {
		return sources
	}
	out := make([]string, 0, len(sources))
	for _, src := range sources {
		if !slices.Contains(out, src) {
			out = append(out, src)
		}
	}
	return out
}

// Subscribe registers fn for every change to the set.
func (s *ResultSet) Subscribe(fn func(Change)) (cancel func()) {
	return s.changes.Subscribe(fn)
}

// StartSearch begins a new execution of the query against every source.
// Any search still in flight is canceled first, and its late responses are
// discarded. Results from the previous execution are cleared. The returned
// channel is closed when every source has reported, or when this execution
// is canceled or superseded.
func (s *ResultSet) StartSearch(ctx context.Context) (<-chan struct{}, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if len(s.desc.Sources) == 0 {
		s.mu.Unlock()
		return nil, ErrNoSources
	}
	if s.searcher == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("query %s: no searcher configured", s.desc.ID)
	}

	superseded := s.cancelLocked()

	s.gen++
	gen := s.gen
	old := s.results
	s.results = nil
	s.index = make(map[identity.Key]*result.Record)
	s.status = make(map[string]types.SourceStatus, len(s.desc.Sources))
	for _, src := range s.desc.Sources {
		s.status[src] = types.SourceStatus{ID: src}
	}
	s.state = StatePending
	s.canceled = false
	s.initiated = s.now()
	s.remaining = len(s.desc.Sources)
	searchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done
	desc := s.desc
	desc.Sources = slices.Clone(desc.Sources)
	s.mu.Unlock()

	if superseded != nil {
		close(superseded)
	}
	for _, r := range old {
		r.Release()
	}

	s.log.Debug("search started", zap.Uint64("generation", gen), zap.Strings("sources", desc.Sources))
	s.bus.Publish(events.SearchStarted{QueryID: desc.ID, Generation: gen, Sources: desc.Sources})
	s.bus.Publish(events.ResultsChanged{QueryID: desc.ID, Len: 0})
	s.changes.Publish(Change{Set: s, Kind: Reset, Removed: old})

	go func() {
		defer cancel()
		var g errgroup.Group
		for _, src := range desc.Sources {
			g.Go(func() error {
				resp, err := s.searcher.Search(searchCtx, desc, src)
				s.deliver(gen, src, resp, err)
				return nil
			})
		}
		_ = g.Wait()
	}()

	return done, nil
}

// deliver merges one source response if it belongs to the current generation.
func (s *ResultSet) deliver(gen uint64, src string, resp types.SourceResponse, err error) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		s.log.Debug("discarding superseded response", zap.String("source", src), zap.Uint64("generation", gen))
		return
	}

	status := types.SourceStatus{ID: src}
	var added []*result.Record
	var staged []result.Change
	if err != nil {
		status.Successful = types.Bool(false)
		status.Message = err.Error()
	} else {
		status = resp.Status
		status.ID = src
		if status.Successful == nil {
			status.Successful = types.Bool(true)
		}
		added, staged = s.mergeLocked(resp.Results)
	}
	s.status[src] = status
	s.remaining--
	prev := s.state
	s.state = s.stateLocked()
	state := s.state
	n := len(s.results)
	id := s.desc.ID
	var done chan struct{}
	if s.remaining == 0 {
		done, s.done = s.done, nil
		s.cancel = nil
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("source search failed", zap.String("source", src), zap.Error(err))
	}

	updated := make([]*result.Record, 0, len(staged))
	for _, c := range staged {
		c.Record.Notify(c)
		updated = append(updated, c.Record)
	}

	s.bus.Publish(events.SourceResponded{
		QueryID: id, SourceID: src, Successful: !status.Failed(), Count: len(resp.Results),
	})
	s.bus.Publish(events.ResultsChanged{QueryID: id, Len: n})
	if state != prev {
		s.bus.Publish(events.SearchStateChanged{QueryID: id, State: state.String()})
	}
	s.changes.Publish(Change{Set: s, Kind: Merged, Source: src, Added: added, Updated: updated})

	if done != nil {
		close(done)
	}
}

// mergeLocked applies the merge-on-arrival policy: unseen identities are
// inserted at their sort position, known identities are updated in place.
// Within one response a later duplicate overwrites an earlier one.
func (s *ResultSet) mergeLocked(cards []types.Metacard) (added []*result.Record, staged []result.Change) {
	less := comparator(s.desc.Sort)
	for _, m := range cards {
		key, ok := identity.Of(m)
		if ok {
			if rec, exists := s.index[key]; exists {
				c, err := rec.Merge(m)
				if err != nil {
					s.log.Warn("skipping metacard", zap.Stringer("key", key), zap.Error(err))
					continue
				}
				if len(c.Fields) == 0 {
					continue
				}
				staged = append(staged, c)
				if less != nil && sortFields(s.desc.Sort, c.Fields) {
					s.removeLocked(rec)
					s.insertLocked(rec, less)
				}
				continue
			}
		}

		rec := result.New(m, s.fetcher, s.log)
		rec.Retain()
		if ok {
			s.index[key] = rec
		}
		s.insertLocked(rec, less)
		added = append(added, rec)
	}
	return added, staged
}

// insertLocked places rec after every record that does not sort after it,
// so ties keep arrival order.
func (s *ResultSet) insertLocked(rec *result.Record, less func(a, b *result.Record) int) {
	if less == nil {
		s.results = append(s.results, rec)
		return
	}
	i, _ := slices.BinarySearchFunc(s.results, rec, func(e, target *result.Record) int {
		if less(e, target) <= 0 {
			return -1
		}
		return 1
	})
	s.results = slices.Insert(s.results, i, rec)
}

func (s *ResultSet) removeLocked(rec *result.Record) bool {
	i := slices.Index(s.results, rec)
	if i < 0 {
		return false
	}
	s.results = slices.Delete(s.results, i, i+1)
	return true
}

func (s *ResultSet) stateLocked() State {
	total := len(s.status)
	if s.remaining == total {
		return StatePending
	}
	if s.remaining > 0 {
		return StatePartial
	}
	for _, st := range s.status {
		if !st.Failed() {
			return StateComplete
		}
	}
	return StateFailed
}

// CancelCurrentSearches stops the in-flight search, if any. Merged results
// are left as they are; late responses are discarded. It is a no-op when
// nothing is in flight and safe to call repeatedly.
func (s *ResultSet) CancelCurrentSearches() {
	s.mu.Lock()
	if s.state != StatePending && s.state != StatePartial {
		s.mu.Unlock()
		return
	}
	done := s.cancelLocked()
	s.state = StateFailed
	s.canceled = true
	for id, st := range s.status {
		if st.Pending() {
			st.Successful = types.Bool(false)
			st.Message = "canceled"
			s.status[id] = st
		}
	}
	id := s.desc.ID
	s.mu.Unlock()

	if done != nil {
		close(done)
	}
	s.log.Debug("search canceled")
	s.bus.Publish(events.SearchStateChanged{QueryID: id, State: StateFailed.String()})
	s.changes.Publish(Change{Set: s, Kind: StatusChanged})
}

// cancelLocked invalidates the in-flight generation and returns its done
// channel for the caller to close after unlocking.
func (s *ResultSet) cancelLocked() chan struct{} {
	if s.cancel == nil && s.done == nil {
		return nil
	}
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	done := s.done
	s.done = nil
	s.remaining = 0
	return done
}

// Results returns a snapshot of the ordered records.
func (s *ResultSet) Results() []*result.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.results)
}

// Len returns the number of records.
func (s *ResultSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// Lookup returns the record with key, if present.
func (s *ResultSet) Lookup(key identity.Key) (*result.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.index[key]
	return r, ok
}

// Remove drops the record with key and releases the set's ownership of it.
func (s *ResultSet) Remove(key identity.Key) bool {
	s.mu.Lock()
	rec, ok := s.index[key]
	if ok {
		delete(s.index, key)
		s.removeLocked(rec)
	}
	n := len(s.results)
	id := s.desc.ID
	s.mu.Unlock()
	if !ok {
		return false
	}

	rec.Release()
	s.bus.Publish(events.ResultsChanged{QueryID: id, Len: n})
	s.changes.Publish(Change{Set: s, Kind: RecordRemoved, Removed: []*result.Record{rec}})
	return true
}

// State returns the current search state.
func (s *ResultSet) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Canceled reports whether the last search ended by cancellation.
func (s *ResultSet) Canceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

// Generation returns the current generation token.
func (s *ResultSet) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Initiated returns when the current search started.
func (s *ResultSet) Initiated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initiated
}

// Status returns the per-source status blocks in query source order.
func (s *ResultSet) Status() []types.SourceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.SourceStatus, 0, len(s.status))
	for _, src := range s.desc.Sources {
		if st, ok := s.status[src]; ok {
			out = append(out, st)
		}
	}
	return out
}

// SourceStatus returns the status block of one source.
func (s *ResultSet) SourceStatus(src string) (types.SourceStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[src]
	return st, ok
}

// Progress returns how many sources have responded out of the total.
func (s *ResultSet) Progress() (responded, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.status {
		if !st.Pending() {
			responded++
		}
	}
	return responded, len(s.status)
}

// Close cancels any search and releases every record. A closed set rejects
// new searches.
func (s *ResultSet) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	done := s.cancelLocked()
	old := s.results
	s.results = nil
	s.index = make(map[identity.Key]*result.Record)
	s.mu.Unlock()

	if done != nil {
		close(done)
	}
	for _, r := range old {
		r.Release()
	}
	s.changes.Publish(Change{Set: s, Kind: Closed, Removed: old})
	s.changes.Reset()
}
