// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package workspace groups queries into a user workspace and maintains the
// workspace aggregate: the deduplicated union of every query's results that
// list, table, and map views render.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/catalog-engine/internal/events"
	"github.com/pdiddy/catalog-engine/internal/identity"
	"github.com/pdiddy/catalog-engine/internal/query"
	"github.com/pdiddy/catalog-engine/pkg/types"
)

var (
	// ErrQueryNotFound is returned for an unknown query id.
	ErrQueryNotFound = errors.New("query not found")

	// ErrClosed is returned by operations on a closed workspace.
	ErrClosed = errors.New("workspace is closed")
)

// Options configures a Workspace.
type Options struct {
	// Query is used for every result set the workspace creates. Its Bus and
	// Logger default to the workspace's own.
	Query query.Options
	// Debounce is the aggregate batch window.
	Debounce time.Duration
	// Hidden reports identities to leave out of the aggregate (the blacklist).
	Hidden func(identity.Key) bool
	Bus    *events.Bus
	Logger *zap.Logger
}

// Workspace is a named, ordered set of queries and their aggregate.
type Workspace struct {
	id   string
	opts Options
	bus  *events.Bus
	log  *zap.Logger
	agg  *Aggregator

	mu      sync.Mutex
	title   string
	queries []*query.ResultSet
	closed  bool
}

// New creates an empty workspace. An empty id is replaced with a random UUID.
func New(id, title string, opts Options) *Workspace {
	if id == "" {
		id = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Query.Bus == nil {
		opts.Query.Bus = opts.Bus
	}
	if opts.Query.Logger == nil {
		opts.Query.Logger = opts.Logger
	}
	w := &Workspace{
		id:    id,
		title: title,
		opts:  opts,
		bus:   opts.Bus,
		log:   opts.Logger.With(zap.String("workspace", id)),
	}
	w.agg = newAggregator(id, w.Queries, opts.Hidden, opts.Debounce, opts.Bus, w.log)
	return w
}

// ID returns the workspace id.
func (w *Workspace) ID() string { return w.id }

// Title returns the display title.
func (w *Workspace) Title() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.title
}

// SetTitle renames the workspace.
func (w *Workspace) SetTitle(title string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.title = title
}

// Aggregate returns the workspace aggregator.
func (w *Workspace) Aggregate() *Aggregator { return w.agg }

// AddQuery creates a result set for desc and adds it to the workspace.
func (w *Workspace) AddQuery(desc types.QueryDescriptor) (*query.ResultSet, error) {
	rs := query.New(desc, w.opts.Query)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		rs.Close()
		return nil, ErrClosed
	}
	for _, q := range w.queries {
		if q.ID() == rs.ID() {
			w.mu.Unlock()
			rs.Close()
			return nil, fmt.Errorf("query %s already in workspace %s", rs.ID(), w.id)
		}
	}
	w.queries = append(w.queries, rs)
	w.mu.Unlock()

	w.agg.watch(rs)
	w.agg.Schedule()
	return rs, nil
}

// RemoveQuery closes and removes a query. Its records leave the aggregate on
// the next recompute.
func (w *Workspace) RemoveQuery(id string) error {
	w.mu.Lock()
	i := slices.IndexFunc(w.queries, func(q *query.ResultSet) bool { return q.ID() == id })
	if i < 0 {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrQueryNotFound, id)
	}
	rs := w.queries[i]
	w.queries = slices.Delete(w.queries, i, i+1)
	w.mu.Unlock()

	w.agg.unwatch(rs)
	rs.Close()
	w.agg.Schedule()
	w.bus.Publish(events.QueryRemoved{WorkspaceID: w.id, QueryID: id})
	return nil
}

// Query returns the result set with id.
func (w *Workspace) Query(id string) (*query.ResultSet, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, q := range w.queries {
		if q.ID() == id {
			return q, true
		}
	}
	return nil, false
}

// Queries returns the workspace's result sets in insertion order.
func (w *Workspace) Queries() []*query.ResultSet {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.queries)
}

// SearchAll starts every query. The returned channel is closed once every
// started search has finished, been canceled, or been superseded. Queries
// that cannot start are reported in the joined error; the others still run.
func (w *Workspace) SearchAll(ctx context.Context) (<-chan struct{}, error) {
	var (
		dones []<-chan struct{}
		errs  []error
	)
	for _, rs := range w.Queries() {
		done, err := rs.StartSearch(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("query %s: %w", rs.ID(), err))
			continue
		}
		dones = append(dones, done)
	}

	all := make(chan struct{})
	go func() {
		for _, d := range dones {
			<-d
		}
		close(all)
	}()
	return all, errors.Join(errs...)
}

// CancelAll cancels every in-flight search.
func (w *Workspace) CancelAll() {
	for _, rs := range w.Queries() {
		rs.CancelCurrentSearches()
	}
}

// Close cancels and closes every query and stops the aggregator.
func (w *Workspace) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	queries := w.queries
	w.queries = nil
	w.mu.Unlock()

	w.agg.close()
	for _, rs := range queries {
		rs.Close()
	}
	w.log.Debug("workspace closed")
}
