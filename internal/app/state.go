// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package app holds the application-state context: the open workspaces, the
// active ad-hoc query, the alert and blacklist collections, the event bus,
// and the refresh coordinator that spans them. A State is created at
// startup, passed explicitly to whatever needs it, and closed on teardown.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/pdiddy/catalog-engine/internal/cluster"
	"github.com/pdiddy/catalog-engine/internal/events"
	"github.com/pdiddy/catalog-engine/internal/identity"
	"github.com/pdiddy/catalog-engine/internal/query"
	"github.com/pdiddy/catalog-engine/internal/reference"
	"github.com/pdiddy/catalog-engine/internal/refresh"
	"github.com/pdiddy/catalog-engine/internal/result"
	"github.com/pdiddy/catalog-engine/internal/store"
	"github.com/pdiddy/catalog-engine/internal/workspace"
	"github.com/pdiddy/catalog-engine/pkg/types"
)

var (
	// ErrWorkspaceNotFound is returned for an unknown workspace id.
	ErrWorkspaceNotFound = errors.New("workspace not found")

	// ErrClosed is returned by operations on a closed State.
	ErrClosed = errors.New("application state is closed")
)

// Options configures a State.
type Options struct {
	Config   types.EngineConfig
	Searcher query.Searcher
	Fetcher  result.Fetcher
	// Store persists workspaces and references when set.
	Store  *store.Store
	Bus    *events.Bus
	Logger *zap.Logger
}

// State is the application-state context.
type State struct {
	cfg       types.EngineConfig
	searcher  query.Searcher
	fetcher   result.Fetcher
	store     *store.Store
	bus       *events.Bus
	ownBus    bool
	log       *zap.Logger
	alerts    *reference.Collection
	blacklist *reference.Collection
	refresher *refresh.Coordinator
	clusters  *cluster.Engine

	mu         sync.Mutex
	workspaces []*workspace.Workspace
	active     *query.ResultSet
	closed     bool
}

// New creates an empty State.
func New(opts Options) *State {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &State{
		cfg:      opts.Config,
		searcher: opts.Searcher,
		fetcher:  opts.Fetcher,
		store:    opts.Store,
		bus:      opts.Bus,
		log:      opts.Logger,
	}
	if s.bus == nil {
		s.bus = events.NewBus()
		s.ownBus = true
	}
	s.alerts = reference.New(reference.Alerts, s.bus, s.log)
	s.blacklist = reference.New(reference.Blacklist, s.bus, s.log)
	s.refresher = refresh.New(refresh.Locators{refresh.LocatorFunc(s.holders), s.alerts}, s.bus, s.log,
		refresh.WithConcurrency(opts.Config.Refresh.Concurrency))
	s.clusters = cluster.New(opts.Config.Cluster, s.log)
	return s
}

// Bus returns the event bus.
func (s *State) Bus() *events.Bus { return s.bus }

// Alerts returns the alert collection.
func (s *State) Alerts() *reference.Collection { return s.alerts }

// Blacklist returns the blacklist collection.
func (s *State) Blacklist() *reference.Collection { return s.blacklist }

// Refresher returns the refresh coordinator.
func (s *State) Refresher() *refresh.Coordinator { return s.refresher }

// Clusters returns the clustering engine.
func (s *State) Clusters() *cluster.Engine { return s.clusters }

func (s *State) queryOptions() query.Options {
	return query.Options{Searcher: s.searcher, Fetcher: s.fetcher, Bus: s.bus, Logger: s.log}
}

func (s *State) workspaceOptions() workspace.Options {
	return workspace.Options{
		Query:    s.queryOptions(),
		Debounce: s.cfg.Aggregator.Debounce,
		Hidden:   s.blacklist.Contains,
		Bus:      s.bus,
		Logger:   s.log,
	}
}

// NewWorkspace opens an empty workspace. An empty id gets a random UUID.
func (s *State) NewWorkspace(id, title string) (*workspace.Workspace, error) {
	w := workspace.New(id, title, s.workspaceOptions())
	if err := s.addWorkspace(w); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func (s *State) addWorkspace(w *workspace.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, existing := range s.workspaces {
		if existing.ID() == w.ID() {
			return fmt.Errorf("workspace %s is already open", w.ID())
		}
	}
	s.workspaces = append(s.workspaces, w)
	return nil
}

// Workspace returns the open workspace with id.
func (s *State) Workspace(id string) (*workspace.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workspaces {
		if w.ID() == id {
			return w, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, id)
}

// Workspaces returns the open workspaces in the order they were opened.
func (s *State) Workspaces() []*workspace.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.workspaces)
}

// RemoveWorkspace closes a workspace and deletes it from the store. Records
// it alone owned are destroyed.
func (s *State) RemoveWorkspace(ctx context.Context, id string) error {
	s.mu.Lock()
	i := slices.IndexFunc(s.workspaces, func(w *workspace.Workspace) bool { return w.ID() == id })
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkspaceNotFound, id)
	}
	w := s.workspaces[i]
	s.workspaces = slices.Delete(s.workspaces, i, i+1)
	s.mu.Unlock()

	w.Close()
	if s.store != nil {
		if err := s.store.DeleteWorkspace(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	s.bus.Publish(events.WorkspaceRemoved{WorkspaceID: id})
	return nil
}

// SetActive replaces the active ad-hoc query. The previous one is closed.
func (s *State) SetActive(desc types.QueryDescriptor) (*query.ResultSet, error) {
	rs := query.New(desc, s.queryOptions())
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		rs.Close()
		return nil, ErrClosed
	}
	old := s.active
	s.active = rs
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return rs, nil
}

// Active returns the active ad-hoc query, or nil.
func (s *State) Active() *query.ResultSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// holders scans every workspace's queries and the active query for records
// with key.
func (s *State) holders(key identity.Key) []*result.Record {
	s.mu.Lock()
	sets := []*query.ResultSet{}
	for _, w := range s.workspaces {
		sets = append(sets, w.Queries()...)
	}
	if s.active != nil {
		sets = append(sets, s.active)
	}
	s.mu.Unlock()

	var out []*result.Record
	for _, rs := range sets {
		if rec, ok := rs.Lookup(key); ok {
			out = append(out, rec)
		}
	}
	return out
}

// Holders returns every record holding key across every scope the refresh
// coordinator covers.
func (s *State) Holders(key identity.Key) []*result.Record {
	return append(s.holders(key), s.alerts.Holders(key)...)
}

// RefreshResult refreshes rec and every record sharing its identity.
func (s *State) RefreshResult(ctx context.Context, rec *result.Record) refresh.Report {
	return s.refresher.RefreshResult(ctx, rec)
}

// UpdateResults patches records and every record sharing their identities.
func (s *State) UpdateResults(records []*result.Record, attrs map[string]any) int {
	return s.refresher.UpdateResults(records, attrs)
}

// CalculateClusters clusters records for the given view.
func (s *State) CalculateClusters(records []*result.Record, proj cluster.Projector) cluster.Result {
	return s.clusters.CalculateClusters(records, proj)
}

// Close tears the state down: every workspace and the active query are
// closed, and the bus is closed if the state created it.
func (s *State) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	workspaces := s.workspaces
	active := s.active
	s.workspaces = nil
	s.active = nil
	s.mu.Unlock()

	for _, w := range workspaces {
		w.Close()
	}
	if active != nil {
		active.Close()
	}
	s.alerts.Clear()
	s.blacklist.Clear()
	if s.ownBus {
		s.bus.Close()
	}
	s.log.Debug("application state closed")
}
