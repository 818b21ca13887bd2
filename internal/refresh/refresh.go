// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package refresh propagates record refreshes and attribute patches to every
// record sharing an identity, across every open workspace, the active query,
// and the alert collection. Propagation is by identity equality: independent
// result sets hold independent records for the same metacard.
package refresh

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/catalog-engine/internal/events"
	"github.com/pdiddy/catalog-engine/internal/identity"
	"github.com/pdiddy/catalog-engine/internal/result"
)

// DefaultConcurrency bounds the number of refresh fetches in flight per call.
const DefaultConcurrency = 8

// Locator finds every record currently holding an identity.
type Locator interface {
	Holders(key identity.Key) []*result.Record
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(key identity.Key) []*result.Record

// Holders calls f.
func (f LocatorFunc) Holders(key identity.Key) []*result.Record { return f(key) }

// Locators combines several scopes into one Locator.
type Locators []Locator

// Holders concatenates the holders of every scope.
func (ls Locators) Holders(key identity.Key) []*result.Record {
	var out []*result.Record
	for _, l := range ls {
		out = append(out, l.Holders(key)...)
	}
	return out
}

// Report summarizes one propagation call.
type Report struct {
	Key       identity.Key
	Targets   int
	Refreshed int
	Failed    int
	Errors    []error
}

// Err joins the per-target errors, or returns nil when every target succeeded.
func (r Report) Err() error {
	return errors.Join(r.Errors...)
}

// Coordinator runs refreshes and patches across every holder of an identity.
type Coordinator struct {
	locate      Locator
	bus         *events.Bus
	log         *zap.Logger
	concurrency int

	mu    sync.Mutex
	locks map[identity.Key]*keyLock

	// patch serializes UpdateResults calls.
	patch sync.Mutex
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConcurrency bounds concurrent fetches within one RefreshResult call.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// New creates a coordinator over the scopes locate covers.
func New(locate Locator, bus *events.Bus, log *zap.Logger, opts ...Option) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Coordinator{
		locate:      locate,
		bus:         bus,
		log:         log,
		concurrency: DefaultConcurrency,
		locks:       make(map[identity.Key]*keyLock),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// lock serializes propagation calls for one identity. Calls for different
// identities proceed independently.
func (c *Coordinator) lock(key identity.Key) func() {
	c.mu.Lock()
	l, ok := c.locks[key]
	if !ok {
		l = &keyLock{}
		c.locks[key] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, key)
		}
		c.mu.Unlock()
	}
}

// targets returns rec followed by every other holder of key, each once.
func (c *Coordinator) targets(rec *result.Record, key identity.Key) []*result.Record {
	out := []*result.Record{rec}
	seen := map[*result.Record]bool{rec: true}
	for _, h := range c.locate.Holders(key) {
		if h == nil || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

// RefreshResult re-fetches rec and every other record sharing its identity.
// Each target refreshes independently: a failed fetch leaves that target's
// attributes untouched and does not stop the others. Unidentifiable records
// are refreshed alone, which always fails.
func (c *Coordinator) RefreshResult(ctx context.Context, rec *result.Record) Report {
	key, ok := rec.Key()
	if !ok {
		err := rec.RefreshData(ctx)
		return Report{Targets: 1, Failed: 1, Errors: []error{err}}
	}

	unlock := c.lock(key)
	defer unlock()

	targets := c.targets(rec, key)
	errs := make([]error, len(targets))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, t := range targets {
		g.Go(func() error {
			errs[i] = t.RefreshData(ctx)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Key: key, Targets: len(targets)}
	for _, err := range errs {
		if err != nil {
			rep.Failed++
			rep.Errors = append(rep.Errors, err)
			continue
		}
		rep.Refreshed++
	}

	if rep.Failed > 0 {
		c.log.Warn("refresh failed for some holders",
			zap.Stringer("key", key),
			zap.Int("targets", rep.Targets),
			zap.Int("failed", rep.Failed),
			zap.Error(rep.Err()))
	} else {
		c.log.Debug("record refreshed", zap.Stringer("key", key), zap.Int("targets", rep.Targets))
	}
	c.bus.Publish(events.RecordRefreshed{Key: key, Targets: rep.Targets, Refreshed: rep.Refreshed, Failed: rep.Failed})
	return rep
}

// UpdateResults merges attrs into every record in records and into every
// other record sharing an identity with one of them. Unspecified attributes
// are untouched. No network request is made. It returns the number of
// records patched.
func (c *Coordinator) UpdateResults(records []*result.Record, attrs map[string]any) int {
	// Identity locks are taken in key order so a patch never lands in the
	// middle of a refresh of the same identity.
	var locked []identity.Key
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if key, ok := rec.Key(); ok {
			locked = append(locked, key)
		}
	}
	slices.Sort(locked)
	locked = slices.Compact(locked)
	for _, key := range locked {
		unlock := c.lock(key)
		defer unlock()
	}

	c.patch.Lock()
	defer c.patch.Unlock()

	var (
		keys    []identity.Key
		patched = make(map[*result.Record]bool)
	)
	for _, rec := range records {
		if rec == nil {
			continue
		}
		key, ok := rec.Key()
		if !ok {
			if !patched[rec] {
				patched[rec] = true
				rec.Apply(attrs)
			}
			continue
		}
		keys = append(keys, key)
		for _, t := range c.targets(rec, key) {
			if patched[t] {
				continue
			}
			patched[t] = true
			t.Apply(attrs)
		}
	}

	c.log.Debug("records updated", zap.Int("identities", len(keys)), zap.Int("targets", len(patched)))
	c.bus.Publish(events.RecordsUpdated{Keys: keys, Targets: len(patched)})
	return len(patched)
}
