// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package reference implements identity-keyed collections that point at
// result records without owning them: the alert collection and the
// blacklist. A collection never retains a record, so removing a record from
// its owning result sets is not blocked by a reference to it.
package reference

import (
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/pdiddy/catalog-engine/internal/events"
	"github.com/pdiddy/catalog-engine/internal/identity"
	"github.com/pdiddy/catalog-engine/internal/observe"
	"github.com/pdiddy/catalog-engine/internal/result"
)

// Collection names used by the application state.
const (
	Alerts    = "alerts"
	Blacklist = "blacklist"
)

// ErrUnidentifiable is returned when adding a record without an identity.
var ErrUnidentifiable = errors.New("record has no identity")

// Change describes one membership change.
type Change struct {
	Collection string
	Key        identity.Key
	Removed    bool
}

// Collection is an ordered set of identities, each optionally resolved to a
// result record. It is safe for concurrent use.
type Collection struct {
	name string
	bus  *events.Bus
	log  *zap.Logger

	mu      sync.Mutex
	order   []identity.Key
	records map[identity.Key]*result.Record

	changes observe.Subject[Change]
}

// New creates an empty collection.
func New(name string, bus *events.Bus, log *zap.Logger) *Collection {
	if log == nil {
		log = zap.NewNop()
	}
	return &Collection{
		name:    name,
		bus:     bus,
		log:     log.With(zap.String("collection", name)),
		records: make(map[identity.Key]*result.Record),
	}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Add references rec under its identity. Adding an identity that is already
// present re-points it at rec.
func (c *Collection) Add(rec *result.Record) error {
	key, ok := rec.Key()
	if !ok {
		return ErrUnidentifiable
	}
	c.put(key, rec)
	return nil
}

// AddKey records an identity whose record is not loaded yet.
func (c *Collection) AddKey(key identity.Key) {
	c.put(key, nil)
}

func (c *Collection) put(key identity.Key, rec *result.Record) {
	c.mu.Lock()
	prev, exists := c.records[key]
	if exists && (rec == nil || prev == rec) {
		c.mu.Unlock()
		return
	}
	if !exists {
		c.order = append(c.order, key)
	}
	c.records[key] = rec
	c.mu.Unlock()

	if !exists {
		c.log.Debug("reference added", zap.Stringer("key", key))
		c.bus.Publish(events.ReferenceChanged{Collection: c.name, Key: key})
		c.changes.Publish(Change{Collection: c.name, Key: key})
	}
}

// Remove drops the reference to key. It reports whether key was present.
func (c *Collection) Remove(key identity.Key) bool {
	c.mu.Lock()
	if _, ok := c.records[key]; !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.records, key)
	c.order = slices.DeleteFunc(c.order, func(k identity.Key) bool { return k == key })
	c.mu.Unlock()

	c.log.Debug("reference removed", zap.Stringer("key", key))
	c.bus.Publish(events.ReferenceChanged{Collection: c.name, Key: key, Removed: true})
	c.changes.Publish(Change{Collection: c.name, Key: key, Removed: true})
	return true
}

// Contains reports whether key is referenced.
func (c *Collection) Contains(key identity.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.records[key]
	return ok
}

// Lookup returns the record referenced under key. The record is nil when
// only the identity is known.
func (c *Collection) Lookup(key identity.Key) (*result.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[key]
	return rec, ok && rec != nil
}

// Keys returns every referenced identity in insertion order.
func (c *Collection) Keys() []identity.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.order)
}

// Records returns the resolved records in insertion order.
func (c *Collection) Records() []*result.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*result.Record, 0, len(c.order))
	for _, k := range c.order {
		if rec := c.records[k]; rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

// Holders returns the record referenced under key, if any, as a refresh
// propagation target.
func (c *Collection) Holders(key identity.Key) []*result.Record {
	if rec, ok := c.Lookup(key); ok {
		return []*result.Record{rec}
	}
	return nil
}

// Len returns the number of referenced identities.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Subscribe registers fn for membership changes.
func (c *Collection) Subscribe(fn func(Change)) (cancel func()) {
	return c.changes.Subscribe(fn)
}

// Clear drops every reference without publishing per-key changes.
func (c *Collection) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
	c.records = make(map[identity.Key]*result.Record)
}
