// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package result wraps a single metacard together with its per-record UI
// state. A Record is the unit of sharing in the result layer: it is mutated
// in place and never replaced, so every collection and view holding a
// pointer observes the same entity through its change notifications.
package result

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/pdiddy/catalog-engine/internal/identity"
	"github.com/pdiddy/catalog-engine/internal/observe"
	"github.com/pdiddy/catalog-engine/pkg/types"
)

var (
	// ErrUnidentifiable is returned for operations that need a key on a
	// record that lacks an id or source id.
	ErrUnidentifiable = errors.New("record has no identity")

	// ErrNoFetcher is returned when a record was built without a Fetcher.
	ErrNoFetcher = errors.New("record has no fetcher")

	// ErrIdentityMismatch is returned when a replacement metacard names a
	// different entity than the record it would overwrite.
	ErrIdentityMismatch = errors.New("metacard identity does not match record")
)

// Fetcher retrieves per-record data from the record's origin source.
type Fetcher interface {
	FetchMetacard(ctx context.Context, key identity.Key) (types.Metacard, error)
	FetchValidation(ctx context.Context, key identity.Key) ([]types.ValidationIssue, error)
	FetchPreview(ctx context.Context, key identity.Key) (string, error)
}

// ChangeKind classifies a Change.
type ChangeKind int

const (
	// Updated means attributes changed from a known patch or a merged response.
	Updated ChangeKind = iota
	// Refreshed means attributes were re-fetched from the origin source.
	Refreshed
	// SelectionChanged means the session-only selected flag flipped.
	SelectionChanged
	// CachesInvalidated means validation and preview caches were dropped.
	CachesInvalidated
	// Removed means the last owning collection released the record.
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Updated:
		return "updated"
	case Refreshed:
		return "refreshed"
	case SelectionChanged:
		return "selection"
	case CachesInvalidated:
		return "invalidated"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// Change describes one mutation of a Record.
type Change struct {
	Record *Record
	Kind   ChangeKind
	// Fields lists the property names whose values changed, sorted.
	Fields []string
}

// Record is one metacard plus selection, validation, and preview state.
// Record is safe for concurrent use.
type Record struct {
	key          identity.Key
	identifiable bool
	fetcher      Fetcher
	log          *zap.Logger

	mu       sync.RWMutex
	metacard types.Metacard
	selected bool
	owners   int

	// cacheGen is bumped by InvalidateCaches so a fetch that started before
	// an invalidation does not repopulate the cache with stale data.
	cacheGen         uint64
	validation       []types.ValidationIssue
	validationLoaded bool
	preview          string
	previewLoaded    bool

	changes observe.Subject[Change]
}

// New wraps m. The record's identity is derived once here and never changes.
// fetcher may be nil for records that are never refreshed.
func New(m types.Metacard, fetcher Fetcher, log *zap.Logger) *Record {
	if log == nil {
		log = zap.NewNop()
	}
	key, ok := identity.Of(m)
	m = m.Clone()
	if m.Properties == nil {
		m.Properties = make(map[string]any)
	}
	return &Record{
		key:          key,
		identifiable: ok,
		fetcher:      fetcher,
		log:          log,
		metacard:     m,
	}
}

// Key returns the record identity; ok is false for unidentifiable records.
func (r *Record) Key() (identity.Key, bool) {
	return r.key, r.identifiable
}

// Metacard returns a snapshot copy of the current attributes.
func (r *Record) Metacard() types.Metacard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metacard.Clone()
}

// Property returns one attribute value.
func (r *Record) Property(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.metacard.Properties[name]
	return v, ok
}

// Title returns the title attribute.
func (r *Record) Title() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metacard.Title()
}

// Geometry returns the raw geometry, or nil.
func (r *Record) Geometry() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.metacard.Geometry)
}

// Selected reports the session-only selection flag.
func (r *Record) Selected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected
}

// SetSelected sets the selection flag and notifies observers when it changes.
func (r *Record) SetSelected(selected bool) {
	r.mu.Lock()
	if r.selected == selected {
		r.mu.Unlock()
		return
	}
	r.selected = selected
	r.mu.Unlock()
	r.changes.Publish(Change{Record: r, Kind: SelectionChanged})
}

// Subscribe registers fn for every change to r.
func (r *Record) Subscribe(fn func(Change)) (cancel func()) {
	return r.changes.Subscribe(fn)
}

// Apply merges attrs into the record's properties. Unspecified properties are
// untouched. It returns the names of properties whose values changed.
func (r *Record) Apply(attrs map[string]any) []string {
	r.mu.Lock()
	changed := mergeProperties(r.metacard.Properties, attrs)
	r.mu.Unlock()

	if len(changed) > 0 {
		r.changes.Publish(Change{Record: r, Kind: Updated, Fields: changed})
	}
	return changed
}

// Replace overwrites the record's attributes with m in place and notifies
// observers. m must carry the same identity as r.
func (r *Record) Replace(m types.Metacard) ([]string, error) {
	c, err := r.Merge(m)
	if err != nil {
		return nil, err
	}
	if len(c.Fields) > 0 {
		r.Notify(c)
	}
	return c.Fields, nil
}

// Merge is Replace without notification. Collections that mutate records
// while holding their own locks call Merge, release the locks, and then pass
// the returned change to Notify. A change with no Fields needs no Notify.
func (r *Record) Merge(m types.Metacard) (Change, error) {
	return r.merge(m, Updated)
}

// Notify publishes c to r's observers.
func (r *Record) Notify(c Change) {
	r.changes.Publish(c)
}

func (r *Record) merge(m types.Metacard, kind ChangeKind) (Change, error) {
	if key, ok := identity.Of(m); r.identifiable && (!ok || key != r.key) {
		return Change{}, fmt.Errorf("%w: have %s, got %s", ErrIdentityMismatch, r.key, key)
	}

	r.mu.Lock()
	changed := replaceProperties(r.metacard.Properties, m.Properties)
	if !slices.Equal(r.metacard.Geometry, m.Geometry) {
		r.metacard.Geometry = slices.Clone(m.Geometry)
		changed = append(changed, "geometry")
		slices.Sort(changed)
	}
	if kind == Refreshed {
		r.cacheGen++
		r.validation, r.validationLoaded = nil, false
	}
	r.mu.Unlock()

	return Change{Record: r, Kind: kind, Fields: changed}, nil
}

// RefreshData re-fetches the metacard from its origin source and updates the
// record in place. On failure the attributes are left untouched and nothing
// about the failure is recorded on the record; the error is returned only so
// the caller can report it.
func (r *Record) RefreshData(ctx context.Context) error {
	if !r.identifiable {
		return ErrUnidentifiable
	}
	if r.fetcher == nil {
		return ErrNoFetcher
	}

	m, err := r.fetcher.FetchMetacard(ctx, r.key)
	if err != nil {
		r.log.Debug("metacard refresh failed", zap.Stringer("key", r.key), zap.Error(err))
		return fmt.Errorf("refreshing %s: %w", r.key, err)
	}
	c, err := r.merge(m, Refreshed)
	if err != nil {
		r.log.Warn("refresh returned a different metacard", zap.Stringer("key", r.key), zap.Error(err))
		return err
	}
	r.Notify(c)
	return nil
}

// Validation returns the record's validation issues, fetching them on first
// access and caching them until InvalidateCaches or a refresh.
func (r *Record) Validation(ctx context.Context) ([]types.ValidationIssue, error) {
	r.mu.RLock()
	if r.validationLoaded {
		v := r.validation
		r.mu.RUnlock()
		return v, nil
	}
	gen := r.cacheGen
	r.mu.RUnlock()

	if !r.identifiable {
		return nil, ErrUnidentifiable
	}
	if r.fetcher == nil {
		return nil, ErrNoFetcher
	}
	issues, err := r.fetcher.FetchValidation(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("fetching validation for %s: %w", r.key, err)
	}

	r.mu.Lock()
	if r.cacheGen == gen {
		r.validation, r.validationLoaded = issues, true
	}
	r.mu.Unlock()
	return issues, nil
}

// Preview returns the record's rendered preview, fetching it on first access
// and caching it for the record's lifetime or until InvalidateCaches.
func (r *Record) Preview(ctx context.Context) (string, error) {
	r.mu.RLock()
	if r.previewLoaded {
		p := r.preview
		r.mu.RUnlock()
		return p, nil
	}
	gen := r.cacheGen
	r.mu.RUnlock()

	if !r.identifiable {
		return "", ErrUnidentifiable
	}
	if r.fetcher == nil {
		return "", ErrNoFetcher
	}
	p, err := r.fetcher.FetchPreview(ctx, r.key)
	if err != nil {
		return "", fmt.Errorf("fetching preview for %s: %w", r.key, err)
	}

	r.mu.Lock()
	if r.cacheGen == gen {
		r.preview, r.previewLoaded = p, true
	}
	r.mu.Unlock()
	return p, nil
}

// InvalidateCaches drops the validation and preview caches.
func (r *Record) InvalidateCaches() {
	r.mu.Lock()
	r.cacheGen++
	r.validation, r.validationLoaded = nil, false
	r.preview, r.previewLoaded = "", false
	r.mu.Unlock()
	r.changes.Publish(Change{Record: r, Kind: CachesInvalidated})
}

// Retain registers one more owning collection.
func (r *Record) Retain() {
	r.mu.Lock()
	r.owners++
	r.mu.Unlock()
}

// Release drops one owning collection. When the last owner releases, the
// record publishes Removed, drops its caches, and forgets its observers.
// It reports whether the record was destroyed by this call.
func (r *Record) Release() bool {
	r.mu.Lock()
	if r.owners == 0 {
		r.mu.Unlock()
		return false
	}
	r.owners--
	if r.owners > 0 {
		r.mu.Unlock()
		return false
	}
	r.cacheGen++
	r.validation, r.validationLoaded = nil, false
	r.preview, r.previewLoaded = "", false
	r.mu.Unlock()

	r.changes.Publish(Change{Record: r, Kind: Removed})
	r.changes.Reset()
	return true
}

// Owners returns the number of collections currently owning r.
func (r *Record) Owners() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owners
}

// mergeProperties copies src into dst and returns the sorted changed names.
func mergeProperties(dst, src map[string]any) []string {
	var changed []string
	for k, v := range src {
		if old, ok := dst[k]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		dst[k] = v
		changed = append(changed, k)
	}
	slices.Sort(changed)
	return changed
}

// replaceProperties makes dst equal to src without reallocating dst.
func replaceProperties(dst, src map[string]any) []string {
	changed := mergeProperties(dst, src)
	for k := range dst {
		if _, ok := src[k]; !ok {
			delete(dst, k)
			changed = append(changed, k)
		}
	}
	slices.Sort(changed)
	return changed
}
