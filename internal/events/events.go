// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package events is the typed message bus that connects result-layer
// components to each other and to views. Every message is one of the
// concrete Event types below; subscribers switch on the type.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pdiddy/catalog-engine/internal/identity"
)

// Event is implemented only by the message types in this package.
type Event interface {
	Kind() string
	event()
}

// SearchStarted is published when a query result set begins a new execution.
type SearchStarted struct {
	QueryID    string
	Generation uint64
	Sources    []string
}

// SearchStateChanged is published on every query state transition.
type SearchStateChanged struct {
	QueryID string
	State   string
}

// SourceResponded is published when one source's response is merged.
type SourceResponded struct {
	QueryID    string
	SourceID   string
	Successful bool
	Count      int
}

// ResultsChanged is published whenever a query's result list changes.
type ResultsChanged struct {
	QueryID string
	Len     int
}

// AggregateUpdated is published after a workspace aggregate is recomputed.
type AggregateUpdated struct {
	WorkspaceID string
	Len         int
}

// RecordRefreshed is published after a refresh propagated across holders.
type RecordRefreshed struct {
	Key       identity.Key
	Targets   int
	Refreshed int
	Failed    int
}

// RecordsUpdated is published after a known attribute patch was propagated.
type RecordsUpdated struct {
	Keys    []identity.Key
	Targets int
}

// WorkspaceRemoved is published when a workspace is deleted.
type WorkspaceRemoved struct {
	WorkspaceID string
}

// QueryRemoved is published when a query is removed from its workspace.
type QueryRemoved struct {
	WorkspaceID string
	QueryID     string
}

// ReferenceChanged is published when an alert or blacklist entry changes.
type ReferenceChanged struct {
	Collection string
	Key        identity.Key
	Removed    bool
}

func (SearchStarted) Kind() string      { return "search.started" }
func (SearchStateChanged) Kind() string { return "search.state" }
func (SourceResponded) Kind() string    { return "search.source" }
func (ResultsChanged) Kind() string     { return "results.changed" }
func (AggregateUpdated) Kind() string   { return "aggregate.updated" }
func (RecordRefreshed) Kind() string    { return "record.refreshed" }
func (RecordsUpdated) Kind() string     { return "records.updated" }
func (WorkspaceRemoved) Kind() string   { return "workspace.removed" }
func (QueryRemoved) Kind() string       { return "query.removed" }
func (ReferenceChanged) Kind() string   { return "reference.changed" }

func (SearchStarted) event()      {}
func (SearchStateChanged) event() {}
func (SourceResponded) event()    {}
func (ResultsChanged) event()     {}
func (AggregateUpdated) event()   {}
func (RecordRefreshed) event()    {}
func (RecordsUpdated) event()     {}
func (WorkspaceRemoved) event()   {}
func (QueryRemoved) event()       {}
func (ReferenceChanged) event()   {}

// Envelope wraps an event with its bus sequence number and timestamp.
type Envelope struct {
	Seq   uint64
	At    time.Time
	Event Event
}

// Bus dispatches events to channel subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event and the drop is counted.
// A nil *Bus discards everything, so components can run without one.
type Bus struct {
	mu       sync.RWMutex
	subs     []chan Envelope
	closed   bool
	sequence atomic.Uint64
	dropped  atomic.Uint64
}

// DefaultBuffer is the subscriber channel capacity used when Subscribe is given 0.
const DefaultBuffer = 64

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel receiving every event published after the
// call. The channel is closed by Unsubscribe or Close.
func (b *Bus) Subscribe(buffer int) <-chan Envelope {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Envelope, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (b *Bus) Unsubscribe(ch <-chan Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if (<-chan Envelope)(sub) == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// Publish stamps e and delivers it to every subscriber.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	env := Envelope{Seq: b.sequence.Add(1), At: time.Now(), Event: e}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub <- env:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of deliveries skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub)
	}
	b.subs = nil
}
