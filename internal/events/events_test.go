// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversTypedEvents(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(4)

	bus.Publish(ResultsChanged{QueryID: "q1", Len: 3})
	bus.Publish(AggregateUpdated{WorkspaceID: "w1", Len: 5})

	first := <-ch
	second := <-ch
	assert.Less(t, first.Seq, second.Seq)

	rc, ok := first.Event.(ResultsChanged)
	require.True(t, ok)
	assert.Equal(t, "q1", rc.QueryID)
	assert.Equal(t, "aggregate.updated", second.Event.Kind())
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(1)

	bus.Publish(WorkspaceRemoved{WorkspaceID: "a"})
	bus.Publish(WorkspaceRemoved{WorkspaceID: "b"})

	assert.Equal(t, uint64(1), bus.Dropped())
	env := <-ch
	assert.Equal(t, WorkspaceRemoved{WorkspaceID: "a"}, env.Event)
}

func TestBusUnsubscribeAndClose(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(1)
	b := bus.Subscribe(1)

	bus.Unsubscribe(a)
	_, open := <-a
	assert.False(t, open)

	bus.Close()
	bus.Close()
	_, open = <-b
	assert.False(t, open)

	bus.Publish(QueryRemoved{QueryID: "q"})
	late := bus.Subscribe(1)
	_, open = <-late
	assert.False(t, open, "subscribing to a closed bus yields a closed channel")
}

func TestNilBusDiscards(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(ResultsChanged{}) })
}
