// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/catalog-engine/internal/events"
	"github.com/pdiddy/catalog-engine/internal/identity"
	"github.com/pdiddy/catalog-engine/internal/result"
	"github.com/pdiddy/catalog-engine/pkg/types"
)

func rec(src, id string) *result.Record {
	return result.New(types.Metacard{ID: id, SourceID: src}, nil, nil)
}

func TestAddLookupRemove(t *testing.T) {
	c := New(Alerts, nil, nil)
	r := rec("s", "1")
	require.NoError(t, c.Add(r))

	key, _ := r.Key()
	got, ok := c.Lookup(key)
	require.True(t, ok)
	assert.Same(t, r, got)
	assert.Equal(t, []*result.Record{r}, c.Holders(key))
	assert.Equal(t, 1, c.Len())

	assert.True(t, c.Remove(key))
	assert.False(t, c.Remove(key))
	assert.False(t, c.Contains(key))
	assert.Nil(t, c.Holders(key))
}

func TestReferencesDoNotRetain(t *testing.T) {
	c := New(Alerts, nil, nil)
	r := rec("s", "1")
	r.Retain()
	require.NoError(t, c.Add(r))
	assert.Equal(t, 1, r.Owners())
}

func TestAddRejectsUnidentifiable(t *testing.T) {
	c := New(Blacklist, nil, nil)
	err := c.Add(result.New(types.Metacard{Properties: map[string]any{"title": "x"}}, nil, nil))
	assert.ErrorIs(t, err, ErrUnidentifiable)
	assert.Zero(t, c.Len())
}

func TestAddKeyThenResolve(t *testing.T) {
	c := New(Blacklist, nil, nil)
	key, _ := identity.New("s", "1")
	c.AddKey(key)

	assert.True(t, c.Contains(key))
	_, ok := c.Lookup(key)
	assert.False(t, ok, "identity-only entry has no record")
	assert.Empty(t, c.Records())

	r := rec("s", "1")
	require.NoError(t, c.Add(r))
	got, ok := c.Lookup(key)
	require.True(t, ok)
	assert.Same(t, r, got)
	assert.Equal(t, []identity.Key{key}, c.Keys())

	// A later AddKey does not drop the resolved record.
	c.AddKey(key)
	_, ok = c.Lookup(key)
	assert.True(t, ok)
}

func TestChangesPublished(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe(8)

	c := New(Alerts, bus, nil)
	var seen []Change
	c.Subscribe(func(ch Change) { seen = append(seen, ch) })

	r := rec("s", "1")
	key, _ := r.Key()
	require.NoError(t, c.Add(r))
	require.NoError(t, c.Add(r))
	c.Remove(key)

	assert.Equal(t, []Change{
		{Collection: Alerts, Key: key},
		{Collection: Alerts, Key: key, Removed: true},
	}, seen)

	env := <-sub
	assert.Equal(t, events.ReferenceChanged{Collection: Alerts, Key: key}, env.Event)
	env = <-sub
	assert.Equal(t, events.ReferenceChanged{Collection: Alerts, Key: key, Removed: true}, env.Event)
}

func TestOrderAndClear(t *testing.T) {
	c := New(Alerts, nil, nil)
	a, b := rec("s", "a"), rec("s", "b")
	require.NoError(t, c.Add(b))
	require.NoError(t, c.Add(a))
	assert.Equal(t, []*result.Record{b, a}, c.Records())

	c.Clear()
	assert.Zero(t, c.Len())
	assert.Empty(t, c.Keys())
}
