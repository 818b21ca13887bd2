// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package result

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/catalog-engine/internal/identity"
	"github.com/pdiddy/catalog-engine/pkg/types"
)

// --- mock fetcher ---

type mockFetcher struct {
	mu          sync.Mutex
	cards       map[identity.Key]types.Metacard
	err         error
	validations int
	previews    int
}

func (f *mockFetcher) FetchMetacard(_ context.Context, key identity.Key) (types.Metacard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return types.Metacard{}, f.err
	}
	return f.cards[key], nil
}

func (f *mockFetcher) FetchValidation(_ context.Context, key identity.Key) ([]types.ValidationIssue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validations++
	if f.err != nil {
		return nil, f.err
	}
	return []types.ValidationIssue{{Attribute: "title", Severity: "warning", Messages: []string{"short"}}}, nil
}

func (f *mockFetcher) FetchPreview(_ context.Context, key identity.Key) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previews++
	if f.err != nil {
		return "", f.err
	}
	return "<p>" + key.String() + "</p>", nil
}

func card(id, title string) types.Metacard {
	return types.Metacard{ID: id, SourceID: "local", Properties: map[string]any{"title": title}}
}

func TestNewDerivesIdentity(t *testing.T) {
	r := New(card("1", "A"), nil, nil)
	key, ok := r.Key()
	require.True(t, ok)
	assert.Equal(t, "local/1", key.String())

	anon := New(types.Metacard{Properties: map[string]any{"title": "x"}}, nil, nil)
	_, ok = anon.Key()
	assert.False(t, ok)
}

func TestNewCopiesInput(t *testing.T) {
	m := card("1", "A")
	r := New(m, nil, nil)
	m.Properties["title"] = "mutated"
	assert.Equal(t, "A", r.Title())
}

func TestApplyMergesAndNotifies(t *testing.T) {
	r := New(card("1", "A"), nil, nil)
	var changes []Change
	r.Subscribe(func(c Change) { changes = append(changes, c) })

	changed := r.Apply(map[string]any{"title": "B", "description": "new"})
	assert.Equal(t, []string{"description", "title"}, changed)

	got := r.Metacard()
	assert.Equal(t, "B", got.Properties["title"])
	assert.Equal(t, "new", got.Properties["description"])

	// No-op patch publishes nothing.
	assert.Empty(t, r.Apply(map[string]any{"title": "B"}))

	require.Len(t, changes, 1)
	assert.Equal(t, Updated, changes[0].Kind)
	assert.Same(t, r, changes[0].Record)
}

func TestRefreshDataUpdatesInPlace(t *testing.T) {
	key, _ := identity.New("local", "1")
	f := &mockFetcher{cards: map[identity.Key]types.Metacard{
		key: {ID: "1", SourceID: "local", Properties: map[string]any{"title": "fresh"}},
	}}
	r := New(types.Metacard{ID: "1", SourceID: "local", Properties: map[string]any{"title": "stale", "gone": true}}, f, nil)
	holder := r

	var kinds []ChangeKind
	r.Subscribe(func(c Change) { kinds = append(kinds, c.Kind) })

	require.NoError(t, r.RefreshData(context.Background()))
	assert.Same(t, holder, r)
	assert.Equal(t, "fresh", holder.Title())
	_, ok := holder.Property("gone")
	assert.False(t, ok, "properties absent from the refreshed metacard are removed")
	assert.Equal(t, []ChangeKind{Refreshed}, kinds)
}

func TestRefreshDataFailureLeavesAttributes(t *testing.T) {
	f := &mockFetcher{err: errors.New("timeout")}
	r := New(card("1", "A"), f, nil)
	notified := false
	r.Subscribe(func(Change) { notified = true })

	err := r.RefreshData(context.Background())
	require.Error(t, err)
	assert.Equal(t, "A", r.Title())
	assert.False(t, notified)
}

func TestRefreshDataRejectsOtherIdentity(t *testing.T) {
	key, _ := identity.New("local", "1")
	f := &mockFetcher{cards: map[identity.Key]types.Metacard{key: card("2", "other")}}
	r := New(card("1", "A"), f, nil)

	err := r.RefreshData(context.Background())
	assert.ErrorIs(t, err, ErrIdentityMismatch)
	assert.Equal(t, "A", r.Title())
}

func TestRefreshDataNeedsIdentityAndFetcher(t *testing.T) {
	anon := New(types.Metacard{}, &mockFetcher{}, nil)
	assert.ErrorIs(t, anon.RefreshData(context.Background()), ErrUnidentifiable)

	bare := New(card("1", "A"), nil, nil)
	assert.ErrorIs(t, bare.RefreshData(context.Background()), ErrNoFetcher)
}

func TestValidationAndPreviewAreCached(t *testing.T) {
	f := &mockFetcher{}
	r := New(card("1", "A"), f, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		issues, err := r.Validation(ctx)
		require.NoError(t, err)
		assert.Len(t, issues, 1)
		p, err := r.Preview(ctx)
		require.NoError(t, err)
		assert.Equal(t, "<p>local/1</p>", p)
	}
	assert.Equal(t, 1, f.validations)
	assert.Equal(t, 1, f.previews)

	r.InvalidateCaches()
	_, _ = r.Validation(ctx)
	_, _ = r.Preview(ctx)
	assert.Equal(t, 2, f.validations)
	assert.Equal(t, 2, f.previews)
}

func TestRefreshInvalidatesValidationOnly(t *testing.T) {
	key, _ := identity.New("local", "1")
	f := &mockFetcher{cards: map[identity.Key]types.Metacard{key: card("1", "fresh")}}
	r := New(card("1", "A"), f, nil)
	ctx := context.Background()

	_, _ = r.Validation(ctx)
	_, _ = r.Preview(ctx)
	require.NoError(t, r.RefreshData(ctx))
	_, _ = r.Validation(ctx)
	_, _ = r.Preview(ctx)

	assert.Equal(t, 2, f.validations)
	assert.Equal(t, 1, f.previews)
}

func TestSelection(t *testing.T) {
	r := New(card("1", "A"), nil, nil)
	count := 0
	r.Subscribe(func(c Change) {
		if c.Kind == SelectionChanged {
			count++
		}
	})
	r.SetSelected(true)
	r.SetSelected(true)
	r.SetSelected(false)
	assert.False(t, r.Selected())
	assert.Equal(t, 2, count)
}

func TestRetainRelease(t *testing.T) {
	r := New(card("1", "A"), nil, nil)
	removed := 0
	r.Subscribe(func(c Change) {
		if c.Kind == Removed {
			removed++
		}
	})

	assert.False(t, r.Release(), "releasing an unowned record is a no-op")

	r.Retain()
	r.Retain()
	assert.False(t, r.Release())
	assert.Equal(t, 1, r.Owners())
	assert.True(t, r.Release())
	assert.Equal(t, 1, removed)

	r.Apply(map[string]any{"title": "B"})
	assert.Equal(t, 1, removed, "observers are dropped after destruction")
}
