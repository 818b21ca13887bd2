// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pdiddy/catalog-engine/internal/events"
	"github.com/pdiddy/catalog-engine/internal/identity"
	"github.com/pdiddy/catalog-engine/internal/result"
	"github.com/pdiddy/catalog-engine/pkg/types"
)

// --- mock searchers ---

// funcSearcher answers immediately.
type funcSearcher func(ctx context.Context, q types.QueryDescriptor, src string) (types.SourceResponse, error)

func (f funcSearcher) Search(ctx context.Context, q types.QueryDescriptor, src string) (types.SourceResponse, error) {
	return f(ctx, q, src)
}

type reply struct {
	resp types.SourceResponse
	err  error
}

type pendingCall struct {
	src   string
	reply chan reply
}

// scriptedSearcher hands every call to the test, which answers it whenever
// it likes. Calls ignore cancellation so late responses can be simulated.
type scriptedSearcher struct {
	calls chan *pendingCall
}

func newScripted() *scriptedSearcher {
	return &scriptedSearcher{calls: make(chan *pendingCall, 16)}
}

func (s *scriptedSearcher) Search(_ context.Context, _ types.QueryDescriptor, src string) (types.SourceResponse, error) {
	pc := &pendingCall{src: src, reply: make(chan reply, 1)}
	s.calls <- pc
	r := <-pc.reply
	return r.resp, r.err
}

func (s *scriptedSearcher) next(t *testing.T) *pendingCall {
	t.Helper()
	select {
	case pc := <-s.calls:
		return pc
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a search call")
		return nil
	}
}

func mc(src, id string, props ...any) types.Metacard {
	m := types.Metacard{ID: id, SourceID: src, Properties: map[string]any{}}
	for i := 0; i+1 < len(props); i += 2 {
		m.Properties[props[i].(string)] = props[i+1]
	}
	return m
}

func ok(cards ...types.Metacard) reply {
	return reply{resp: types.SourceResponse{
		Status:  types.SourceStatus{Count: len(cards), Hits: int64(len(cards)), Successful: types.Bool(true)},
		Results: cards,
	}}
}

func keys(records []*result.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		k, _ := r.Key()
		out = append(out, k.String())
	}
	return out
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for search to finish")
	}
}

// mergedSignal returns a channel receiving one value per merged response.
func mergedSignal(s *ResultSet) <-chan Change {
	ch := make(chan Change, 16)
	s.Subscribe(func(c Change) {
		if c.Kind == Merged {
			ch <- c
		}
	})
	return ch
}

func waitMerged(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for merge")
		return Change{}
	}
}

func desc(sources ...string) types.QueryDescriptor {
	return types.QueryDescriptor{ID: "q1", CQL: "anyText ILIKE '*'", Sources: sources, PageSize: 10}
}

// --- search lifecycle ---

func TestStartSearchMergesAllSources(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(desc("a", "b"), Options{Searcher: funcSearcher(func(_ context.Context, _ types.QueryDescriptor, src string) (types.SourceResponse, error) {
		r := ok(mc(src, "1"), mc(src, "2"))
		return r.resp, nil
	})})
	assert.Equal(t, StateIdle, s.State())

	done, err := s.StartSearch(context.Background())
	require.NoError(t, err)
	wait(t, done)

	assert.Equal(t, StateComplete, s.State())
	assert.ElementsMatch(t, []string{"a/1", "a/2", "b/1", "b/2"}, keys(s.Results()))
	responded, total := s.Progress()
	assert.Equal(t, 2, responded)
	assert.Equal(t, 2, total)
	for _, st := range s.Status() {
		assert.Equal(t, "2 of 2", st.Label())
	}
	assert.False(t, s.Initiated().IsZero())
}

func TestStartSearchErrors(t *testing.T) {
	s := New(types.QueryDescriptor{ID: "empty"}, Options{Searcher: newScripted()})
	_, err := s.StartSearch(context.Background())
	assert.ErrorIs(t, err, ErrNoSources)

	s2 := New(desc("a"), Options{Searcher: newScripted()})
	s2.Close()
	_, err = s2.StartSearch(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	s3 := New(desc("a"), Options{})
	_, err = s3.StartSearch(context.Background())
	assert.Error(t, err)
}

func TestNewAssignsID(t *testing.T) {
	s := New(types.QueryDescriptor{Sources: []string{"a"}}, Options{})
	assert.NotEmpty(t, s.ID())
}

func TestPartialThenComplete(t *testing.T) {
	ss := newScripted()
	s := New(desc("a", "b"), Options{Searcher: ss})
	merged := mergedSignal(s)

	done, err := s.StartSearch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatePending, s.State())

	first := ss.next(t)
	second := ss.next(t)

	first.reply <- ok(mc(first.src, "1"))
	waitMerged(t, merged)
	assert.Equal(t, StatePartial, s.State())
	st, _ := s.SourceStatus(second.src)
	assert.Equal(t, "pending", st.Label())

	second.reply <- ok(mc(second.src, "1"))
	wait(t, done)
	assert.Equal(t, StateComplete, s.State())
	assert.Equal(t, 2, s.Len())
}

func TestRepeatedSourcesSearchedOnce(t *testing.T) {
	ss := newScripted()
	s := New(desc("a", "b", "a"), Options{Searcher: ss})
	assert.Equal(t, []string{"a", "b"}, s.Descriptor().Sources)
	merged := mergedSignal(s)

	done, err := s.StartSearch(context.Background())
	require.NoError(t, err)
	first, second := ss.next(t), ss.next(t)

	first.reply <- ok(mc(first.src, "1"))
	waitMerged(t, merged)
	assert.Equal(t, StatePartial, s.State())
	responded, total := s.Progress()
	assert.Equal(t, 1, responded)
	assert.Equal(t, 2, total)

	second.reply <- ok(mc(second.src, "1"))
	wait(t, done)
	assert.Equal(t, StateComplete, s.State())
	assert.Len(t, s.Status(), 2)
	select {
	case extra := <-ss.calls:
		t.Fatalf("source %s searched twice", extra.src)
	default:
	}

	s.SetDescriptor(desc("c", "c"))
	assert.Equal(t, []string{"c"}, s.Descriptor().Sources)
}

// --- merge on arrival ---

func TestMergeOnArrivalUpdatesInPlace(t *testing.T) {
	ss := newScripted()
	s := New(desc("a", "b"), Options{Searcher: ss})
	merged := mergedSignal(s)

	done, err := s.StartSearch(context.Background())
	require.NoError(t, err)
	first, second := ss.next(t), ss.next(t)

	first.reply <- ok(mc("shared", "X", "title", "first"), mc("shared", "Y"))
	waitMerged(t, merged)
	key, _ := identity.New("shared", "X")
	held, found := s.Lookup(key)
	require.True(t, found)

	second.reply <- ok(mc("shared", "X", "title", "second"), mc("shared", "X", "title", "third"))
	c := waitMerged(t, merged)
	wait(t, done)

	assert.Equal(t, []string{"shared/X", "shared/Y"}, keys(s.Results()))
	assert.Equal(t, "third", held.Title(), "last writer wins and the held pointer observes it")
	assert.Empty(t, c.Added)
	assert.Contains(t, c.Updated, held)
}

func TestNoDuplicatesRegardlessOfArrivalOrder(t *testing.T) {
	for _, order := range [][2]int{{0, 1}, {1, 0}} {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			ss := newScripted()
			s := New(desc("a", "b"), Options{Searcher: ss})
			done, err := s.StartSearch(context.Background())
			require.NoError(t, err)
			calls := []*pendingCall{ss.next(t), ss.next(t)}
			replies := []reply{
				ok(mc("x", "1"), mc("x", "2"), mc("x", "3")),
				ok(mc("x", "3"), mc("x", "4"), mc("x", "1")),
			}
			merged := mergedSignal(s)
			calls[order[0]].reply <- replies[0]
			waitMerged(t, merged)
			calls[order[1]].reply <- replies[1]
			wait(t, done)

			got := keys(s.Results())
			assert.ElementsMatch(t, []string{"x/1", "x/2", "x/3", "x/4"}, got)
			seen := map[string]bool{}
			for _, k := range got {
				assert.False(t, seen[k], "duplicate %s", k)
				seen[k] = true
			}
		})
	}
}

func TestMergeKeepsSortOrder(t *testing.T) {
	ss := newScripted()
	d := desc("a", "b")
	d.Sort = []types.SortSpec{{Attribute: "modified", Direction: types.SortDescending}}
	s := New(d, Options{Searcher: ss})
	merged := mergedSignal(s)

	done, err := s.StartSearch(context.Background())
	require.NoError(t, err)
	first, second := ss.next(t), ss.next(t)

	first.reply <- ok(
		mc("a", "t3", "modified", "2026-03-01T00:00:00Z"),
		mc("a", "t1", "modified", "2026-01-01T00:00:00Z"),
		mc("a", "none"),
	)
	waitMerged(t, merged)
	second.reply <- ok(
		mc("b", "t2", "modified", "2026-02-01T00:00:00Z"),
		mc("b", "t2b", "modified", "2026-02-01T00:00:00Z"),
	)
	wait(t, done)

	assert.Equal(t, []string{"a/t3", "b/t2", "b/t2b", "a/t1", "a/none"}, keys(s.Results()))
}

func TestUpdateRepositionsOnSortField(t *testing.T) {
	ss := newScripted()
	d := desc("a", "b")
	d.Sort = []types.SortSpec{{Attribute: "rank", Direction: types.SortAscending}}
	s := New(d, Options{Searcher: ss})
	merged := mergedSignal(s)

	done, err := s.StartSearch(context.Background())
	require.NoError(t, err)
	first, second := ss.next(t), ss.next(t)

	first.reply <- ok(mc("a", "1", "rank", 1.0), mc("a", "2", "rank", 2.0))
	waitMerged(t, merged)
	second.reply <- ok(mc("a", "1", "rank", 3.0))
	wait(t, done)

	assert.Equal(t, []string{"a/2", "a/1"}, keys(s.Results()))
}

func TestUnidentifiableRecordsArePresentButUnmerged(t *testing.T) {
	s := New(desc("a"), Options{Searcher: funcSearcher(func(context.Context, types.QueryDescriptor, string) (types.SourceResponse, error) {
		r := ok(types.Metacard{Properties: map[string]any{"title": "anon"}}, types.Metacard{Properties: map[string]any{"title": "anon"}}, mc("a", "1"))
		return r.resp, nil
	})})
	done, err := s.StartSearch(context.Background())
	require.NoError(t, err)
	wait(t, done)

	assert.Equal(t, 3, s.Len())
}

// --- failures ---

func TestSourceFailureDoesNotBlockOthers(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := New(desc("good", "bad"), Options{
		Logger: zap.New(core),
		Searcher: funcSearcher(func(_ context.Context, _ types.QueryDescriptor, src string) (types.SourceResponse, error) {
			if src == "bad" {
				return types.SourceResponse{}, errors.New("connection refused")
			}
			r := ok(mc(src, "1"))
			return r.resp, nil
		}),
	})
	done, err := s.StartSearch(context.Background())
	require.NoError(t, err)
	wait(t, done)

	assert.Equal(t, StateComplete, s.State())
	assert.Equal(t, 1, s.Len())
	bad, _ := s.SourceStatus("bad")
	assert.True(t, bad.Failed())
	assert.Equal(t, "failed", bad.Label())
	assert.Contains(t, bad.Message, "connection refused")
	assert.Equal(t, 1, logs.FilterMessage("source search failed").Len())
}

func TestAllSourcesFailing(t *testing.T) {
	s := New(desc("a", "b"), Options{Searcher: funcSearcher(func(context.Context, types.QueryDescriptor, string) (types.SourceResponse, error) {
		return types.SourceResponse{}, errors.New("down")
	})})
	done, err := s.StartSearch(context.Background())
	require.NoError(t, err)
	wait(t, done)
	assert.Equal(t, StateFailed, s.State())
	assert.False(t, s.Canceled())
}

func TestSourceReportedUnsuccessful(t *testing.T) {
	s := New(desc("a"), Options{Searcher: funcSearcher(func(context.Context, types.QueryDescriptor, string) (types.SourceResponse, error) {
		return types.SourceResponse{Status: types.SourceStatus{Successful: types.Bool(false), Message: "timeout"}}, nil
	})})
	done, err := s.StartSearch(context.Background())
	require.NoError(t, err)
	wait(t, done)
	assert.Equal(t, StateFailed, s.State())
}

// --- cancellation ---

func TestNewSearchDiscardsStaleResponse(t *testing.T) {
	defer goleak.VerifyNone(t)

	core, logs := observer.New(zapcore.DebugLevel)
	ss := newScripted()
	s := New(desc("a"), Options{Searcher: ss, Logger: zap.New(core)})

	done1, err := s.StartSearch(context.Background())
	require.NoError(t, err)
	c1 := ss.next(t)

	done2, err := s.StartSearch(context.Background())
	require.NoError(t, err)
	c2 := ss.next(t)
	wait(t, done1)

	c2.reply <- ok(mc("a", "fresh"))
	wait(t, done2)

	c1.reply <- ok(mc("a", "stale"), mc("a", "fresh", "title", "stale"))
	require.Eventually(t, func() bool {
		return logs.FilterMessage("discarding superseded response").Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"a/fresh"}, keys(s.Results()))
	assert.Empty(t, s.Results()[0].Title())
	assert.Equal(t, StateComplete, s.State())
}

func TestCancelKeepsMergedResults(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ss := newScripted()
	s := New(desc("a", "b"), Options{Searcher: ss, Logger: zap.New(core)})
	merged := mergedSignal(s)

	done, err := s.StartSearch(context.Background())
	require.NoError(t, err)
	first, second := ss.next(t), ss.next(t)
	first.reply <- ok(mc("a", "1"))
	waitMerged(t, merged)

	s.CancelCurrentSearches()
	wait(t, done)
	assert.Equal(t, StateFailed, s.State())
	assert.True(t, s.Canceled())
	assert.Equal(t, []string{"a/1"}, keys(s.Results()))
	st, _ := s.SourceStatus(second.src)
	assert.Equal(t, "canceled", st.Message)

	second.reply <- ok(mc("b", "late"))
	require.Eventually(t, func() bool {
		return logs.FilterMessage("discarding superseded response").Len() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a/1"}, keys(s.Results()))
}

func TestCancelIsIdempotent(t *testing.T) {
	s := New(desc("a"), Options{Searcher: newScripted()})
	assert.NotPanics(t, func() {
		s.CancelCurrentSearches()
		s.CancelCurrentSearches()
	})
	assert.Equal(t, StateIdle, s.State())
	assert.False(t, s.Canceled())

	fs := New(desc("a"), Options{Searcher: funcSearcher(func(context.Context, types.QueryDescriptor, string) (types.SourceResponse, error) {
		r := ok(mc("a", "1"))
		return r.resp, nil
	})})
	done, err := fs.StartSearch(context.Background())
	require.NoError(t, err)
	wait(t, done)
	before := fs.Results()

	fs.CancelCurrentSearches()
	fs.CancelCurrentSearches()
	assert.Equal(t, StateComplete, fs.State(), "cancel after completion is a no-op")
	assert.Equal(t, before, fs.Results())
}

// --- ownership and removal ---

func TestNewSearchReleasesPreviousRecords(t *testing.T) {
	s := New(desc("a"), Options{Searcher: funcSearcher(func(context.Context, types.QueryDescriptor, string) (types.SourceResponse, error) {
		r := ok(mc("a", "1"))
		return r.resp, nil
	})})
	done, _ := s.StartSearch(context.Background())
	wait(t, done)
	old := s.Results()[0]
	assert.Equal(t, 1, old.Owners())

	done, _ = s.StartSearch(context.Background())
	wait(t, done)
	assert.Equal(t, 0, old.Owners())
	assert.NotSame(t, old, s.Results()[0], "results are fully replaced by a new execution")
}

func TestRemoveAndClose(t *testing.T) {
	s := New(desc("a"), Options{Searcher: funcSearcher(func(context.Context, types.QueryDescriptor, string) (types.SourceResponse, error) {
		r := ok(mc("a", "1"), mc("a", "2"))
		return r.resp, nil
	})})
	done, _ := s.StartSearch(context.Background())
	wait(t, done)

	k1, _ := identity.New("a", "1")
	rec, _ := s.Lookup(k1)
	assert.True(t, s.Remove(k1))
	assert.False(t, s.Remove(k1))
	assert.Equal(t, 0, rec.Owners())
	assert.Equal(t, 1, s.Len())

	remaining := s.Results()[0]
	s.Close()
	s.Close()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, remaining.Owners())
}

func TestBusEvents(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe(32)
	s := New(desc("a"), Options{Bus: bus, Searcher: funcSearcher(func(context.Context, types.QueryDescriptor, string) (types.SourceResponse, error) {
		r := ok(mc("a", "1"))
		return r.resp, nil
	})})
	done, _ := s.StartSearch(context.Background())
	wait(t, done)
	bus.Close()

	var kinds []string
	for env := range ch {
		kinds = append(kinds, env.Event.Kind())
	}
	assert.Contains(t, kinds, "search.started")
	assert.Contains(t, kinds, "search.source")
	assert.Contains(t, kinds, "search.state")
}
