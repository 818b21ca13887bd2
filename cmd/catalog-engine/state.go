package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/pdiddy/catalog-engine/internal/app"
	"github.com/pdiddy/catalog-engine/internal/catalog"
	"github.com/pdiddy/catalog-engine/internal/events"
	"github.com/pdiddy/catalog-engine/internal/identity"
	"github.com/pdiddy/catalog-engine/internal/query"
	"github.com/pdiddy/catalog-engine/internal/result"
	"github.com/pdiddy/catalog-engine/internal/store"
)

// session bundles the application state with the resources it borrows.
type session struct {
	*app.State
	store  *store.Store
	client *catalog.Client
	bus    *events.Bus
	logged chan struct{}
}

// openSession opens the local database, builds the catalog client, and
// restores stored workspaces and references into a fresh application state.
func openSession(ctx context.Context) (*session, error) {
	st, err := store.Open(engineCfg.Store)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	client := catalog.New(engineCfg.Catalog, creds, logger)
	fetcher := &store.CachedFetcher{Fetcher: client, Store: st, Log: logger}
	bus := events.NewBus()

	state := app.New(app.Options{
		Config:   engineCfg,
		Searcher: client,
		Fetcher:  fetcher,
		Store:    st,
		Bus:      bus,
		Logger:   logger,
	})
	sess := &session{State: state, store: st, client: client, bus: bus, logged: make(chan struct{})}
	go sess.logEvents(bus.Subscribe(256))

	if err := state.Load(ctx); err != nil {
		sess.Close()
		return nil, fmt.Errorf("loading state: %w", err)
	}
	return sess, nil
}

// logEvents writes every bus event to the debug log until the bus closes.
func (s *session) logEvents(ch <-chan events.Envelope) {
	defer close(s.logged)
	for env := range ch {
		if ce := logger.Check(zap.DebugLevel, "event"); ce != nil {
			ce.Write(zap.Uint64("seq", env.Seq), zap.String("kind", env.Event.Kind()), zap.Any("payload", env.Event))
		}
	}
}

// Close tears down the state, then the bus and the store it writes to.
func (s *session) Close() {
	s.State.Close()
	s.bus.Close()
	<-s.logged
	if n := s.bus.Dropped(); n > 0 {
		logger.Debug("events dropped", zap.Uint64("count", n))
	}
	if err := s.store.Close(); err != nil {
		logger.Warn("closing store", zap.Error(err))
	}
}

// cacheResults writes every record's metacard to the local cache so later
// commands can resolve identities without a search.
func (s *session) cacheResults(ctx context.Context, records []*result.Record) {
	for _, rec := range records {
		if _, ok := rec.Key(); !ok {
			continue
		}
		if err := s.store.PutMetacard(ctx, rec.Metacard()); err != nil {
			logger.Warn("metacard cache write failed", zap.String("id", rec.Metacard().ID), zap.Error(err))
		}
	}
}

// resolve finds a record for key: a live holder first, then the local cache.
// A cached metacard becomes a fresh record bound to the session's fetcher.
func (s *session) resolve(ctx context.Context, key identity.Key) (*result.Record, error) {
	if holders := s.Holders(key); len(holders) > 0 {
		return holders[0], nil
	}
	m, err := s.store.GetMetacard(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", key, err)
	}
	return result.New(m, &store.CachedFetcher{Fetcher: s.client, Store: s.store, Log: logger}, logger), nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// wait blocks until done closes or ctx ends.
func wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func parseKey(s string) (identity.Key, error) {
	key, ok := identity.Parse(s)
	if !ok {
		return "", fmt.Errorf("invalid identity %q: want source/id", s)
	}
	return key, nil
}

func printStatus(w io.Writer, rs *query.ResultSet) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "SOURCE\tSTATUS\tELAPSED\tMESSAGE\n")
	for _, st := range rs.Status() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", st.ID, st.Label(), st.Elapsed, st.Message)
	}
	tw.Flush()
}

// printRecords numbers records from offset+1.
func printRecords(w io.Writer, records []*result.Record, offset int) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "#\tIDENTITY\tTITLE\n")
	for i, rec := range records {
		id := "-"
		if key, ok := rec.Key(); ok {
			id = key.String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", offset+i+1, id, rec.Title())
	}
	tw.Flush()
}
