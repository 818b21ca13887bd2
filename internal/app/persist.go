// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/catalog-engine/internal/identity"
	"github.com/pdiddy/catalog-engine/internal/reference"
	"github.com/pdiddy/catalog-engine/internal/result"
	"github.com/pdiddy/catalog-engine/internal/store"
)

// Load opens every stored workspace and restores the alert and blacklist
// identities. It is a no-op without a store.
func (s *State) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	stored, err := s.store.ListWorkspaces(ctx)
	if err != nil {
		return err
	}
	for _, sw := range stored {
		w, err := s.NewWorkspace(sw.ID, sw.Title)
		if err != nil {
			return err
		}
		for _, q := range sw.Queries {
			if _, err := w.AddQuery(q); err != nil {
				return fmt.Errorf("restoring workspace %s: %w", sw.ID, err)
			}
		}
	}

	for _, c := range []*reference.Collection{s.alerts, s.blacklist} {
		keys, err := s.store.References(ctx, c.Name())
		if err != nil {
			return err
		}
		for _, k := range keys {
			c.AddKey(k)
		}
	}
	s.log.Debug("state loaded",
		zap.Int("workspaces", len(stored)),
		zap.Int("alerts", s.alerts.Len()),
		zap.Int("blacklist", s.blacklist.Len()))
	return nil
}

// SaveWorkspace persists an open workspace and its queries.
func (s *State) SaveWorkspace(ctx context.Context, id string) error {
	if s.store == nil {
		return nil
	}
	w, err := s.Workspace(id)
	if err != nil {
		return err
	}
	sw := store.Workspace{ID: w.ID(), Title: w.Title()}
	for _, rs := range w.Queries() {
		sw.Queries = append(sw.Queries, rs.Descriptor())
	}
	return s.store.SaveWorkspace(ctx, sw)
}

// AddAlert references rec from the alert collection. The alert copy is
// refreshed along with every other holder of its identity.
func (s *State) AddAlert(ctx context.Context, rec *result.Record) error {
	if err := s.alerts.Add(rec); err != nil {
		return err
	}
	key, _ := rec.Key()
	return s.persistRef(ctx, reference.Alerts, key, true)
}

// RemoveAlert drops an alert reference.
func (s *State) RemoveAlert(ctx context.Context, key identity.Key) error {
	s.alerts.Remove(key)
	return s.persistRef(ctx, reference.Alerts, key, false)
}

// Hide blacklists key and recomputes every aggregate so the record leaves
// list and map views.
func (s *State) Hide(ctx context.Context, key identity.Key) error {
	s.blacklist.AddKey(key)
	s.reaggregate()
	return s.persistRef(ctx, reference.Blacklist, key, true)
}

// Unhide removes key from the blacklist.
func (s *State) Unhide(ctx context.Context, key identity.Key) error {
	s.blacklist.Remove(key)
	s.reaggregate()
	return s.persistRef(ctx, reference.Blacklist, key, false)
}

func (s *State) reaggregate() {
	for _, w := range s.Workspaces() {
		w.Aggregate().Schedule()
	}
}

func (s *State) persistRef(ctx context.Context, collection string, key identity.Key, add bool) error {
	if s.store == nil {
		return nil
	}
	if add {
		return s.store.AddReference(ctx, collection, key)
	}
	_, err := s.store.RemoveReference(ctx, collection, key)
	return err
}
