// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/pdiddy/catalog-engine/internal/identity"
	"github.com/pdiddy/catalog-engine/internal/result"
	"github.com/pdiddy/catalog-engine/pkg/types"
)

// CachedFetcher wraps a result.Fetcher and writes every successfully fetched
// metacard through to the store. Failures are passed through unchanged; the
// cache is never served in place of a failed fetch.
type CachedFetcher struct {
	Fetcher result.Fetcher
	Store   *Store
	Log     *zap.Logger
}

// FetchMetacard implements result.Fetcher.
func (f *CachedFetcher) FetchMetacard(ctx context.Context, key identity.Key) (types.Metacard, error) {
	m, err := f.Fetcher.FetchMetacard(ctx, key)
	if err != nil {
		return m, err
	}
	if err := f.Store.PutMetacard(ctx, m); err != nil && f.Log != nil {
		f.Log.Warn("metacard cache write failed", zap.Stringer("key", key), zap.Error(err))
	}
	return m, nil
}

// FetchValidation implements result.Fetcher.
func (f *CachedFetcher) FetchValidation(ctx context.Context, key identity.Key) ([]types.ValidationIssue, error) {
	return f.Fetcher.FetchValidation(ctx, key)
}

// FetchPreview implements result.Fetcher.
func (f *CachedFetcher) FetchPreview(ctx context.Context, key identity.Key) (string, error) {
	return f.Fetcher.FetchPreview(ctx, key)
}
