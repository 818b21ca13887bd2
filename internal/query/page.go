// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package query

import (
	"slices"

	"github.com/pdiddy/catalog-engine/internal/result"
)

// Page is one client-side page of a result set.
type Page struct {
	// Number is the 1-based page number actually returned.
	Number  int
	Size    int
	Pages   int
	Total   int
	Records []*result.Record
}

// Page returns page n (1-based) of the current results with the given page
// size. n is clamped to the valid range; size <= 0 returns everything.
func (s *ResultSet) Page(n, size int) Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return paginate(s.results, n, size)
}

func paginate(records []*result.Record, n, size int) Page {
	total := len(records)
	if size <= 0 {
		size = max(total, 1)
	}
	pages := max((total+size-1)/size, 1)
	n = min(max(n, 1), pages)

	start := (n - 1) * size
	end := min(start+size, total)
	return Page{
		Number:  n,
		Size:    size,
		Pages:   pages,
		Total:   total,
		Records: slices.Clone(records[start:end]),
	}
}

// NextServerPage advances the query's per-source start index by one page
// size. It takes effect on the next StartSearch and reports the new index.
func (s *ResultSet) NextServerPage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := max(s.desc.StartIndex, 1)
	s.desc.StartIndex = start + max(s.desc.PageSize, 1)
	return s.desc.StartIndex
}

// PrevServerPage moves the per-source start index back one page, not
// below 1, and reports the new index.
func (s *ResultSet) PrevServerPage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := max(s.desc.StartIndex, 1)
	s.desc.StartIndex = max(start-max(s.desc.PageSize, 1), 1)
	return s.desc.StartIndex
}
