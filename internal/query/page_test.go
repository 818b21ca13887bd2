// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package query

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pdiddy/catalog-engine/internal/result"
	"github.com/pdiddy/catalog-engine/pkg/types"
)

func numbered(n int) []*result.Record {
	out := make([]*result.Record, n)
	for i := range out {
		out[i] = result.New(mc("a", fmt.Sprint(i+1)), nil, nil)
	}
	return out
}

func TestPaginate(t *testing.T) {
	recs := numbered(7)

	p := paginate(recs, 2, 3)
	assert.Equal(t, 2, p.Number)
	assert.Equal(t, 3, p.Pages)
	assert.Equal(t, 7, p.Total)
	assert.Equal(t, []string{"a/4", "a/5", "a/6"}, keys(p.Records))

	last := paginate(recs, 9, 3)
	assert.Equal(t, 3, last.Number, "past the end clamps to the last page")
	assert.Equal(t, []string{"a/7"}, keys(last.Records))

	first := paginate(recs, 0, 3)
	assert.Equal(t, 1, first.Number)

	all := paginate(recs, 1, 0)
	assert.Equal(t, 1, all.Pages)
	assert.Len(t, all.Records, 7)

	empty := paginate(nil, 1, 10)
	assert.Equal(t, 1, empty.Pages)
	assert.Empty(t, empty.Records)
}

func TestServerPaging(t *testing.T) {
	s := New(types.QueryDescriptor{Sources: []string{"a"}, PageSize: 25}, Options{})
	assert.Equal(t, 26, s.NextServerPage())
	assert.Equal(t, 51, s.NextServerPage())
	assert.Equal(t, 26, s.PrevServerPage())
	assert.Equal(t, 1, s.PrevServerPage())
	assert.Equal(t, 1, s.PrevServerPage(), "start index never drops below 1")
	assert.Equal(t, 1, s.Descriptor().StartIndex)
}
