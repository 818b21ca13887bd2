// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package query

import (
	"cmp"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pdiddy/catalog-engine/internal/result"
	"github.com/pdiddy/catalog-engine/pkg/types"
)

// comparator orders records by a query's sort specs. It returns nil when the
// query has no sort, meaning arrival order is kept.
func comparator(specs []types.SortSpec) func(a, b *result.Record) int {
	specs = usableSpecs(specs)
	if len(specs) == 0 {
		return nil
	}
	return func(a, b *result.Record) int {
		for _, s := range specs {
			av, aok := a.Property(s.Attribute)
			bv, bok := b.Property(s.Attribute)
			// Missing values sort last in either direction.
			switch {
			case !aok && !bok:
				continue
			case !aok:
				return 1
			case !bok:
				return -1
			}
			c := compareValues(av, bv)
			if s.Direction == types.SortDescending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	}
}

func usableSpecs(specs []types.SortSpec) []types.SortSpec {
	var out []types.SortSpec
	for _, s := range specs {
		if s.Attribute != "" {
			out = append(out, s)
		}
	}
	return out
}

// sortFields reports whether any of the changed fields is a sort attribute.
func sortFields(specs []types.SortSpec, changed []string) bool {
	for _, s := range specs {
		for _, f := range changed {
			if s.Attribute == f {
				return true
			}
		}
	}
	return false
}

// compareValues orders two attribute values. Numbers compare numerically,
// times chronologically, and everything else by its string form.
func compareValues(a, b any) int {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return cmp.Compare(af, bf)
		}
	}
	if at, ok := toTime(a); ok {
		if bt, ok := toTime(b); ok {
			return at.Compare(bt)
		}
	}
	return strings.Compare(toString(a), toString(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	default:
		return time.Time{}, false
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return strings.ToLower(s)
	}
	return strings.ToLower(fmt.Sprint(v))
}
