// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the catalog-engine result layer.
//
// Metacard is the only wire format the core depends on precisely: an id, the
// id of the source that produced it, a free-form property mapping, and an
// optional geometry consumed by clustering. See docs/ARCHITECTURE § Results.
package types

import (
	"encoding/json"
	"maps"
)

// Metacard is one normalized catalog record as returned by a federated source.
type Metacard struct {
	// ID is the source-local identifier of the record.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// SourceID names the federated source that owns the record.
	SourceID string `json:"source-id,omitempty" yaml:"source-id,omitempty"`

	// Properties holds descriptive attributes (title, created, modified, ...).
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`

	// Geometry is either a WKT string or a GeoJSON geometry object.
	Geometry json.RawMessage `json:"geometry,omitempty" yaml:"-"`
}

// Property returns the named property and whether it is present.
func (m Metacard) Property(name string) (any, bool) {
	v, ok := m.Properties[name]
	return v, ok
}

// Title returns the "title" property as a string, or "" when absent.
func (m Metacard) Title() string {
	if s, ok := m.Properties["title"].(string); ok {
		return s
	}
	return ""
}

// Clone returns a copy whose property map and geometry can be mutated
// without affecting m. Property values themselves are shared.
func (m Metacard) Clone() Metacard {
	out := m
	if m.Properties != nil {
		out.Properties = maps.Clone(m.Properties)
	}
	if m.Geometry != nil {
		out.Geometry = append(json.RawMessage(nil), m.Geometry...)
	}
	return out
}

// ValidationIssue is one attribute-level validation finding reported by the
// catalog for a metacard.
type ValidationIssue struct {
	Attribute string   `json:"attribute" yaml:"attribute"`
	Severity  string   `json:"severity" yaml:"severity"`
	Messages  []string `json:"messages" yaml:"messages"`
}
