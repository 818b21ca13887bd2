// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package identity derives the stable identity of a metacard from its
// source-qualified id. Two records are the same logical entity iff their
// keys are equal; every merge, compare, and propagation in the result layer
// goes through this package.
package identity

import (
	"strings"

	"github.com/pdiddy/catalog-engine/pkg/types"
)

// Key is the identity of a metacard: the source id and local id joined by a
// separator. Source ids containing the separator are rejected, so the first
// separator always ends the source id.
type Key string

// sep is the ASCII unit separator.
const sep = "\x1f"

// Of returns the key for m. It reads the top-level id and source-id fields
// and falls back to the "id" and "source-id" properties. ok is false when
// either component is missing; such records are unidentifiable and must be
// excluded from merge-by-identity logic.
func Of(m types.Metacard) (key Key, ok bool) {
	id := m.ID
	if id == "" {
		id = stringProp(m, "id")
	}
	source := m.SourceID
	if source == "" {
		source = stringProp(m, "source-id")
	}
	return New(source, id)
}

// New builds a key from its components. ok is false when either is empty or
// the source id contains the separator.
func New(sourceID, id string) (Key, bool) {
	if sourceID == "" || id == "" || strings.Contains(sourceID, sep) {
		return "", false
	}
	return Key(sourceID + sep + id), true
}

// Split returns the source id and local id of k.
func (k Key) Split() (sourceID, id string) {
	sourceID, id, _ = strings.Cut(string(k), sep)
	return sourceID, id
}

// String renders the key as "source/id" for logs and tables.
func (k Key) String() string {
	s, id := k.Split()
	return s + "/" + id
}

// Parse reads a key rendered by String. The first "/" separates the source.
func Parse(s string) (Key, bool) {
	source, id, found := strings.Cut(s, "/")
	if !found {
		return "", false
	}
	return New(source, id)
}

func stringProp(m types.Metacard, name string) string {
	if s, ok := m.Properties[name].(string); ok {
		return s
	}
	return ""
}
