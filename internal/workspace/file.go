// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/catalog-engine/pkg/types"
)

// File is the on-disk representation of a workspace, its queries, and the
// aggregate at the time it was saved. A workspace can be reopened from a file
// without re-querying sources.
type File struct {
	ID      string                  `yaml:"id"`
	Title   string                  `yaml:"title"`
	Queries []types.QueryDescriptor `yaml:"queries"`
	Results []FileRecord            `yaml:"results,omitempty"`
	Saved   time.Time               `yaml:"saved"`
}

// FileRecord is a saved metacard. Geometry is kept as GeoJSON text because
// the YAML encoder would otherwise write raw JSON as a byte list.
type FileRecord struct {
	types.Metacard `yaml:",inline"`
	Geometry       string `yaml:"geometry,omitempty"`
}

// Snapshot captures w as a File.
func Snapshot(w *Workspace) File {
	f := File{ID: w.ID(), Title: w.Title(), Saved: time.Now().UTC()}
	for _, rs := range w.Queries() {
		f.Queries = append(f.Queries, rs.Descriptor())
	}
	for _, rec := range w.Aggregate().Results() {
		m := rec.Metacard()
		f.Results = append(f.Results, FileRecord{Metacard: m, Geometry: string(m.Geometry)})
	}
	return f
}

// WriteFile saves w to a YAML file at path.
func WriteFile(path string, w *Workspace) error {
	f := Snapshot(w)
	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("marshaling workspace file: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadFile loads a previously saved workspace file.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workspace file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing workspace file: %w", err)
	}
	for i, r := range f.Results {
		if r.Geometry != "" && !json.Valid([]byte(r.Geometry)) {
			return nil, fmt.Errorf("result %d: geometry is not valid JSON", i)
		}
	}
	return &f, nil
}

// Metacards returns the saved results with geometry restored.
func (f *File) Metacards() []types.Metacard {
	out := make([]types.Metacard, 0, len(f.Results))
	for _, r := range f.Results {
		m := r.Metacard
		if r.Geometry != "" {
			m.Geometry = json.RawMessage(r.Geometry)
		}
		out = append(out, m)
	}
	return out
}

// Open creates a workspace holding f's queries. Results are not restored
// into the queries; callers that want them offline use Metacards.
func (f *File) Open(opts Options) (*Workspace, error) {
	w := New(f.ID, f.Title, opts)
	for _, q := range f.Queries {
		if _, err := w.AddQuery(q); err != nil {
			w.Close()
			return nil, err
		}
	}
	return w, nil
}
