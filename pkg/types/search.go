// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"time"
)

// SortDirection orders a sort field ascending or descending.
type SortDirection string

const (
	SortAscending  SortDirection = "ascending"
	SortDescending SortDirection = "descending"
)

// SortSpec names the metacard property a query is sorted by.
type SortSpec struct {
	Attribute string        `json:"attribute" yaml:"attribute"`
	Direction SortDirection `json:"direction" yaml:"direction"`
}

// QueryDescriptor is everything the search endpoint needs to run one query.
type QueryDescriptor struct {
	// ID identifies the query within its workspace.
	ID string `json:"id" yaml:"id"`

	// Title is a display name for the query.
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// CQL is the filter expression sent to every source.
	CQL string `json:"cql" yaml:"cql"`

	// Sources lists the federated sources to query.
	Sources []string `json:"sources" yaml:"sources"`

	// Sort orders results. An empty sort means source relevance order.
	Sort []SortSpec `json:"sort,omitempty" yaml:"sort,omitempty"`

	// PageSize is the number of records requested per source.
	PageSize int `json:"page_size" yaml:"page_size"`

	// StartIndex is the 1-based index of the first record requested per source.
	StartIndex int `json:"start_index,omitempty" yaml:"start_index,omitempty"`
}

// SourceStatus is the per-source status block of a search response.
type SourceStatus struct {
	// ID is the source id.
	ID string `json:"id" yaml:"id"`

	// Count is the number of records returned in this page.
	Count int `json:"count" yaml:"count"`

	// Hits is the total number of matches reported by the source.
	Hits int64 `json:"hits" yaml:"hits"`

	// Successful is nil while the source is pending, then true or false.
	Successful *bool `json:"successful,omitempty" yaml:"successful,omitempty"`

	// Elapsed is the source-reported execution time.
	Elapsed time.Duration `json:"elapsed,omitempty" yaml:"elapsed,omitempty"`

	// Message carries the failure reason for an unsuccessful source.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Pending reports whether the source has not responded yet.
func (s SourceStatus) Pending() bool { return s.Successful == nil }

// Failed reports whether the source responded with a failure.
func (s SourceStatus) Failed() bool { return s.Successful != nil && !*s.Successful }

// Label renders the status the way result views show it: "pending",
// "failed", or "N of M".
func (s SourceStatus) Label() string {
	switch {
	case s.Pending():
		return "pending"
	case s.Failed():
		return "failed"
	default:
		return fmt.Sprintf("%d of %d", s.Count, s.Hits)
	}
}

// Bool returns a pointer to b, for building SourceStatus values.
func Bool(b bool) *bool { return &b }

// SourceResponse is what one source returns for one query execution.
type SourceResponse struct {
	Status  SourceStatus `json:"status" yaml:"status"`
	Results []Metacard   `json:"results" yaml:"results"`
}
