// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cluster

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// ErrNoGeometry is returned for an empty geometry field.
var ErrNoGeometry = errors.New("no geometry")

// ParseGeometry decodes a metacard geometry. The field holds either a JSON
// string with WKT text or a GeoJSON geometry or feature object.
func ParseGeometry(raw json.RawMessage) (orb.Geometry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrNoGeometry
	}

	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("decoding wkt string: %w", err)
		}
		g, err := wkt.Unmarshal(text)
		if err != nil {
			return nil, fmt.Errorf("parsing wkt: %w", err)
		}
		return g, nil
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decoding geojson: %w", err)
	}
	if probe.Type == "Feature" {
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing geojson feature: %w", err)
		}
		if f.Geometry == nil {
			return nil, ErrNoGeometry
		}
		return f.Geometry, nil
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing geojson: %w", err)
	}
	if g.Geometry() == nil {
		return nil, ErrNoGeometry
	}
	return g.Geometry(), nil
}

// Centroid returns the planar centroid of a metacard geometry in lon/lat.
func Centroid(raw json.RawMessage) (orb.Point, error) {
	g, err := ParseGeometry(raw)
	if err != nil {
		return orb.Point{}, err
	}
	var c orb.Point
	if p, ok := g.(orb.Point); ok {
		c = p
	} else {
		c, _ = planar.CentroidArea(g)
	}
	if math.IsNaN(c[0]) || math.IsNaN(c[1]) || math.IsInf(c[0], 0) || math.IsInf(c[1], 0) {
		return orb.Point{}, fmt.Errorf("degenerate centroid for %s", g.GeoJSONType())
	}
	return c, nil
}
