// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cluster groups result records for map display. Each record's
// geometry centroid is projected into viewport pixels, invisible points are
// dropped, and a density-based pass (DBSCAN) groups the rest.
//
// Clustering is deterministic: the same records in the same order, the same
// projector, and the same configuration always produce the same partition.
package cluster

import (
	"math"
	"slices"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/pdiddy/catalog-engine/internal/result"
	"github.com/pdiddy/catalog-engine/pkg/types"
)

// Defaults for the fixed clustering constants.
const (
	DefaultRadius    = 40.0
	DefaultMinPoints = 2
)

// Result is the output of CalculateClusters.
type Result struct {
	Clusters    [][]*result.Record
	Individuals []*result.Record
	// Excluded counts records with no geometry, a geometry that failed to
	// parse or project, or a point that is not visible.
	Excluded int
}

// Engine clusters records with fixed constants.
type Engine struct {
	radius    float64
	minPoints int
	log       *zap.Logger
}

// New creates an engine. Zero values in cfg select the defaults.
func New(cfg types.ClusterConfig, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{radius: cfg.Radius, minPoints: cfg.MinPoints, log: log}
	if e.radius <= 0 {
		e.radius = DefaultRadius
	}
	if e.minPoints <= 0 {
		e.minPoints = DefaultMinPoints
	}
	return e
}

type point struct {
	rec *result.Record
	px  orb.Point
}

// CalculateClusters projects records through proj and clusters the visible
// ones. Records are never mutated. Records that cannot be placed are left
// out of both Clusters and Individuals.
func (e *Engine) CalculateClusters(records []*result.Record, proj Projector) Result {
	var (
		pts []point
		res Result
	)
	for _, rec := range records {
		c, err := Centroid(rec.Geometry())
		if err != nil {
			res.Excluded++
			continue
		}
		px, ok := proj.Project(c)
		if !ok {
			res.Excluded++
			continue
		}
		pts = append(pts, point{rec: rec, px: px})
	}

	labels := dbscan(pts, e.radius, e.minPoints)

	nClusters := 0
	for _, l := range labels {
		nClusters = max(nClusters, l)
	}
	res.Clusters = make([][]*result.Record, nClusters)
	for i, l := range labels {
		if l == noise {
			res.Individuals = append(res.Individuals, pts[i].rec)
			continue
		}
		res.Clusters[l-1] = append(res.Clusters[l-1], pts[i].rec)
	}

	e.log.Debug("clusters calculated",
		zap.Int("records", len(records)),
		zap.Int("clusters", len(res.Clusters)),
		zap.Int("individuals", len(res.Individuals)),
		zap.Int("excluded", res.Excluded))
	return res
}

// CalculateClusters runs an engine with cfg once.
func CalculateClusters(records []*result.Record, proj Projector, cfg types.ClusterConfig) Result {
	return New(cfg, nil).CalculateClusters(records, proj)
}

const (
	unvisited = -1
	noise     = 0
)

// dbscan labels each point with a 1-based cluster number or noise. Points
// are visited in input order and neighbors in index order, so a border
// point reachable from two clusters always joins the one found first.
func dbscan(pts []point, radius float64, minPoints int) []int {
	labels := make([]int, len(pts))
	for i := range labels {
		labels[i] = unvisited
	}
	grid := newGrid(pts, radius)

	cluster := 0
	for i := range pts {
		if labels[i] != unvisited {
			continue
		}
		nbrs := grid.neighbors(pts, i)
		if len(nbrs) < minPoints {
			labels[i] = noise
			continue
		}
		cluster++
		labels[i] = cluster

		queue := slices.Clone(nbrs)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if labels[j] == noise {
				labels[j] = cluster
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = cluster
			if more := grid.neighbors(pts, j); len(more) >= minPoints {
				queue = append(queue, more...)
			}
		}
	}
	return labels
}

type cell struct{ x, y int }

// grid buckets points into radius-sized cells so a neighborhood query only
// scans the surrounding nine cells.
type grid struct {
	radius float64
	cells  map[cell][]int
}

func newGrid(pts []point, radius float64) *grid {
	g := &grid{radius: radius, cells: make(map[cell][]int)}
	for i, p := range pts {
		c := g.cellOf(p.px)
		g.cells[c] = append(g.cells[c], i)
	}
	return g
}

func (g *grid) cellOf(p orb.Point) cell {
	return cell{int(math.Floor(p[0] / g.radius)), int(math.Floor(p[1] / g.radius))}
}

// neighbors returns the indices of every point within radius of pts[i],
// including i itself, in ascending order.
func (g *grid) neighbors(pts []point, i int) []int {
	c := g.cellOf(pts[i].px)
	var out []int
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for _, j := range g.cells[cell{c.x + dx, c.y + dy}] {
				if dist(pts[i].px, pts[j].px) <= g.radius {
					out = append(out, j)
				}
			}
		}
	}
	slices.Sort(out)
	return out
}

func dist(a, b orb.Point) float64 {
	return math.Hypot(a[0]-b[0], a[1]-b[1])
}
