// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cluster

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Projector maps a lon/lat point to viewport pixel coordinates. ok is false
// when the point is not visible: off screen, occluded, or not projectable.
type Projector interface {
	Project(p orb.Point) (px orb.Point, ok bool)
}

// maxMercatorLat is the latitude where web mercator is clipped.
const maxMercatorLat = 85.05112878

// Viewport is a flat web-mercator map view. Center is the lon/lat at the
// middle of the screen; Zoom follows slippy-map conventions with 256px tiles.
type Viewport struct {
	Center orb.Point
	Zoom   float64
	Width  float64
	Height float64
}

func (v Viewport) worldSize() float64 {
	return 256 * math.Exp2(v.Zoom)
}

// toPixels converts mercator meters to world pixels with the origin at the
// north-west corner.
func (v Viewport) toPixels(m orb.Point) orb.Point {
	half := math.Pi * orb.EarthRadius
	size := v.worldSize()
	return orb.Point{
		(m[0] + half) / (2 * half) * size,
		(half - m[1]) / (2 * half) * size,
	}
}

// Project implements Projector.
func (v Viewport) Project(p orb.Point) (orb.Point, bool) {
	if !finite(p) || math.Abs(p[1]) > maxMercatorLat || v.Width <= 0 || v.Height <= 0 {
		return orb.Point{}, false
	}
	c := v.toPixels(project.WGS84.ToMercator(v.Center))
	w := v.toPixels(project.WGS84.ToMercator(p))

	// Take the short way around so views across the antimeridian see both sides.
	dx := math.Remainder(w[0]-c[0], v.worldSize())
	px := orb.Point{dx + v.Width/2, w[1] - c[1] + v.Height/2}
	if !finite(px) {
		return orb.Point{}, false
	}
	screen := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{v.Width, v.Height}}
	if !screen.Contains(px) {
		return orb.Point{}, false
	}
	return px, true
}

// Globe is an orthographic 3D globe view. Points on the far hemisphere are
// occluded. Radius is the globe radius in pixels.
type Globe struct {
	Center orb.Point
	Radius float64
	Width  float64
	Height float64
}

// Project implements Projector.
func (g Globe) Project(p orb.Point) (orb.Point, bool) {
	if !finite(p) || g.Radius <= 0 {
		return orb.Point{}, false
	}
	lon, lat := rad(p[0]), rad(p[1])
	lon0, lat0 := rad(g.Center[0]), rad(g.Center[1])
	dLon := lon - lon0

	// Cosine of the angular distance from the view center; negative means
	// the point faces away from the camera.
	cosc := math.Sin(lat0)*math.Sin(lat) + math.Cos(lat0)*math.Cos(lat)*math.Cos(dLon)
	if cosc < 0 {
		return orb.Point{}, false
	}

	x := g.Radius * math.Cos(lat) * math.Sin(dLon)
	y := g.Radius * (math.Cos(lat0)*math.Sin(lat) - math.Sin(lat0)*math.Cos(lat)*math.Cos(dLon))
	px := orb.Point{g.Width/2 + x, g.Height/2 - y}
	screen := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{g.Width, g.Height}}
	if !finite(px) || !screen.Contains(px) {
		return orb.Point{}, false
	}
	return px, true
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }

func finite(p orb.Point) bool {
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
