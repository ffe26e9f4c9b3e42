package geo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/OCAP2/campaign/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// QuadZone builds a quad zone from its corners in ring order, centered on
// their centroid.
func QuadZone(points [4]core.Vector2) core.Zone {
	return core.Zone{Kind: core.ZoneQuad, Center: Centroid(points[:]), Points: points}
}

// Contains reports whether p lies inside the zone. Points on the edge of a
// quad count as inside.
func Contains(z core.Zone, p core.Vector2) bool {
	if z.Kind != core.ZoneQuad {
		return z.Center.DistanceSq(p) <= z.Radius*z.Radius
	}
	// cheap reject before building geometry
	if r := z.BoundingRadius(); z.Center.DistanceSq(p) > r*r {
		return false
	}
	poly, err := quadPolygon(z.Points)
	if err != nil {
		return false
	}
	pt, err := pointOf(p)
	if err != nil {
		return false
	}
	return geom.Intersects(poly, pt.AsGeometry())
}

// Centroid returns the mean position of points, or the zero vector when
// there are none. Non-finite points are skipped.
func Centroid(points []core.Vector2) core.Vector2 {
	pts := make([]geom.Point, 0, len(points))
	for _, p := range points {
		pt, err := pointOf(p)
		if err != nil {
			continue
		}
		pts = append(pts, pt)
	}
	if len(pts) == 0 {
		return core.Vector2{}
	}
	xy, ok := geom.NewMultiPoint(pts).Centroid().XY()
	if !ok {
		return core.Vector2{}
	}
	return core.Vector2{X: xy.X, Y: xy.Y}
}

func pointOf(v core.Vector2) (geom.Point, error) {
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: v.X, Y: v.Y}})
}

func coord(v core.Vector2) string {
	return strconv.FormatFloat(v.X, 'f', -1, 64) + " " + strconv.FormatFloat(v.Y, 'f', -1, 64)
}

func quadPolygon(points [4]core.Vector2) (geom.Geometry, error) {
	var b strings.Builder
	b.WriteString("POLYGON((")
	for _, p := range points {
		b.WriteString(coord(p))
		b.WriteString(", ")
	}
	b.WriteString(coord(points[0]))
	b.WriteString("))")
	g, err := geom.UnmarshalWKT(b.String())
	if err != nil {
		return geom.Geometry{}, fmt.Errorf("invalid quad zone: %w", err)
	}
	return g, nil
}
