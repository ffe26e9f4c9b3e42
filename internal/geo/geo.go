package geo

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/OCAP2/campaign/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// MAP PROJECTION
// Map coordinates are meters from the theater origin with X north and Y east.
// We anchor the origin in web mercator (3857) and go back to 4326 to get a
// latitude and longitude, which is all the naming code needs.

// ErrInvalidOrigin is returned when the map origin is out of range
var ErrInvalidOrigin = errors.New("invalid map origin")

// utmBands are the latitude band letters from 80S to 84N.
const utmBands = "CDEFGHJKLMNPQRSTUVWX"

// Projection converts map coordinates to geographic coordinates.
type Projection struct {
	originX float64
	originY float64
	scale   float64
	toLL    func(float64, float64, float64) (float64, float64, float64)
}

// NewProjection anchors the map origin at the given latitude and longitude.
func NewProjection(lat, lon float64) (*Projection, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -85 || lat > 85 || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("%w: %f,%f", ErrInvalidOrigin, lat, lon)
	}
	epsg := wgs84.EPSG()
	x, y, _ := epsg.Transform(4326, 3857)(lon, lat, 0)
	return &Projection{
		originX: x,
		originY: y,
		// mercator meters stretch by 1/cos(lat) away from the equator
		scale: 1 / math.Cos(lat*math.Pi/180),
		toLL:  epsg.Transform(3857, 4326),
	}, nil
}

// Point3857 returns the web mercator point for a map position. Non-finite
// positions are rejected.
func (p *Projection) Point3857(v core.Vector2) (geom.Point, error) {
	pt, err := geom.NewPoint(
		geom.Coordinates{
			XY: geom.XY{X: p.originX + v.Y*p.scale, Y: p.originY + v.X*p.scale},
		},
	)
	if err != nil {
		return geom.Point{}, fmt.Errorf("project %v: %w", v, err)
	}
	return pt, nil
}

// LatLon returns the latitude and longitude of a map position, or zero for a
// position that cannot be projected.
func (p *Projection) LatLon(v core.Vector2) (lat, lon float64) {
	pt, err := p.Point3857(v)
	if err != nil {
		return 0, 0
	}
	xy, ok := pt.XY()
	if !ok {
		return 0, 0
	}
	lon, lat, _ = p.toLL(xy.X, xy.Y, 0)
	return lat, lon
}

// GridName returns the UTM grid zone designator of a map position, e.g. "37T".
func (p *Projection) GridName(v core.Vector2) string {
	return UTMZone(p.LatLon(v))
}

// UTMZone returns the grid zone designator for a latitude and longitude,
// including the Norway and Svalbard exceptions.
func UTMZone(lat, lon float64) string {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	zone := int(lon/6) + 1
	lon -= 180

	lat = math.Max(-80, math.Min(lat, 84))
	band := int((lat + 80) / 8)
	if band >= len(utmBands) {
		band = len(utmBands) - 1
	}
	letter := utmBands[band]

	switch {
	case letter == 'V' && lon >= 3 && lon < 12:
		zone = 32
	case letter == 'X' && lon >= 0 && lon < 42:
		switch {
		case lon < 9:
			zone = 31
		case lon < 21:
			zone = 33
		case lon < 33:
			zone = 35
		default:
			zone = 37
		}
	}
	return fmt.Sprintf("%d%c", zone, letter)
}

// FarpName names the nth farp deployed in a grid zone.
func FarpName(grid string, n int) string {
	return fmt.Sprintf("farp %s %d", strings.ToUpper(grid), n)
}
