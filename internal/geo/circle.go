// Package geo holds the small amount of geometry the tracker needs: a local
// planar distance used for fence containment and a polygon approximation of
// a fence circle for map clients.
package geo

import (
	"math"

	"github.com/twpayne/go-geom"
	gjson "github.com/twpayne/go-geom/encoding/geojson"
)

const (
	// DefaultRadiusMeters is the radius used for both fences and movement
	// anchors.
	DefaultRadiusMeters = 100.0

	// DefaultPolygonPoints is the number of vertices used when rendering a
	// fence circle.
	DefaultPolygonPoints = 64

	metersPerDegreeLng = 111320.0 // at the equator, scaled by cos(lat)
	metersPerDegreeLat = 110574.0
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Distance returns the distance in meters between center and p using an
// equirectangular projection scaled by the latitude of center. It is only
// accurate within a few hundred meters, which is all a fence needs.
func Distance(center, p Point) float64 {
	dx := (p.Lng - center.Lng) * metersPerDegreeLng * math.Cos(toRadians(center.Lat))
	dy := (p.Lat - center.Lat) * metersPerDegreeLat
	return math.Sqrt(dx*dx + dy*dy)
}

// IsWithin reports whether p lies inside the circle. The boundary counts as
// inside. A nil center contains nothing.
func IsWithin(center *Point, p Point, radiusMeters float64) bool {
	if center == nil {
		return false
	}
	return Distance(*center, p) <= radiusMeters
}

// Ring returns a closed ring of [lng, lat] pairs approximating the circle.
// The first vertex is repeated at the end. It returns nil when center is nil
// or the radius is not positive.
func Ring(center *Point, radiusMeters float64, points int) [][2]float64 {
	if center == nil || radiusMeters <= 0 {
		return nil
	}
	if points <= 0 {
		points = DefaultPolygonPoints
	}

	lngScale := metersPerDegreeLng * math.Cos(toRadians(center.Lat))
	ring := make([][2]float64, 0, points+1)
	for i := 0; i < points; i++ {
		theta := 2 * math.Pi * float64(i) / float64(points)
		dx := radiusMeters * math.Cos(theta)
		dy := radiusMeters * math.Sin(theta)
		lng := center.Lng
		if lngScale != 0 {
			lng += dx / lngScale
		}
		ring = append(ring, [2]float64{lng, center.Lat + dy/metersPerDegreeLat})
	}
	return append(ring, ring[0])
}

// ToPolygon is Ring wrapped in a go-geom polygon.
func ToPolygon(center *Point, radiusMeters float64, points int) *geom.Polygon {
	ring := Ring(center, radiusMeters, points)
	if ring == nil {
		return nil
	}
	coords := make([]geom.Coord, len(ring))
	for i, v := range ring {
		coords[i] = geom.Coord{v[0], v[1]}
	}
	poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{coords})
	if err != nil {
		return nil
	}
	return poly
}

// PolygonGeoJSON encodes the fence circle as a GeoJSON Polygon. It returns
// nil bytes when there is no circle to draw.
func PolygonGeoJSON(center *Point, radiusMeters float64, points int) ([]byte, error) {
	poly := ToPolygon(center, radiusMeters, points)
	if poly == nil {
		return nil, nil
	}
	return gjson.Marshal(poly)
}
