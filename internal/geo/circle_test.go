package geo

import (
	"encoding/json"
	"math"
	"testing"
)

func TestDistanceProjection(t *testing.T) {
	d := Distance(Point{0, 0}, Point{Lat: 0, Lng: 0.002})
	if math.Abs(d-222.64) > 0.01 {
		t.Fatalf("expected ~222.64m, got %.4f", d)
	}
	d = Distance(Point{0, 0}, Point{Lat: 0.001, Lng: 0})
	if math.Abs(d-110.574) > 0.001 {
		t.Fatalf("expected ~110.574m, got %.4f", d)
	}
}

func TestIsWithin(t *testing.T) {
	center := &Point{Lat: -1.2921, Lng: 36.8219}
	near := Point{Lat: -1.2921, Lng: 36.8224}
	far := Point{Lat: -1.2921, Lng: 36.8239}

	cases := []struct {
		name   string
		p      Point
		radius float64
		want   bool
	}{
		{"inside", near, 100, true},
		{"outside", far, 100, false},
		{"center", *center, 100, true},
		{"boundary inclusive", near, Distance(*center, near), true},
		{"just past boundary", near, Distance(*center, near) - 1e-9, false},
	}
	for _, c := range cases {
		if got := IsWithin(center, c.p, c.radius); got != c.want {
			t.Fatalf("%s: expected %v, got %v", c.name, c.want, got)
		}
	}
}

func TestIsWithinNilCenter(t *testing.T) {
	if IsWithin(nil, Point{}, 100) {
		t.Fatalf("expected nil center to contain nothing")
	}
}

func TestRingClosedAndOnRadius(t *testing.T) {
	center := &Point{Lat: 45, Lng: 7}
	ring := Ring(center, 100, 16)
	if len(ring) != 17 {
		t.Fatalf("expected 17 vertices, got %d", len(ring))
	}
	if ring[0] != ring[len(ring)-1] {
		t.Fatalf("expected ring to be closed")
	}
	for i, v := range ring {
		d := Distance(*center, Point{Lat: v[1], Lng: v[0]})
		if math.Abs(d-100) > 1e-6 {
			t.Fatalf("vertex %d at %.6fm, expected 100m", i, d)
		}
	}
}

func TestRingDefaultsAndDegenerateInput(t *testing.T) {
	if got := len(Ring(&Point{}, 50, 0)); got != DefaultPolygonPoints+1 {
		t.Fatalf("expected default point count, got %d", got)
	}
	if Ring(nil, 100, 8) != nil {
		t.Fatalf("expected nil ring for nil center")
	}
	if Ring(&Point{}, 0, 8) != nil {
		t.Fatalf("expected nil ring for zero radius")
	}
	if ToPolygon(&Point{}, -5, 8) != nil {
		t.Fatalf("expected nil polygon for negative radius")
	}
}

func TestPolygonGeoJSON(t *testing.T) {
	b, err := PolygonGeoJSON(&Point{Lat: 1, Lng: 2}, 100, 8)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var doc struct {
		Type        string         `json:"type"`
		Coordinates [][][2]float64 `json:"coordinates"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Type != "Polygon" {
		t.Fatalf("expected Polygon, got %q", doc.Type)
	}
	if len(doc.Coordinates) != 1 || len(doc.Coordinates[0]) != 9 {
		t.Fatalf("unexpected coordinates shape: %v", doc.Coordinates)
	}

	b, err = PolygonGeoJSON(nil, 100, 8)
	if err != nil || b != nil {
		t.Fatalf("expected nil output for nil center, got %s, %v", b, err)
	}
}

func TestGreatCircleAndBearing(t *testing.T) {
	d := GreatCircleDistance(Point{0, 0}, Point{Lat: 0, Lng: 1})
	if math.Abs(d-111195) > 1 {
		t.Fatalf("expected ~111195m, got %.1f", d)
	}
	if b := Bearing(Point{0, 0}, Point{Lat: 1, Lng: 0}); math.Abs(b) > 1e-9 {
		t.Fatalf("expected north bearing 0, got %f", b)
	}
	if b := Bearing(Point{0, 0}, Point{Lat: 0, Lng: 1}); math.Abs(b-90) > 1e-9 {
		t.Fatalf("expected east bearing 90, got %f", b)
	}
}
