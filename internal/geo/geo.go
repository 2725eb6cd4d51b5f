// Package geo approximates project footprints as circles and measures how
// much two of them overlap.
package geo

import (
	"encoding/json"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"

	"synccity/internal/domain"
)

// DefaultRadiusMeters applies when a location carries no usable radius.
const DefaultRadiusMeters = 1000.0

const (
	IntersectionExact   = "exact"
	IntersectionOverlap = "overlap"
)

var ErrInvalidGeometry = errors.New("invalid geometry")

// DistanceService measures the great-circle distance between two lng/lat points in meters.
type DistanceService interface {
	Distance(a, b orb.Point) float64
}

// Haversine is the default DistanceService.
type Haversine struct{}

func (Haversine) Distance(a, b orb.Point) float64 {
	return orbgeo.DistanceHaversine(a, b)
}

// DistanceFunc adapts a plain function to DistanceService.
type DistanceFunc func(a, b orb.Point) float64

func (f DistanceFunc) Distance(a, b orb.Point) float64 { return f(a, b) }

type Circle struct {
	Center       orb.Point
	RadiusMeters float64
}

type Overlap struct {
	DistanceMeters    float64 `json:"distance_meters"`
	OverlapPercentage int     `json:"overlap_percentage"`
	IntersectionType  string  `json:"intersection_type"`
}

// Calculator computes circle overlap with an injected distance service.
type Calculator struct {
	Distance      DistanceService
	DefaultRadius float64
}

func NewCalculator(d DistanceService) Calculator {
	if d == nil {
		d = Haversine{}
	}
	return Calculator{Distance: d, DefaultRadius: DefaultRadiusMeters}
}

func (c Calculator) distance() DistanceService {
	if c.Distance != nil {
		return c.Distance
	}
	return Haversine{}
}

func (c Calculator) defaultRadius() float64 {
	if c.DefaultRadius > 0 {
		return c.DefaultRadius
	}
	return DefaultRadiusMeters
}

// Overlap returns nil when the circles do not intersect or either is malformed.
func (c Calculator) Overlap(a, b Circle) *Overlap {
	if !validPoint(a.Center) || !validPoint(b.Center) {
		return nil
	}
	ra, rb := c.radius(a.RadiusMeters), c.radius(b.RadiusMeters)
	d := c.distance().Distance(a.Center, b.Center)
	if math.IsNaN(d) || d < 0 {
		return nil
	}
	sumR := ra + rb
	if d >= sumR {
		return nil
	}
	pct := math.Round(math.Max(0, (sumR-d)/sumR*100))
	if pct > 100 {
		pct = 100
	}
	kind := IntersectionOverlap
	if d == 0 {
		kind = IntersectionExact
	}
	return &Overlap{
		DistanceMeters:    d,
		OverlapPercentage: int(pct),
		IntersectionType:  kind,
	}
}

func (c Calculator) radius(r float64) float64 {
	if r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return c.defaultRadius()
	}
	return r
}

// CircleFromLocation reduces a location to a circle. Lines and polygons are
// anchored at their first vertex.
func (c Calculator) CircleFromLocation(loc domain.Location) (Circle, error) {
	center, err := Anchor(loc)
	if err != nil {
		return Circle{}, err
	}
	r := 0.0
	if loc.Radius != nil {
		r = *loc.Radius
	}
	return Circle{Center: center, RadiusMeters: c.radius(r)}, nil
}

// Anchor returns the point a location is evaluated at.
func Anchor(loc domain.Location) (orb.Point, error) {
	if len(loc.Coordinates) == 0 || string(loc.Coordinates) == "null" {
		return orb.Point{}, errors.Wrap(ErrInvalidGeometry, "missing coordinates")
	}
	var flat []float64
	if err := json.Unmarshal(loc.Coordinates, &flat); err == nil {
		if len(flat) < 2 {
			return orb.Point{}, errors.Wrapf(ErrInvalidGeometry, "coordinate pair has %d values", len(flat))
		}
		return checked(orb.Point{flat[0], flat[1]})
	}
	raw, err := json.Marshal(struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}{Type: loc.Type, Coordinates: loc.Coordinates})
	if err != nil {
		return orb.Point{}, errors.Wrap(ErrInvalidGeometry, err.Error())
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return orb.Point{}, errors.Wrapf(ErrInvalidGeometry, "decode %s: %v", loc.Type, err)
	}
	switch geom := g.Coordinates.(type) {
	case orb.Point:
		return checked(geom)
	case orb.MultiPoint:
		if len(geom) > 0 {
			return checked(geom[0])
		}
	case orb.LineString:
		if len(geom) > 0 {
			return checked(geom[0])
		}
	case orb.Polygon:
		if len(geom) > 0 && len(geom[0]) > 0 {
			return checked(geom[0][0])
		}
	}
	return orb.Point{}, errors.Wrapf(ErrInvalidGeometry, "no vertex in %s", loc.Type)
}

func checked(p orb.Point) (orb.Point, error) {
	if !validPoint(p) {
		return orb.Point{}, errors.Wrapf(ErrInvalidGeometry, "coordinates out of range: [%v, %v]", p.Lon(), p.Lat())
	}
	return p, nil
}

func validPoint(p orb.Point) bool {
	lng, lat := p.Lon(), p.Lat()
	if math.IsNaN(lng) || math.IsNaN(lat) || math.IsInf(lng, 0) || math.IsInf(lat, 0) {
		return false
	}
	return lng >= -180 && lng <= 180 && lat >= -90 && lat <= 90
}
