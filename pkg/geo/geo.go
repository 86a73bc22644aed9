package geo

import (
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean earth radius used for haversine distances.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate in (longitude, latitude) order.
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

func (p Point) Validate() error {
	if math.IsNaN(p.Lng) || math.IsNaN(p.Lat) {
		return fmt.Errorf("coordinates must be numbers")
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("longitude %.6f out of range [-180, 180]", p.Lng)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %.6f out of range [-90, 90]", p.Lat)
	}
	return nil
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// HaversineMeters returns the great-circle distance between a and b.
func HaversineMeters(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

// Box is a lat/lng rectangle. When the box crosses the antimeridian MinLng > MaxLng.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// CrossesAntimeridian reports whether the longitude range wraps around ±180.
func (b Box) CrossesAntimeridian() bool {
	return b.MinLng > b.MaxLng
}

// BoundingBox returns a rectangle that fully contains the circle of radiusMeters
// around center. It is a superset filter; callers must check the exact distance.
func BoundingBox(center Point, radiusMeters float64) Box {
	angular := radiusMeters / EarthRadiusMeters
	lat := toRadians(center.Lat)
	lng := toRadians(center.Lng)

	minLat := lat - angular
	maxLat := lat + angular

	// Near a pole the circle covers every longitude.
	if minLat <= -math.Pi/2 || maxLat >= math.Pi/2 {
		return Box{
			MinLat: math.Max(toDegrees(minLat), -90),
			MaxLat: math.Min(toDegrees(maxLat), 90),
			MinLng: -180,
			MaxLng: 180,
		}
	}

	dLng := math.Asin(math.Sin(angular) / math.Cos(lat))
	minLng := lng - dLng
	maxLng := lng + dLng
	if minLng < -math.Pi {
		minLng += 2 * math.Pi
	}
	if maxLng > math.Pi {
		maxLng -= 2 * math.Pi
	}

	return Box{
		MinLat: toDegrees(minLat),
		MaxLat: toDegrees(maxLat),
		MinLng: toDegrees(minLng),
		MaxLng: toDegrees(maxLng),
	}
}

// Contains reports whether p is inside the box.
func (b Box) Contains(p Point) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	if b.CrossesAntimeridian() {
		return p.Lng >= b.MinLng || p.Lng <= b.MaxLng
	}
	return p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}
