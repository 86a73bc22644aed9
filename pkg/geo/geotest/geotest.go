// Package geotest places points at known distances for matcher and geo tests.
package geotest

import (
	"math"

	"roadside-dispatch/pkg/geo"
)

// Destination returns the point reached by travelling distanceMeters from
// origin on the given bearing (degrees clockwise from north).
func Destination(origin geo.Point, bearingDeg, distanceMeters float64) geo.Point {
	angular := distanceMeters / geo.EarthRadiusMeters
	bearing := bearingDeg * math.Pi / 180
	lat1 := origin.Lat * math.Pi / 180
	lng1 := origin.Lng * math.Pi / 180

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(angular) +
		math.Cos(lat1)*math.Sin(angular)*math.Cos(bearing))
	lng2 := lng1 + math.Atan2(
		math.Sin(bearing)*math.Sin(angular)*math.Cos(lat1),
		math.Cos(angular)-math.Sin(lat1)*math.Sin(lat2),
	)

	lngDeg := math.Mod(lng2*180/math.Pi+540, 360) - 180
	return geo.Point{Lng: lngDeg, Lat: lat2 * 180 / math.Pi}
}
