// Package geotest places test points at exact great-circle distances.
package geotest

import (
	"math"

	"github.com/raincheck/raincheck/pkg/geo"
)

// Destination returns the point reached by travelling meters from p along
// the great circle with the given initial bearing (degrees clockwise from
// north).
func Destination(p geo.Point, bearing, meters float64) geo.Point {
	lat1 := p.Lat * math.Pi / 180
	lon1 := p.Lon * math.Pi / 180
	theta := bearing * math.Pi / 180
	delta := meters / geo.EarthRadiusMeters

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(delta) +
		math.Cos(lat1)*math.Sin(delta)*math.Cos(theta))
	lon2 := lon1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(lat1),
		math.Cos(delta)-math.Sin(lat1)*math.Sin(lat2),
	)

	return geo.Point{Lat: lat2 * 180 / math.Pi, Lon: lon2 * 180 / math.Pi}
}
