// Package geo provides great-circle distance and bounding box helpers for
// proximity queries over registered locations.
package geo

import (
	"math"
)

// EarthRadiusMeters is the WGS84 equatorial radius used for distance
// calculations.
const EarthRadiusMeters = 6378137.0

// Point represents a geographic point with latitude and longitude in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Box is an axis-aligned latitude/longitude rectangle.
type Box struct {
	Low  Point
	High Point
}

// BoxAround returns the box spanning +/- delta degrees around p on both axes.
func BoxAround(p Point, delta float64) Box {
	return Box{
		Low:  Point{Lat: p.Lat - delta, Lon: p.Lon - delta},
		High: Point{Lat: p.Lat + delta, Lon: p.Lon + delta},
	}
}

// ContainsStrict reports whether p lies strictly inside the box.
// Points on any edge are outside.
func (b Box) ContainsStrict(p Point) bool {
	return p.Lat > b.Low.Lat && p.Lat < b.High.Lat &&
		p.Lon > b.Low.Lon && p.Lon < b.High.Lon
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	sinDLat := math.Sin(dLat / 2)
	sinDLon := math.Sin(dLon / 2)

	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLon*sinDLon
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
