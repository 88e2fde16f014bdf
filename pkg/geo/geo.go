// Package geo provides the short-range geometry used when comparing stop positions.
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// EarthRadius is the mean Earth radius in meters.
const EarthRadius = 6371000.0

// Distance returns the approximate distance in meters between two lon/lat points,
// rounded to one decimal.
//
// It uses an equirectangular projection around the mean latitude, which is accurate
// for the tens-of-kilometers range stop comparisons deal with. NaN coordinates
// propagate to the result; callers must check for missing positions first.
func Distance(p1, p2 orb.Point) float64 {
	lon1, lat1 := radians(p1.Lon()), radians(p1.Lat())
	lon2, lat2 := radians(p2.Lon()), radians(p2.Lat())

	x := (lon2 - lon1) * math.Cos(0.5*(lat2+lat1))
	y := lat2 - lat1

	return math.Round(EarthRadius*math.Sqrt(x*x+y*y)*10) / 10
}

// Center returns the midpoint of a bounding box, used as a position substitute
// for ways and relations.
func Center(b orb.Bound) orb.Point {
	return b.Center()
}

// Bound builds a bounding box from its south-west and north-east corners.
func Bound(minLat, minLon, maxLat, maxLon float64) orb.Bound {
	return orb.Bound{
		Min: orb.Point{minLon, minLat},
		Max: orb.Point{maxLon, maxLat},
	}
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
