// Package geo provides great-circle helpers over model.Point.
package geo

import (
	"math"

	"github.com/aquamarket/dispatch/core/model"
)

// EarthRadius is the mean Earth radius in meters.
const EarthRadius = 6371000.0

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b model.Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadius * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Centroid returns the arithmetic mean of pts. It returns the zero point for
// an empty slice.
func Centroid(pts []model.Point) model.Point {
	if len(pts) == 0 {
		return model.Point{}
	}
	var lat, lon float64
	for _, p := range pts {
		lat += p.Lat
		lon += p.Lon
	}
	n := float64(len(pts))
	return model.Point{Lat: lat / n, Lon: lon / n}
}

// PathLength sums consecutive distances along pts.
func PathLength(pts []model.Point) float64 {
	total := 0.0
	for i := 1; i < len(pts); i++ {
		total += Distance(pts[i-1], pts[i])
	}
	return total
}

// MaxDistanceFrom returns the largest distance from center to any of pts.
func MaxDistanceFrom(center model.Point, pts []model.Point) float64 {
	max := 0.0
	for _, p := range pts {
		if d := Distance(center, p); d > max {
			max = d
		}
	}
	return max
}

// Nearest returns the index of the point in pts closest to from, or -1.
func Nearest(from model.Point, pts []model.Point) int {
	best, bestDist := -1, math.Inf(1)
	for i, p := range pts {
		if d := Distance(from, p); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
