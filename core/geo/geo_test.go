package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aquamarket/dispatch/core/model"
)

var almaty = model.Point{Lat: 43.2220, Lon: 76.8512}

func TestDistanceSymmetric(t *testing.T) {
	b := model.Point{Lat: 43.16857, Lon: 76.89642}
	assert.InDelta(t, Distance(almaty, b), Distance(b, almaty), 1e-9)
	assert.Equal(t, 0.0, Distance(almaty, almaty))
}

func TestDistanceMatchesPlanarForShortHops(t *testing.T) {
	for _, dLat := range []float64{0.001, 0.005, 0.01} {
		b := model.Point{Lat: almaty.Lat + dLat, Lon: almaty.Lon + dLat}
		dy := dLat * math.Pi / 180 * EarthRadius
		dx := dLat * math.Pi / 180 * EarthRadius * math.Cos(almaty.Lat*math.Pi/180)
		planar := math.Hypot(dx, dy)
		assert.InEpsilon(t, planar, Distance(almaty, b), 0.01)
	}
}

func TestDistanceMonotonic(t *testing.T) {
	prev := 0.0
	for i := 1; i <= 10; i++ {
		p := model.Point{Lat: almaty.Lat + float64(i)*0.01, Lon: almaty.Lon}
		d := Distance(almaty, p)
		if d <= prev {
			t.Fatalf("distance not increasing at step %d: %f <= %f", i, d, prev)
		}
		prev = d
	}
}

func TestKnownDistance(t *testing.T) {
	// one degree of latitude is ~111.19 km on the mean sphere
	d := Distance(model.Point{Lat: 0, Lon: 10}, model.Point{Lat: 1, Lon: 10})
	assert.InDelta(t, 111195, d, 10)
}

func TestCentroidAndPath(t *testing.T) {
	pts := []model.Point{{Lat: 1, Lon: 1}, {Lat: 3, Lon: 5}}
	assert.Equal(t, model.Point{Lat: 2, Lon: 3}, Centroid(pts))
	assert.Equal(t, model.Point{}, Centroid(nil))
	assert.InDelta(t, Distance(pts[0], pts[1]), PathLength(pts), 1e-9)
	assert.Equal(t, 0.0, PathLength(pts[:1]))
	assert.InDelta(t, Distance(pts[0], pts[1]), MaxDistanceFrom(pts[0], pts), 1e-9)
	assert.Equal(t, 1, Nearest(model.Point{Lat: 3, Lon: 4.9}, pts))
	assert.Equal(t, -1, Nearest(almaty, nil))
}
