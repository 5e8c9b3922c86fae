package model

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPointValid(t *testing.T) {
	assert.True(t, Point{Lat: 43.2, Lon: 76.9}.Valid())
	assert.False(t, Point{}.Valid())
	assert.False(t, Point{Lat: 91, Lon: 0}.Valid())
	assert.False(t, Point{Lat: math.NaN(), Lon: 1}.Valid())
}

func TestOrderEligible(t *testing.T) {
	base := Order{ID: "o1", Point: Point{Lat: 43.2, Lon: 76.9}, Status: OrderAwaiting, ForDispatch: true}
	assert.True(t, base.Eligible())

	o := base
	o.ForDispatch = false
	assert.False(t, o.Eligible())

	o = base
	o.CourierID = "c1"
	assert.False(t, o.Eligible())

	for _, s := range []OrderStatus{OrderOnTheWay, OrderDelivered, OrderCancelled} {
		o = base
		o.Status = s
		assert.False(t, o.Eligible(), s)
	}

	o = base
	o.Point = Point{}
	assert.False(t, o.Eligible())
}

func TestCapacityFits(t *testing.T) {
	c := Capacity{MaxStops: 3, MaxUnits: map[string]int{SKU19L: 10}}
	assert.True(t, c.Fits(3, Products{SKU19L: 10, SKU12L5: 50}))
	assert.False(t, c.Fits(4, Products{}))
	assert.False(t, c.Fits(1, Products{SKU19L: 11}))
	assert.True(t, Capacity{}.Fits(100, Products{SKU19L: 1000}))
}

func TestCourierQueueHelpers(t *testing.T) {
	c := Courier{Queue: []QueueEntry{
		{OrderID: "a", Status: OrderDelivered, Products: Products{SKU19L: 2}},
		{OrderID: "b", Status: OrderOnTheWay, Products: Products{SKU19L: 1}},
		{OrderID: "c", Status: OrderAssigned, Products: Products{SKU12L5: 3}},
	}}
	assert.Equal(t, 2, c.Load())
	assert.Equal(t, Products{SKU19L: 1, SKU12L5: 3}, c.OpenProducts())
	e, ok := c.ActiveEntry()
	assert.True(t, ok)
	assert.Equal(t, "b", e.OrderID)
	assert.Equal(t, 2, c.IndexOf("c"))
	assert.Equal(t, -1, c.IndexOf("z"))

	cl := c.Clone()
	cl.Queue[0].OrderID = "x"
	assert.Equal(t, "a", c.Queue[0].OrderID)
}

func TestLocationFresh(t *testing.T) {
	now := time.Now()
	c := Courier{Location: Point{Lat: 43, Lon: 76}, LocationAt: now.Add(-time.Hour)}
	assert.False(t, c.LocationFresh(now, 30*time.Minute))
	assert.True(t, c.LocationFresh(now, 2*time.Hour))
	assert.True(t, c.LocationFresh(now, 0))
	assert.False(t, Courier{}.LocationFresh(now, 0))
}
