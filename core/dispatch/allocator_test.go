package dispatch

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquamarket/dispatch/core/model"
	"github.com/aquamarket/dispatch/core/zones"
)

func splittingAllocator() *Allocator {
	a := NewAllocator(Config{})
	a.SetSplitter(zones.NewBuilder(zones.Config{}).SplitZone)
	return a
}

func TestAllocatorTarget(t *testing.T) {
	a := NewAllocator(Config{})
	busy := courierAt("c2", origin)
	busy.Queue = []model.QueueEntry{queued(pendingOrder("x", origin), "c2")}
	done := queued(pendingOrder("y", origin), "c3")
	done.Status = model.OrderDelivered
	idle := courierAt("c3", origin)
	idle.Queue = []model.QueueEntry{done}

	target, hardCap := a.Target(10, []model.Courier{courierAt("c1", origin), busy, idle})
	assert.Equal(t, 4, target)
	assert.Equal(t, 5, hardCap)

	target, hardCap = a.Target(3, nil)
	assert.Zero(t, target)
	assert.Zero(t, hardCap)
}

func TestZoneLimitBoundedByMaxStops(t *testing.T) {
	a := NewAllocator(Config{})
	c1 := courierAt("c1", origin)
	c1.Capacity.MaxStops = 3
	c2 := courierAt("c2", origin)
	c2.Capacity.MaxStops = 2
	assert.Equal(t, 3, a.ZoneLimit(10, []model.Courier{c1, c2}))
	assert.Equal(t, 6, a.ZoneLimit(10, []model.Courier{courierAt("c1", origin), courierAt("c2", origin)}))
}

func TestAllocateSeparatedClustersGoToNearestCourier(t *testing.T) {
	west := cluster("w", 0, 0, 4)
	east := cluster("e", 10000, 0, 4)
	zs := []model.Zone{zoneOf("zone-1", west...), zoneOf("zone-2", east...)}
	// ids sorted against geography so proximity must decide
	couriers := []model.Courier{courierAt("a", at(10000, 0)), courierAt("b", at(0, 0))}

	out := NewAllocator(Config{}).Allocate(zs, couriers, nil)
	require.Len(t, out.Groups, 2)
	assert.Empty(t, out.Unassigned)
	for _, g := range out.Groups {
		require.Len(t, g.Zones, 1)
		switch g.Courier.ID {
		case "a":
			assert.Equal(t, "zone-2", g.Zones[0].ID)
		case "b":
			assert.Equal(t, "zone-1", g.Zones[0].ID)
		}
	}
	assert.Zero(t, out.Imbalance())
}

func TestAllocateNeverExceedsCap(t *testing.T) {
	var zs []model.Zone
	for i := 0; i < 6; i++ {
		zs = append(zs, zoneOf("z", cluster(string(rune('a'+i)), float64(i)*1500, 0, 2)...))
	}
	couriers := []model.Courier{courierAt("c1", at(0, 0)), courierAt("c2", at(4000, 0)), courierAt("c3", at(8000, 0))}
	out := NewAllocator(Config{}).Allocate(zs, couriers, nil)
	assigned := 0
	for _, g := range out.Groups {
		assert.LessOrEqual(t, g.Load, out.Cap, "courier %s", g.Courier.ID)
		assigned += g.NewOrders()
	}
	for _, z := range out.Unassigned {
		assigned += z.Size()
	}
	assert.Equal(t, 12, assigned)
}

func TestAllocateHonoursExclusions(t *testing.T) {
	orders := cluster("o", 0, 0, 2)
	zs := []model.Zone{zoneOf("zone-1", orders...)}
	couriers := []model.Courier{courierAt("c1", at(0, 0)), courierAt("c2", at(3000, 0))}

	out := NewAllocator(Config{}).Allocate(zs, couriers, banList{"o1": "c1"})
	require.Len(t, out.Groups, 1)
	assert.Equal(t, "c2", out.Groups[0].Courier.ID)
}

func TestAllocateSurfacesUnplaceableZones(t *testing.T) {
	small := courierAt("c1", origin)
	small.Capacity.MaxStops = 2
	zs := []model.Zone{zoneOf("big", cluster("o", 0, 0, 3)...)}

	out := NewAllocator(Config{}).Allocate(zs, []model.Courier{small}, nil)
	assert.Empty(t, out.Groups)
	require.Len(t, out.Unassigned, 1)
	assert.Equal(t, "big", out.Unassigned[0].ID)
}

func TestAllocateRespectsUnitLimits(t *testing.T) {
	heavy := pendingOrder("h1", origin)
	heavy.Products = model.Products{model.SKU19L: 8}
	weak := courierAt("c1", origin)
	weak.Capacity.MaxUnits = map[string]int{model.SKU19L: 5}
	strong := courierAt("c2", at(5000, 0))

	out := NewAllocator(Config{}).Allocate([]model.Zone{zoneOf("z", heavy)}, []model.Courier{weak, strong}, nil)
	require.Len(t, out.Groups, 1)
	assert.Equal(t, "c2", out.Groups[0].Courier.ID)
}

func TestRebalanceMovesZoneToIdleCourier(t *testing.T) {
	a := NewAllocator(Config{})
	g1 := &Group{Courier: courierAt("c1", origin)}
	g2 := &Group{Courier: courierAt("c2", at(20000, 0))}
	a.add(g1, zoneOf("z1", cluster("a", 0, 0, 2)...))
	a.add(g1, zoneOf("z2", cluster("b", 20000, 0, 2)...))

	moves := a.rebalance([]*Group{g1, g2}, 2, 3, noExclusions{})
	assert.Equal(t, 1, moves)
	assert.Equal(t, 2, g1.Load)
	assert.Equal(t, 2, g2.Load)
}

func TestAllocateSplitsZoneAcrossFragmentedRoom(t *testing.T) {
	var zs []model.Zone
	for i, p := range []string{"a", "b", "c", "d"} {
		zs = append(zs, zoneOf("zone-"+p, cluster(p, float64(i)*20000, 0, 3)...))
	}
	couriers := []model.Courier{courierAt("c1", at(0, 0)), courierAt("c2", at(20000, 0)), courierAt("c3", at(40000, 0))}

	out := splittingAllocator().Allocate(zs, couriers, nil)
	assert.Equal(t, 4, out.Target)
	assert.Equal(t, 5, out.Cap)
	require.Empty(t, out.Unassigned)
	assert.Equal(t, 1, out.Splits)
	assigned := 0
	for _, g := range out.Groups {
		assert.LessOrEqual(t, g.Load, out.Cap, "courier %s", g.Courier.ID)
		assigned += g.NewOrders()
	}
	assert.Equal(t, 12, assigned)
}

func TestAllocateWithoutSplitterKeepsZonesWhole(t *testing.T) {
	var zs []model.Zone
	for i, p := range []string{"a", "b", "c", "d"} {
		zs = append(zs, zoneOf("zone-"+p, cluster(p, float64(i)*20000, 0, 3)...))
	}
	couriers := []model.Courier{courierAt("c1", at(0, 0)), courierAt("c2", at(20000, 0)), courierAt("c3", at(40000, 0))}

	out := NewAllocator(Config{}).Allocate(zs, couriers, nil)
	require.Len(t, out.Unassigned, 1)
	assert.Zero(t, out.Splits)
}

func TestAllocateLeavesNothingWhenCapacitySuffices(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		var zs []model.Zone
		orders := 0
		for i, n := 0, 1+rng.Intn(6); i < n; i++ {
			size := 1 + rng.Intn(7)
			orders += size
			zs = append(zs, zoneOf(fmt.Sprintf("zone-%d", i),
				cluster(fmt.Sprintf("r%dz%d-", round, i), rng.Float64()*30000, rng.Float64()*30000, size)...))
		}
		var couriers []model.Courier
		for i, n := 0, 1+rng.Intn(4); i < n; i++ {
			c := courierAt(fmt.Sprintf("c%d", i), at(rng.Float64()*30000, rng.Float64()*30000))
			for k := rng.Intn(3); k > 0; k-- {
				c.Queue = append(c.Queue, queued(pendingOrder(fmt.Sprintf("q%d-%d-%d", round, i, k), c.Location), c.ID))
			}
			couriers = append(couriers, c)
		}

		out := splittingAllocator().Allocate(zs, couriers, nil)
		existing := 0
		for _, c := range couriers {
			existing += c.Load()
		}
		if out.Cap*len(couriers) < orders+existing {
			continue
		}
		if len(out.Unassigned) > 0 {
			t.Fatalf("round %d: cap %d x %d couriers covers %d orders but %d zone(s) unassigned",
				round, out.Cap, len(couriers), orders+existing, len(out.Unassigned))
		}
		for _, g := range out.Groups {
			if g.Load > out.Cap {
				t.Fatalf("round %d: courier %s load %d above cap %d", round, g.Courier.ID, g.Load, out.Cap)
			}
		}
	}
}
