package dispatch

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/aquamarket/dispatch/core/geo"
	"github.com/aquamarket/dispatch/core/model"
)

// Group is the set of zones allocated to one courier.
type Group struct {
	Courier model.Courier
	Zones   []model.Zone
	// Load counts the courier's open queue entries plus the allocated orders.
	Load     int
	Products model.Products
}

// Orders returns the allocated orders in zone order.
func (g Group) Orders() []model.Order {
	var out []model.Order
	for _, z := range g.Zones {
		out = append(out, z.Orders...)
	}
	return out
}

// NewOrders is the number of allocated orders.
func (g Group) NewOrders() int {
	n := 0
	for _, z := range g.Zones {
		n += z.Size()
	}
	return n
}

func (g Group) centers() []model.Point {
	out := make([]model.Point, len(g.Zones))
	for i, z := range g.Zones {
		out[i] = z.Center
	}
	return out
}

// Allocation is the result of assigning zones to couriers.
type Allocation struct {
	// Groups holds couriers that received at least one zone, sorted by courier id.
	Groups     []Group
	Unassigned []model.Zone
	Target     int
	Cap        int
	Moves      int
	// Splits counts zones added by splitting zones no courier could take whole.
	Splits int
}

// Allocator assigns zones to couriers by greedy cost with a bounded
// rebalancing pass.
type Allocator struct {
	cfg   Config
	now   func() time.Time
	split func(z model.Zone, limit int) []model.Zone
}

// NewAllocator creates an Allocator with cfg, zero fields replaced by defaults.
func NewAllocator(cfg Config) *Allocator {
	cfg.SetDefaults()
	return &Allocator{cfg: cfg, now: time.Now}
}

// SetSplitter installs the function used to break a zone that fits no
// courier into parts of at most limit orders. Without it such zones are
// returned unassigned.
func (a *Allocator) SetSplitter(fn func(z model.Zone, limit int) []model.Zone) {
	a.split = fn
}

// Target returns the per-courier target load and the hard cap for a run
// distributing newOrders among couriers.
func (a *Allocator) Target(newOrders int, couriers []model.Courier) (target, hardCap int) {
	if len(couriers) == 0 {
		return 0, 0
	}
	total := newOrders
	for _, c := range couriers {
		total += c.Load()
	}
	target = int(math.Ceil(float64(total) / float64(len(couriers))))
	return target, target + a.cfg.Slack
}

// ZoneLimit is the largest zone any single courier could take. Zones above it
// must be split before allocation. Zero means no courier has room.
func (a *Allocator) ZoneLimit(newOrders int, couriers []model.Courier) int {
	_, hardCap := a.Target(newOrders, couriers)
	limit := 0
	for _, c := range couriers {
		room := hardCap - c.Load()
		if c.Capacity.MaxStops > 0 && c.Capacity.MaxStops-c.Load() < room {
			room = c.Capacity.MaxStops - c.Load()
		}
		if room > limit {
			limit = room
		}
	}
	return limit
}

// Allocate assigns every zone to at most one courier. A zone that fits no
// courier while some still have room is split by the largest remaining room
// and its parts are allocated in its place. Zones left over once room runs
// out are returned in Unassigned.
func (a *Allocator) Allocate(zones []model.Zone, couriers []model.Courier, ex Exclusions) Allocation {
	if ex == nil {
		ex = noExclusions{}
	}
	newOrders := 0
	for _, z := range zones {
		newOrders += z.Size()
	}
	target, hardCap := a.Target(newOrders, couriers)
	out := Allocation{Target: target, Cap: hardCap}

	groups := make([]*Group, len(couriers))
	for i, c := range couriers {
		groups[i] = &Group{Courier: c, Load: c.Load(), Products: c.OpenProducts()}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Courier.ID < groups[j].Courier.ID })

	now := a.now()
	queue := append([]model.Zone(nil), zones...)
	for len(queue) > 0 {
		z := queue[0]
		queue = queue[1:]
		var best *Group
		bestCost, bestProx := math.Inf(1), math.Inf(1)
		for _, g := range groups {
			if !a.fits(g, z, hardCap, ex) {
				continue
			}
			cost := a.cost(g, z, target)
			prox := math.Inf(1)
			if g.Courier.LocationFresh(now, a.cfg.locationMaxAge()) {
				prox = geo.Distance(g.Courier.Location, z.Center)
			}
			if cost < bestCost || (cost == bestCost && prox < bestProx) {
				best, bestCost, bestProx = g, cost, prox
			}
		}
		if best == nil {
			if parts := a.splitToRoom(z, groups, hardCap); len(parts) > 1 {
				out.Splits += len(parts) - 1
				queue = append(parts, queue...)
				continue
			}
			out.Unassigned = append(out.Unassigned, z)
			continue
		}
		a.add(best, z)
	}

	out.Moves = a.rebalance(groups, target, hardCap, ex)
	for _, g := range groups {
		if len(g.Zones) > 0 {
			out.Groups = append(out.Groups, *g)
		}
	}
	return out
}

// splitToRoom breaks z into parts no larger than the largest room left in
// any group. When some group has room for all of z but cannot take it
// (exclusions, unit limits) z is halved instead. Nil means no split helps.
func (a *Allocator) splitToRoom(z model.Zone, groups []*Group, hardCap int) []model.Zone {
	if a.split == nil || z.Size() < 2 {
		return nil
	}
	limit := 0
	for _, g := range groups {
		if r := room(g, hardCap); r > limit {
			limit = r
		}
	}
	if limit == 0 {
		return nil
	}
	if limit >= z.Size() {
		limit = (z.Size() + 1) / 2
	}
	return a.split(z, limit)
}

func room(g *Group, hardCap int) int {
	r := hardCap - g.Load
	if ms := g.Courier.Capacity.MaxStops; ms > 0 && ms-g.Load < r {
		r = ms - g.Load
	}
	if r < 0 {
		return 0
	}
	return r
}

func (a *Allocator) add(g *Group, z model.Zone) {
	g.Zones = append(g.Zones, z)
	g.Load += z.Size()
	g.Products = g.Products.Add(z.Products())
}

func (a *Allocator) remove(g *Group, idx int) model.Zone {
	z := g.Zones[idx]
	g.Zones = append(g.Zones[:idx:idx], g.Zones[idx+1:]...)
	g.Load -= z.Size()
	p := model.Products{}
	for k, v := range g.Products {
		if left := v - z.Products()[k]; left > 0 {
			p[k] = left
		}
	}
	g.Products = p
	return z
}

func (a *Allocator) fits(g *Group, z model.Zone, hardCap int, ex Exclusions) bool {
	load := g.Load + z.Size()
	if load > hardCap {
		return false
	}
	if !g.Courier.Capacity.Fits(load, g.Products.Add(z.Products())) {
		return false
	}
	return !excludedAny(ex, z.Orders, g.Courier.ID)
}

// cost scores adding z to g. Lower is better.
func (a *Allocator) cost(g *Group, z model.Zone, target int) float64 {
	over := float64(g.Load + z.Size() - target)
	if over < 0 {
		over = 0
	}
	if len(g.Zones) == 0 {
		return over * a.cfg.FirstZoneLoadWeight
	}
	minD, maxD := math.Inf(1), 0.0
	for _, c := range g.centers() {
		d := geo.Distance(z.Center, c)
		minD = math.Min(minD, d)
		maxD = math.Max(maxD, d)
	}
	cost := minD
	if minD > 3000 {
		cost *= 5
	}
	if minD > 5000 {
		cost *= 10
	}
	if minD > 8000 {
		cost *= 20
	}
	if maxD > a.cfg.SpreadThreshold {
		cost += (maxD - a.cfg.SpreadThreshold) * a.cfg.SpreadWeight
	}
	return cost + over*a.cfg.LoadWeight
}

// efficiency scores a whole group: zone spread plus load imbalance.
func (a *Allocator) efficiency(g *Group, target int) float64 {
	centers := g.centers()
	spread, maxD := 0.0, 0.0
	for i := 0; i < len(centers); i++ {
		for j := i + 1; j < len(centers); j++ {
			d := geo.Distance(centers[i], centers[j])
			spread += d
			maxD = math.Max(maxD, d)
		}
	}
	if maxD > 5000 {
		spread += (maxD - 5000) * 2
	}
	if maxD > 8000 {
		spread += (maxD - 8000) * 5
	}
	return spread + math.Abs(float64(g.Load-target))*a.cfg.LoadWeight
}

// rebalance moves single zones from heavier to lighter groups while the
// combined efficiency improves by more than RebalanceMinGain.
func (a *Allocator) rebalance(groups []*Group, target, hardCap int, ex Exclusions) int {
	moves := 0
	for iter := 0; iter < a.cfg.RebalanceIterations; iter++ {
		var from, to *Group
		zoneIdx := -1
		bestGain := a.cfg.RebalanceMinGain
		for _, gi := range groups {
			for _, gj := range groups {
				if gi == gj || gi.Load <= gj.Load || len(gi.Zones) == 0 {
					continue
				}
				before := a.efficiency(gi, target) + a.efficiency(gj, target)
				for zi, z := range gi.Zones {
					if !a.fits(gj, z, hardCap, ex) {
						continue
					}
					src := cloneGroup(gi)
					dst := cloneGroup(gj)
					a.remove(&src, zi)
					a.add(&dst, z)
					gain := before - (a.efficiency(&src, target) + a.efficiency(&dst, target))
					if gain > bestGain {
						from, to, zoneIdx, bestGain = gi, gj, zi, gain
					}
				}
			}
		}
		if from == nil {
			break
		}
		a.add(to, a.remove(from, zoneIdx))
		moves++
	}
	return moves
}

func cloneGroup(g *Group) Group {
	out := *g
	out.Zones = append([]model.Zone(nil), g.Zones...)
	out.Products = model.Products{}.Add(g.Products)
	return out
}

// Imbalance is the standard deviation of group loads, zero for fewer than
// two groups.
func (al Allocation) Imbalance() float64 {
	if len(al.Groups) < 2 {
		return 0
	}
	loads := make([]float64, len(al.Groups))
	for i, g := range al.Groups {
		loads[i] = float64(g.Load)
	}
	return stat.StdDev(loads, nil)
}
