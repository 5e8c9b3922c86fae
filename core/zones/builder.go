// Package zones groups pending orders into geographic zones using density
// clustering.
package zones

import (
	"fmt"
	"math"
	"sort"

	"github.com/aquamarket/dispatch/core/geo"
	"github.com/aquamarket/dispatch/core/model"
)

// Builder clusters orders into zones.
type Builder struct {
	cfg Config
}

// NewBuilder returns a Builder with cfg, zero fields replaced by defaults.
func NewBuilder(cfg Config) *Builder {
	cfg.SetDefaults()
	return &Builder{cfg: cfg}
}

// Config returns the effective configuration.
func (b *Builder) Config() Config { return b.cfg }

// Build clusters orders. Every input order ends up in exactly one zone. The
// result is ordered by descending size, then priority.
func (b *Builder) Build(orders []model.Order) []model.Zone {
	if len(orders) == 0 {
		return nil
	}
	pts := append([]model.Order(nil), orders...)
	sort.SliceStable(pts, func(i, j int) bool {
		if pts[i].Point.Lat != pts[j].Point.Lat {
			return pts[i].Point.Lat < pts[j].Point.Lat
		}
		if pts[i].Point.Lon != pts[j].Point.Lon {
			return pts[i].Point.Lon < pts[j].Point.Lon
		}
		return pts[i].ID < pts[j].ID
	})

	n := len(pts)
	neighbors := func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if geo.Distance(pts[i].Point, pts[j].Point) <= b.cfg.MaxDistance {
				out = append(out, j)
			}
		}
		return out
	}

	visited := make([]bool, n)
	assigned := make([]bool, n)
	var groups [][]int
	var kinds []model.Priority

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true
		nb := neighbors(i)
		if len(nb) < b.cfg.MinOrders {
			continue
		}
		members := []int{i}
		assigned[i] = true
		queue := nb
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if !assigned[j] {
				assigned[j] = true
				members = append(members, j)
			}
			if visited[j] {
				continue
			}
			visited[j] = true
			if jn := neighbors(j); len(jn) >= b.cfg.MinOrders {
				queue = append(queue, jn...)
			}
		}
		groups = append(groups, members)
		kinds = append(kinds, model.PriorityHigh)
	}

	var noise []int
	for i := 0; i < n; i++ {
		if !assigned[i] {
			noise = append(noise, i)
		}
	}
	mergeDist := b.cfg.MaxDistance * b.cfg.NoiseMergeFactor
	used := make(map[int]bool, len(noise))
	for a, base := range noise {
		if used[base] {
			continue
		}
		used[base] = true
		members := []int{base}
		for _, other := range noise[a+1:] {
			if used[other] {
				continue
			}
			if withinAll(pts, members, other, mergeDist) {
				used[other] = true
				members = append(members, other)
			}
		}
		groups = append(groups, members)
		if len(members) > 1 {
			kinds = append(kinds, model.PriorityMedium)
		} else {
			kinds = append(kinds, model.PriorityLow)
		}
	}

	zones := make([]model.Zone, 0, len(groups))
	for gi, members := range groups {
		sort.Ints(members)
		zoneOrders := make([]model.Order, len(members))
		for k, idx := range members {
			zoneOrders[k] = pts[idx]
		}
		zones = append(zones, b.newZone(fmt.Sprintf("zone-%d", gi+1), zoneOrders, kinds[gi]))
	}
	sortZones(zones)
	return zones
}

// withinAll reports whether pts[cand] lies within d of every member.
func withinAll(pts []model.Order, members []int, cand int, d float64) bool {
	for _, m := range members {
		if geo.Distance(pts[m].Point, pts[cand].Point) > d {
			return false
		}
	}
	return true
}

// Split divides every zone with more than limit orders into near-equal
// sub-zones along its widest axis. A non-positive limit disables splitting.
func (b *Builder) Split(zones []model.Zone, limit int) []model.Zone {
	if limit <= 0 {
		return zones
	}
	out := make([]model.Zone, 0, len(zones))
	for _, z := range zones {
		if z.Size() <= limit {
			out = append(out, z)
			continue
		}
		out = append(out, b.splitZone(z, limit)...)
	}
	sortZones(out)
	return out
}

// SplitZone splits a single zone into parts of at most limit orders. A zone
// within the limit is returned unchanged.
func (b *Builder) SplitZone(z model.Zone, limit int) []model.Zone {
	if limit <= 0 || z.Size() <= limit {
		return []model.Zone{z}
	}
	return b.splitZone(z, limit)
}

func (b *Builder) splitZone(z model.Zone, limit int) []model.Zone {
	members := append([]model.Order(nil), z.Orders...)
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	minLon, maxLon := math.Inf(1), math.Inf(-1)
	for _, o := range members {
		minLat, maxLat = math.Min(minLat, o.Point.Lat), math.Max(maxLat, o.Point.Lat)
		minLon, maxLon = math.Min(minLon, o.Point.Lon), math.Max(maxLon, o.Point.Lon)
	}
	byLat := maxLat-minLat >= (maxLon-minLon)*math.Cos(z.Center.Lat*math.Pi/180)
	sort.SliceStable(members, func(i, j int) bool {
		a, c := members[i].Point, members[j].Point
		if byLat && a.Lat != c.Lat {
			return a.Lat < c.Lat
		}
		if !byLat && a.Lon != c.Lon {
			return a.Lon < c.Lon
		}
		return members[i].ID < members[j].ID
	})

	n := len(members)
	parts := (n + limit - 1) / limit
	size, extra := n/parts, n%parts
	out := make([]model.Zone, 0, parts)
	start := 0
	for k := 0; k < parts; k++ {
		end := start + size
		if k < extra {
			end++
		}
		id := fmt.Sprintf("%s.%d", z.ID, k+1)
		out = append(out, b.newZone(id, members[start:end], z.Priority))
		start = end
	}
	return out
}

func (b *Builder) newZone(id string, orders []model.Order, p model.Priority) model.Zone {
	pts := make([]model.Point, len(orders))
	for i, o := range orders {
		pts[i] = o.Point
	}
	center := geo.Centroid(pts)
	radius := math.Max(geo.MaxDistanceFrom(center, pts), b.cfg.MinRadius)
	return model.Zone{
		ID:       id,
		Center:   center,
		Radius:   radius,
		Orders:   append([]model.Order(nil), orders...),
		Priority: p,
	}
}

func sortZones(zones []model.Zone) {
	sort.SliceStable(zones, func(i, j int) bool {
		if zones[i].Size() != zones[j].Size() {
			return zones[i].Size() > zones[j].Size()
		}
		return zones[i].Priority > zones[j].Priority
	})
}
