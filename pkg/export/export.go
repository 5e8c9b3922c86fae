// Package export writes courier routes as JSON, CSV or an HTML chart.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/aquamarket/dispatch/core/model"
)

// Stop is one visit of a route.
type Stop struct {
	Seq        int            `json:"seq"`
	OrderID    string         `json:"order_id"`
	Lat        float64        `json:"lat"`
	Lon        float64        `json:"lon"`
	Address    string         `json:"address"`
	Products   model.Products `json:"products"`
	Decision   model.Decision `json:"decision"`
	AssignedAt time.Time      `json:"assigned_at"`
}

// Route is a courier's ordered open queue.
type Route struct {
	CourierID string `json:"courier_id"`
	Name      string `json:"name,omitempty"`
	Stops     []Stop `json:"stops"`
}

// RoutesFromCouriers converts the open queue of every courier holding
// orders. Routes are sorted by courier id.
func RoutesFromCouriers(couriers []model.Courier) []Route {
	var out []Route
	for _, c := range couriers {
		open := c.OpenEntries()
		if len(open) == 0 {
			continue
		}
		r := Route{CourierID: c.ID, Name: c.Name}
		for i, e := range open {
			r.Stops = append(r.Stops, Stop{
				Seq:        i + 1,
				OrderID:    e.OrderID,
				Lat:        e.Point.Lat,
				Lon:        e.Point.Lon,
				Address:    e.Address,
				Products:   e.Products,
				Decision:   e.Decision,
				AssignedAt: e.AssignedAt,
			})
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourierID < out[j].CourierID })
	return out
}

// WriteJSON writes routes to w in JSON format.
func WriteJSON(w io.Writer, routes []Route) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(routes)
}

// WriteCSV writes one row per stop.
func WriteCSV(w io.Writer, routes []Route) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"courier_id", "seq", "order_id", "lat", "lon", "address", "b19", "b12"}); err != nil {
		return err
	}
	for _, r := range routes {
		for _, s := range r.Stops {
			rec := []string{
				r.CourierID,
				strconv.Itoa(s.Seq),
				s.OrderID,
				strconv.FormatFloat(s.Lat, 'f', 6, 64),
				strconv.FormatFloat(s.Lon, 'f', 6, 64),
				s.Address,
				strconv.Itoa(s.Products[model.SKU19L]),
				strconv.Itoa(s.Products[model.SKU12L5]),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// RenderRoutes draws every route as a scatter series of (lon, lat) points,
// plus the depot when it is known.
func RenderRoutes(w io.Writer, title string, depot *model.Depot, routes []Route) error {
	sc := charts.NewScatter()
	sc.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("%d couriers", len(routes))}),
		charts.WithXAxisOpts(opts.XAxis{Name: "lon", Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "lat", Type: "value"}),
		charts.WithLegendOpts(opts.Legend{}),
	)
	if depot != nil && depot.Point.Valid() {
		sc.AddSeries("depot", []opts.ScatterData{{
			Name:  depot.Address,
			Value: []float64{depot.Point.Lon, depot.Point.Lat},
		}})
	}
	for _, r := range routes {
		data := make([]opts.ScatterData, 0, len(r.Stops))
		for _, s := range r.Stops {
			data = append(data, opts.ScatterData{
				Name:  fmt.Sprintf("%d. %s", s.Seq, s.OrderID),
				Value: []float64{s.Lon, s.Lat},
			})
		}
		sc.AddSeries(r.CourierID, data)
	}
	return sc.Render(w)
}
