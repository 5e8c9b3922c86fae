package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aquamarket/dispatch/core/model"
	"github.com/aquamarket/dispatch/core/store"
	"github.com/aquamarket/dispatch/pkg/export"
	"github.com/aquamarket/dispatch/qa/scenarios"
)

var planOpts struct {
	csv  string
	json string
	html string
}

var planCmd = &cobra.Command{
	Use:   "plan <fixture.yaml>",
	Short: "Dry-run one distribution over a fixture and print the routes",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planOpts.csv, "csv", "", "write routes as CSV to this file")
	planCmd.Flags().StringVar(&planOpts.json, "json", "", "write routes as JSON to this file")
	planCmd.Flags().StringVar(&planOpts.html, "html", "", "write a route chart to this HTML file")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	sc, err := scenarios.Load(args[0])
	if err != nil {
		return err
	}
	sc.Notify = false
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()
	rep, err := scenarios.Replay(ctx, sc, scenarios.ReplayOptions{})
	if err != nil {
		return err
	}
	couriers, err := rep.Couriers(ctx)
	if err != nil {
		return err
	}
	routes := export.RoutesFromCouriers(couriers)
	printPlan(cmd.OutOrStdout(), sc.Name, rep, routes)

	if planOpts.csv != "" {
		if err := writeFile(planOpts.csv, func(w io.Writer) error { return export.WriteCSV(w, routes) }); err != nil {
			return err
		}
	}
	if planOpts.json != "" {
		if err := writeFile(planOpts.json, func(w io.Writer) error { return export.WriteJSON(w, routes) }); err != nil {
			return err
		}
	}
	if planOpts.html != "" {
		depot := depotOf(ctx, rep.Store)
		if err := writeFile(planOpts.html, func(w io.Writer) error { return export.RenderRoutes(w, sc.Name, depot, routes) }); err != nil {
			return err
		}
	}
	return nil
}

func printPlan(w io.Writer, name string, rep scenarios.Report, routes []export.Route) {
	r := rep.Run
	fmt.Fprintf(w, "plan %s: run %s success=%t stage=%s\n", name, r.ID, r.Success, r.Stage)
	if r.Kind != "" {
		fmt.Fprintf(w, "  kind=%s reason=%s\n", r.Kind, r.Reason)
	}
	fmt.Fprintf(w, "  zones=%d distributed=%d unassigned=%d couriers=%d swaps=%d took=%s\n",
		r.ZonesCreated, r.OrdersDistributed, r.OrdersUnassigned, r.CouriersUsed, r.Swaps, r.Duration().Round(time.Millisecond))
	for _, rt := range routes {
		ids := make([]string, len(rt.Stops))
		for i, s := range rt.Stops {
			ids[i] = s.OrderID
		}
		fmt.Fprintf(w, "  %s: %s\n", rt.CourierID, strings.Join(ids, " -> "))
	}
	if len(r.Unassigned) == 0 {
		return
	}
	left := make([]string, 0, len(r.Unassigned))
	for _, l := range r.Unassigned {
		left = append(left, fmt.Sprintf("%s (%s)", l.OrderID, l.Kind))
	}
	sort.Strings(left)
	fmt.Fprintf(w, "  left awaiting: %s\n", strings.Join(left, ", "))
}

func depotOf(ctx context.Context, st *store.MemoryStore) *model.Depot {
	d, err := st.FindDepot(ctx)
	if err != nil {
		return nil
	}
	return &d
}

func writeFile(path string, fn func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(f)
}
