package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aquamarket/dispatch/app"
	"github.com/aquamarket/dispatch/config"
	"github.com/aquamarket/dispatch/infra/logger"
)

var couriersCmd = &cobra.Command{
	Use:   "couriers",
	Short: "Courier related commands",
}

var couriersLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List active couriers and their open queues",
	RunE:  runCouriersLs,
}

func init() {
	couriersCmd.AddCommand(couriersLsCmd)
	rootCmd.AddCommand(couriersCmd)
}

func runCouriersLs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	log := logger.New("couriers-command")
	st, closeFn, err := app.OpenStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeFn(); err != nil {
			log.Errorf("close store: %v", err)
		}
	}()
	couriers, err := st.FindActiveCouriers(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tONLINE\tLOAD\tQUEUE")
	for _, c := range couriers {
		var ids []string
		for _, e := range c.OpenEntries() {
			ids = append(ids, fmt.Sprintf("%s[%s]", e.OrderID, e.Decision))
		}
		fmt.Fprintf(tw, "%s\t%t\t%d\t%s\n", c.ID, c.Online, c.Load(), strings.Join(ids, " "))
	}
	return tw.Flush()
}
