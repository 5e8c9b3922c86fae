package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aquamarket/dispatch/config"
	"github.com/aquamarket/dispatch/core/dispatch"
)

var apiURL string

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Ask a running service for one distribution run",
	RunE:  runTrigger,
}

func init() {
	triggerCmd.Flags().StringVar(&apiURL, "api", "", "service base URL (defaults to api.addr from the configuration)")
	rootCmd.AddCommand(triggerCmd)
}

func runTrigger(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	base := apiURL
	if base == "" {
		if cfg.API.Addr == "" {
			return fmt.Errorf("api.addr is not configured, pass --api")
		}
		base = "http://" + strings.TrimPrefix(cfg.API.Addr, "http://")
		if strings.HasPrefix(cfg.API.Addr, ":") {
			base = "http://localhost" + cfg.API.Addr
		}
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(cfg.Scheduler.RunTimeoutSeconds+5)*time.Second)
	defer cancel()
	res, err := postTrigger(ctx, strings.TrimRight(base, "/"), cfg.API.Token)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: success=%t skipped=%t distributed=%d unassigned=%d couriers=%d\n",
		res.ID, res.Success, res.Skipped, res.OrdersDistributed, res.OrdersUnassigned, res.CouriersUsed)
	if res.Kind != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "kind=%s reason=%s\n", res.Kind, res.Reason)
	}
	return nil
}

func postTrigger(ctx context.Context, base, token string) (dispatch.RunResult, error) {
	var res dispatch.RunResult
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/dispatch/trigger", nil)
	if err != nil {
		return res, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return res, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return res, err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusConflict, http.StatusUnprocessableEntity:
	default:
		return res, fmt.Errorf("trigger: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return res, fmt.Errorf("decode run result: %w", err)
	}
	return res, nil
}
