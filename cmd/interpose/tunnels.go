package main

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/interpose/pkg/cli"
	"mercator-hq/interpose/pkg/inventory"
	"mercator-hq/interpose/pkg/telemetry/logging"
)

var tunnelsCmd = &cobra.Command{
	Use:   "tunnels",
	Short: "Inspect tunnel history",
}

var tunnelsListFlags struct {
	domain  string
	mode    string
	outcome string
	since   time.Duration
	limit   int
	offset  int
}

var tunnelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded tunnels, newest first",
	Long: `List closed tunnels from the inventory.

Examples:
  # Failed tunnels of the last hour
  interpose tunnels list --outcome error --since 1h

  # Bypassed tunnels for one domain as CSV
  interpose tunnels list --domain bank.example --mode bypass -o csv`,
	Args: cobra.NoArgs,
	RunE: runTunnelsList,
}

func init() {
	rootCmd.AddCommand(tunnelsCmd)
	tunnelsCmd.AddCommand(tunnelsListCmd)

	f := tunnelsListCmd.Flags()
	f.StringVar(&tunnelsListFlags.domain, "domain", "", "filter by CONNECT host")
	f.StringVar(&tunnelsListFlags.mode, "mode", "", "filter by mode (mitm, bypass)")
	f.StringVar(&tunnelsListFlags.outcome, "outcome", "", "filter by outcome (ok, error, cancelled, rejected)")
	f.DurationVar(&tunnelsListFlags.since, "since", 0, "only tunnels started within this duration")
	f.IntVar(&tunnelsListFlags.limit, "limit", 100, "maximum number of rows")
	f.IntVar(&tunnelsListFlags.offset, "offset", 0, "rows to skip")
}

func runTunnelsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openInventory(cfg, logging.Discard())
	if err != nil {
		return err
	}
	defer store.Close()

	query := &inventory.TunnelQuery{
		Domain:  tunnelsListFlags.domain,
		Mode:    tunnelsListFlags.mode,
		Outcome: tunnelsListFlags.outcome,
		Limit:   tunnelsListFlags.limit,
		Offset:  tunnelsListFlags.offset,
	}
	if tunnelsListFlags.since > 0 {
		query.StartTime = time.Now().Add(-tunnelsListFlags.since)
	}

	records, err := store.QueryTunnels(cmd.Context(), query)
	if err != nil {
		return cli.NewCommandError("tunnels list", err)
	}

	table := &cli.Table{
		Headers: []string{"STARTED", "DOMAIN", "MODE", "CLIENT", "DURATION", "UP", "DOWN", "REQUESTS", "OUTCOME"},
		Records: records,
	}
	for _, r := range records {
		outcome := r.Outcome
		if r.Error != "" {
			outcome = fmt.Sprintf("%s (%s)", r.Outcome, r.Error)
		}
		table.Rows = append(table.Rows, []string{
			r.StartedAt.Format(time.RFC3339),
			net.JoinHostPort(r.Domain, strconv.Itoa(r.Port)),
			r.Mode,
			r.ClientAddr,
			r.Duration().Round(time.Millisecond).String(),
			strconv.FormatInt(r.BytesUp, 10),
			strconv.FormatInt(r.BytesDown, 10),
			strconv.FormatInt(r.Requests, 10),
			outcome,
		})
	}
	return render(cmd, table)
}
