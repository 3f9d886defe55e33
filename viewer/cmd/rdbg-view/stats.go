package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/remdbg/remdbg/viewer/internal/scrape"
)

func statsCmd() *cobra.Command {
	var (
		interval time.Duration
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stats <metrics-url>",
		Short: "Report a producer's delivery counters and rates",
		Long: `Scrape a producer's Prometheus endpoint (its metrics_addr) twice and
print the sent and dropped totals together with per-minute rates.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), interval+timeout)
			defer cancel()

			s := scrape.New(args[0], nil)
			prev, cur, err := s.Twice(ctx, interval)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "%s over %s\n", args[0], cur.ScrapedAt.Sub(prev.ScrapedAt).Round(time.Millisecond))
			return scrape.WriteReport(os.Stdout, cur, scrape.Compare(prev, cur))
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", 5*time.Second, "time between the two scrapes")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall scrape timeout on top of the interval")

	return cmd
}
