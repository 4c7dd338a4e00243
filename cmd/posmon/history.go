package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"posmon/internal/metrics"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var (
		since  time.Duration
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print persisted closed-position history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			p, closeStore, err := openPersister(cfg, &metrics.Probes{})
			if err != nil {
				return err
			}
			defer closeStore()
			if p == nil {
				return fmt.Errorf("history backend %q keeps nothing on disk", cfg.History.Backend)
			}

			recs, err := p.Load()
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}
			if since > 0 {
				cutoff := time.Now().Add(-since)
				kept := recs[:0]
				for _, r := range recs {
					if !r.CloseTime.Before(cutoff) {
						kept = append(kept, r)
					}
				}
				recs = kept
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CLOSED\tID\tPAIR\tSIDE\tENTRY\tEXIT\tPROFIT\tPCT\tREASON")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%g\t%g\t%+.2f\t%+.2f%%\t%s\n",
					r.CloseTime.Local().Format(time.DateTime), r.ID, r.Pair, r.Type,
					r.Entry, r.Exit, r.Profit, r.ProfitPercent, r.Reason)
			}
			if len(recs) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no closed positions")
			}
			return tw.Flush()
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "only records closed within this window (e.g. 24h)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
