// Command posmon monitors open positions against live trade streams and
// closes them on take-profit or stop-loss.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"posmon/config"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "posmon",
		Short:         "Position monitor and price-feed fan-out",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "posmon.toml", "path to TOML config (optional)")

	cmd.AddCommand(
		newServeCmd(opts),
		newHistoryCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "posmon:", err)
		os.Exit(1)
	}
}
