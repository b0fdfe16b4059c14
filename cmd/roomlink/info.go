package main

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/roomlink/internal/adapters/gateway"
	"github.com/dkeye/roomlink/internal/config"
	"github.com/spf13/cobra"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print the gateway's server info and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			setLogLevel(cfg.LogLevel)

			gw, err := gateway.New(cfg.GatewayURL, cfg.RequestTimeout, cfg.LongPollTimeout)
			if err != nil {
				return err
			}
			info, err := gw.Info(cmd.Context())
			if err != nil {
				return fmt.Errorf("server info: %w", err)
			}
			out, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !info.HasPlugin(cfg.Plugin) {
				return fmt.Errorf("plugin %s is not available", cfg.Plugin)
			}
			return nil
		},
	}
}
