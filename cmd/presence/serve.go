package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/christopherjohns/filepresence/internal/server"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a presence relay server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Relay.ListenAddr = addr
			}

			var opts []server.Option
			if cfg.Relay.MaxConns > 0 {
				opts = append(opts, server.WithMaxConns(cfg.Relay.MaxConns))
			}
			if cfg.Relay.IdleTimeout > 0 {
				opts = append(opts, server.WithIdleTimeout(cfg.Relay.IdleTimeout))
			}
			if cfg.Relay.RateLimit > 0 {
				opts = append(opts, server.WithRateLimit(cfg.Relay.RateLimit, time.Minute))
			}

			logger.Info("presence relay listening", "addr", cfg.Relay.ListenAddr, "max_conns", cfg.Relay.MaxConns)
			return server.New(cfg.Relay.ListenAddr, opts...).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "listen", "", "listen address (overrides relay.listenAddr)")
	return cmd
}
