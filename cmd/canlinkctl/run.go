package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/danmuck/canlink/internal/config"
	"github.com/danmuck/canlink/internal/node"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a node from a config file",
		Long: `Run a node: receive and dispatch messages, acknowledge multi-frame
messages, broadcast the status beacon and serve the admin API.

Examples:
  canlinkctl run --config canlink.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			n, err := node.New(cfg, nil)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return n.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", "canlink.toml", "Path to node config")

	return cmd
}
