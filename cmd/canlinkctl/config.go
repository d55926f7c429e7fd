package main

import (
	"fmt"

	"github.com/danmuck/canlink/internal/config"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and check node config files",
	}
	cmd.AddCommand(configInitCmd(), configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var (
		kind  string
		out   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template",
		Long: `Write a config template. Kinds: socketcan, loopback

Examples:
  canlinkctl config init
  canlinkctl config init --kind loopback --out loop.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(out, kind, force); err != nil {
				return err
			}
			fmt.Printf("wrote %s config to %s\n", kind, out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "socketcan", "Template kind")
	cmd.Flags().StringVarP(&out, "out", "o", "canlink.toml", "Output path")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Load and validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("ok: node=%s addr=%d driver=%s retry_limit=%d\n",
				cfg.Node.Name, cfg.Node.Address, cfg.Bus.Driver, cfg.Protocol.RetryLimit)
			return nil
		},
	}
}
