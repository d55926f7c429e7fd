package main

import (
	"fmt"
	"os"

	"github.com/danmuck/canlink/internal/logging"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "canlinkctl",
		Short: "Framed messaging over an 11-bit CAN bus",
		Long: `canlinkctl runs and exercises canlink nodes.

A node packs routing metadata into the 11-bit identifier, fragments
payloads larger than one frame, checks them with CRC-8 and acknowledges
multi-frame messages with bounded retries.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.ConfigureRuntime()
		},
	}

	rootCmd.AddCommand(
		runCmd(),
		sendCmd(),
		demoCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "canlinkctl: %v\n", err)
		os.Exit(1)
	}
}
