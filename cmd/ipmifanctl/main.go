// Copyright © 2024 Mutker Telag <witty.text5011@fastmail.com>
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Command ipmifanctl drives chassis fans over IPMI from the CPU temperature
// reported by the BMC.
//
// Usage:
//
//	ipmifanctl run                 # Run the control loop
//	ipmifanctl sensors             # Print the current sensor report
//	ipmifanctl set-fan 30 --fan 4  # Set one or all fans once
//	ipmifanctl version             # Show version info
package main

import (
	"fmt"
	"os"

	"codeberg.org/mutker/ipmifanctl/internal/config"
	"codeberg.org/mutker/ipmifanctl/internal/logger"
	"github.com/spf13/cobra"
)

// Set at build time via -ldflags "-X main.version=..."
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "ipmifanctl",
	Short: "Temperature driven IPMI fan controller",
	Long: `ipmifanctl polls the BMC sensor table through ipmitool and raises the
chassis fan duty cycle in fixed steps while the CPU runs above a threshold,
dropping straight back to the baseline once it cools down.

Credentials are read from the config file, IPMIFANCTL_IPMI_* or the
IPMI_HOST, IPMI_USERNAME and IPMI_PASSWORD environment variables.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ipmifanctl %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
		fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", date)
	},
}

func init() {
	config.RegisterGlobalFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads configuration for cmd and initializes logging from it
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")

	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
