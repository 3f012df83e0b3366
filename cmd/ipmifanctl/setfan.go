package main

import (
	"fmt"
	"strconv"

	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/ipmi"
	"codeberg.org/mutker/ipmifanctl/internal/logger"
	"github.com/spf13/cobra"
)

var setFanCmd = &cobra.Command{
	Use:   "set-fan PERCENT",
	Short: "Set the fan duty cycle once",
	Long: fmt.Sprintf(`Set one fan, or every fan channel (%d to %d), to PERCENT.

Example:
  ipmifanctl set-fan 30
  ipmifanctl set-fan 45 --fan 4`, ipmi.MinFan, ipmi.MaxFan),
	Args: cobra.ExactArgs(1),
	RunE: runSetFan,
}

func init() {
	setFanCmd.Flags().Int("fan", 0, "Fan channel to set (default all)")
	rootCmd.AddCommand(setFanCmd)
}

func runSetFan(cmd *cobra.Command, args []string) error {
	percent, err := parsePercent(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	client := ipmi.NewClient(cfg.Channel(), logger.Default())

	fan, _ := cmd.Flags().GetInt("fan")
	if fan == 0 {
		if err := ipmi.SetAllFans(cmd.Context(), client, percent); err != nil {
			return err
		}
		logger.Info().Msgf("Set all fans to %d%%", percent)
		return nil
	}

	if err := client.SetFanPercent(cmd.Context(), fan, percent); err != nil {
		return err
	}
	logger.Info().Msgf("Set fan %d to %d%%", fan, percent)

	return nil
}

func parsePercent(arg string) (int, error) {
	percent, err := strconv.Atoi(arg)
	if err != nil {
		return 0, errors.New().WithData(errors.ErrInvalidArgument, "percent must be an integer, got "+strconv.Quote(arg))
	}

	return percent, nil
}
