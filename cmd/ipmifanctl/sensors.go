package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"codeberg.org/mutker/ipmifanctl/internal/ipmi"
	"codeberg.org/mutker/ipmifanctl/internal/logger"
	"codeberg.org/mutker/ipmifanctl/internal/sensor"
	"github.com/spf13/cobra"
)

var sensorsCmd = &cobra.Command{
	Use:   "sensors",
	Short: "Print the BMC sensor report",
	Long: `Fetch the sensor table once and print every reading.

The --host, --username and --password flags override the configured
credentials for this call only.`,
	Args: cobra.NoArgs,
	RunE: runSensors,
}

func init() {
	sensorsCmd.Flags().String("host", "", "BMC address")
	sensorsCmd.Flags().String("username", "", "BMC user")
	sensorsCmd.Flags().String("password", "", "BMC password")
	rootCmd.AddCommand(sensorsCmd)
}

func runSensors(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	client := ipmi.NewClient(cfg.Channel(), logger.Default())

	report, err := client.FetchSensorReport(cmd.Context(), ipmi.WithCredentials(overrideCredentials(cmd)))
	if err != nil {
		return err
	}

	readings, err := sensor.ParseReport(report)
	if err != nil {
		return err
	}

	return printReadings(cmd.OutOrStdout(), readings, cfg.Sensor)
}

// overrideCredentials collects the credential flags set on cmd
func overrideCredentials(cmd *cobra.Command) ipmi.Credentials {
	host, _ := cmd.Flags().GetString("host")
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")

	return ipmi.Credentials{Host: host, Username: username, Password: password}
}

// printReadings writes one row per reading; the watched sensor is starred.
func printReadings(w io.Writer, readings []sensor.Reading, watched string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "\tNAME\tVALUE\tUNIT\tSTATUS")
	for _, r := range readings {
		mark := ""
		if r.Name == watched {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mark, r.Name, r.Value, r.Unit, r.Status)
	}

	return tw.Flush()
}
