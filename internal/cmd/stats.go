package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/drivepacer/drivepacer/internal/observability"
	"github.com/drivepacer/drivepacer/internal/output"
	"github.com/drivepacer/drivepacer/internal/rc"
)

var (
	statsRCPort int
	statsRCHost string
	statsFormat string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Fetch a one-shot transfer statistics snapshot",
	Long:  "Fetch the current core/stats snapshot from the rclone remote-control endpoint and print it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		port := statsRCPort
		if port == 0 {
			port = viper.GetInt("rc.port")
		}
		if port <= 0 || port > 65535 {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid,
				"rclone remote-control port is required (--rc-port or rc.port)", nil)
		}

		host := statsRCHost
		if host == "" {
			host = viper.GetString("rc.host")
		}

		format, err := output.ParseFormat(statsFormat)
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid output format", err)
		}

		client := rc.NewClient(host, port)
		snap, err := client.Stats(cmd.Context())
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable,
				"Failed to fetch transfer statistics", err)
		}

		rendered, err := output.NewFormatter(format).FormatStats(snap)
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().IntVarP(&statsRCPort, "rc-port", "p", 0, "rclone remote-control port")
	statsCmd.Flags().StringVar(&statsRCHost, "rc-host", "", "rclone remote-control host")
	statsCmd.Flags().StringVarP(&statsFormat, "format", "f", "table", "output format (table, json)")
}
