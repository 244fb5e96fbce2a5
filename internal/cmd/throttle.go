package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/drivepacer/drivepacer/internal/config"
	"github.com/drivepacer/drivepacer/internal/observability"
	"github.com/drivepacer/drivepacer/internal/rc"
)

var (
	throttleRCPort    int
	throttleRCHost    string
	throttleTransfers int
	throttleTPS       float64
)

var throttleCmd = &cobra.Command{
	Use:   "throttle",
	Short: "Manually set the transfer throttle",
	Long: `Apply a one-shot throttle override to the rclone remote-control
endpoint. At least one of --transfers or --tps must be given; values are
clamped into the configured controller bounds. A running monitor will keep
adjusting from the new values on its next tick.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Decode()
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid configuration", err)
		}

		port := throttleRCPort
		if port == 0 {
			port = cfg.RC.Port
		}
		if port <= 0 || port > 65535 {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid,
				"rclone remote-control port is required (--rc-port or rc.port)", nil)
		}

		host := throttleRCHost
		if host == "" {
			host = cfg.RC.Host
		}

		transfersSet := cmd.Flags().Changed("transfers")
		tpsSet := cmd.Flags().Changed("tps")
		if !transfersSet && !tpsSet {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid,
				"Nothing to apply: pass --transfers and/or --tps", nil)
		}

		client := rc.NewClient(host, port)
		client.Timeout = cfg.RC.Timeout

		if transfersSet {
			transfers := clampInt(throttleTransfers, cfg.Controller.MinTransfers, cfg.Controller.MaxTransfers)
			if transfers != throttleTransfers {
				fmt.Printf("Clamped transfers %d into bounds [%d, %d]\n",
					throttleTransfers, cfg.Controller.MinTransfers, cfg.Controller.MaxTransfers)
			}
			if err := client.SetTransfers(cmd.Context(), transfers); err != nil {
				ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable,
					"Failed to set transfer count", err)
			}
			fmt.Printf("Transfers set to %d\n", transfers)
		}
		if tpsSet {
			tps := clampFloat(throttleTPS, cfg.Controller.MinTPS, cfg.Controller.MaxTPS)
			if tps != throttleTPS {
				fmt.Printf("Clamped tps %g into bounds [%g, %g]\n",
					throttleTPS, cfg.Controller.MinTPS, cfg.Controller.MaxTPS)
			}
			if err := client.SetTPSLimit(cmd.Context(), tps); err != nil {
				ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable,
					"Failed to set TPS limit", err)
			}
			fmt.Printf("TPS limit set to %g\n", tps)
		}
		return nil
	},
}

func clampInt(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

func clampFloat(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

func init() {
	rootCmd.AddCommand(throttleCmd)

	throttleCmd.Flags().IntVarP(&throttleRCPort, "rc-port", "p", 0, "rclone remote-control port")
	throttleCmd.Flags().StringVar(&throttleRCHost, "rc-host", "", "rclone remote-control host")
	throttleCmd.Flags().IntVar(&throttleTransfers, "transfers", 0, "concurrent transfer count")
	throttleCmd.Flags().Float64Var(&throttleTPS, "tps", 0, "transaction rate limit")
}
