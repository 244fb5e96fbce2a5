package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/drivepacer/drivepacer/internal/config"
	"github.com/drivepacer/drivepacer/internal/observability"
)

var configInitForce bool

// defaultConfigTemplate mirrors config.Default(); keep the two in sync.
const defaultConfigTemplate = `# drivepacer configuration
# Values can be overridden with DRIVEPACER_* environment variables and flags.

# rclone remote-control endpoint
rc:
  host: 127.0.0.1
  # port is required: the --rc-addr port of the rclone instance to steer
  port: 0
  timeout: 5s

controller:
  # concurrent-transfer bounds and starting point
  min_transfers: 1
  max_transfers: 4
  init_transfers: 2
  # transaction-rate bounds
  min_tps: 2.0
  max_tps: 8.0
  # clean ticks required before growing the throttle
  stable_ticks: 12
  # flat-byte ticks below stall_speed (bytes/s) before shedding load
  stall_ticks: 6
  stall_speed: 100.0
  # extra wait after a rate-limit backoff
  cooldown_pause: 30s
  # polling cadence and failure budgets
  tick_interval: 10s
  connect_interval: 1s
  connect_attempts: 30
  max_fetch_failures: 3

# optional read-only status API
status:
  enabled: false
  host: localhost
  port: 8723

logging:
  level: info

# optional Prometheus exporter
metrics:
  enabled: false
  port: 9090
`

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file populated with the defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			dir := gfconfig.GetAppConfigDir(appName)
			if dir == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Could not find home directory", err)
				}
				dir = home
			}
			path = filepath.Join(dir, "config.yaml")
		}

		if _, err := os.Stat(path); err == nil && !configInitForce {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid,
				fmt.Sprintf("Config file already exists at %s (use --force to overwrite)", path), nil)
		}

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}

		if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0o644); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}

		observability.CLILogger.Info("Wrote default config", zap.String("path", path))
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  "Print the configuration after merging defaults, the config file, environment variables and flags.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Decode()
		if err != nil {
			return err
		}
		// Show the merged values even when validation would reject them,
		// since that is exactly what an operator debugging config wants.
		if err := cfg.Validate(); err != nil {
			observability.CLILogger.Warn("Configuration is not valid", zap.Error(err))
		}

		data, yamlErr := yaml.Marshal(cfg)
		if yamlErr != nil {
			return fmt.Errorf("failed to render config: %w", yamlErr)
		}
		fmt.Print(string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config file")
}
