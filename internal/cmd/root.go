package cmd

import (
	"os"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/drivepacer/drivepacer/internal/observability"
)

const (
	appName   = "drivepacer"
	envPrefix = "DRIVEPACER"
)

var (
	cfgFile string
	verbose bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Adaptive throughput governor for rclone bulk transfers",
	Long: `drivepacer steers a running rclone instance through its remote-control
API. It polls transfer statistics, classifies errors, and adjusts the
concurrent-transfer count and transaction rate limit so the transfer stays
inside the remote service's rate limits.

Use the subcommands to perform specific operations.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Disable global telemetry early so config loading never emits metrics
	// to stdout. The monitor command initializes proper telemetry later.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/drivepacer/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	// Bind flags to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// Initialize CLI logger early so we can use it in config loading
	observability.InitCLILogger(appName, verbose)

	if cfgFile != "" {
		// Use config file from flag
		viper.SetConfigFile(cfgFile)
	} else {
		appConfigDir := gfconfig.GetAppConfigDir(appName)
		if appConfigDir == "" {
			if verbose {
				observability.CLILogger.Warn("Could not resolve XDG config directory, falling back to home directory")
			}
			home, err := os.UserHomeDir()
			if err != nil {
				ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Could not find home directory", err)
			}
			viper.AddConfigPath(home)
			viper.SetConfigName("." + appName)
		} else {
			viper.AddConfigPath(appConfigDir)
			viper.SetConfigName("config")
		}

		// Also search in current directory
		viper.AddConfigPath("./config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			observability.CLILogger.Debug("Using config file", zap.String("path", viper.ConfigFileUsed()))
		}
	} else {
		// It's OK if config file doesn't exist, we have defaults
		if verbose {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				observability.CLILogger.Debug("No config file found, using defaults and environment variables")
			} else {
				observability.CLILogger.Warn("Error reading config file", zap.Error(err))
			}
		}
	}

	setDefaults()
}

// setDefaults sets default configuration values
func setDefaults() {
	// Remote-control endpoint defaults. The port has no default on purpose:
	// it identifies the rclone instance and must be supplied.
	viper.SetDefault("rc.host", "127.0.0.1")
	viper.SetDefault("rc.timeout", "5s")

	// Controller bounds and thresholds
	viper.SetDefault("controller.min_transfers", 1)
	viper.SetDefault("controller.max_transfers", 4)
	viper.SetDefault("controller.init_transfers", 2)
	viper.SetDefault("controller.min_tps", 2.0)
	viper.SetDefault("controller.max_tps", 8.0)
	viper.SetDefault("controller.stable_ticks", 12)
	viper.SetDefault("controller.stall_ticks", 6)
	viper.SetDefault("controller.stall_speed", 100.0)

	// Loop cadence
	viper.SetDefault("controller.cooldown_pause", "30s")
	viper.SetDefault("controller.tick_interval", "10s")
	viper.SetDefault("controller.connect_interval", "1s")
	viper.SetDefault("controller.connect_attempts", 30)
	viper.SetDefault("controller.max_fetch_failures", 3)

	// Status server defaults
	viper.SetDefault("status.enabled", false)
	viper.SetDefault("status.host", "localhost")
	viper.SetDefault("status.port", 8723)

	// Logging defaults
	viper.SetDefault("logging.level", "info")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.port", 9090)
}

// shutdownTimeout bounds the status-server drain during shutdown.
const shutdownTimeout = 10 * time.Second
