package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/drivepacer/drivepacer/internal/config"
	"github.com/drivepacer/drivepacer/internal/core/engine"
	"github.com/drivepacer/drivepacer/internal/observability"
	"github.com/drivepacer/drivepacer/internal/rc"
	"github.com/drivepacer/drivepacer/internal/server"
	"github.com/drivepacer/drivepacer/internal/server/handlers"
)

var (
	monitorRCPort        int
	monitorRCHost        string
	monitorMaxTransfers  int
	monitorInitTransfers int
	monitorInterval      time.Duration
	monitorStatusPort    int
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the adaptive throughput control loop",
	Long: `Connect to a running rclone remote-control endpoint and continuously
steer its Transfers and TPSLimit options.

The loop polls core/stats on a fixed cadence, classifies any new error,
backs off multiplicatively on rate limits and server errors, and grows the
throttle again after a sustained stretch of clean ticks.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown after the in-flight tick
  • Ctrl+C twice within 2s: Force quit

The process exits non-zero when the rclone endpoint never becomes
reachable or stops responding for too many consecutive polls.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// --status-port both selects the port and switches the server on;
		// zero disables it.
		if cmd.Flags().Changed("status-port") {
			viper.Set("status.enabled", monitorStatusPort > 0)
		}

		cfg, err := config.FromViper()
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid configuration", err)
		}

		observability.InitServerLogger(appName, cfg.Logging.Level)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(appName, cfg.Metrics.Port); err != nil {
				ExitWithCode(logger, foundry.ExitFailure, "Failed to initialize metrics", err)
			}
		}

		logger.Info("Initializing governor",
			zap.String("version", versionInfo.Version),
			zap.String("rc_host", cfg.RC.Host),
			zap.Int("rc_port", cfg.RC.Port),
			zap.Int("init_transfers", cfg.Controller.InitTransfers),
			zap.Duration("tick_interval", cfg.Controller.TickInterval),
			zap.Bool("status_server", cfg.Status.Enabled))

		client := rc.NewClient(cfg.RC.Host, cfg.RC.Port)
		client.Timeout = cfg.RC.Timeout

		ctrl := engine.NewController(cfg.Tuning(), cfg.Controller.InitTransfers)
		loop := engine.NewLoop(client, client, ctrl, cfg.LoopConfig(), logger)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		loopDone := make(chan struct{})

		// Optional read-only status server
		var srv *server.Server
		if cfg.Status.Enabled {
			handlers.SetStatusProvider(loop.Status)
			handlers.SetVersionInfo(appName, versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
			srv = server.New(cfg.Status.Host, cfg.Status.Port)
			go func() {
				if err := srv.Start(); err != nil && err != http.ErrServerClosed {
					logger.Error("Status server failed", zap.Error(err))
				}
			}()
		}

		// Shutdown handlers run LIFO: stop the loop first, then drain the
		// status server, then flush the logger.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				// Sync errors are often benign (stderr already closed)
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})
		if srv != nil {
			signals.OnShutdown(func(ctx context.Context) error {
				shutdownCtx, cancelShutdown := context.WithTimeout(ctx, shutdownTimeout)
				defer cancelShutdown()
				return srv.Shutdown(shutdownCtx)
			})
		}
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Stopping control loop...")
			cancel()
			select {
			case <-loopDone:
			case <-time.After(shutdownTimeout):
				logger.Warn("Control loop did not stop within shutdown timeout")
			}
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		go func() {
			if err := signals.Listen(ctx); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
			}
		}()

		runErr := loop.Run(ctx)
		close(loopDone)

		if srv != nil {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()
			_ = srv.Shutdown(shutdownCtx)
		}

		if runErr != nil {
			if errors.Is(runErr, engine.ErrSourceUnavailable) {
				ExitWithCode(logger, foundry.ExitExternalServiceUnavailable, "Transfer engine unavailable", runErr)
			}
			return runErr
		}

		logger.Info("Governor stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().IntVarP(&monitorRCPort, "rc-port", "p", 0, "rclone remote-control port (required unless set in config)")
	monitorCmd.Flags().StringVar(&monitorRCHost, "rc-host", "127.0.0.1", "rclone remote-control host")
	monitorCmd.Flags().IntVar(&monitorMaxTransfers, "max-transfers", 4, "upper bound for concurrent transfers")
	monitorCmd.Flags().IntVar(&monitorInitTransfers, "init-transfers", 2, "starting concurrent transfer count")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 10*time.Second, "polling interval")
	monitorCmd.Flags().IntVar(&monitorStatusPort, "status-port", 0, "serve the read-only status API on this port (0 disables)")

	_ = viper.BindPFlag("rc.port", monitorCmd.Flags().Lookup("rc-port"))
	_ = viper.BindPFlag("rc.host", monitorCmd.Flags().Lookup("rc-host"))
	_ = viper.BindPFlag("controller.max_transfers", monitorCmd.Flags().Lookup("max-transfers"))
	_ = viper.BindPFlag("controller.init_transfers", monitorCmd.Flags().Lookup("init-transfers"))
	_ = viper.BindPFlag("controller.tick_interval", monitorCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("status.port", monitorCmd.Flags().Lookup("status-port"))
}
