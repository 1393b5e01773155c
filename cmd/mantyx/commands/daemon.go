package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mantyx/mantyx/config"
	"github.com/mantyx/mantyx/logger"
	"github.com/spf13/cobra"
)

// DaemonCmd runs the orchestrator in the foreground.
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the orchestrator daemon",
	Long: `Run the orchestrator in foreground mode.

The daemon:
- Arms every enabled schedule and dispatches fires through a worker pool
- Sweeps running continuous workloads and applies restart policy
- Reloads configuration when the config file changes
- Shuts down gracefully on SIGINT/SIGTERM: scheduled executions drain up
  to the configured timeout, tracked continuous processes are terminated`,
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer o.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := o.engine.Start(); err != nil {
			return err
		}
		go o.supervisor.RunMonitor(ctx)

		if path := config.ConfigFilePath(); path != "" {
			watcher, err := config.NewWatcher(path)
			if err != nil {
				logger.Warnw("config watcher unavailable", "error", err)
			} else {
				watcher.OnReload(func(cfg *config.Config) error {
					logger.Infow("configuration reloaded", "path", path)
					return nil
				})
				watcher.Start()
				defer watcher.Stop()
			}
		}

		fmt.Println("mantyx daemon running, press Ctrl+C to stop")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Infow("shutting down", "signal", sig.String())

		cancel()
		o.engine.Stop()
		o.supervisor.Cleanup()
		return nil
	},
}
