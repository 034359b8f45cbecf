package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/workflow"
)

var (
	workerConcurrency int
	workerMetricsPort int
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker for intake and rerun workflows",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initIntake(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		tc, err := dialTemporal()
		if err != nil {
			return err
		}
		defer tc.Close()

		w := worker.New(tc, cfg.Temporal.TaskQueue, worker.Options{
			MaxConcurrentActivityExecutionSize: workerConcurrency,
		})
		workflow.Register(w, env.Activities())

		if cfg.Metrics.Enabled && workerMetricsPort > 0 {
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", workerMetricsPort),
				Handler:           promhttp.HandlerFor(env.Registry, promhttp.HandlerOpts{}),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					zap.L().Error("worker: metrics server failed", zap.Error(err))
				}
			}()
			defer srv.Close() //nolint:errcheck
		}

		if err := w.Start(); err != nil {
			return eris.Wrap(err, "start worker")
		}
		zap.L().Info("worker started",
			zap.String("task_queue", cfg.Temporal.TaskQueue),
			zap.String("namespace", cfg.Temporal.Namespace),
		)

		<-ctx.Done()
		zap.L().Info("stopping worker")
		w.Stop()
		return nil
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "max concurrent activities (0 = SDK default)")
	workerCmd.Flags().IntVar(&workerMetricsPort, "metrics-port", 9090, "port for the /metrics endpoint (0 disables)")
	rootCmd.AddCommand(workerCmd)
}
