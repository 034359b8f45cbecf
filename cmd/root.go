package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "intake-cli",
	Short: "Insurance submission enrichment orchestrator",
	Long:  "Waits for extraction jobs, annotates the extracted submission, fans it out to insight agents, stores the results and forwards them to case management.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := applyFlagOverrides(cmd, c); err != nil {
			return err
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	addConfigFlags(rootCmd)
}

func addConfigFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.String("store-driver", "", "submission store backend: sqlite, postgres or mongo (overrides store.driver)")
	pf.String("store-dsn", "", "store connection string (overrides store.dsn)")
	pf.String("log-level", "", "log level (overrides log.level)")
}

// applyFlagOverrides lets explicitly set persistent flags win over the
// file and environment configuration.
func applyFlagOverrides(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("store-driver") {
		driver, _ := flags.GetString("store-driver")
		switch driver {
		case "sqlite", "postgres", "mongo":
			c.Store.Driver = driver
		default:
			return fmt.Errorf("unknown store driver %q", driver)
		}
	}
	if flags.Changed("store-dsn") {
		c.Store.DSN, _ = flags.GetString("store-dsn")
	}
	if flags.Changed("log-level") {
		c.Log.Level, _ = flags.GetString("log-level")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
