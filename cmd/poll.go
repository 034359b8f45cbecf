package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/poller"
	"github.com/sells-group/intake-cli/internal/resilience"
)

var (
	pollTxID    string
	pollVerbose bool
)

// pollReport is the JSON printed by the poll command.
type pollReport struct {
	TxID     string         `json:"tx_id"`
	Outcome  model.Outcome  `json:"outcome"`
	State    poller.State   `json:"state,omitempty"`
	Attempts int            `json:"attempts,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Wait for one extraction job and print its outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("poll"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sd := newSmartData()
		var opts []poller.Option
		if pollVerbose {
			opts = append(opts, poller.WithObserver(func(obs poller.Observation) {
				fmt.Fprintf(os.Stderr, "attempt %d: %s (next in %s)\n", obs.Attempt, obs.Status, obs.Next)
			}))
		}
		mon := poller.NewMonitor(sd, cfg.Poll.Monitor(), opts...)

		report := pollReport{TxID: pollTxID}
		token, err := resilience.DoVal(ctx, resilience.DefaultRetryConfig(), sd.Token)
		if err == nil {
			var res *poller.Result
			if res, err = mon.Poll(ctx, poller.JobRef{TxID: pollTxID, Token: token}); err == nil {
				report.Outcome = res.Outcome()
				report.State = res.State
				report.Attempts = res.Attempts
				report.Details = res.Data
			}
		}
		if err != nil {
			report.Outcome = model.OutcomeOf(err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			return encErr
		}
		if report.Outcome.Status != model.StatusCompleted {
			return fmt.Errorf("job %s: %s", pollTxID, report.Outcome.Reason)
		}
		return nil
	},
}

func init() {
	pollCmd.Flags().StringVar(&pollTxID, "tx-id", "", "extraction transaction id")
	pollCmd.Flags().BoolVarP(&pollVerbose, "verbose", "v", false, "print every observation to stderr")
	_ = pollCmd.MarkFlagRequired("tx-id")
	rootCmd.AddCommand(pollCmd)
}
