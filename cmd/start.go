package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/sells-group/intake-cli/internal/workflow"
)

var (
	startCaseID   string
	startTxID     string
	startThreadID string
	startEdits    string
	startWait     bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an intake or rerun workflow",
}

var startIntakeCmd = &cobra.Command{
	Use:   "intake",
	Short: "Start the intake workflow for an uploaded submission",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("start"); err != nil {
			return err
		}
		tc, err := dialTemporal()
		if err != nil {
			return err
		}
		defer tc.Close()

		run, err := workflow.NewStarter(tc, cfg.Temporal.TaskQueue).StartIntake(cmd.Context(), workflow.IntakeInput{
			CaseID:   startCaseID,
			TxID:     startTxID,
			ThreadID: optionalThread(startThreadID),
			Poll:     cfg.Poll.Monitor(),
		})
		if err != nil {
			return err
		}
		var out workflow.IntakeOutput
		return report(cmd.Context(), run, &out)
	},
}

var startRerunCmd = &cobra.Command{
	Use:   "rerun",
	Short: "Start the rerun workflow for a stored case",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("start"); err != nil {
			return err
		}
		edits, err := readEdits(startEdits)
		if err != nil {
			return err
		}
		tc, err := dialTemporal()
		if err != nil {
			return err
		}
		defer tc.Close()

		run, err := workflow.NewStarter(tc, cfg.Temporal.TaskQueue).StartRerun(cmd.Context(), workflow.RerunInput{
			CaseID:   startCaseID,
			Edits:    edits,
			ThreadID: optionalThread(startThreadID),
		})
		if err != nil {
			return err
		}
		var out workflow.RerunOutput
		return report(cmd.Context(), run, &out)
	},
}

// report prints the run ids, and with --wait the workflow result.
func report(ctx context.Context, run client.WorkflowRun, out any) error {
	fmt.Printf("workflow_id=%s run_id=%s\n", run.GetID(), run.GetRunID())
	if !startWait {
		return nil
	}
	if err := run.Get(ctx, out); err != nil {
		return eris.Wrap(err, "workflow failed")
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func optionalThread(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// readEdits parses an edit set from inline JSON or, with an @ prefix, a file.
func readEdits(arg string) (map[string]any, error) {
	if arg == "" {
		return map[string]any{}, nil
	}
	data := []byte(arg)
	if arg[0] == '@' {
		var err error
		if data, err = os.ReadFile(arg[1:]); err != nil {
			return nil, eris.Wrap(err, "read edits file")
		}
	}
	var edits map[string]any
	if err := json.Unmarshal(data, &edits); err != nil {
		return nil, eris.Wrap(err, "parse edits")
	}
	return edits, nil
}

func init() {
	startCmd.PersistentFlags().StringVar(&startCaseID, "case-id", "", "case id")
	startCmd.PersistentFlags().StringVar(&startThreadID, "thread-id", "", "conversation thread id (generated when empty)")
	startCmd.PersistentFlags().BoolVar(&startWait, "wait", false, "wait for the workflow and print its result")
	_ = startCmd.MarkPersistentFlagRequired("case-id")

	startIntakeCmd.Flags().StringVar(&startTxID, "tx-id", "", "extraction transaction id")
	_ = startIntakeCmd.MarkFlagRequired("tx-id")

	startRerunCmd.Flags().StringVar(&startEdits, "edits", "", `edit set as JSON, or @file.json`)

	startCmd.AddCommand(startIntakeCmd, startRerunCmd)
	rootCmd.AddCommand(startCmd)
}
