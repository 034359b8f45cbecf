// Package workflow runs the intake and rerun flows on Temporal.
package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/intake-cli/internal/dispatch"
	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/poller"
)

// DefaultTaskQueue is the queue workers listen on when none is configured.
const DefaultTaskQueue = "submission-intake"

// unboundedPollTimeout bounds PollStatus when the attempt cap is disabled.
const unboundedPollTimeout = 24 * time.Hour

// IntakeInput starts the intake of an uploaded submission.
type IntakeInput struct {
	CaseID   string
	TxID     string
	ThreadID any
	// Poll bounds the status activity; zero fields use poller defaults.
	Poll poller.Config
}

// IntakeOutput is the outcome of an intake workflow.
type IntakeOutput struct {
	CaseID   string
	TxID     string
	Outcome  model.Outcome
	ThreadID int
	Failed   []string
	Forward  ForwardOutput
}

// RerunOutput is the outcome of a rerun workflow.
type RerunOutput struct {
	CaseID     string
	Outcome    model.Outcome
	ThreadID   int
	HistorySeq int
	Failed     []string
	Forward    ForwardOutput
}

// nonRetryable lists fault kinds that never succeed on retry.
var nonRetryable = []string{
	string(model.FaultValidation),
	string(model.FaultUpstreamFailed),
	string(model.FaultCanceled),
}

// PollTimeout is the StartToCloseTimeout for PollStatus: every allowed
// attempt at the maximum interval plus a minute of slack.
func PollTimeout(cfg poller.Config) time.Duration {
	cfg = withPollDefaults(cfg)
	if cfg.MaxAttempts == 0 {
		return unboundedPollTimeout
	}
	return time.Duration(cfg.MaxAttempts)*cfg.MaxInterval + time.Minute
}

func withPollDefaults(cfg poller.Config) poller.Config {
	def := poller.DefaultConfig()
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = def.BaseInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	return cfg
}

func authOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        3,
			NonRetryableErrorTypes: nonRetryable,
		},
	}
}

func pollOptions(cfg poller.Config) workflow.ActivityOptions {
	cfg = withPollDefaults(cfg)
	return workflow.ActivityOptions{
		StartToCloseTimeout: PollTimeout(cfg),
		HeartbeatTimeout:    cfg.MaxInterval + 2*time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
}

func enrichOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: dispatch.DefaultCallTimeout + 5*time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        2,
			NonRetryableErrorTypes: nonRetryable,
		},
	}
}

func forwardOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        5 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: nonRetryable,
		},
	}
}

// IntakeWorkflow authenticates, waits for the extraction job, enriches the
// case and forwards the result. An upstream FAILED status ends the workflow
// with a non-retryable upstream_failed error.
func IntakeWorkflow(ctx workflow.Context, in IntakeInput) (*IntakeOutput, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("workflow: intake started", "case_id", in.CaseID, "tx_id", in.TxID)

	if in.CaseID == "" || in.TxID == "" {
		return nil, temporal.NewNonRetryableApplicationError(
			"case id and tx id are required", string(model.FaultValidation), nil)
	}

	var a *Activities

	var token string
	if err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, authOptions()), a.Authenticate).
		Get(ctx, &token); err != nil {
		return nil, err
	}

	var polled PollOutput
	pollCtx := workflow.WithActivityOptions(ctx, pollOptions(in.Poll))
	if err := workflow.ExecuteActivity(pollCtx, a.PollStatus, PollInput{TxID: in.TxID, Token: token}).
		Get(ctx, &polled); err != nil {
		return nil, err
	}
	if polled.State == poller.StateFailed {
		logger.Warn("workflow: upstream job failed", "case_id", in.CaseID, "tx_id", in.TxID)
		return nil, temporal.NewNonRetryableApplicationError(
			polled.Outcome.Detail, string(model.FaultUpstreamFailed), nil, polled.Outcome)
	}

	var enriched EnrichOutput
	enrichCtx := workflow.WithActivityOptions(ctx, enrichOptions())
	if err := workflow.ExecuteActivity(enrichCtx, a.InitialEnrichment, EnrichInput{
		CaseID:        in.CaseID,
		TxID:          in.TxID,
		Token:         token,
		ThreadID:      in.ThreadID,
		StatusDetails: polled.Details,
	}).Get(ctx, &enriched); err != nil {
		return nil, err
	}

	var fwd ForwardOutput
	fwdCtx := workflow.WithActivityOptions(ctx, forwardOptions())
	if err := workflow.ExecuteActivity(fwdCtx, a.Forward, ForwardInput{CaseID: in.CaseID}).
		Get(ctx, &fwd); err != nil {
		return nil, err
	}

	logger.Info("workflow: intake complete", "case_id", in.CaseID, "thread_id", enriched.ThreadID)
	return &IntakeOutput{
		CaseID:   in.CaseID,
		TxID:     in.TxID,
		Outcome:  polled.Outcome,
		ThreadID: enriched.ThreadID,
		Failed:   enriched.Failed,
		Forward:  fwd,
	}, nil
}

// RerunWorkflow re-enriches a stored case with edits and forwards the new
// insights as an update.
func RerunWorkflow(ctx workflow.Context, in RerunInput) (*RerunOutput, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("workflow: rerun started", "case_id", in.CaseID)

	if in.CaseID == "" {
		return nil, temporal.NewNonRetryableApplicationError(
			"case id is required", string(model.FaultValidation), nil)
	}

	var a *Activities

	var enriched EnrichOutput
	enrichCtx := workflow.WithActivityOptions(ctx, enrichOptions())
	if err := workflow.ExecuteActivity(enrichCtx, a.RerunEnrichment, in).Get(ctx, &enriched); err != nil {
		return nil, err
	}

	var fwd ForwardOutput
	fwdCtx := workflow.WithActivityOptions(ctx, forwardOptions())
	if err := workflow.ExecuteActivity(fwdCtx, a.Forward, ForwardInput{CaseID: in.CaseID, Update: true}).
		Get(ctx, &fwd); err != nil {
		return nil, err
	}

	logger.Info("workflow: rerun complete", "case_id", in.CaseID, "history_sequence_id", enriched.HistorySeq)
	return &RerunOutput{
		CaseID:     in.CaseID,
		Outcome:    model.Outcome{Status: model.StatusCompleted},
		ThreadID:   enriched.ThreadID,
		HistorySeq: enriched.HistorySeq,
		Failed:     enriched.Failed,
		Forward:    fwd,
	}, nil
}
