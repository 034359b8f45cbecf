package workflow

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/intake"
	"github.com/sells-group/intake-cli/internal/metrics"
	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/poller"
)

// StatusDetailer fetches the verbose status document of a finished job.
type StatusDetailer interface {
	StatusDetails(ctx context.Context, token, txID string) (map[string]any, error)
}

// Activities binds the intake service to the workflow engine.
type Activities struct {
	Service *intake.Service
	Monitor *poller.Monitor
	// Details is optional; without it the last status reply is recorded.
	Details  StatusDetailer
	Recorder *metrics.Recorder
}

// PollInput identifies the job to wait for.
type PollInput struct {
	TxID  string
	Token string
}

// PollOutput is the terminal status of the job.
type PollOutput struct {
	State    poller.State
	Status   string
	Attempts int
	Outcome  model.Outcome
	Details  map[string]any
}

// EnrichInput starts the initial enrichment of a case.
type EnrichInput struct {
	CaseID        string
	TxID          string
	Token         string
	ThreadID      any
	StatusDetails map[string]any
}

// RerunInput re-enriches a stored case with user edits.
type RerunInput struct {
	CaseID   string
	Edits    map[string]any
	ThreadID any
}

// EnrichOutput summarises an enrichment run.
type EnrichOutput struct {
	CaseID     string
	ThreadID   int
	HistorySeq int
	Failed     []string
}

// ForwardInput names the record to post downstream.
type ForwardInput struct {
	CaseID string
	Update bool
}

// ForwardOutput reports the downstream reply. Skipped is set when no
// forwarder is configured.
type ForwardOutput struct {
	StatusCode int
	Skipped    bool
}

// Authenticate obtains an extraction API token.
func (a *Activities) Authenticate(ctx context.Context) (string, error) {
	token, err := a.Service.Authenticate(ctx)
	return token, applicationError(err)
}

// PollStatus waits for the job to reach a terminal status, heartbeating on
// every observation.
func (a *Activities) PollStatus(ctx context.Context, in PollInput) (PollOutput, error) {
	observe := func(obs poller.Observation) {
		activity.RecordHeartbeat(ctx, obs.Attempt)
		a.recorder().PollObserved(string(obs.State))
	}

	res, err := a.Monitor.Poll(ctx, poller.JobRef{TxID: in.TxID, Token: in.Token}, observe)
	if err != nil {
		a.recorder().PollFinished(model.OutcomeOf(err).Reason)
		return PollOutput{}, applicationError(err)
	}

	out := PollOutput{
		State:    res.State,
		Status:   res.Status,
		Attempts: res.Attempts,
		Outcome:  res.Outcome(),
		Details:  res.Data,
	}
	a.recorder().PollFinished(out.Outcome.Reason)

	if a.Details != nil && res.State != poller.StateFailed {
		details, err := a.Details.StatusDetails(ctx, in.Token, in.TxID)
		if err != nil {
			zap.L().Warn("workflow: status details unavailable", zap.String("tx_id", in.TxID), zap.Error(err))
		} else {
			out.Details = details
		}
	}
	return out, nil
}

// InitialEnrichment collects, stores and dispatches a newly extracted case.
func (a *Activities) InitialEnrichment(ctx context.Context, in EnrichInput) (EnrichOutput, error) {
	out, err := a.Service.Initial(ctx, intake.InitialInput{
		CaseID:        in.CaseID,
		TxID:          in.TxID,
		Token:         in.Token,
		ThreadID:      in.ThreadID,
		StatusDetails: in.StatusDetails,
	})
	if err != nil {
		return EnrichOutput{}, applicationError(err)
	}
	return enrichOutput(out), nil
}

// RerunEnrichment merges edits into a stored case and re-dispatches it.
func (a *Activities) RerunEnrichment(ctx context.Context, in RerunInput) (EnrichOutput, error) {
	out, err := a.Service.Rerun(ctx, intake.RerunInput{
		CaseID:   in.CaseID,
		Edits:    in.Edits,
		ThreadID: in.ThreadID,
	})
	if err != nil {
		return EnrichOutput{}, applicationError(err)
	}
	return enrichOutput(out), nil
}

// Forward posts the stored record downstream.
func (a *Activities) Forward(ctx context.Context, in ForwardInput) (ForwardOutput, error) {
	rec, err := a.Service.Record(ctx, in.CaseID)
	if err != nil {
		return ForwardOutput{}, applicationError(err)
	}
	resp, err := a.Service.Forward(ctx, rec, in.Update)
	if err != nil {
		return ForwardOutput{}, applicationError(err)
	}
	if resp == nil {
		return ForwardOutput{Skipped: true}, nil
	}
	return ForwardOutput{StatusCode: resp.StatusCode}, nil
}

var nopRecorder = metrics.Nop()

func (a *Activities) recorder() *metrics.Recorder {
	if a.Recorder == nil {
		return nopRecorder
	}
	return a.Recorder
}

func enrichOutput(out *intake.Output) EnrichOutput {
	return EnrichOutput{
		CaseID:     out.Record.CaseID,
		ThreadID:   out.ThreadID,
		HistorySeq: out.Record.HistorySeq,
		Failed:     out.Failed,
	}
}

// applicationError converts a fault into an application error typed by its
// kind. Kinds that cannot succeed on retry are marked non-retryable.
func applicationError(err error) error {
	if err == nil {
		return nil
	}
	var f *model.Fault
	if !errors.As(err, &f) {
		return err
	}
	if f.Kind.Retryable() {
		return temporal.NewApplicationErrorWithCause(f.Error(), string(f.Kind), f.Err)
	}
	return temporal.NewNonRetryableApplicationError(f.Error(), string(f.Kind), f.Err)
}
