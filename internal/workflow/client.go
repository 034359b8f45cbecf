package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
)

// Register adds the workflows and activities to a worker.
func Register(r worker.Registry, a *Activities) {
	r.RegisterWorkflow(IntakeWorkflow)
	r.RegisterWorkflow(RerunWorkflow)
	r.RegisterActivity(a)
}

// Starter launches workflows on a task queue.
type Starter struct {
	client client.Client
	queue  string
	now    func() time.Time
}

// NewStarter creates a Starter. An empty queue uses DefaultTaskQueue.
func NewStarter(c client.Client, queue string) *Starter {
	if queue == "" {
		queue = DefaultTaskQueue
	}
	return &Starter{client: c, queue: queue, now: time.Now}
}

// IntakeWorkflowID is the workflow id used for a case's intake. Starting a
// second intake for a running case is rejected by the server.
func IntakeWorkflowID(caseID string) string {
	return "intake-" + caseID
}

// StartIntake starts an intake workflow and returns its run.
func (s *Starter) StartIntake(ctx context.Context, in IntakeInput) (client.WorkflowRun, error) {
	opts := client.StartWorkflowOptions{
		ID:        IntakeWorkflowID(in.CaseID),
		TaskQueue: s.queue,
	}
	run, err := s.client.ExecuteWorkflow(ctx, opts, IntakeWorkflow, in)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: start intake for %s", in.CaseID)
	}
	zap.L().Info("workflow: intake started",
		zap.String("case_id", in.CaseID),
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
	)
	return run, nil
}

// StartRerun starts a rerun workflow and returns its run.
func (s *Starter) StartRerun(ctx context.Context, in RerunInput) (client.WorkflowRun, error) {
	opts := client.StartWorkflowOptions{
		ID:        fmt.Sprintf("rerun-%s-%d", in.CaseID, s.now().UnixMilli()),
		TaskQueue: s.queue,
	}
	run, err := s.client.ExecuteWorkflow(ctx, opts, RerunWorkflow, in)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: start rerun for %s", in.CaseID)
	}
	zap.L().Info("workflow: rerun started",
		zap.String("case_id", in.CaseID),
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
	)
	return run, nil
}
