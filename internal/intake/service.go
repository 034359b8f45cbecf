// Package intake composes extraction, annotation, persistence, agent
// dispatch and forwarding into the initial and rerun enrichment flows.
package intake

import (
	"context"
	"errors"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/intake-cli/internal/annotate"
	"github.com/sells-group/intake-cli/internal/dispatch"
	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/reconcile"
	"github.com/sells-group/intake-cli/internal/resilience"
	"github.com/sells-group/intake-cli/internal/store"
	"github.com/sells-group/intake-cli/internal/threads"
	"github.com/sells-group/intake-cli/pkg/casemgmt"
)

// Extractor is the part of the extraction API the service reads from.
type Extractor interface {
	Token(ctx context.Context) (string, error)
	FetchSection(ctx context.Context, token, packageID, txID string) ([]byte, error)
}

// Dispatcher fans a case out to the insight agents.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

// Service runs the enrichment flows.
type Service struct {
	extractor  Extractor
	store      store.Store
	threads    threads.Store
	dispatcher Dispatcher
	forwarder  casemgmt.Client
	retry      resilience.RetryConfig
}

// New creates a Service. A nil thread store falls back to process memory; a
// nil forwarder makes Forward a no-op.
func New(ex Extractor, st store.Store, th threads.Store, d Dispatcher, fw casemgmt.Client) *Service {
	if th == nil {
		th = threads.NewMemoryStore()
	}
	return &Service{
		extractor:  ex,
		store:      st,
		threads:    th,
		dispatcher: d,
		forwarder:  fw,
		retry:      resilience.DefaultRetryConfig(),
	}
}

// WithRetry returns the service with a different extraction retry policy.
func (s *Service) WithRetry(cfg resilience.RetryConfig) *Service {
	cp := *s
	cp.retry = cfg
	return &cp
}

// Authenticate obtains an extraction API token.
func (s *Service) Authenticate(ctx context.Context) (string, error) {
	cfg := s.retry
	cfg.OnRetry = resilience.RetryLogger("smartdata", "token")
	token, err := resilience.DoVal(ctx, cfg, s.extractor.Token)
	if err != nil {
		return "", model.WrapFault(model.FaultTransport, err, "authenticate with extraction API")
	}
	return token, nil
}

// Collect fetches and annotates every section of a finished extraction job.
// Sections that fail are logged and left out; Collect fails only when no
// section could be collected.
func (s *Service) Collect(ctx context.Context, token, txID string) (model.Tree, error) {
	if txID == "" {
		return nil, model.NewFault(model.FaultValidation, "tx id is required")
	}
	log := zap.L().With(zap.String("tx_id", txID))

	var (
		mu   sync.Mutex
		tree = model.Tree{}
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, info := range annotate.Sections() {
		g.Go(func() error {
			cfg := s.retry
			cfg.OnRetry = resilience.RetryLogger("smartdata", "fetch "+info.PackageID)
			raw, err := resilience.DoVal(gctx, cfg, func(ctx context.Context) ([]byte, error) {
				return s.extractor.FetchSection(ctx, token, info.PackageID, txID)
			})
			if err != nil {
				log.Warn("intake: section fetch failed", zap.String("section", string(info.Section)), zap.Error(err))
				return nil
			}

			section, err := annotate.Annotate(info.Section, raw)
			if err != nil {
				log.Warn("intake: section annotation failed", zap.String("section", string(info.Section)), zap.Error(err))
				return nil
			}

			mu.Lock()
			tree[string(info.Section)] = section
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, model.WrapFault(model.FaultCanceled, err, "collect sections")
	}
	if len(tree) == 0 {
		return nil, model.NewFault(model.FaultTransport, "no section of %s could be collected", txID)
	}
	log.Info("intake: sections collected", zap.Int("sections", len(tree)))
	return tree, nil
}

// InitialInput starts enrichment of a newly extracted case.
type InitialInput struct {
	CaseID string
	TxID   string
	// Token is an extraction API token; one is obtained when empty.
	Token string
	// ThreadID is the caller-supplied conversation id, if any.
	ThreadID      any
	StatusDetails map[string]any
}

// Output is the result of an enrichment flow.
type Output struct {
	Record   *model.SubmissionRecord
	ThreadID int
	Failed   []string
}

// Initial collects the submission, records it, dispatches it to every agent
// and stores the insights.
func (s *Service) Initial(ctx context.Context, in InitialInput) (*Output, error) {
	if in.CaseID == "" {
		return nil, model.NewFault(model.FaultValidation, "case id is required")
	}
	if in.TxID == "" {
		return nil, model.NewFault(model.FaultValidation, "tx id is required")
	}
	log := zap.L().With(zap.String("case_id", in.CaseID), zap.String("tx_id", in.TxID))

	token := in.Token
	if token == "" {
		var err error
		if token, err = s.Authenticate(ctx); err != nil {
			return nil, err
		}
	}

	sub, err := s.Collect(ctx, token, in.TxID)
	if err != nil {
		return nil, err
	}

	rec := &model.SubmissionRecord{
		CaseID:          in.CaseID,
		TxID:            in.TxID,
		Submission:      sub,
		StatusDetails:   in.StatusDetails,
		TransactionType: model.TransactionInitial,
		HistorySeq:      1,
	}
	created, err := s.store.CreateRecord(ctx, rec)
	if err != nil {
		return nil, eris.Wrap(err, "intake: create record")
	}
	if !created {
		// A repeated initial intake is a new revision of the stored case.
		prev, err := s.store.GetRecord(ctx, in.CaseID)
		if err != nil {
			return nil, eris.Wrap(err, "intake: load existing record")
		}
		rec.HistorySeq = prev.HistorySeq + 1
		rec.TransactionType = model.TransactionUpdated
		log.Info("intake: record exists, refreshing", zap.Int("history_sequence_id", rec.HistorySeq))
	}

	res, err := s.dispatcher.Dispatch(ctx, dispatch.Request{
		CaseID:     in.CaseID,
		Submission: sub,
		ThreadID:   s.threadFor(ctx, in.CaseID, in.ThreadID),
	})
	if err != nil {
		return nil, err
	}

	rec.Insights = res.Agents
	if err := s.store.UpsertRecord(ctx, rec); err != nil {
		return nil, eris.Wrap(err, "intake: save insights")
	}
	s.saveThread(ctx, in.CaseID, res.ThreadID)

	failed := res.Agents.Failed()
	log.Info("intake: initial enrichment complete", zap.Int("thread_id", res.ThreadID), zap.Strings("failed", failed))
	return &Output{Record: rec, ThreadID: res.ThreadID, Failed: failed}, nil
}

// RerunInput re-enriches a stored case with user edits.
type RerunInput struct {
	CaseID   string
	Edits    map[string]any
	ThreadID any
}

// Rerun merges edits into the stored submission, dispatches the merged tree
// with the edit set, and appends a revision.
func (s *Service) Rerun(ctx context.Context, in RerunInput) (*Output, error) {
	if in.CaseID == "" {
		return nil, model.NewFault(model.FaultValidation, "case id is required")
	}
	edits := in.Edits
	if edits == nil {
		edits = map[string]any{}
	}
	log := zap.L().With(zap.String("case_id", in.CaseID))

	rec, err := s.Record(ctx, in.CaseID)
	if err != nil {
		return nil, err
	}

	merged := reconcile.Merge(rec.Submission, edits)
	res, err := s.dispatcher.Dispatch(ctx, dispatch.Request{
		CaseID:     in.CaseID,
		Submission: merged,
		Edits:      edits,
		ThreadID:   s.threadFor(ctx, in.CaseID, in.ThreadID),
	})
	if err != nil {
		return nil, err
	}

	seq, err := s.store.AppendRevision(ctx, store.Revision{CaseID: in.CaseID, Submission: merged, Insights: res.Agents})
	if err != nil {
		return nil, eris.Wrap(err, "intake: append revision")
	}
	s.saveThread(ctx, in.CaseID, res.ThreadID)

	rec.Submission = merged
	rec.Insights = res.Agents
	rec.HistorySeq = seq
	rec.TransactionType = model.TransactionUpdated

	failed := res.Agents.Failed()
	log.Info("intake: rerun complete", zap.Int("history_sequence_id", seq), zap.Strings("failed", failed))
	return &Output{Record: rec, ThreadID: res.ThreadID, Failed: failed}, nil
}

// Record returns the stored record for a case. An unknown case is a
// validation fault wrapping store.ErrNotFound.
func (s *Service) Record(ctx context.Context, caseID string) (*model.SubmissionRecord, error) {
	if caseID == "" {
		return nil, model.NewFault(model.FaultValidation, "case id is required")
	}
	rec, err := s.store.GetRecord(ctx, caseID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.WrapFault(model.FaultValidation, err, "no submission recorded for case "+caseID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "intake: load record")
	}
	return rec, nil
}

// Forward posts results downstream. Initial submissions carry the parsed
// submission and tx id; reruns carry insights only.
func (s *Service) Forward(ctx context.Context, rec *model.SubmissionRecord, update bool) (*casemgmt.Response, error) {
	if s.forwarder == nil {
		zap.L().Debug("intake: no forwarder configured", zap.String("case_id", rec.CaseID))
		return nil, nil
	}
	p := casemgmt.Payload{CaseID: rec.CaseID, Insights: rec.Insights, Update: update}
	if !update {
		p.TxID = rec.TxID
		p.ParsedData = rec.Submission
	}
	resp, err := s.forwarder.Forward(ctx, p)
	if err != nil {
		return nil, model.WrapFault(model.FaultTransport, err, "forward case "+rec.CaseID)
	}
	return resp, nil
}

// threadFor picks the thread id to dispatch with: a valid supplied id, else
// the id stored for the case, else the supplied value so the dispatcher
// generates one.
func (s *Service) threadFor(ctx context.Context, caseID string, supplied any) any {
	if _, generated := model.ResolveThreadID(supplied); !generated {
		return supplied
	}
	id, ok, err := s.threads.Get(ctx, caseID)
	if err != nil {
		zap.L().Warn("intake: thread lookup failed", zap.String("case_id", caseID), zap.Error(err))
		return supplied
	}
	if ok {
		return id
	}
	return supplied
}

func (s *Service) saveThread(ctx context.Context, caseID string, id int) {
	if err := s.threads.Set(ctx, caseID, id); err != nil {
		zap.L().Warn("intake: thread save failed", zap.String("case_id", caseID), zap.Error(err))
	}
}
