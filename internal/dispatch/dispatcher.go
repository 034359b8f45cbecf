package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/intake-cli/internal/metrics"
	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/resilience"
)

// DefaultCallTimeout bounds a single agent call.
const DefaultCallTimeout = 300 * time.Second

// timeoutReply is recorded for agents still running when the caller's
// context ends.
const timeoutReply = "timeout"

// Normalizer post-processes successful replies.
type Normalizer interface {
	Normalize(raw map[string]any) map[string]any
}

// Recorder receives per-call and per-dispatch measurements.
type Recorder interface {
	AgentCall(agent, outcome string, d time.Duration)
	Dispatch(d time.Duration)
}

// Result is the aggregate of one dispatch.
type Result struct {
	// Agents holds exactly one entry per route.
	Agents model.AgentResults
	// ThreadID is the conversation id every call carried.
	ThreadID int
	// GeneratedThread reports whether ThreadID was freshly generated.
	GeneratedThread bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCaller registers the caller for a transport.
func WithCaller(t Transport, c Caller) Option {
	return func(d *Dispatcher) {
		d.callers[t] = c
	}
}

// WithCallTimeout overrides the per-call timeout. Non-positive values are
// ignored.
func WithCallTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.callTimeout = timeout
		}
	}
}

// WithConcurrency caps in-flight calls. Zero means one goroutine per route.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		d.concurrency = n
	}
}

// WithNormalizer sets the reply normalizer.
func WithNormalizer(n Normalizer) Option {
	return func(d *Dispatcher) {
		d.normalizer = n
	}
}

// WithBreakers guards each agent with a circuit breaker keyed by route name.
func WithBreakers(b *resilience.Breakers) Option {
	return func(d *Dispatcher) {
		d.breakers = b
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		d.recorder = r
	}
}

// Dispatcher fans a case out to every route of a routing table.
type Dispatcher struct {
	table       *RoutingTable
	callers     map[Transport]Caller
	callTimeout time.Duration
	concurrency int
	normalizer  Normalizer
	breakers    *resilience.Breakers
	recorder    Recorder
}

// NewDispatcher creates a Dispatcher over table.
func NewDispatcher(table *RoutingTable, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		table:       table,
		callers:     map[Transport]Caller{},
		callTimeout: DefaultCallTimeout,
		recorder:    metrics.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch calls every route concurrently and collects one reply or error
// descriptor per route. Agent failures never fail the dispatch. If ctx ends
// first, Dispatch returns at once with {"error": "timeout"} for the agents
// still running.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if req.CaseID == "" {
		return nil, model.NewFault(model.FaultValidation, "dispatch: case id is required")
	}

	threadID, generated := model.ResolveThreadID(req.ThreadID)
	log := zap.L().With(zap.String("case_id", req.CaseID), zap.Int("thread_id", threadID), zap.Bool("rerun", req.Rerun()))
	start := time.Now()

	routes := d.table.Routes()
	var (
		mu      sync.Mutex
		results = make(model.AgentResults, len(routes))
	)
	record := func(name string, reply map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		results[name] = reply
	}

	g, gctx := errgroup.WithContext(ctx)
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, route := range routes {
			g.Go(func() error {
				record(route.Name, d.call(gctx, log, route, req, threadID))
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("dispatch: abandoning unfinished agents", zap.Error(ctx.Err()))
	}

	mu.Lock()
	out := make(model.AgentResults, len(routes))
	for _, route := range routes {
		reply, ok := results[route.Name]
		if !ok {
			reply = model.ErrorReply(timeoutReply)
		}
		out[route.Name] = reply
	}
	mu.Unlock()

	d.recorder.Dispatch(time.Since(start))
	log.Info("dispatch: complete",
		zap.Int("agents", len(out)),
		zap.Strings("failed", out.Failed()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Result{Agents: out, ThreadID: threadID, GeneratedThread: generated}, nil
}

func (d *Dispatcher) call(ctx context.Context, log *zap.Logger, route Route, req Request, threadID int) (reply map[string]any) {
	log = log.With(zap.String("agent", route.Name))
	start := time.Now()
	outcome := metrics.OutcomeOK

	defer func() {
		if r := recover(); r != nil {
			log.Error("dispatch: agent call panicked", zap.Any("panic", r))
			outcome = metrics.OutcomeError
			reply = model.ErrorReply(fmt.Sprintf("panic: %v", r))
		}
		d.recorder.AgentCall(route.Name, outcome, time.Since(start))
	}()

	fail := func(err error) map[string]any {
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen):
			outcome = metrics.OutcomeOpen
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			outcome = metrics.OutcomeTimeout
		default:
			outcome = metrics.OutcomeError
		}
		log.Warn("dispatch: agent call failed", zap.Error(err))
		return model.ErrorReply(err.Error())
	}

	caller, ok := d.callers[route.Transport]
	if !ok {
		return fail(eris.Errorf("dispatch: no caller for transport %q", route.Transport))
	}

	msg, err := BuildMessage(route, req)
	if err != nil {
		return fail(err)
	}

	var breaker *resilience.Breaker
	if d.breakers != nil {
		breaker = d.breakers.Get(route.Name)
		if err := breaker.Allow(); err != nil {
			return fail(eris.Wrapf(err, "dispatch: %s", route.Name))
		}
	}

	cctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	raw, err := caller.Call(cctx, Call{Route: route, CaseID: req.CaseID, Message: msg, ThreadID: threadID})
	if breaker != nil {
		breaker.Record(err)
	}
	if err != nil {
		return fail(err)
	}

	log.Debug("dispatch: agent replied", zap.Duration("elapsed", time.Since(start)))
	if d.normalizer != nil {
		return d.normalizer.Normalize(raw)
	}
	return raw
}

// AgentBreakerConfig trips on agent failures but not on calls abandoned by
// the caller.
func AgentBreakerConfig(threshold int, reset time.Duration) resilience.BreakerConfig {
	return resilience.BreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
		ShouldTrip: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	}
}
