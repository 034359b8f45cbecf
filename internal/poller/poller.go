// Package poller waits for an upstream extraction job to reach a terminal
// status.
package poller

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/pkg/smartdata"
)

// State is the monitor's view of an upstream job.
type State string

const (
	StatePending        State = "PENDING"
	StateDone           State = "DONE"
	StateReviewRequired State = "REVIEW_REQUIRED"
	StateFailed         State = "FAILED"
)

// Terminal reports whether polling stops at this state.
func (s State) Terminal() bool {
	return s != StatePending
}

// ParseState maps an upstream status token to a State. Matching is
// case-insensitive; anything unrecognized is still pending.
func ParseState(status string) State {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "COMPLETED", "DONE":
		return StateDone
	case "REVIEW_REQUIRED":
		return StateReviewRequired
	case "FAILED":
		return StateFailed
	default:
		return StatePending
	}
}

// StatusClient queries the job status endpoint.
type StatusClient interface {
	Status(ctx context.Context, token, txID string) (*smartdata.Status, error)
}

// JobRef identifies the upstream job and carries its auth token.
type JobRef struct {
	TxID  string
	Token string
}

// Config bounds the polling loop.
type Config struct {
	BaseInterval time.Duration
	MaxInterval  time.Duration
	// MaxAttempts caps status queries; 0 means unbounded.
	MaxAttempts int
}

// DefaultConfig polls every three minutes for up to six hours.
func DefaultConfig() Config {
	return Config{
		BaseInterval: 180 * time.Second,
		MaxInterval:  180 * time.Second,
		MaxAttempts:  120,
	}
}

// Observation is emitted once per status query.
type Observation struct {
	TxID    string
	Attempt int
	Status  string
	State   State
	// Next is the sleep before the following query; zero when polling stops.
	Next time.Duration
}

// Observer receives every observation.
type Observer func(Observation)

// Result is the terminal status of a job.
type Result struct {
	TxID     string
	State    State
	Status   string
	Attempts int
	Data     map[string]any
}

// Outcome converts the result into the uniform outcome record. A FAILED job
// is reported with reason upstream_failed.
func (r *Result) Outcome() model.Outcome {
	switch r.State {
	case StateFailed:
		return model.Outcome{
			Status: model.StatusFailed,
			Reason: string(model.FaultUpstreamFailed),
			Detail: "upstream job " + r.TxID + " failed",
		}
	case StateReviewRequired:
		return model.Outcome{Status: model.StatusCompleted, Reason: "review_required"}
	default:
		return model.Outcome{Status: model.StatusCompleted}
	}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithObserver adds an observer called for every status observation.
func WithObserver(o Observer) Option {
	return func(m *Monitor) {
		m.observers = append(m.observers, o)
	}
}

// WithSleep replaces the context-aware sleep used between queries.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Monitor) {
		m.sleep = fn
	}
}

// Monitor runs the polling state machine.
type Monitor struct {
	client    StatusClient
	cfg       Config
	observers []Observer
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewMonitor creates a Monitor. Non-positive intervals fall back to the
// defaults.
func NewMonitor(client StatusClient, cfg Config, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = def.BaseInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	m := &Monitor{client: client, cfg: cfg, sleep: sleepCtx}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Poll queries the job status immediately and then after each backoff
// interval until a terminal state is seen. Transport failures end polling at
// once with a transport fault. A FAILED job is returned as a Result, not an
// error; callers inspect Result.Outcome.
func (m *Monitor) Poll(ctx context.Context, ref JobRef, observers ...Observer) (*Result, error) {
	if ref.TxID == "" {
		return nil, model.NewFault(model.FaultValidation, "tx id is required")
	}
	if ref.Token == "" {
		return nil, model.NewFault(model.FaultValidation, "auth token is required")
	}

	log := zap.L().With(zap.String("tx_id", ref.TxID))
	bo := NewBackoff(m.cfg.BaseInterval, m.cfg.MaxInterval)

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return nil, model.WrapFault(model.FaultCanceled, ctx.Err(), "poll "+ref.TxID)
		}

		st, err := m.client.Status(ctx, ref.Token, ref.TxID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, model.WrapFault(model.FaultCanceled, ctx.Err(), "poll "+ref.TxID)
			}
			log.Error("poller: status query failed", zap.Int("attempt", attempt), zap.Error(err))
			return nil, model.WrapFault(model.FaultTransport, err, "status query for "+ref.TxID)
		}

		obs := Observation{TxID: ref.TxID, Attempt: attempt, Status: st.TxStatus, State: ParseState(st.TxStatus)}
		exhausted := !obs.State.Terminal() && m.cfg.MaxAttempts > 0 && attempt >= m.cfg.MaxAttempts
		if !obs.State.Terminal() && !exhausted {
			obs.Next = bo.Next()
		}
		m.emit(log, obs, observers)

		if obs.State.Terminal() {
			return &Result{
				TxID:     ref.TxID,
				State:    obs.State,
				Status:   st.TxStatus,
				Attempts: attempt,
				Data:     st.Raw,
			}, nil
		}
		if exhausted {
			return nil, model.NewFault(model.FaultPollExhausted,
				"job %s still %q after %d attempts", ref.TxID, st.TxStatus, attempt)
		}

		if err := m.sleep(ctx, obs.Next); err != nil {
			return nil, model.WrapFault(model.FaultCanceled, err, "poll "+ref.TxID)
		}
	}
}

func (m *Monitor) emit(log *zap.Logger, obs Observation, extra []Observer) {
	log.Info("poller: status observed",
		zap.Int("attempt", obs.Attempt),
		zap.String("status", obs.Status),
		zap.String("state", string(obs.State)),
		zap.Duration("interval", obs.Next),
	)
	for _, o := range m.observers {
		o(obs)
	}
	for _, o := range extra {
		o(obs)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
