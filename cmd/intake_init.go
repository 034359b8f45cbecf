package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/dispatch"
	"github.com/sells-group/intake-cli/internal/intake"
	"github.com/sells-group/intake-cli/internal/metrics"
	"github.com/sells-group/intake-cli/internal/normalize"
	"github.com/sells-group/intake-cli/internal/poller"
	"github.com/sells-group/intake-cli/internal/registry"
	"github.com/sells-group/intake-cli/internal/resilience"
	"github.com/sells-group/intake-cli/internal/store"
	"github.com/sells-group/intake-cli/internal/threads"
	"github.com/sells-group/intake-cli/internal/workflow"
	"github.com/sells-group/intake-cli/pkg/agent"
	anthropicpkg "github.com/sells-group/intake-cli/pkg/anthropic"
	"github.com/sells-group/intake-cli/pkg/casemgmt"
	"github.com/sells-group/intake-cli/pkg/smartdata"
)

// intakeEnv holds the initialized clients, store and service needed by the
// serve and worker commands.
type intakeEnv struct {
	Store      store.Store
	Redis      *redis.Client // may be nil
	SmartData  smartdata.Client
	Service    *intake.Service
	Monitor    *poller.Monitor
	Dispatcher *dispatch.Dispatcher
	Recorder   *metrics.Recorder
	Registry   *prometheus.Registry
}

// Close releases resources held by the environment.
func (e *intakeEnv) Close() {
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// Activities binds the environment to the workflow engine.
func (e *intakeEnv) Activities() *workflow.Activities {
	return &workflow.Activities{
		Service:  e.Service,
		Monitor:  e.Monitor,
		Details:  e.SmartData,
		Recorder: e.Recorder,
	}
}

// initIntake opens the store, builds every client and wires the intake
// service. Callers should defer env.Close().
func initIntake(ctx context.Context, mode string) (*intakeEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store.Backend())
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env := &intakeEnv{Store: st}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	env.Registry = reg
	env.Recorder = metrics.NewRecorder(reg)

	env.SmartData = newSmartData()
	env.Monitor = poller.NewMonitor(env.SmartData, cfg.Poll.Monitor())

	var th threads.Store
	if cfg.Redis.Addr != "" {
		env.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := env.Redis.Ping(ctx).Err(); err != nil {
			env.Close()
			return nil, eris.Wrap(err, "ping redis")
		}
		th = threads.NewRedisStore(env.Redis, time.Duration(cfg.Redis.ThreadTTLHours)*time.Hour)
		zap.L().Info("thread ids persisted in redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		zap.L().Debug("INTAKE_REDIS_ADDR not set, thread ids kept in memory")
	}

	table, err := loadRoutes(cfg.Agents.RoutesFile, cfg.Agents.Endpoint)
	if err != nil {
		env.Close()
		return nil, err
	}
	if table, err = registry.Apply(ctx, table, registrySource(st)); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "load agent registry")
	}
	env.Dispatcher = newDispatcher(table, env.Recorder)

	var fw casemgmt.Client
	if cfg.CaseMgmt.URL != "" {
		var opts []casemgmt.Option
		if cfg.CaseMgmt.Username != "" {
			opts = append(opts, casemgmt.WithBasicAuth(cfg.CaseMgmt.Username, cfg.CaseMgmt.Password))
		}
		fw = casemgmt.NewClient(cfg.CaseMgmt.URL, opts...)
	} else {
		zap.L().Warn("casemgmt.url not set, results will not be forwarded")
	}

	retry := resilience.DefaultRetryConfig()
	if cfg.SmartData.RetryMax > 0 {
		retry.MaxAttempts = cfg.SmartData.RetryMax
	}
	env.Service = intake.New(env.SmartData, st, th, env.Dispatcher, fw).WithRetry(retry)

	zap.L().Info("intake environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.Strings("agents", table.Names()),
	)
	return env, nil
}

func newSmartData() smartdata.Client {
	opts := []smartdata.Option{smartdata.WithRateLimit(cfg.SmartData.RateLimit)}
	if cfg.SmartData.BaseURL != "" {
		opts = append(opts, smartdata.WithBaseURL(cfg.SmartData.BaseURL))
	}
	if cfg.SmartData.AuthURL != "" {
		opts = append(opts, smartdata.WithAuthURL(cfg.SmartData.AuthURL))
	}
	return smartdata.NewClient(smartdata.Credentials{
		ClientID:     cfg.SmartData.ClientID,
		ClientSecret: cfg.SmartData.ClientSecret,
		APIKey:       cfg.SmartData.APIKey,
	}, opts...)
}

// loadRoutes reads the routing table file, falling back to the built-in
// table when the file does not exist.
func loadRoutes(path, endpoint string) (*dispatch.RoutingTable, error) {
	if path == "" {
		return dispatch.DefaultRoutingTable(endpoint), nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		zap.L().Warn("routes file not found, using built-in routing table",
			zap.String("path", path), zap.String("endpoint", endpoint))
		return dispatch.DefaultRoutingTable(endpoint), nil
	}
	table, err := dispatch.LoadRoutingTable(path)
	if err != nil {
		return nil, eris.Wrap(err, "load routing table")
	}
	return table, nil
}

// registrySource picks where agent registry documents come from: the
// registry file, else the mongo store's connection, else nowhere.
func registrySource(st store.Store) registry.Source {
	if cfg.Agents.RegistryFile != "" {
		return registry.FileSource{Path: cfg.Agents.RegistryFile}
	}
	if ms, ok := st.(*store.MongoStore); ok {
		return registry.NewMongoSource(ms.Collection(cfg.Agents.RegistryDatabase, cfg.Agents.RegistryCollection))
	}
	return nil
}

func newDispatcher(table *dispatch.RoutingTable, rec *metrics.Recorder) *dispatch.Dispatcher {
	var agentOpts []agent.Option
	if cfg.Agents.AuthToken != "" {
		header := cfg.Agents.AuthHeader
		if header == "" {
			header = "Authorization"
		}
		agentOpts = append(agentOpts, agent.WithHeader(header, cfg.Agents.AuthToken))
	}

	opts := []dispatch.Option{
		dispatch.WithCaller(dispatch.TransportHTTP, dispatch.HTTPCaller{Client: agent.NewClient(agentOpts...)}),
		dispatch.WithCallTimeout(time.Duration(cfg.Agents.CallTimeoutSecs) * time.Second),
		dispatch.WithConcurrency(cfg.Agents.Concurrency),
		dispatch.WithNormalizer(normalize.New()),
		dispatch.WithRecorder(rec),
	}

	if cfg.Anthropic.Key != "" {
		var llmOpts []anthropicpkg.Option
		if cfg.Anthropic.BaseURL != "" {
			llmOpts = append(llmOpts, anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		llmOpts = append(llmOpts, anthropicpkg.WithMaxRetries(cfg.Anthropic.MaxRetries))
		opts = append(opts, dispatch.WithCaller(dispatch.TransportLLM, dispatch.LLMCaller{
			Client:    anthropicpkg.NewClient(cfg.Anthropic.Key, llmOpts...),
			MaxTokens: cfg.Anthropic.MaxTokens,
		}))
	}

	if cfg.Agents.BreakerThreshold > 0 {
		opts = append(opts, dispatch.WithBreakers(resilience.NewBreakers(dispatch.AgentBreakerConfig(
			cfg.Agents.BreakerThreshold,
			time.Duration(cfg.Agents.BreakerResetSecs)*time.Second,
		))))
	}

	return dispatch.NewDispatcher(table, opts...)
}
