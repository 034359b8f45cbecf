package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/intake-cli/internal/poller"
	"github.com/sells-group/intake-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	SmartData SmartDataConfig `yaml:"smartdata" mapstructure:"smartdata"`
	Poll      PollConfig      `yaml:"poll" mapstructure:"poll"`
	Agents    AgentsConfig    `yaml:"agents" mapstructure:"agents"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	CaseMgmt  CaseMgmtConfig  `yaml:"casemgmt" mapstructure:"casemgmt"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Temporal  TemporalConfig  `yaml:"temporal" mapstructure:"temporal"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
}

// StoreConfig configures the submission record backend.
type StoreConfig struct {
	Driver     string `yaml:"driver" mapstructure:"driver"`
	DSN        string `yaml:"dsn" mapstructure:"dsn"`
	Database   string `yaml:"database" mapstructure:"database"`
	Collection string `yaml:"collection" mapstructure:"collection"`
	MaxConns   int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns   int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// Backend converts the section to the store package's config.
func (c StoreConfig) Backend() store.Config {
	return store.Config{
		Driver:     c.Driver,
		DSN:        c.DSN,
		Database:   c.Database,
		Collection: c.Collection,
		MaxConns:   c.MaxConns,
		MinConns:   c.MinConns,
	}
}

// SmartDataConfig holds extraction API credentials.
type SmartDataConfig struct {
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	AuthURL      string  `yaml:"auth_url" mapstructure:"auth_url"`
	ClientID     string  `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string  `yaml:"client_secret" mapstructure:"client_secret"`
	APIKey       string  `yaml:"api_key" mapstructure:"api_key"`
	RateLimit    float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RetryMax     int     `yaml:"retry_max" mapstructure:"retry_max"`
}

// PollConfig bounds the status polling loop.
type PollConfig struct {
	BaseIntervalSecs int `yaml:"base_interval_secs" mapstructure:"base_interval_secs"`
	MaxIntervalSecs  int `yaml:"max_interval_secs" mapstructure:"max_interval_secs"`
	// MaxAttempts caps status queries; 0 means unbounded.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// Monitor converts the section to the poller's config.
func (c PollConfig) Monitor() poller.Config {
	return poller.Config{
		BaseInterval: time.Duration(c.BaseIntervalSecs) * time.Second,
		MaxInterval:  time.Duration(c.MaxIntervalSecs) * time.Second,
		MaxAttempts:  c.MaxAttempts,
	}
}

// AgentsConfig configures agent dispatch.
type AgentsConfig struct {
	// RoutesFile is the routing table YAML; the built-in table is used when
	// the file does not exist.
	RoutesFile string `yaml:"routes_file" mapstructure:"routes_file"`
	// Endpoint sends every built-in agent to one shared agent service.
	// Empty keeps each agent on its own host.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	// RegistryFile holds agent registry documents. Without it the registry
	// is read from RegistryDatabase.RegistryCollection when the store is
	// mongo, and otherwise no registry is used.
	RegistryFile       string `yaml:"registry_file" mapstructure:"registry_file"`
	RegistryDatabase   string `yaml:"registry_database" mapstructure:"registry_database"`
	RegistryCollection string `yaml:"registry_collection" mapstructure:"registry_collection"`
	CallTimeoutSecs  int    `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	Concurrency      int    `yaml:"concurrency" mapstructure:"concurrency"`
	BreakerThreshold int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int    `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	AuthHeader       string `yaml:"auth_header" mapstructure:"auth_header"`
	AuthToken        string `yaml:"auth_token" mapstructure:"auth_token"`
}

// AnthropicConfig configures the llm agent transport.
type AnthropicConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	MaxTokens  int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// CaseMgmtConfig configures downstream forwarding. An empty URL disables it.
type CaseMgmtConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// RedisConfig configures thread-id persistence. An empty Addr keeps thread ids
// in process memory.
type RedisConfig struct {
	Addr           string `yaml:"addr" mapstructure:"addr"`
	Password       string `yaml:"password" mapstructure:"password"`
	DB             int    `yaml:"db" mapstructure:"db"`
	ThreadTTLHours int    `yaml:"thread_ttl_hours" mapstructure:"thread_ttl_hours"`
}

// TemporalConfig configures the workflow engine connection.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "intake.db")
	v.SetDefault("store.database", "intake")
	v.SetDefault("store.collection", "submission_records")
	v.SetDefault("smartdata.rate_limit", 5)
	v.SetDefault("smartdata.retry_max", 3)
	v.SetDefault("poll.base_interval_secs", 180)
	v.SetDefault("poll.max_interval_secs", 180)
	v.SetDefault("poll.max_attempts", 120)
	v.SetDefault("agents.routes_file", "agents.yaml")
	v.SetDefault("agents.registry_database", "ven_instance")
	v.SetDefault("agents.registry_collection", "ven_agents")
	v.SetDefault("agents.call_timeout_secs", 300)
	v.SetDefault("agents.concurrency", 0)
	v.SetDefault("agents.breaker_threshold", 5)
	v.SetDefault("agents.breaker_reset_secs", 60)
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.max_retries", 2)
	v.SetDefault("redis.thread_ttl_hours", 720)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "submission-intake")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("metrics.enabled", true)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the keys the given command needs.
func (c *Config) Validate(mode string) error {
	var missing []string
	require := func(ok bool, key string) {
		if !ok {
			missing = append(missing, key)
		}
	}

	needsExtraction := func() {
		require(c.SmartData.ClientID != "", "smartdata.client_id")
		require(c.SmartData.ClientSecret != "", "smartdata.client_secret")
		require(c.SmartData.APIKey != "", "smartdata.api_key")
	}

	switch mode {
	case "serve", "worker":
		needsExtraction()
		require(c.Store.Driver != "", "store.driver")
		require(c.Store.Driver == "sqlite" || c.Store.DSN != "", "store.dsn")
	case "poll":
		needsExtraction()
	case "start":
		require(c.Temporal.HostPort != "", "temporal.host_port")
	case "migrate":
		require(c.Store.Driver != "", "store.driver")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode == "serve" {
		require(c.Server.Port > 0, "server.port")
	}
	if mode == "serve" || mode == "worker" || mode == "start" {
		require(c.Temporal.TaskQueue != "", "temporal.task_queue")
	}
	if c.Poll.BaseIntervalSecs <= 0 || c.Poll.MaxIntervalSecs < c.Poll.BaseIntervalSecs {
		return eris.Errorf("config: poll intervals must satisfy 0 < base (%d) <= max (%d)",
			c.Poll.BaseIntervalSecs, c.Poll.MaxIntervalSecs)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: %s requires %s", mode, strings.Join(missing, ", "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
