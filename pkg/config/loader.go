package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalidConfig classifies configuration errors; they are fatal for every command.
var ErrInvalidConfig = errors.New("invalid configuration")

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile         string
	envPrefix          string
	serviceNameDefault string
	flags              *pflag.FlagSet
	v                  *viper.Viper
}

// flagBindings maps command line flags to configuration keys. A flag is only
// applied when it was set explicitly on the command line.
var flagBindings = map[string]string{
	"log-level":  "observability.log_level",
	"log-format": "observability.log_format",
	"stats":      "worker.stats.enabled",
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (e.g., "QUEUEVISOR")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// WithServiceNameDefault sets the default service.name used when no config/env override is provided.
func (l *ViperLoader) WithServiceNameDefault(serviceName string) *ViperLoader {
	if l == nil {
		return l
	}
	l.serviceNameDefault = strings.TrimSpace(serviceName)
	return l
}

// WithFlags lets explicitly set command line flags override file and env values.
func (l *ViperLoader) WithFlags(flags *pflag.FlagSet) *ViperLoader {
	if l == nil {
		return l
	}
	l.flags = flags
	return l
}

// Load loads configuration with precedence: flags > ENV > secrets file > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()
	l.v = v

	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	if err := l.mergeSecrets(v); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(l.envPrefix)
	l.bindEnvVars(v)

	if err := l.bindFlags(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// AllSettings returns the effective merged settings of the last Load.
func (l *ViperLoader) AllSettings() map[string]any {
	if l == nil || l.v == nil {
		return map[string]any{}
	}
	return l.v.AllSettings()
}

func (l *ViperLoader) bindFlags(v *viper.Viper) error {
	if l.flags == nil {
		return nil
	}
	for name, key := range flagBindings {
		flag := l.flags.Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	// Queue
	v.BindEnv("queue.backend", l.prefixedEnv("QUEUE_BACKEND"))
	v.BindEnv("queue.tubes", l.prefixedEnv("QUEUE_TUBES"))
	v.BindEnv("queue.redis.url", l.prefixedEnv("QUEUE_REDIS_URL"))
	v.BindEnv("queue.redis.prefix", l.prefixedEnv("QUEUE_REDIS_PREFIX"))
	v.BindEnv("queue.redis.operation_timeout", l.prefixedEnv("QUEUE_REDIS_OPERATION_TIMEOUT"))
	v.BindEnv("queue.redis.lease_ttl", l.prefixedEnv("QUEUE_REDIS_LEASE_TTL"))
	v.BindEnv("queue.sqs.region", l.prefixedEnv("QUEUE_SQS_REGION"), "AWS_REGION")
	v.BindEnv("queue.sqs.endpoint", l.prefixedEnv("QUEUE_SQS_ENDPOINT"))
	v.BindEnv("queue.sqs.access_key_id", l.prefixedEnv("QUEUE_SQS_ACCESS_KEY_ID"))
	v.BindEnv("queue.sqs.secret_access_key", l.prefixedEnv("QUEUE_SQS_SECRET_ACCESS_KEY"))
	v.BindEnv("queue.sqs.session_token", l.prefixedEnv("QUEUE_SQS_SESSION_TOKEN"))
	v.BindEnv("queue.sqs.queue_url_prefix", l.prefixedEnv("QUEUE_SQS_QUEUE_URL_PREFIX"))
	v.BindEnv("queue.sqs.operation_timeout", l.prefixedEnv("QUEUE_SQS_OPERATION_TIMEOUT"))
	v.BindEnv("queue.sqs.wait_time_seconds", l.prefixedEnv("QUEUE_SQS_WAIT_TIME_SECONDS"))
	v.BindEnv("queue.sqs.visibility_timeout", l.prefixedEnv("QUEUE_SQS_VISIBILITY_TIMEOUT"))
	v.BindEnv("queue.rabbitmq.url", l.prefixedEnv("QUEUE_RABBITMQ_URL"))
	v.BindEnv("queue.rabbitmq.operation_timeout", l.prefixedEnv("QUEUE_RABBITMQ_OPERATION_TIMEOUT"))
	v.BindEnv("queue.rabbitmq.buried_suffix", l.prefixedEnv("QUEUE_RABBITMQ_BURIED_SUFFIX"))
	v.BindEnv("queue.sql.dsn", l.prefixedEnv("QUEUE_SQL_DSN"))
	v.BindEnv("queue.sql.table", l.prefixedEnv("QUEUE_SQL_TABLE"))
	v.BindEnv("queue.sql.operation_timeout", l.prefixedEnv("QUEUE_SQL_OPERATION_TIMEOUT"))
	v.BindEnv("queue.sql.lease_ttl", l.prefixedEnv("QUEUE_SQL_LEASE_TTL"))

	// Coordination
	v.BindEnv("coordination.backend", l.prefixedEnv("COORDINATION_BACKEND"))
	v.BindEnv("coordination.redis.url", l.prefixedEnv("COORDINATION_REDIS_URL"))
	v.BindEnv("coordination.redis.max_conns", l.prefixedEnv("COORDINATION_REDIS_MAX_CONNS"))
	v.BindEnv("coordination.redis.operation_timeout", l.prefixedEnv("COORDINATION_REDIS_OPERATION_TIMEOUT"))
	v.BindEnv("coordination.dynamodb.region", l.prefixedEnv("COORDINATION_DYNAMODB_REGION"), "AWS_REGION")
	v.BindEnv("coordination.dynamodb.endpoint", l.prefixedEnv("COORDINATION_DYNAMODB_ENDPOINT"))
	v.BindEnv("coordination.dynamodb.table", l.prefixedEnv("COORDINATION_DYNAMODB_TABLE"))
	v.BindEnv("coordination.dynamodb.access_key_id", l.prefixedEnv("COORDINATION_DYNAMODB_ACCESS_KEY_ID"))
	v.BindEnv("coordination.dynamodb.secret_access_key", l.prefixedEnv("COORDINATION_DYNAMODB_SECRET_ACCESS_KEY"))
	v.BindEnv("coordination.dynamodb.session_token", l.prefixedEnv("COORDINATION_DYNAMODB_SESSION_TOKEN"))
	v.BindEnv("coordination.dynamodb.operation_timeout", l.prefixedEnv("COORDINATION_DYNAMODB_OPERATION_TIMEOUT"))
	v.BindEnv("coordination.stop_key", l.prefixedEnv("STOP_KEY"))
	v.BindEnv("coordination.restart_key", l.prefixedEnv("RESTART_KEY"))
	v.BindEnv("coordination.flag_poll_interval", l.prefixedEnv("FLAG_POLL_INTERVAL"))

	// Worker
	v.BindEnv("worker.poll_interval", l.prefixedEnv("WORKER_POLL_INTERVAL"))
	v.BindEnv("worker.failure_threshold", l.prefixedEnv("WORKER_FAILURE_THRESHOLD"))
	v.BindEnv("worker.delete_after_handle", l.prefixedEnv("WORKER_DELETE_AFTER_HANDLE"))
	v.BindEnv("worker.attempt_timeout", l.prefixedEnv("WORKER_ATTEMPT_TIMEOUT"))
	v.BindEnv("worker.pop_failure_limit", l.prefixedEnv("WORKER_POP_FAILURE_LIMIT"))
	v.BindEnv("worker.pop_backoff", l.prefixedEnv("WORKER_POP_BACKOFF"))
	v.BindEnv("worker.stats.enabled", l.prefixedEnv("WORKER_STATS_ENABLED"))
	v.BindEnv("worker.stats.interval", l.prefixedEnv("WORKER_STATS_INTERVAL"))
	v.BindEnv("worker.stats.max_entries", l.prefixedEnv("WORKER_STATS_MAX_ENTRIES"))
	v.BindEnv("worker.stats.key_prefix", l.prefixedEnv("WORKER_STATS_KEY_PREFIX"))
	v.BindEnv("worker.stats.redis_url", l.prefixedEnv("WORKER_STATS_REDIS_URL"))

	// Supervisor
	v.BindEnv("supervisor.poll_interval", l.prefixedEnv("SUPERVISOR_POLL_INTERVAL"))
	v.BindEnv("supervisor.executable", l.prefixedEnv("SUPERVISOR_EXECUTABLE"))
	v.BindEnv("supervisor.args", l.prefixedEnv("SUPERVISOR_ARGS"))
	v.BindEnv("supervisor.reject_backoff", l.prefixedEnv("SUPERVISOR_REJECT_BACKOFF"))
	v.BindEnv("supervisor.respawn_rate", l.prefixedEnv("SUPERVISOR_RESPAWN_RATE"))
	v.BindEnv("supervisor.respawn_burst", l.prefixedEnv("SUPERVISOR_RESPAWN_BURST"))

	// Observability
	v.BindEnv("observability.log_level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("observability.log_format", l.prefixedEnv("LOG_FORMAT"))
	v.BindEnv("observability.metrics_enabled", l.prefixedEnv("METRICS_ENABLED"))
	v.BindEnv("observability.metrics_address", l.prefixedEnv("METRICS_ADDRESS"))
	v.BindEnv("observability.metrics_path", l.prefixedEnv("METRICS_PATH"))
	v.BindEnv("observability.tracing_enabled", l.prefixedEnv("TRACING_ENABLED"))
	v.BindEnv("observability.tracing_sample_rate", l.prefixedEnv("TRACING_SAMPLE_RATE"))
	v.BindEnv("observability.tracing_endpoint", l.prefixedEnv("TRACING_ENDPOINT"))
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = "QUEUEVISOR"
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

func (l *ViperLoader) defaultServiceName(fallback string) string {
	if l != nil {
		if configured := strings.TrimSpace(l.serviceNameDefault); configured != "" {
			return configured
		}
	}
	return strings.TrimSpace(fallback)
}

// setDefaults sets default values in Viper from the default config
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", l.defaultServiceName(cfg.Service.Name))
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("queue.backend", cfg.Queue.Backend)
	v.SetDefault("queue.tubes", cfg.Queue.Tubes)
	v.SetDefault("queue.redis.url", cfg.Queue.Redis.URL)
	v.SetDefault("queue.redis.prefix", cfg.Queue.Redis.Prefix)
	v.SetDefault("queue.redis.operation_timeout", cfg.Queue.Redis.OperationTimeout)
	v.SetDefault("queue.redis.lease_ttl", cfg.Queue.Redis.LeaseTTL)
	v.SetDefault("queue.sqs.region", cfg.Queue.SQS.Region)
	v.SetDefault("queue.sqs.endpoint", cfg.Queue.SQS.Endpoint)
	v.SetDefault("queue.sqs.access_key_id", cfg.Queue.SQS.AccessKeyID)
	v.SetDefault("queue.sqs.secret_access_key", cfg.Queue.SQS.SecretAccessKey)
	v.SetDefault("queue.sqs.session_token", cfg.Queue.SQS.SessionToken)
	v.SetDefault("queue.sqs.queue_url_prefix", cfg.Queue.SQS.QueueURLPrefix)
	v.SetDefault("queue.sqs.operation_timeout", cfg.Queue.SQS.OperationTimeout)
	v.SetDefault("queue.sqs.wait_time_seconds", cfg.Queue.SQS.WaitTimeSeconds)
	v.SetDefault("queue.sqs.visibility_timeout", cfg.Queue.SQS.VisibilityTimeout)
	v.SetDefault("queue.rabbitmq.url", cfg.Queue.RabbitMQ.URL)
	v.SetDefault("queue.rabbitmq.operation_timeout", cfg.Queue.RabbitMQ.OperationTimeout)
	v.SetDefault("queue.rabbitmq.buried_suffix", cfg.Queue.RabbitMQ.BuriedSuffix)
	v.SetDefault("queue.sql.dsn", cfg.Queue.SQL.DSN)
	v.SetDefault("queue.sql.table", cfg.Queue.SQL.Table)
	v.SetDefault("queue.sql.operation_timeout", cfg.Queue.SQL.OperationTimeout)
	v.SetDefault("queue.sql.lease_ttl", cfg.Queue.SQL.LeaseTTL)

	v.SetDefault("coordination.backend", cfg.Coordination.Backend)
	v.SetDefault("coordination.redis.url", cfg.Coordination.Redis.URL)
	v.SetDefault("coordination.redis.max_conns", cfg.Coordination.Redis.MaxConns)
	v.SetDefault("coordination.redis.operation_timeout", cfg.Coordination.Redis.OperationTimeout)
	v.SetDefault("coordination.dynamodb.region", cfg.Coordination.DynamoDB.Region)
	v.SetDefault("coordination.dynamodb.endpoint", cfg.Coordination.DynamoDB.Endpoint)
	v.SetDefault("coordination.dynamodb.table", cfg.Coordination.DynamoDB.Table)
	v.SetDefault("coordination.dynamodb.access_key_id", cfg.Coordination.DynamoDB.AccessKeyID)
	v.SetDefault("coordination.dynamodb.secret_access_key", cfg.Coordination.DynamoDB.SecretAccessKey)
	v.SetDefault("coordination.dynamodb.session_token", cfg.Coordination.DynamoDB.SessionToken)
	v.SetDefault("coordination.dynamodb.operation_timeout", cfg.Coordination.DynamoDB.OperationTimeout)
	v.SetDefault("coordination.stop_key", cfg.Coordination.StopKey)
	v.SetDefault("coordination.restart_key", cfg.Coordination.RestartKey)
	v.SetDefault("coordination.flag_poll_interval", cfg.Coordination.FlagPollInterval)

	v.SetDefault("worker.poll_interval", cfg.Worker.PollInterval)
	v.SetDefault("worker.failure_threshold", cfg.Worker.FailureThreshold)
	v.SetDefault("worker.delete_after_handle", cfg.Worker.DeleteAfterHandle)
	v.SetDefault("worker.attempt_timeout", cfg.Worker.AttemptTimeout)
	v.SetDefault("worker.pop_failure_limit", cfg.Worker.PopFailureLimit)
	v.SetDefault("worker.pop_backoff", cfg.Worker.PopBackoff)
	v.SetDefault("worker.stats.enabled", cfg.Worker.Stats.Enabled)
	v.SetDefault("worker.stats.interval", cfg.Worker.Stats.Interval)
	v.SetDefault("worker.stats.max_entries", cfg.Worker.Stats.MaxEntries)
	v.SetDefault("worker.stats.key_prefix", cfg.Worker.Stats.KeyPrefix)
	v.SetDefault("worker.stats.redis_url", cfg.Worker.Stats.RedisURL)

	v.SetDefault("supervisor.poll_interval", cfg.Supervisor.PollInterval)
	v.SetDefault("supervisor.executable", cfg.Supervisor.Executable)
	v.SetDefault("supervisor.args", cfg.Supervisor.Args)
	v.SetDefault("supervisor.reject_backoff", cfg.Supervisor.RejectBackoff)
	v.SetDefault("supervisor.respawn_rate", cfg.Supervisor.RespawnRate)
	v.SetDefault("supervisor.respawn_burst", cfg.Supervisor.RespawnBurst)

	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.metrics_enabled", cfg.Observability.MetricsEnabled)
	v.SetDefault("observability.metrics_address", cfg.Observability.MetricsAddress)
	v.SetDefault("observability.metrics_path", cfg.Observability.MetricsPath)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)
}

// Validate validates the configuration and returns detailed errors
func (l *ViperLoader) Validate(cfg *Config) error {
	var errs []error

	cfg.Queue.Tubes = normalizeStringSlice(cfg.Queue.Tubes)
	cfg.Supervisor.Args = normalizeStringSlice(cfg.Supervisor.Args)

	if len(cfg.Queue.Tubes) == 0 {
		errs = append(errs, errors.New("queue.tubes must list at least one tube"))
	}
	seen := make(map[string]struct{}, len(cfg.Queue.Tubes))
	for _, tube := range cfg.Queue.Tubes {
		if _, dup := seen[tube]; dup {
			errs = append(errs, fmt.Errorf("queue.tubes contains duplicate tube %q", tube))
		}
		seen[tube] = struct{}{}
	}

	validBackends := []string{QueueBackendRedis, QueueBackendSQS, QueueBackendRabbitMQ, QueueBackendPostgres, QueueBackendMySQL, QueueBackendSync}
	backend := strings.ToLower(strings.TrimSpace(cfg.Queue.Backend))
	cfg.Queue.Backend = backend
	if !contains(validBackends, backend) {
		errs = append(errs, fmt.Errorf("invalid queue.backend: %s (must be one of: %v)", cfg.Queue.Backend, validBackends))
	}
	switch backend {
	case QueueBackendRedis:
		if strings.TrimSpace(cfg.Queue.Redis.URL) == "" {
			errs = append(errs, errors.New("queue.redis.url is required when queue.backend is redis"))
		}
	case QueueBackendSQS:
		if strings.TrimSpace(cfg.Queue.SQS.Region) == "" {
			errs = append(errs, errors.New("queue.sqs.region is required when queue.backend is sqs"))
		}
		if strings.TrimSpace(cfg.Queue.SQS.QueueURLPrefix) == "" {
			errs = append(errs, errors.New("queue.sqs.queue_url_prefix is required when queue.backend is sqs"))
		}
		if cfg.Queue.SQS.WaitTimeSeconds < 0 || cfg.Queue.SQS.WaitTimeSeconds > 20 {
			errs = append(errs, errors.New("queue.sqs.wait_time_seconds must be between 0 and 20"))
		}
	case QueueBackendRabbitMQ:
		if strings.TrimSpace(cfg.Queue.RabbitMQ.URL) == "" {
			errs = append(errs, errors.New("queue.rabbitmq.url is required when queue.backend is rabbitmq"))
		}
	case QueueBackendPostgres, QueueBackendMySQL:
		if strings.TrimSpace(cfg.Queue.SQL.DSN) == "" {
			errs = append(errs, fmt.Errorf("queue.sql.dsn is required when queue.backend is %s", backend))
		}
		if strings.TrimSpace(cfg.Queue.SQL.Table) == "" {
			errs = append(errs, errors.New("queue.sql.table is required"))
		}
	}

	validStores := []string{CoordinationBackendRedis, CoordinationBackendDynamoDB}
	store := strings.ToLower(strings.TrimSpace(cfg.Coordination.Backend))
	cfg.Coordination.Backend = store
	if !contains(validStores, store) {
		errs = append(errs, fmt.Errorf("invalid coordination.backend: %s (must be one of: %v)", cfg.Coordination.Backend, validStores))
	}
	if store == CoordinationBackendRedis && strings.TrimSpace(cfg.Coordination.Redis.URL) == "" {
		errs = append(errs, errors.New("coordination.redis.url is required when coordination.backend is redis"))
	}
	if store == CoordinationBackendDynamoDB {
		if strings.TrimSpace(cfg.Coordination.DynamoDB.Region) == "" {
			errs = append(errs, errors.New("coordination.dynamodb.region is required when coordination.backend is dynamodb"))
		}
		if strings.TrimSpace(cfg.Coordination.DynamoDB.Table) == "" {
			errs = append(errs, errors.New("coordination.dynamodb.table is required when coordination.backend is dynamodb"))
		}
	}
	cfg.Coordination.StopKey = strings.TrimSpace(cfg.Coordination.StopKey)
	cfg.Coordination.RestartKey = strings.TrimSpace(cfg.Coordination.RestartKey)
	if cfg.Coordination.StopKey == "" {
		errs = append(errs, errors.New("coordination.stop_key is required"))
	}
	if cfg.Coordination.RestartKey == "" {
		errs = append(errs, errors.New("coordination.restart_key is required"))
	}
	if cfg.Coordination.StopKey != "" && cfg.Coordination.StopKey == cfg.Coordination.RestartKey {
		errs = append(errs, errors.New("coordination.stop_key and coordination.restart_key must differ"))
	}
	if cfg.Coordination.FlagPollInterval <= 0 {
		errs = append(errs, errors.New("coordination.flag_poll_interval must be positive"))
	}

	if cfg.Worker.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("worker.failure_threshold must be >= 1, got %d", cfg.Worker.FailureThreshold))
	}
	if cfg.Worker.PollInterval <= 0 {
		errs = append(errs, errors.New("worker.poll_interval must be positive"))
	}
	if cfg.Worker.AttemptTimeout < 0 {
		errs = append(errs, errors.New("worker.attempt_timeout must be >= 0"))
	}
	if cfg.Worker.PopFailureLimit < 1 {
		errs = append(errs, errors.New("worker.pop_failure_limit must be >= 1"))
	}
	if cfg.Worker.PopBackoff < 0 {
		errs = append(errs, errors.New("worker.pop_backoff must be >= 0"))
	}
	if cfg.Worker.Stats.Enabled {
		if cfg.Worker.Stats.Interval <= 0 {
			errs = append(errs, errors.New("worker.stats.interval must be positive"))
		}
		if cfg.Worker.Stats.MaxEntries < 1 {
			errs = append(errs, errors.New("worker.stats.max_entries must be >= 1"))
		}
		if strings.TrimSpace(cfg.StatsRedisURL()) == "" {
			errs = append(errs, errors.New("worker.stats.redis_url or coordination.redis.url is required when stats are enabled"))
		}
	}

	if cfg.Supervisor.PollInterval <= 0 {
		errs = append(errs, errors.New("supervisor.poll_interval must be positive"))
	}
	if cfg.Supervisor.RejectBackoff < 0 {
		errs = append(errs, errors.New("supervisor.reject_backoff must be >= 0"))
	}
	if cfg.Supervisor.RespawnRate < 0 {
		errs = append(errs, errors.New("supervisor.respawn_rate must be >= 0"))
	}
	if cfg.Supervisor.RespawnRate > 0 && cfg.Supervisor.RespawnBurst < 1 {
		errs = append(errs, errors.New("supervisor.respawn_burst must be >= 1 when respawn_rate is set"))
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, strings.ToLower(cfg.Observability.LogLevel)) {
		errs = append(errs, fmt.Errorf("invalid observability.log_level: %s (must be one of: %v)", cfg.Observability.LogLevel, validLogLevels))
	}
	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, strings.ToLower(cfg.Observability.LogFormat)) {
		errs = append(errs, fmt.Errorf("invalid observability.log_format: %s (must be one of: %v)", cfg.Observability.LogFormat, validLogFormats))
	}
	if cfg.Observability.MetricsEnabled && strings.TrimSpace(cfg.Observability.MetricsAddress) == "" {
		errs = append(errs, errors.New("observability.metrics_address is required when metrics are enabled"))
	}
	if cfg.Observability.TracingEnabled {
		if strings.TrimSpace(cfg.Observability.TracingEndpoint) == "" {
			errs = append(errs, errors.New("observability.tracing_endpoint is required when tracing is enabled"))
		}
		if cfg.Observability.TracingSampleRate < 0 || cfg.Observability.TracingSampleRate > 1 {
			errs = append(errs, errors.New("observability.tracing_sample_rate must be between 0 and 1"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

// contains checks if a string slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// normalizeStringSlice removes empty strings and trims whitespace. A single
// comma separated element (as read from an environment variable) is split.
func normalizeStringSlice(values []string) []string {
	if len(values) == 1 && strings.Contains(values[0], ",") {
		values = strings.Split(values[0], ",")
	}
	result := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
