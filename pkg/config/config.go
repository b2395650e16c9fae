package config

import "time"

// Queue backend type constants
const (
	QueueBackendRedis    = "redis"
	QueueBackendSQS      = "sqs"
	QueueBackendRabbitMQ = "rabbitmq"
	QueueBackendPostgres = "postgres"
	QueueBackendMySQL    = "mysql"
	QueueBackendSync     = "sync"
)

// Coordination store type constants
const (
	CoordinationBackendRedis    = "redis"
	CoordinationBackendDynamoDB = "dynamodb"
)

const (
	DefaultStopKey          = "queuevisor:stop"
	DefaultRestartKey       = "queuevisor:restart"
	DefaultFailureThreshold = 3
	DefaultPollInterval     = 10 * time.Millisecond
	DefaultStatsInterval    = 3 * time.Second
	DefaultStatsMaxEntries  = 100
	DefaultStatsKeyPrefix   = "queue:stats:"
	DefaultRejectBackoff    = 10 * time.Second
)

// Config is the root configuration of the queue supervisor.
type Config struct {
	Service       ServiceConfig       `mapstructure:"service"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Coordination  CoordinationConfig  `mapstructure:"coordination"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Supervisor    SupervisorConfig    `mapstructure:"supervisor"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// QueueConfig selects the queue backend and lists the tubes to listen on.
// Tubes keep their configured order; the supervisor starts and polls them in it.
type QueueConfig struct {
	Backend  string              `mapstructure:"backend"`
	Tubes    []string            `mapstructure:"tubes"`
	Redis    RedisQueueConfig    `mapstructure:"redis"`
	SQS      SQSQueueConfig      `mapstructure:"sqs"`
	RabbitMQ RabbitMQQueueConfig `mapstructure:"rabbitmq"`
	SQL      SQLQueueConfig      `mapstructure:"sql"`
}

// HasTube reports whether tube is one of the configured tubes.
func (c QueueConfig) HasTube(tube string) bool {
	for _, configured := range c.Tubes {
		if configured == tube {
			return true
		}
	}
	return false
}

// RedisQueueConfig configures the Redis queue backend.
type RedisQueueConfig struct {
	URL              string        `mapstructure:"url"`
	Prefix           string        `mapstructure:"prefix"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	LeaseTTL         time.Duration `mapstructure:"lease_ttl"`
}

// SQSQueueConfig configures the AWS SQS queue backend.
type SQSQueueConfig struct {
	Region            string        `mapstructure:"region"`
	Endpoint          string        `mapstructure:"endpoint"`
	AccessKeyID       string        `mapstructure:"access_key_id"`
	SecretAccessKey   string        `mapstructure:"secret_access_key"`
	SessionToken      string        `mapstructure:"session_token"`
	QueueURLPrefix    string        `mapstructure:"queue_url_prefix"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout"`
	WaitTimeSeconds   int32         `mapstructure:"wait_time_seconds"`
	VisibilityTimeout int32         `mapstructure:"visibility_timeout"`
}

// RabbitMQQueueConfig configures the RabbitMQ queue backend.
type RabbitMQQueueConfig struct {
	URL              string        `mapstructure:"url"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	BuriedSuffix     string        `mapstructure:"buried_suffix"`
}

// SQLQueueConfig configures the Postgres/MySQL queue backend.
type SQLQueueConfig struct {
	DSN              string        `mapstructure:"dsn"`
	Table            string        `mapstructure:"table"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	LeaseTTL         time.Duration `mapstructure:"lease_ttl"`
}

// CoordinationConfig configures the store holding the stop and restart flags.
type CoordinationConfig struct {
	Backend          string                  `mapstructure:"backend"`
	Redis            RedisCoordinationConfig `mapstructure:"redis"`
	DynamoDB         DynamoDBConfig          `mapstructure:"dynamodb"`
	StopKey          string                  `mapstructure:"stop_key"`
	RestartKey       string                  `mapstructure:"restart_key"`
	FlagPollInterval time.Duration           `mapstructure:"flag_poll_interval"`
}

// RedisCoordinationConfig configures the Redis coordination store.
type RedisCoordinationConfig struct {
	URL              string        `mapstructure:"url"`
	MaxConns         int           `mapstructure:"max_conns"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// DynamoDBConfig configures the DynamoDB coordination store.
type DynamoDBConfig struct {
	Region           string        `mapstructure:"region"`
	Endpoint         string        `mapstructure:"endpoint"`
	Table            string        `mapstructure:"table"`
	AccessKeyID      string        `mapstructure:"access_key_id"`
	SecretAccessKey  string        `mapstructure:"secret_access_key"`
	SessionToken     string        `mapstructure:"session_token"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// WorkerConfig configures the single-tube worker loop. PopFailureLimit
// consecutive Pop errors pause popping for PopBackoff.
type WorkerConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	FailureThreshold  int           `mapstructure:"failure_threshold"`
	DeleteAfterHandle bool          `mapstructure:"delete_after_handle"`
	AttemptTimeout    time.Duration `mapstructure:"attempt_timeout"`
	PopFailureLimit   int           `mapstructure:"pop_failure_limit"`
	PopBackoff        time.Duration `mapstructure:"pop_backoff"`
	Stats             StatsConfig   `mapstructure:"stats"`
}

// StatsConfig configures the per-tube memory samples.
type StatsConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxEntries int           `mapstructure:"max_entries"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
	// RedisURL defaults to coordination.redis.url.
	RedisURL string `mapstructure:"redis_url"`
}

// SupervisorConfig configures the manager process.
type SupervisorConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	Executable    string        `mapstructure:"executable"`
	Args          []string      `mapstructure:"args"`
	RejectBackoff time.Duration `mapstructure:"reject_backoff"`
	RespawnRate   float64       `mapstructure:"respawn_rate"`
	RespawnBurst  int           `mapstructure:"respawn_burst"`
}

// ObservabilityConfig configures logging, metrics, and tracing
type ObservabilityConfig struct {
	LogLevel          string  `mapstructure:"log_level"`
	LogFormat         string  `mapstructure:"log_format"` // json, text
	MetricsEnabled    bool    `mapstructure:"metrics_enabled"`
	MetricsAddress    string  `mapstructure:"metrics_address"`
	MetricsPath       string  `mapstructure:"metrics_path"`
	TracingEnabled    bool    `mapstructure:"tracing_enabled"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint"`
}

// DefaultConfig returns the configuration used when neither file nor
// environment provide a value.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "queuevisor",
			Environment: "production",
		},
		Queue: QueueConfig{
			Backend: QueueBackendRedis,
			Tubes:   []string{"default"},
			Redis: RedisQueueConfig{
				URL:              "redis://localhost:6379/0",
				Prefix:           "queuevisor",
				OperationTimeout: 5 * time.Second,
				LeaseTTL:         60 * time.Second,
			},
			SQS: SQSQueueConfig{
				OperationTimeout:  30 * time.Second,
				VisibilityTimeout: 60,
			},
			RabbitMQ: RabbitMQQueueConfig{
				OperationTimeout: 10 * time.Second,
				BuriedSuffix:     ".buried",
			},
			SQL: SQLQueueConfig{
				Table:            "queue_jobs",
				OperationTimeout: 5 * time.Second,
				LeaseTTL:         60 * time.Second,
			},
		},
		Coordination: CoordinationConfig{
			Backend: CoordinationBackendRedis,
			Redis: RedisCoordinationConfig{
				URL:              "redis://localhost:6379/0",
				MaxConns:         4,
				OperationTimeout: 3 * time.Second,
			},
			DynamoDB: DynamoDBConfig{
				Table:            "queuevisor_flags",
				OperationTimeout: 3 * time.Second,
			},
			StopKey:          DefaultStopKey,
			RestartKey:       DefaultRestartKey,
			FlagPollInterval: DefaultPollInterval,
		},
		Worker: WorkerConfig{
			PollInterval:      DefaultPollInterval,
			FailureThreshold:  DefaultFailureThreshold,
			DeleteAfterHandle: true,
			PopFailureLimit:   5,
			PopBackoff:        time.Second,
			Stats: StatsConfig{
				Interval:   DefaultStatsInterval,
				MaxEntries: DefaultStatsMaxEntries,
				KeyPrefix:  DefaultStatsKeyPrefix,
			},
		},
		Supervisor: SupervisorConfig{
			PollInterval:  DefaultPollInterval,
			RejectBackoff: DefaultRejectBackoff,
			RespawnBurst:  1,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			MetricsAddress:    ":9464",
			MetricsPath:       "/metrics",
			TracingSampleRate: 1.0,
		},
	}
}

// StatsRedisURL returns the Redis URL the stats sink writes to.
func (c *Config) StatsRedisURL() string {
	if c.Worker.Stats.RedisURL != "" {
		return c.Worker.Stats.RedisURL
	}
	return c.Coordination.Redis.URL
}
