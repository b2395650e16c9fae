package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/nimburion/queuevisor/pkg/config"
	"github.com/nimburion/queuevisor/pkg/observability/logger"
)

// NewBackend builds the backend selected by cfg.Backend. handlers is only
// used by the sync backend, which runs jobs at push time.
func NewBackend(ctx context.Context, cfg config.QueueConfig, handlers *Handlers, log logger.Logger) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", config.QueueBackendRedis:
		return NewRedisBackend(RedisBackendConfig{
			URL:              cfg.Redis.URL,
			Prefix:           cfg.Redis.Prefix,
			OperationTimeout: cfg.Redis.OperationTimeout,
			LeaseTTL:         cfg.Redis.LeaseTTL,
		}, log)
	case config.QueueBackendSQS:
		return NewSQSBackend(SQSBackendConfig{
			Region:            cfg.SQS.Region,
			Endpoint:          cfg.SQS.Endpoint,
			AccessKeyID:       cfg.SQS.AccessKeyID,
			SecretAccessKey:   cfg.SQS.SecretAccessKey,
			SessionToken:      cfg.SQS.SessionToken,
			QueueURLPrefix:    cfg.SQS.QueueURLPrefix,
			OperationTimeout:  cfg.SQS.OperationTimeout,
			WaitTimeSeconds:   cfg.SQS.WaitTimeSeconds,
			VisibilityTimeout: cfg.SQS.VisibilityTimeout,
		}, cfg.Tubes, log)
	case config.QueueBackendRabbitMQ:
		return NewRabbitMQBackend(RabbitMQBackendConfig{
			URL:              cfg.RabbitMQ.URL,
			OperationTimeout: cfg.RabbitMQ.OperationTimeout,
			BuriedSuffix:     cfg.RabbitMQ.BuriedSuffix,
		}, log)
	case config.QueueBackendPostgres, config.QueueBackendMySQL:
		dialect := PostgresDialect
		if strings.EqualFold(cfg.Backend, config.QueueBackendMySQL) {
			dialect = MySQLDialect
		}
		backend, err := NewSQLBackend(dialect, SQLBackendConfig{
			DSN:              cfg.SQL.DSN,
			Table:            cfg.SQL.Table,
			OperationTimeout: cfg.SQL.OperationTimeout,
			LeaseTTL:         cfg.SQL.LeaseTTL,
		}, log)
		if err != nil {
			return nil, err
		}
		if err := backend.EnsureSchema(ctx); err != nil {
			_ = backend.Close()
			return nil, err
		}
		return backend, nil
	case config.QueueBackendSync:
		return NewSyncBackend(handlers), nil
	default:
		return nil, fmt.Errorf("unsupported queue backend %q", cfg.Backend)
	}
}
