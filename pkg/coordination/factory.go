package coordination

import (
	"fmt"
	"strings"

	"github.com/nimburion/queuevisor/pkg/config"
	"github.com/nimburion/queuevisor/pkg/observability/logger"
)

// NewStore builds the coordination store selected by cfg.Backend.
func NewStore(cfg config.CoordinationConfig, log logger.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", config.CoordinationBackendRedis:
		return NewRedisStore(RedisConfig{
			URL:              cfg.Redis.URL,
			MaxConns:         cfg.Redis.MaxConns,
			OperationTimeout: cfg.Redis.OperationTimeout,
		}, log)
	case config.CoordinationBackendDynamoDB:
		return NewDynamoStore(DynamoConfig{
			Region:           cfg.DynamoDB.Region,
			Endpoint:         cfg.DynamoDB.Endpoint,
			Table:            cfg.DynamoDB.Table,
			AccessKeyID:      cfg.DynamoDB.AccessKeyID,
			SecretAccessKey:  cfg.DynamoDB.SecretAccessKey,
			SessionToken:     cfg.DynamoDB.SessionToken,
			OperationTimeout: cfg.DynamoDB.OperationTimeout,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported coordination backend %q", cfg.Backend)
	}
}

// NewFlagsFromConfig binds the control flag protocol to store using the
// configured key names.
func NewFlagsFromConfig(store Store, cfg config.CoordinationConfig) (*Flags, error) {
	return NewFlags(store, FlagKeys{Stop: cfg.StopKey, Restart: cfg.RestartKey})
}
