package coordination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nimburion/queuevisor/pkg/observability/logger"
)

const (
	dynamoKeyAttribute   = "flag_key"
	dynamoValueAttribute = "flag_value"
)

// DynamoConfig holds DynamoDB store configuration.
type DynamoConfig struct {
	Region           string
	Endpoint         string
	Table            string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	OperationTimeout time.Duration
}

// dynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoStore keeps control flags as items of a DynamoDB table whose
// partition key is the string attribute "flag_key".
type DynamoStore struct {
	client dynamoAPI
	logger logger.Logger
	config DynamoConfig

	mu     sync.RWMutex
	closed bool
}

// NewDynamoStore builds the AWS client (custom endpoint supported) and checks
// that the table is reachable. It does not create the table.
func NewDynamoStore(cfg DynamoConfig, log logger.Logger) (*DynamoStore, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("aws region is required")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamodb table is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultRedisOperationTimeout
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	var opts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	store := newDynamoStoreWithClient(dynamodb.NewFromConfig(awsCfg, opts...), log, cfg)
	if err := store.HealthCheck(context.Background()); err != nil {
		return nil, err
	}
	log.Debug("coordination store connected", "backend", "dynamodb", "region", cfg.Region, "table", cfg.Table)
	return store, nil
}

func newDynamoStoreWithClient(client dynamoAPI, log logger.Logger, cfg DynamoConfig) *DynamoStore {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultRedisOperationTimeout
	}
	return &DynamoStore{client: client, logger: log, config: cfg}
}

// Set writes the flag item, replacing any previous value.
func (s *DynamoStore) Set(ctx context.Context, key, value string) error {
	if err := s.ensureOpen(); err != nil {
		return writeError(key, err)
	}
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	_, err := s.client.PutItem(opCtx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.Table),
		Item: map[string]types.AttributeValue{
			dynamoKeyAttribute:   &types.AttributeValueMemberS{Value: key},
			dynamoValueAttribute: &types.AttributeValueMemberS{Value: value},
		},
	})
	if err != nil {
		return writeError(key, err)
	}
	return nil
}

// Exists performs a strongly consistent read of the flag item.
func (s *DynamoStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.ensureOpen(); err != nil {
		return false, readError(key, err)
	}
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	out, err := s.client.GetItem(opCtx, &dynamodb.GetItemInput{
		TableName:            aws.String(s.config.Table),
		Key:                  s.itemKey(key),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String(dynamoKeyAttribute),
	})
	if err != nil {
		return false, readError(key, err)
	}
	return len(out.Item) > 0, nil
}

// Delete removes the flag item. Deleting a missing item is not an error.
func (s *DynamoStore) Delete(ctx context.Context, key string) error {
	if err := s.ensureOpen(); err != nil {
		return writeError(key, err)
	}
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	_, err := s.client.DeleteItem(opCtx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.config.Table),
		Key:       s.itemKey(key),
	})
	if err != nil {
		return writeError(key, err)
	}
	return nil
}

// HealthCheck verifies the table can be described.
func (s *DynamoStore) HealthCheck(ctx context.Context) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := s.client.DescribeTable(hcCtx, &dynamodb.DescribeTableInput{TableName: aws.String(s.config.Table)}); err != nil {
		s.logger.Error("DynamoDB health check failed", "error", err)
		return fmt.Errorf("dynamodb health check failed: %w", err)
	}
	return nil
}

// Close marks the store closed; the AWS client holds no connections to release.
func (s *DynamoStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *DynamoStore) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoKeyAttribute: &types.AttributeValueMemberS{Value: key},
	}
}

func (s *DynamoStore) ensureOpen() error {
	if s == nil || s.client == nil {
		return errors.New("dynamodb store is not initialized")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *DynamoStore) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.OperationTimeout)
}
