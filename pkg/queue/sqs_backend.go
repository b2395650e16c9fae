package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/nimburion/queuevisor/pkg/observability/logger"
)

// SQS caps DelaySeconds at 15 minutes.
const maxSQSDelay = 15 * time.Minute

// SQSBackendConfig configures the SQS backend. Each tube maps to the queue
// URL QueueURLPrefix + tube.
type SQSBackendConfig struct {
	Region            string
	Endpoint          string
	AccessKeyID       string
	SecretAccessKey   string
	SessionToken      string
	QueueURLPrefix    string
	OperationTimeout  time.Duration
	WaitTimeSeconds   int32
	VisibilityTimeout int32
}

func (c *SQSBackendConfig) normalize() {
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 30 * time.Second
	}
	if c.WaitTimeSeconds < 0 {
		c.WaitTimeSeconds = 0
	}
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSBackend maps tubes onto SQS queues. It has no buried area: dead
// lettering is left to the queue's redrive policy.
type SQSBackend struct {
	client sqsAPI
	log    logger.Logger
	config SQSBackendConfig
	tubes  []string

	mu     sync.RWMutex
	closed bool
}

// NewSQSBackend builds the AWS client and checks that the queue of every
// tube in tubes is reachable. It does not create queues.
func NewSQSBackend(cfg SQSBackendConfig, tubes []string, log logger.Logger) (*SQSBackend, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("aws region is required")
	}
	if strings.TrimSpace(cfg.QueueURLPrefix) == "" {
		return nil, fmt.Errorf("sqs queue url prefix is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
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

	var opts []func(*sqs.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	backend := newSQSBackendWithClient(sqs.NewFromConfig(awsCfg, opts...), cfg, tubes, log)
	if err := backend.HealthCheck(context.Background()); err != nil {
		return nil, err
	}
	return backend, nil
}

func newSQSBackendWithClient(client sqsAPI, cfg SQSBackendConfig, tubes []string, log logger.Logger) *SQSBackend {
	cfg.normalize()
	return &SQSBackend{client: client, log: log, config: cfg, tubes: append([]string(nil), tubes...)}
}

func (b *SQSBackend) Push(ctx context.Context, tube, name string, payload []byte) (string, error) {
	return b.PushDelayed(ctx, 0, tube, name, payload)
}

// PushDelayed rejects delays beyond the SQS maximum of 15 minutes.
func (b *SQSBackend) PushDelayed(ctx context.Context, delay time.Duration, tube, name string, payload []byte) (string, error) {
	if err := b.ensureOpen(); err != nil {
		return "", err
	}
	if delay > maxSQSDelay {
		return "", queueError(ErrUnsupported, fmt.Sprintf("sqs delay %s exceeds %s", delay, maxSQSDelay))
	}
	env, err := newEnvelope(tube, name, payload)
	if err != nil {
		return "", err
	}
	body, err := encodeEnvelope(env)
	if err != nil {
		return "", err
	}

	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	_, err = b.client.SendMessage(opCtx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(b.queueURL(env.Tube)),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: int32(delay / time.Second),
	})
	if err != nil {
		return "", fmt.Errorf("failed to send sqs message: %w", err)
	}
	recordJobPushed("sqs", env.Tube)
	return env.ID, nil
}

// Size reports ApproximateNumberOfMessages of the tube's queue.
func (b *SQSBackend) Size(ctx context.Context, tube string) (int64, error) {
	if err := b.ensureOpen(); err != nil {
		return 0, err
	}
	tube, err := validateTube(tube)
	if err != nil {
		return 0, err
	}
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	out, err := b.client.GetQueueAttributes(opCtx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(b.queueURL(tube)),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read sqs queue attributes: %w", err)
	}
	raw := out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (b *SQSBackend) Pop(ctx context.Context, tube string) (Job, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	tube, err := validateTube(tube)
	if err != nil {
		return nil, err
	}
	queueURL := b.queueURL(tube)

	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	input := &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(queueURL),
		MaxNumberOfMessages:         1,
		WaitTimeSeconds:             b.config.WaitTimeSeconds,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	}
	if b.config.VisibilityTimeout > 0 {
		input.VisibilityTimeout = b.config.VisibilityTimeout
	}
	out, err := b.client.ReceiveMessage(opCtx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to receive sqs message: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}
	msg := out.Messages[0]
	receipt := aws.ToString(msg.ReceiptHandle)

	env, err := decodeEnvelope([]byte(aws.ToString(msg.Body)))
	if err != nil {
		b.log.Warn("discarding malformed sqs message", "tube", tube, "message_id", aws.ToString(msg.MessageId), "error", err)
		_ = b.deleteMessage(ctx, queueURL, receipt)
		return nil, nil
	}
	env.Tube = tube
	if count, convErr := strconv.Atoi(msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]); convErr == nil {
		env.Attempts = count
	}

	return &reservedJob{
		env:      env,
		deleteFn: func(ctx context.Context) error { return b.deleteMessage(ctx, queueURL, receipt) },
		releaseFn: func(ctx context.Context) error {
			opCtx, cancel := b.operationContext(ctx)
			defer cancel()
			_, err := b.client.ChangeMessageVisibility(opCtx, &sqs.ChangeMessageVisibilityInput{
				QueueUrl:          aws.String(queueURL),
				ReceiptHandle:     aws.String(receipt),
				VisibilityTimeout: 0,
			})
			return err
		},
	}, nil
}

func (b *SQSBackend) AutoDeletes() bool { return false }

// HealthCheck reads the ARN of every known tube queue.
func (b *SQSBackend) HealthCheck(ctx context.Context) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	for _, tube := range b.tubes {
		hcCtx, cancel := context.WithTimeout(ctx, b.config.OperationTimeout)
		_, err := b.client.GetQueueAttributes(hcCtx, &sqs.GetQueueAttributesInput{
			QueueUrl:       aws.String(b.queueURL(tube)),
			AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
		})
		cancel()
		if err != nil {
			return fmt.Errorf("sqs health check failed for tube %s: %w", tube, err)
		}
	}
	return nil
}

func (b *SQSBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *SQSBackend) deleteMessage(ctx context.Context, queueURL, receipt string) error {
	opCtx, cancel := b.operationContext(ctx)
	defer cancel()
	_, err := b.client.DeleteMessage(opCtx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	})
	return err
}

func (b *SQSBackend) queueURL(tube string) string {
	return b.config.QueueURLPrefix + strings.TrimSpace(tube)
}

func (b *SQSBackend) ensureOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return queueError(ErrClosed, "sqs backend is closed")
	}
	return nil
}

func (b *SQSBackend) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, b.config.OperationTimeout)
}
