package coordination

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nimburion/queuevisor/pkg/observability/logger"
)

type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]string
	putErr   error
	describe error
	lastGet  *dynamodb.GetItemInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]string{}}
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	key := in.Item[dynamoKeyAttribute].(*types.AttributeValueMemberS).Value
	value := in.Item[dynamoValueAttribute].(*types.AttributeValueMemberS).Value
	f.items[key] = value
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastGet = in
	key := in.Key[dynamoKeyAttribute].(*types.AttributeValueMemberS).Value
	if _, ok := f.items[key]; !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		dynamoKeyAttribute: &types.AttributeValueMemberS{Value: key},
	}}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := in.Key[dynamoKeyAttribute].(*types.AttributeValueMemberS).Value
	delete(f.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if f.describe != nil {
		return nil, f.describe
	}
	return &dynamodb.DescribeTableOutput{}, nil
}

func TestNewDynamoStore_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  DynamoConfig
	}{
		{name: "missing region", cfg: DynamoConfig{Table: "flags"}},
		{name: "missing table", cfg: DynamoConfig{Region: "eu-west-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDynamoStore(tt.cfg, logger.Nop()); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDynamoStore_FlagLifecycle(t *testing.T) {
	client := newFakeDynamo()
	store := newDynamoStoreWithClient(client, logger.Nop(), DynamoConfig{Table: "flags"})
	flags, err := NewFlags(store, FlagKeys{})
	if err != nil {
		t.Fatalf("NewFlags() error = %v", err)
	}
	ctx := context.Background()

	if err := flags.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	stopped, err := flags.IsStopped(ctx)
	if err != nil || !stopped {
		t.Fatalf("IsStopped() = %v, %v", stopped, err)
	}
	if client.lastGet == nil || !aws.ToBool(client.lastGet.ConsistentRead) {
		t.Fatal("expected strongly consistent reads")
	}
	if aws.ToString(client.lastGet.TableName) != "flags" {
		t.Fatalf("unexpected table %q", aws.ToString(client.lastGet.TableName))
	}

	if err := flags.Restore(ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if stopped, _ := flags.IsStopped(ctx); stopped {
		t.Fatal("expected stop flag cleared")
	}
}

func TestDynamoStore_WriteError(t *testing.T) {
	client := newFakeDynamo()
	client.putErr = errors.New("throttled")
	store := newDynamoStoreWithClient(client, logger.Nop(), DynamoConfig{Table: "flags"})

	err := store.Set(context.Background(), "k", "v")
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("expected ErrWrite, got %v", err)
	}
}

func TestDynamoStore_Closed(t *testing.T) {
	store := newDynamoStoreWithClient(newFakeDynamo(), logger.Nop(), DynamoConfig{Table: "flags"})
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := store.Exists(context.Background(), "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := store.HealthCheck(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from health check, got %v", err)
	}
}

func TestDynamoStore_HealthCheckFailure(t *testing.T) {
	client := newFakeDynamo()
	client.describe = errors.New("ResourceNotFoundException")
	store := newDynamoStoreWithClient(client, logger.Nop(), DynamoConfig{Table: "flags"})
	if err := store.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check error")
	}
}
