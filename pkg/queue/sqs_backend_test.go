package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/nimburion/queuevisor/pkg/observability/logger"
)

type fakeSQS struct {
	sent        []*sqs.SendMessageInput
	messages    []types.Message
	deleted     []string
	visibility  []*sqs.ChangeMessageVisibilityInput
	attributes  map[string]string
	attrErr     error
	lastReceive *sqs.ReceiveMessageInput
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.lastReceive = in
	if len(f.messages) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	msg := f.messages[0]
	f.messages = f.messages[1:]
	return &sqs.ReceiveMessageOutput{Messages: []types.Message{msg}}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.visibility = append(f.visibility, in)
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (f *fakeSQS) GetQueueAttributes(_ context.Context, _ *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	if f.attrErr != nil {
		return nil, f.attrErr
	}
	return &sqs.GetQueueAttributesOutput{Attributes: f.attributes}, nil
}

func newTestSQSBackend(client *fakeSQS) *SQSBackend {
	return newSQSBackendWithClient(client, SQSBackendConfig{QueueURLPrefix: "https://sqs.local/000/"}, []string{"mail"}, logger.Nop())
}

func TestSQSBackend_PushDelayed(t *testing.T) {
	client := &fakeSQS{}
	b := newTestSQSBackend(client)

	if _, err := b.PushDelayed(context.Background(), 90*time.Second, "mail", "send", []byte("x")); err != nil {
		t.Fatalf("PushDelayed() error = %v", err)
	}
	if len(client.sent) != 1 {
		t.Fatalf("expected one message sent, got %d", len(client.sent))
	}
	sent := client.sent[0]
	if aws.ToString(sent.QueueUrl) != "https://sqs.local/000/mail" || sent.DelaySeconds != 90 {
		t.Fatalf("unexpected send input url=%s delay=%d", aws.ToString(sent.QueueUrl), sent.DelaySeconds)
	}

	if _, err := b.PushDelayed(context.Background(), time.Hour, "mail", "send", nil); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported beyond 15 minutes, got %v", err)
	}
}

func TestSQSBackend_PopReleaseDelete(t *testing.T) {
	env, _ := newEnvelope("mail", "send", []byte("x"))
	body, _ := encodeEnvelope(env)
	client := &fakeSQS{messages: []types.Message{{
		MessageId:     aws.String("m-1"),
		ReceiptHandle: aws.String("rh-1"),
		Body:          aws.String(string(body)),
		Attributes:    map[string]string{"ApproximateReceiveCount": "3"},
	}}}
	b := newTestSQSBackend(client)

	job, err := b.Pop(context.Background(), "mail")
	if err != nil || job == nil {
		t.Fatalf("Pop() = %v, %v", job, err)
	}
	if client.lastReceive.MaxNumberOfMessages != 1 {
		t.Fatalf("expected single message receive, got %d", client.lastReceive.MaxNumberOfMessages)
	}
	if job.ID() != env.ID || job.Attempts() != 3 {
		t.Fatalf("unexpected job id=%s attempts=%d", job.ID(), job.Attempts())
	}
	if _, ok := job.(Burier); ok {
		t.Fatal("sqs jobs must not offer bury")
	}

	if err := job.Release(context.Background()); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if len(client.visibility) != 1 || client.visibility[0].VisibilityTimeout != 0 {
		t.Fatalf("expected visibility reset to 0, got %+v", client.visibility)
	}

	if err := job.Delete(context.Background()); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := job.Delete(context.Background()); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if len(client.deleted) != 1 || client.deleted[0] != "rh-1" {
		t.Fatalf("expected exactly one delete of rh-1, got %v", client.deleted)
	}
}

func TestSQSBackend_PopDiscardsMalformed(t *testing.T) {
	client := &fakeSQS{messages: []types.Message{{ReceiptHandle: aws.String("rh-bad"), Body: aws.String("garbage")}}}
	b := newTestSQSBackend(client)

	job, err := b.Pop(context.Background(), "mail")
	if err != nil || job != nil {
		t.Fatalf("Pop() = %v, %v; want nil, nil", job, err)
	}
	if len(client.deleted) != 1 {
		t.Fatal("malformed message should be deleted")
	}
}

func TestSQSBackend_Size(t *testing.T) {
	client := &fakeSQS{attributes: map[string]string{"ApproximateNumberOfMessages": "12"}}
	b := newTestSQSBackend(client)
	size, err := b.Size(context.Background(), "mail")
	if err != nil || size != 12 {
		t.Fatalf("Size() = %d, %v; want 12", size, err)
	}
}

func TestSQSBackend_HealthCheck(t *testing.T) {
	client := &fakeSQS{attrErr: errors.New("AWS.SimpleQueueService.NonExistentQueue")}
	b := newTestSQSBackend(client)
	if err := b.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check error")
	}
	_ = b.Close()
	if err := b.HealthCheck(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
