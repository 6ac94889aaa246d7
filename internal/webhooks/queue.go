package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
	"github.com/angelmondragon/tenantbilling-backend/pkg/validate"
)

const defaultPublishTimeout = 15 * time.Second

// Task is the queued unit of webhook work. Payload is the provider's raw body.
type Task struct {
	Provider   enums.BillingProvider `json:"provider" validate:"required,oneof=stripe square"`
	EventID    string                `json:"event_id" validate:"required"`
	EventType  string                `json:"event_type" validate:"required"`
	Payload    json.RawMessage       `json:"payload" validate:"required"`
	ReceivedAt time.Time             `json:"received_at"`
}

// DecodeTask parses and validates a queued task. Failures are CodeValidation and never retried.
func DecodeTask(data []byte) (Task, error) {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return Task{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook task")
	}
	if err := validate.Struct(task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// Enqueuer hands a task to the asynchronous processor.
type Enqueuer interface {
	Enqueue(ctx context.Context, task Task) error
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

// PubSubEnqueuer publishes tasks to the webhook topic.
type PubSubEnqueuer struct {
	pub     publisher
	timeout time.Duration
}

func NewPubSubEnqueuer(p *gcppubsub.Publisher) (*PubSubEnqueuer, error) {
	if p == nil {
		return nil, errors.New("webhook publisher is required")
	}
	return &PubSubEnqueuer{pub: &gcpPublisher{Publisher: p}, timeout: defaultPublishTimeout}, nil
}

func (e *PubSubEnqueuer) Enqueue(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode webhook task")
	}
	msg := &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"provider":   string(task.Provider),
			"event_type": task.EventType,
			"event_id":   task.EventID,
		},
	}
	publishCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	result := e.pub.Publish(publishCtx, msg)
	if result == nil {
		return errors.New("publisher returned nil result")
	}
	if _, err := result.Get(publishCtx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish webhook task")
	}
	return nil
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
