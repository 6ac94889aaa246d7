package webhooks

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
)

type taskProcessor interface {
	Process(ctx context.Context, task Task) error
}

// Consumer pulls webhook tasks from Pub/Sub and hands them to the processor.
type Consumer struct {
	subscription *gcppubsub.Subscriber
	processor    taskProcessor
	guard        inFlightGuard
	logg         *logger.Logger
}

// NewConsumer builds a consumer. guard may be nil.
func NewConsumer(subscription *gcppubsub.Subscriber, processor taskProcessor, guard inFlightGuard, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, errors.New("webhook subscription is required")
	}
	if processor == nil {
		return nil, errors.New("webhook processor is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		subscription: subscription,
		processor:    processor,
		guard:        guard,
		logg:         logg,
	}, nil
}

// Run receives until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if c.handle(innerCtx, msg.ID, msg.Data) {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// handle processes one message body and reports whether it should be redelivered.
func (c *Consumer) handle(ctx context.Context, messageID string, data []byte) (nack bool) {
	logCtx := c.logg.WithField(ctx, "message_id", messageID)

	task, err := DecodeTask(data)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "webhook.task_invalid")
		return false
	}
	logCtx = c.logg.WithWebhookEvent(logCtx, string(task.Provider), task.EventID, task.EventType)

	err = c.processor.Process(logCtx, task)
	if err != nil && !isTerminal(err) {
		c.logg.Error(logCtx, "webhook.task_retry", err)
		return true
	}
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "webhook.task_discarded")
	}
	if c.guard != nil {
		if clearErr := c.guard.Clear(logCtx, task.Provider, task.EventID); clearErr != nil {
			c.logg.Warn(c.logg.WithField(logCtx, "error", clearErr.Error()), "webhook.guard_clear_failed")
		}
	}
	return false
}

func isTerminal(err error) bool {
	return pkgerrors.IsCode(err, pkgerrors.CodeValidation)
}
