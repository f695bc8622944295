// Package signalbus carries completion signals from dispatched work to the
// engine over a watermill publisher and subscriber. Dispatched work only
// needs the bus; the engine side consumes the topic and delivers each
// signal.
package signalbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/deepnoodle-ai/asynctask"
	"github.com/deepnoodle-ai/asynctask/dispatch"
)

// DefaultTopic is the topic signals are published on.
const DefaultTopic = "asynctask.signals"

// metadataExecutionID is the message metadata key holding the target
// execution.
const metadataExecutionID = "execution_id"

// Options configures a Bus.
type Options struct {
	// Publisher and Subscriber default to an in-process go channel pub/sub.
	Publisher  message.Publisher
	Subscriber message.Subscriber

	Topic string

	// BufferSize is the output buffer of the default go channel pub/sub.
	BufferSize int64

	// Failures receives signals that could not be decoded or delivered.
	Failures dispatch.FailureSink

	Logger *slog.Logger
}

// Bus publishes signals and consumes them into a SignalSink.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	owned      *gochannel.GoChannel
	topic      string
	failures   dispatch.FailureSink
	logger     *slog.Logger
}

var (
	_ asynctask.SignalSink      = (*Bus)(nil)
	_ asynctask.SignalDeliverer = (*Bus)(nil)
)

// New returns a bus. Without a publisher and subscriber it uses an
// in-process pub/sub, which drops signals published while nothing consumes
// the topic.
func New(opts Options) *Bus {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.Failures == nil {
		opts.Failures = dispatch.LogFailures(opts.Logger)
	}
	b := &Bus{
		publisher:  opts.Publisher,
		subscriber: opts.Subscriber,
		topic:      opts.Topic,
		failures:   opts.Failures,
		logger:     opts.Logger.With("component", "signalbus", "topic", opts.Topic),
	}
	if b.publisher == nil || b.subscriber == nil {
		if opts.BufferSize <= 0 {
			opts.BufferSize = 64
		}
		b.owned = gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            opts.BufferSize,
			BlockPublishUntilSubscriberAck: false,
		}, watermill.NewSlogLogger(opts.Logger))
		b.publisher = b.owned
		b.subscriber = b.owned
	}
	return b
}

// Topic returns the topic signals are published on.
func (b *Bus) Topic() string {
	return b.topic
}

// Signal publishes a signal for the execution. It returns once the message
// is handed to the publisher, not once the signal is delivered.
func (b *Bus) Signal(ctx context.Context, executionID, signalName string, payload map[string]any) error {
	return b.Publish(ctx, asynctask.Signal{ExecutionID: executionID, Name: signalName, Payload: payload})
}

// Publish publishes a signal.
func (b *Bus) Publish(ctx context.Context, signal asynctask.Signal) error {
	if signal.ExecutionID == "" {
		return fmt.Errorf("signal has no execution id")
	}
	data, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set(metadataExecutionID, signal.ExecutionID)
	msg.SetContext(ctx)
	if err := b.publisher.Publish(b.topic, msg); err != nil {
		return fmt.Errorf("failed to publish signal: %w", err)
	}
	return nil
}

// Deliver publishes a full signal. It lets dispatched work report through
// the bus without losing the step and wait token it addresses.
func (b *Bus) Deliver(ctx context.Context, signal asynctask.Signal) error {
	return b.Publish(ctx, signal)
}

// Consumer is a running subscription.
type Consumer struct {
	done chan struct{}
}

// Done is closed once the consumer has stopped.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// Consume subscribes to the topic and delivers every signal to sink on a
// background goroutine. It returns once the subscription is active. The
// consumer stops when ctx is cancelled or the bus is closed. Every message
// is acknowledged: a signal that cannot be delivered is reported to the
// failure sink and never redelivered.
func (b *Bus) Consume(ctx context.Context, sink asynctask.SignalSink) (*Consumer, error) {
	messages, err := b.subscriber.Subscribe(ctx, b.topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.topic, err)
	}
	consumer := &Consumer{done: make(chan struct{})}
	go func() {
		defer close(consumer.done)
		for msg := range messages {
			b.handle(ctx, msg, sink)
			msg.Ack()
		}
		b.logger.Debug("signal consumer stopped")
	}()
	return consumer, nil
}

func (b *Bus) handle(ctx context.Context, msg *message.Message, sink asynctask.SignalSink) {
	var signal asynctask.Signal
	if err := json.Unmarshal(msg.Payload, &signal); err != nil {
		b.report(ctx, msg, msg.Metadata.Get(metadataExecutionID), fmt.Errorf("failed to decode signal: %w", err))
		return
	}
	if err := asynctask.DeliverSignal(ctx, sink, signal); err != nil {
		b.report(ctx, msg, signal.ExecutionID, err)
		return
	}
	b.logger.Debug("signal delivered", "execution_id", signal.ExecutionID, "signal", signal.Name)
}

func (b *Bus) report(ctx context.Context, msg *message.Message, executionID string, err error) {
	b.failures.ReportFailure(ctx, &dispatch.Failure{
		HandleID: msg.UUID,
		Key:      executionID,
		Err:      err,
		FailedAt: time.Now(),
	})
}

// Close closes the in-process pub/sub created by New, stopping its
// consumers. Caller provided publishers and subscribers are left open.
func (b *Bus) Close() error {
	if b.owned == nil {
		return nil
	}
	return b.owned.Close()
}
