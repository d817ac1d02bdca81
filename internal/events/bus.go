package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Bus is the in-process event bus. Topics are event types; subscribers get a
// merged channel of the types they asked for and are detached by canceling
// their context, so no subscription can outlive its owner.
type Bus struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, watermill.NewSlogLogger(logger)),
		logger: logger,
	}
}

// Publish delivers the event to current subscribers of its type. With no
// subscribers the event is dropped; the bus is a notification fabric, not a
// durable queue.
func (b *Bus) Publish(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Type, err)
	}
	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("type", event.Type)
	if err := b.pubsub.Publish(event.Type, msg); err != nil {
		return fmt.Errorf("publish event %s: %w", event.Type, err)
	}
	return nil
}

// Subscribe returns a channel carrying the requested event types. The
// channel closes when ctx is canceled or the bus shuts down.
func (b *Bus) Subscribe(ctx context.Context, types ...string) (<-chan Event, error) {
	out := make(chan Event, 16)
	var wg sync.WaitGroup

	for _, eventType := range types {
		msgs, err := b.pubsub.Subscribe(ctx, eventType)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", eventType, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range msgs {
				var event Event
				if err := json.Unmarshal(msg.Payload, &event); err != nil {
					b.logger.Warn("dropping undecodable event", "error", err)
					msg.Ack()
					continue
				}
				msg.Ack()
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
