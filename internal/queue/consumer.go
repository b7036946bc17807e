package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facekiosk/internal/models"
)

type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

// ControlHandler receives decoded kiosk commands.
type ControlHandler func(cmd models.ControlCommand)

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL, "facekiosk-consumer")
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeEvents starts consuming audience events from the EVENTS stream with a
// durable consumer. workerCount goroutines process messages concurrently; a
// handler error naks the message for redelivery.
func (c *Consumer) ConsumeEvents(ctx context.Context, consumerName string, handler MessageHandler, workerCount int) error {
	if workerCount <= 0 {
		workerCount = 1
	}

	stream, err := c.js.Stream(ctx, EventsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", EventsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		FilterSubject: EventsSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)

	go func() {
		defer close(msgCh)
		for {
			if ctx.Err() != nil {
				return
			}

			batch, err := cons.Fetch(workerCount*4, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch events error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				if err := handler(ctx, msg); err != nil {
					slog.Error("process event error", "worker", workerID, "error", err, "subject", msg.Subject())
					_ = msg.NakWithDelay(2 * time.Second)
				} else {
					_ = msg.Ack()
				}
			}
		}(i)
	}

	slog.Info("event consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// SubscribeControl listens on kiosk.control.<kiosk_id>. Malformed payloads are
// logged and dropped.
func (c *Consumer) SubscribeControl(kioskID string, handler ControlHandler) (*nats.Subscription, error) {
	sub, err := c.nc.Subscribe(ControlSubject(kioskID), func(msg *nats.Msg) {
		var cmd models.ControlCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			slog.Warn("invalid control message", "error", err)
			return
		}
		handler(cmd)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", ControlSubject(kioskID), err)
	}
	slog.Info("subscribed to control commands", "subject", ControlSubject(kioskID))
	return sub, nil
}

func (c *Consumer) Close() {
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
	}
}
