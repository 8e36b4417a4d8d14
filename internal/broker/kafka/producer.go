package kafka

import (
	"context"
	"encoding/json"

	"github.com/BearBump/ParcelSync/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Producer struct {
	w     messageWriter
	topic string
}

// NewProducer: ключ сообщения = user id, Hash держит изменения пользователя в одной партиции.
func NewProducer(brokers []string, topic string) *Producer {
	if topic == "" {
		topic = messages.TopicPackageChanged
	}
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}
}

func newProducerWithWriter(w messageWriter, topic string) *Producer {
	return &Producer{w: w, topic: topic}
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}); err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

func (p *Producer) PublishChange(ctx context.Context, m messages.PackageChanged) error {
	b, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshal change")
	}
	return p.Publish(ctx, p.topic, []byte(m.UserID), b)
}

func (p *Producer) Close() error {
	if c, ok := p.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
