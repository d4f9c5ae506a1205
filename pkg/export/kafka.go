package export

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"f1telemetryhub/pkg/caster"
	"f1telemetryhub/pkg/model"
)

// KafkaSink writes samples to one topic keyed by session id, so every
// session lands on a single partition in publish order.
type KafkaSink struct {
	writer *kafka.Writer
	codec  caster.JSONCaster[model.TelemetrySample]
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka sink needs brokers and a topic")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaSink{writer: writer}, nil
}

func (k *KafkaSink) Name() string {
	return "kafka"
}

func (k *KafkaSink) messages(samples []model.TelemetrySample) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(samples))
	for _, s := range samples {
		payload, err := k.codec.To(s)
		if err != nil {
			return nil, errors.Wrap(err, "encoding sample")
		}
		msgs = append(msgs, kafka.Message{Key: []byte(s.SessionID), Value: payload})
	}
	return msgs, nil
}

func (k *KafkaSink) Write(ctx context.Context, samples []model.TelemetrySample) error {
	msgs, err := k.messages(samples)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, msgs...)
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
