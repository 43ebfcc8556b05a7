package sinks

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"workwatch/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes episodes to a topic keyed by source.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka sink requires brokers and topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaSink{writer: w}, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Deliver(ctx context.Context, ep model.Episode) error {
	payload, err := EpisodeJSON(ep)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ep.Source),
		Value: payload,
		Time:  ep.Timestamp,
		Headers: []kafka.Header{
			{Key: "condition", Value: []byte(ep.Condition)},
		},
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
