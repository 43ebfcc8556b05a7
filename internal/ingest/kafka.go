package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"workwatch/internal/config"
	"workwatch/internal/model"
	"workwatch/internal/normalize"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

func StartKafka(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Frame, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	go consumeKafka(ctx, reader, cfg, parser, out, logger)
}

// consumeKafka treats each message value as one frame record. The message key
// names the source when the record does not.
func consumeKafka(ctx context.Context, reader messageReader, cfg *config.Manager, parser *Parser, out chan<- model.Frame, logger *slog.Logger) {
	defer reader.Close()
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if logger != nil {
				logger.Warn("kafka read error", "err", err)
			}
			if !BackoffSleep(ctx, 500*time.Millisecond) {
				return
			}
			continue
		}
		fields, err := parser.ParseLine(string(m.Value))
		if err != nil || fields == nil {
			if err != nil && logger != nil {
				logger.Warn("frame parse error", "ingest", "kafka", "offset", m.Offset, "err", err)
			}
			continue
		}
		if fields.Source == "" && len(m.Key) > 0 {
			fields.Source = string(m.Key)
		}
		fr, err := normalize.Normalize(*fields, cfg.Get())
		if err != nil {
			if logger != nil {
				logger.Warn("frame normalize error", "ingest", "kafka", "err", err)
			}
			continue
		}
		fr.Ingest = "kafka"
		SendNonBlocking(ctx, out, fr, logger)
	}
}
