package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"workwatch/internal/alerts"
	"workwatch/internal/classifier"
	"workwatch/internal/config"
	"workwatch/internal/dispatch"
	"workwatch/internal/eventlog"
	"workwatch/internal/sinks"
	"workwatch/internal/storage"
)

// logBackend is the durable event log plus whatever must be released on exit.
type logBackend struct {
	store eventlog.EntryStore
	csv   *eventlog.CSVLog
	close func() error
}

// openLog selects the SQL backend when storage is enabled and the CSV file
// otherwise.
func openLog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*logBackend, error) {
	if cfg.Storage.Enabled {
		st, err := storage.NewStore(cfg.Storage, cfg.Log.MaxEntries, logger)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
		}
		if err := st.Init(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("init %s store: %w", cfg.Storage.Driver, err)
		}
		if logger != nil {
			logger.Info("event log backend", "driver", cfg.Storage.Driver)
		}
		return &logBackend{store: st, close: st.Close}, nil
	}
	csvLog := eventlog.NewCSVLog(cfg.Log.Path, cfg.Log.MaxEntries, logger)
	if logger != nil {
		logger.Info("event log backend", "driver", "csv", "path", cfg.Log.Path)
	}
	return &logBackend{store: csvLog, csv: csvLog, close: func() error { return nil }}, nil
}

func buildClassifier(cfg config.PipelineConfig) (classifier.Classifier, func() error, error) {
	if cfg.Classifier != "process" {
		return classifier.Prelabeled{}, func() error { return nil }, nil
	}
	p, err := classifier.NewProcess(cfg.Command)
	if err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}

// registerSinks wires the configured sinks in delivery order: log first, then
// the local alert surfaces, then the remote channels on the worker pool. It
// returns the cleanup functions of the sinks that hold resources.
func registerSinks(ctx context.Context, d *dispatch.Dispatcher, cfg *config.Config, log eventlog.EntryStore, board *alerts.Board, notices *alerts.Store, logger *slog.Logger) []func() {
	var closers []func()
	sc := cfg.Sinks
	warn := func(sink string, err error) {
		if logger != nil {
			logger.Error("sink disabled", "sink", sink, "err", err)
		}
		notices.Error("sink:"+sink, err.Error())
	}

	d.Register(sinks.NewLogSink(log), dispatch.Sync)

	if sc.Sound.Enabled {
		clip, err := sinks.LoadClip(sc.Sound.File)
		if err != nil {
			warn("sound", err)
		} else {
			var player sinks.Player = sinks.NativePlayer{}
			if sc.Sound.Backend == "command" {
				player = sinks.CommandPlayer{Command: sc.Sound.Command}
			}
			s := sinks.NewSoundSink(clip, player, logger)
			d.Register(s, dispatch.Sync)
			closers = append(closers, s.Close)
		}
	}

	if sc.Prompt.Enabled {
		d.Register(sinks.NewPromptSink(board), dispatch.Sync)
	}

	if sc.Telegram.Enabled {
		token := sc.Telegram.Token
		if token == "" && sc.Telegram.TokenEnv != "" {
			token = os.Getenv(sc.Telegram.TokenEnv)
		}
		var capture sinks.Capturer
		if len(sc.Telegram.CaptureCommand) > 0 {
			capture = sinks.CommandCapturer{Command: sc.Telegram.CaptureCommand}
		}
		s, err := sinks.NewTelegramSink(sinks.TelegramConfig{
			APIURL:       sc.Telegram.APIURL,
			Token:        token,
			ChatID:       sc.Telegram.ChatID,
			ParseMode:    sc.Telegram.ParseMode,
			CaptureDelay: sc.Telegram.CaptureDelay,
			SnapshotDir:  sc.Telegram.SnapshotDir,
		}, &http.Client{Timeout: sc.Async.Timeout}, capture, logger)
		if err != nil {
			warn("telegram", err)
		} else {
			d.Register(dispatch.Guard(s, sc.Telegram.RatePerMinute, sc.Breaker.MaxFailures, sc.Breaker.OpenTimeout), dispatch.Async)
		}
	}

	if sc.Shoutrrr.Enabled {
		s, err := sinks.NewShoutrrrSink(sc.Shoutrrr.URLs, sc.Shoutrrr.Title, sc.Async.Timeout)
		if err != nil {
			warn("shoutrrr", err)
		} else {
			d.Register(dispatch.Guard(s, sc.Shoutrrr.RatePerMinute, sc.Breaker.MaxFailures, sc.Breaker.OpenTimeout), dispatch.Async)
		}
	}

	if sc.MQTT.Enabled {
		s, err := sinks.NewMQTTSink(ctx, sinks.MQTTConfig{
			Broker:      sc.MQTT.Broker,
			ClientID:    sc.MQTT.ClientID,
			Username:    sc.MQTT.Username,
			Password:    sc.MQTT.Password,
			TopicPrefix: sc.MQTT.TopicPrefix,
			QoS:         sc.MQTT.QoS,
			Retain:      sc.MQTT.Retain,
		}, logger)
		if err != nil {
			warn("mqtt", err)
		} else {
			d.Register(s, dispatch.Async)
			closers = append(closers, s.Close)
		}
	}

	if sc.Kafka.Enabled {
		s, err := sinks.NewKafkaSink(sc.Kafka.Brokers, sc.Kafka.Topic)
		if err != nil {
			warn("kafka", err)
		} else {
			d.Register(s, dispatch.Async)
			closers = append(closers, func() { _ = s.Close() })
		}
	}
	return closers
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if t := cfg.Sinks.Async.Timeout; t > 0 {
		return t + 5*time.Second
	}
	return 35 * time.Second
}
