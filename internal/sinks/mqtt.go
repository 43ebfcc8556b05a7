package sinks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"workwatch/internal/model"
)

type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Retain      bool
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes episodes to <prefix>/<source>/<condition>.
type MQTTSink struct {
	cfg    MQTTConfig
	client mqtt.Client
	pub    publisher
}

func NewMQTTSink(ctx context.Context, cfg MQTTConfig, logger *slog.Logger) (*MQTTSink, error) {
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		if logger != nil {
			logger.Info("mqtt connection established", "broker", broker)
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		if logger != nil {
			logger.Warn("mqtt connection lost, will auto-reconnect", "broker", broker, "err", err)
		}
	}
	client := mqtt.NewClient(opts)
	if err := connect(ctx, client, 5*time.Second); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	return &MQTTSink{cfg: cfg, client: client, pub: client}, nil
}

// connect waits for the first connection. On failure the client is
// disconnected so connect-retry stops in the background.
func connect(ctx context.Context, client mqtt.Client, timeout time.Duration) error {
	if err := waitToken(ctx, client.Connect(), timeout); err != nil {
		client.Disconnect(0)
		return err
	}
	return nil
}

func (s *MQTTSink) Name() string { return "mqtt" }

var topicReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// Topic builds <prefix>/<source>/<condition>. Separators and wildcards inside
// the source and condition are replaced so each stays one topic level.
func (s *MQTTSink) Topic(ep model.Episode) string {
	return strings.TrimRight(s.cfg.TopicPrefix, "/") + "/" + topicReplacer.Replace(ep.Source) + "/" + topicReplacer.Replace(ep.Condition)
}

func (s *MQTTSink) Deliver(ctx context.Context, ep model.Episode) error {
	payload, err := EpisodeJSON(ep)
	if err != nil {
		return err
	}
	token := s.pub.Publish(s.Topic(ep), s.cfg.QoS, s.cfg.Retain, payload)
	return waitToken(ctx, token, 5*time.Second)
}

func (s *MQTTSink) Close() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.New("mqtt operation timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}
