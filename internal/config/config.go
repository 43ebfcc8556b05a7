package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	LogFormat string          `json:"log_format" yaml:"log_format"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Pipeline  PipelineConfig  `json:"pipeline" yaml:"pipeline"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Sinks     SinksConfig     `json:"sinks" yaml:"sinks"`
	API       APIConfig       `json:"api" yaml:"api"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	UDP           UDPConfig       `json:"udp" yaml:"udp"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	Parser        ParserConfig    `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type UDPConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type ParserConfig struct {
	Timezone      string `json:"timezone" yaml:"timezone"`
	DefaultSource string `json:"default_source" yaml:"default_source"`
}

type PipelineConfig struct {
	// Classifier is "prelabeled" (frames carry detections) or "process".
	Classifier          string        `json:"classifier" yaml:"classifier"`
	Command             []string      `json:"command" yaml:"command"`
	ClassifyTimeout     time.Duration `json:"classify_timeout" yaml:"classify_timeout"`
	MaxClassifyFailures int           `json:"max_classify_failures" yaml:"max_classify_failures"`
}

type DetectionConfig struct {
	ConfidenceFloor float64           `json:"confidence_floor" yaml:"confidence_floor"`
	AlertThreshold  int               `json:"alert_threshold" yaml:"alert_threshold"`
	ResetInterval   time.Duration     `json:"reset_interval" yaml:"reset_interval"`
	MinAlertGap     time.Duration     `json:"min_alert_gap" yaml:"min_alert_gap"`
	DedupeWindow    time.Duration     `json:"dedupe_window" yaml:"dedupe_window"`
	MaxClockSkew    time.Duration     `json:"max_clock_skew" yaml:"max_clock_skew"`
	MaxFutureSkew   time.Duration     `json:"max_future_skew" yaml:"max_future_skew"`
	SubjectLabels   []string          `json:"subject_labels" yaml:"subject_labels"`
	Aliases         map[string]string `json:"aliases" yaml:"aliases"`
	Conditions      []ConditionConfig `json:"conditions" yaml:"conditions"`
}

// ConditionConfig describes one tracked condition. Zero AlertThreshold or
// ResetInterval fall back to the detection-wide values.
type ConditionConfig struct {
	Name           string        `json:"name" yaml:"name"`
	Cause          string        `json:"cause" yaml:"cause"`
	Message        string        `json:"message,omitempty" yaml:"message,omitempty"`
	AlertThreshold int           `json:"alert_threshold,omitempty" yaml:"alert_threshold,omitempty"`
	ResetInterval  time.Duration `json:"reset_interval,omitempty" yaml:"reset_interval,omitempty"`
}

type LogConfig struct {
	Path       string `json:"path" yaml:"path"`
	MaxEntries int    `json:"max_entries" yaml:"max_entries"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type SinksConfig struct {
	Async    AsyncConfig     `json:"async" yaml:"async"`
	Breaker  BreakerConfig   `json:"breaker" yaml:"breaker"`
	Sound    SoundConfig     `json:"sound" yaml:"sound"`
	Prompt   PromptConfig    `json:"prompt" yaml:"prompt"`
	Telegram TelegramConfig  `json:"telegram" yaml:"telegram"`
	Shoutrrr ShoutrrrConfig  `json:"shoutrrr" yaml:"shoutrrr"`
	MQTT     MQTTConfig      `json:"mqtt" yaml:"mqtt"`
	Kafka    KafkaSinkConfig `json:"kafka" yaml:"kafka"`
}

type AsyncConfig struct {
	Workers   int           `json:"workers" yaml:"workers"`
	QueueSize int           `json:"queue_size" yaml:"queue_size"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
}

type BreakerConfig struct {
	MaxFailures int           `json:"max_failures" yaml:"max_failures"`
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout"`
}

type SoundConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	File    string `json:"file" yaml:"file"`
	// Backend is "native" (audio device) or "command".
	Backend string   `json:"backend" yaml:"backend"`
	Command []string `json:"command" yaml:"command"`
}

type PromptConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type TelegramConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	APIURL         string        `json:"api_url" yaml:"api_url"`
	Token          string        `json:"token,omitempty" yaml:"token,omitempty"`
	TokenEnv       string        `json:"token_env" yaml:"token_env"`
	ChatID         string        `json:"chat_id" yaml:"chat_id"`
	ParseMode      string        `json:"parse_mode" yaml:"parse_mode"`
	CaptureDelay   time.Duration `json:"capture_delay" yaml:"capture_delay"`
	CaptureCommand []string      `json:"capture_command" yaml:"capture_command"`
	SnapshotDir    string        `json:"snapshot_dir" yaml:"snapshot_dir"`
	RatePerMinute  int           `json:"rate_per_minute" yaml:"rate_per_minute"`
}

type ShoutrrrConfig struct {
	Enabled       bool     `json:"enabled" yaml:"enabled"`
	URLs          []string `json:"urls" yaml:"urls"`
	Title         string   `json:"title" yaml:"title"`
	RatePerMinute int      `json:"rate_per_minute" yaml:"rate_per_minute"`
}

type MQTTConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Broker      string `json:"broker" yaml:"broker"`
	ClientID    string `json:"client_id" yaml:"client_id"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password,omitempty" yaml:"password,omitempty"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`
	QoS         byte   `json:"qos" yaml:"qos"`
	Retain      bool   `json:"retain" yaml:"retain"`
}

type KafkaSinkConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

func DefaultConditions() []ConditionConfig {
	return []ConditionConfig{
		{Name: "cigarette", Cause: "Smoking is prohibited!"},
		{Name: "phone", Cause: "Phone usage detected!"},
		{Name: "drowsy", Cause: "Drowsy condition detected!"},
		{Name: "food", Cause: "Eating detected!"},
		{Name: "person_absent", Cause: "Person not present!"},
		{Name: "multiple_person", Cause: "Multiple Persons Detected", Message: "Multiple persons detected!"},
	}
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Ingest: IngestConfig{
			ChannelBuffer: 1024,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			UDP:           UDPConfig{Enabled: false, Addr: ":9001"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			Parser:        ParserConfig{Timezone: "Local", DefaultSource: "default"},
		},
		Pipeline: PipelineConfig{
			Classifier:          "prelabeled",
			ClassifyTimeout:     5 * time.Second,
			MaxClassifyFailures: 10,
		},
		Detection: DetectionConfig{
			ConfidenceFloor: 0.45,
			AlertThreshold:  200,
			ResetInterval:   60 * time.Second,
			MinAlertGap:     0,
			DedupeWindow:    5 * time.Second,
			MaxClockSkew:    10 * time.Second,
			MaxFutureSkew:   2 * time.Second,
			SubjectLabels:   []string{"person"},
			Aliases:         map[string]string{"cigaratte": "cigarette"},
			Conditions:      DefaultConditions(),
		},
		Log:     LogConfig{Path: "detections_log.csv", MaxEntries: 100},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:workwatch.db?_pragma=busy_timeout(5000)"},
		Sinks: SinksConfig{
			Async:   AsyncConfig{Workers: 2, QueueSize: 64, Timeout: 30 * time.Second},
			Breaker: BreakerConfig{MaxFailures: 5, OpenTimeout: 30 * time.Second},
			Sound:   SoundConfig{Enabled: true, File: "short_alert.wav", Backend: "native"},
			Prompt:  PromptConfig{Enabled: true},
			Telegram: TelegramConfig{
				Enabled:       false,
				APIURL:        "https://api.telegram.org",
				TokenEnv:      "WORKWATCH_TELEGRAM_TOKEN",
				ParseMode:     "Markdown",
				CaptureDelay:  1 * time.Second,
				SnapshotDir:   "screenshots",
				RatePerMinute: 20,
			},
			Shoutrrr: ShoutrrrConfig{Enabled: false, Title: "Warning Triggered", RatePerMinute: 20},
			MQTT:     MQTTConfig{Enabled: false, ClientID: "workwatch", TopicPrefix: "workwatch/episodes", QoS: 1},
			Kafka:    KafkaSinkConfig{Enabled: false},
		},
		API: APIConfig{Enabled: true, Addr: ":8081"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Detection.ConfidenceFloor <= 0 {
		cfg.Detection.ConfidenceFloor = def.Detection.ConfidenceFloor
	}
	if cfg.Detection.AlertThreshold <= 0 {
		cfg.Detection.AlertThreshold = def.Detection.AlertThreshold
	}
	if cfg.Detection.ResetInterval <= 0 {
		cfg.Detection.ResetInterval = def.Detection.ResetInterval
	}
	if len(cfg.Detection.SubjectLabels) == 0 {
		cfg.Detection.SubjectLabels = def.Detection.SubjectLabels
	}
	if len(cfg.Detection.Conditions) == 0 {
		cfg.Detection.Conditions = def.Detection.Conditions
	}
	if cfg.Log.Path == "" {
		cfg.Log.Path = def.Log.Path
	}
	if cfg.Log.MaxEntries <= 0 {
		cfg.Log.MaxEntries = def.Log.MaxEntries
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = def.Ingest.Parser.Timezone
	}
	if cfg.Ingest.Parser.DefaultSource == "" {
		cfg.Ingest.Parser.DefaultSource = def.Ingest.Parser.DefaultSource
	}
	if cfg.Pipeline.Classifier == "" {
		cfg.Pipeline.Classifier = def.Pipeline.Classifier
	}
	if cfg.Pipeline.MaxClassifyFailures <= 0 {
		cfg.Pipeline.MaxClassifyFailures = def.Pipeline.MaxClassifyFailures
	}
	if cfg.Pipeline.ClassifyTimeout <= 0 {
		cfg.Pipeline.ClassifyTimeout = def.Pipeline.ClassifyTimeout
	}
	if cfg.Sinks.Async.Workers <= 0 {
		cfg.Sinks.Async.Workers = def.Sinks.Async.Workers
	}
	if cfg.Sinks.Async.QueueSize <= 0 {
		cfg.Sinks.Async.QueueSize = def.Sinks.Async.QueueSize
	}
	if cfg.Sinks.Async.Timeout <= 0 {
		cfg.Sinks.Async.Timeout = def.Sinks.Async.Timeout
	}
	if cfg.Sinks.Breaker.MaxFailures <= 0 {
		cfg.Sinks.Breaker.MaxFailures = def.Sinks.Breaker.MaxFailures
	}
	if cfg.Sinks.Breaker.OpenTimeout <= 0 {
		cfg.Sinks.Breaker.OpenTimeout = def.Sinks.Breaker.OpenTimeout
	}
	if cfg.Sinks.Telegram.APIURL == "" {
		cfg.Sinks.Telegram.APIURL = def.Sinks.Telegram.APIURL
	}
	if cfg.Sinks.MQTT.TopicPrefix == "" {
		cfg.Sinks.MQTT.TopicPrefix = def.Sinks.MQTT.TopicPrefix
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.UDP.Enabled && cfg.Ingest.UDP.Addr == "" {
		return errors.New("ingest.udp.addr required when ingest.udp.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	switch cfg.Pipeline.Classifier {
	case "prelabeled":
	case "process":
		if len(cfg.Pipeline.Command) == 0 {
			return errors.New("pipeline.command required when pipeline.classifier is process")
		}
	default:
		return fmt.Errorf("unsupported pipeline.classifier: %q", cfg.Pipeline.Classifier)
	}
	if err := ValidateDetection(cfg.Detection); err != nil {
		return err
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("unsupported storage.driver: %q", cfg.Storage.Driver)
		}
	}
	if cfg.Sinks.Sound.Enabled && cfg.Sinks.Sound.Backend == "command" && len(cfg.Sinks.Sound.Command) == 0 {
		return errors.New("sinks.sound.command required when sinks.sound.backend is command")
	}
	if cfg.Sinks.Telegram.Enabled && cfg.Sinks.Telegram.ChatID == "" {
		return errors.New("sinks.telegram.chat_id required when sinks.telegram.enabled is true")
	}
	if cfg.Sinks.Shoutrrr.Enabled && len(cfg.Sinks.Shoutrrr.URLs) == 0 {
		return errors.New("sinks.shoutrrr.urls required when sinks.shoutrrr.enabled is true")
	}
	if cfg.Sinks.MQTT.Enabled && cfg.Sinks.MQTT.Broker == "" {
		return errors.New("sinks.mqtt.broker required when sinks.mqtt.enabled is true")
	}
	if cfg.Sinks.MQTT.QoS > 2 {
		return fmt.Errorf("sinks.mqtt.qos must be 0, 1 or 2, got %d", cfg.Sinks.MQTT.QoS)
	}
	if cfg.Sinks.Kafka.Enabled && (len(cfg.Sinks.Kafka.Brokers) == 0 || cfg.Sinks.Kafka.Topic == "") {
		return errors.New("sinks.kafka requires brokers and topic")
	}
	return nil
}

func ValidateDetection(d DetectionConfig) error {
	if d.ConfidenceFloor < 0 || d.ConfidenceFloor > 1 {
		return fmt.Errorf("detection.confidence_floor must be within [0,1], got %v", d.ConfidenceFloor)
	}
	if d.AlertThreshold <= 0 {
		return errors.New("detection.alert_threshold must be > 0")
	}
	if d.ResetInterval <= 0 {
		return errors.New("detection.reset_interval must be > 0")
	}
	if d.MinAlertGap < 0 {
		return errors.New("detection.min_alert_gap must be >= 0")
	}
	seen := make(map[string]struct{}, len(d.Conditions))
	for _, c := range d.Conditions {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return errors.New("detection.conditions contains an entry without name")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("detection.conditions contains duplicate name: %s", name)
		}
		seen[name] = struct{}{}
		if c.AlertThreshold < 0 || c.ResetInterval < 0 {
			return fmt.Errorf("detection.conditions.%s overrides must be >= 0", name)
		}
	}
	return nil
}

// Condition returns the configuration for name.
func (d DetectionConfig) Condition(name string) (ConditionConfig, bool) {
	for _, c := range d.Conditions {
		if c.Name == name {
			return c, true
		}
	}
	return ConditionConfig{}, false
}

// Cause returns the log cause for a condition.
func (d DetectionConfig) Cause(name string) string {
	if c, ok := d.Condition(name); ok && c.Cause != "" {
		return c.Cause
	}
	return "Unknown warning!"
}

// Message returns the operator-facing text for a condition.
func (d DetectionConfig) Message(name string) string {
	if c, ok := d.Condition(name); ok && c.Message != "" {
		return c.Message
	}
	return d.Cause(name)
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime atomic.Value
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	m.touch()
	return m, nil
}

// NewStaticManager wraps an in-memory config that is never reloaded.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.touch()
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	m.touch()
	return nil
}

func (m *Manager) touch() {
	if m.path == "" {
		return
	}
	if info, err := os.Stat(m.path); err == nil {
		m.modTime.Store(info.ModTime())
	}
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	last, _ := m.modTime.Load().(time.Time)
	return info.ModTime().After(last), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
