// Package config loads runner settings from YAML with environment
// overrides. Credentials are only ever read from here.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

type KafkaConfig struct {
	Broker      string `yaml:"broker"`
	RawTopic    string `yaml:"raw_topic"`    // raw feed messages
	RecordTopic string `yaml:"record_topic"` // normalized records
	GroupID     string `yaml:"group_id"`
}

type ChannelBinding struct {
	Channel string `yaml:"channel"`
	Format  string `yaml:"format"`
}

type FeedConfig struct {
	Type     string           `yaml:"type"` // file | kafka
	Path     string           `yaml:"path"` // NDJSON file or directory of messages
	Channel  string           `yaml:"channel"`
	Channels []ChannelBinding `yaml:"channels"`
}

type MalpediaConfig struct {
	Enable    bool              `yaml:"enable"`
	BaseURL   string            `yaml:"base_url"`
	Token     string            `yaml:"token"`  // sent as "Authorization: apitoken <token>"
	Cookie    string            `yaml:"cookie"` // session cookie, if the deployment needs one
	UserAgent string            `yaml:"user_agent"`
	Headers   map[string]string `yaml:"headers"`
	Timeout   time.Duration     `yaml:"timeout"`
}

type KnowledgeBaseConfig struct {
	Enable     bool          `yaml:"enable"`
	URL        string        `yaml:"url"`
	Path       string        `yaml:"path"` // local cache file
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

type StoreConfig struct {
	DataDir        string `yaml:"data_dir"`
	JSONFile       string `yaml:"json_file"`
	CSVFile        string `yaml:"csv_file"`
	DedupFile      string `yaml:"dedup_file"`
	IndexDir       string `yaml:"index_dir"`
	BloomCapacity  uint   `yaml:"bloom_capacity"`
	PublishRecords bool   `yaml:"publish_records"` // republish records to Kafka
}

type APIConfig struct {
	Listen         string   `yaml:"listen"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the runner's metrics endpoint
}

type Config struct {
	Log           LogConfig           `yaml:"log"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Feed          FeedConfig          `yaml:"feed"`
	Malpedia      MalpediaConfig      `yaml:"malpedia"`
	KnowledgeBase KnowledgeBaseConfig `yaml:"knowledge_base"`
	Store         StoreConfig         `yaml:"store"`
	API           APIConfig           `yaml:"api"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// Default returns a configuration usable without any file.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Kafka: KafkaConfig{
			Broker:      "localhost:9092",
			RawTopic:    "leak-messages",
			RecordTopic: "leak-records",
			GroupID:     "leakwatch-runner",
		},
		Feed: FeedConfig{Type: "file", Path: "data/messages.ndjson"},
		Malpedia: MalpediaConfig{
			Enable:    true,
			BaseURL:   "https://malpedia.caad.fkie.fraunhofer.de",
			UserAgent: "leakwatch/1.0",
			Timeout:   10 * time.Second,
		},
		KnowledgeBase: KnowledgeBaseConfig{
			Enable:     true,
			URL:        "https://raw.githubusercontent.com/mitre/cti/master/enterprise-attack/enterprise-attack.json",
			Path:       "enterprise-attack.json",
			Timeout:    20 * time.Second,
			MaxRetries: 5,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
		Store: StoreConfig{
			DataDir:       "data",
			JSONFile:      "leak_summary.json",
			CSVFile:       "leak_records.csv",
			DedupFile:     "leakwatch.db",
			IndexDir:      "leaks.bleve",
			BloomCapacity: 100000,
		},
		API: APIConfig{Listen: ":8080", AllowedOrigins: []string{"*"}},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyEnv() {
	c.Kafka.Broker = getenv("KAFKA_BROKER", c.Kafka.Broker)
	c.Kafka.RawTopic = getenv("KAFKA_TOPIC", c.Kafka.RawTopic)
	c.Store.DataDir = getenv("LEAKWATCH_DATA_DIR", c.Store.DataDir)
	c.Log.Level = getenv("LEAKWATCH_LOG_LEVEL", c.Log.Level)
	c.Malpedia.BaseURL = getenv("LEAKWATCH_MALPEDIA_URL", c.Malpedia.BaseURL)
	c.Malpedia.Token = getenv("LEAKWATCH_MALPEDIA_TOKEN", c.Malpedia.Token)
	c.Malpedia.Cookie = getenv("LEAKWATCH_MALPEDIA_COOKIE", c.Malpedia.Cookie)
	c.KnowledgeBase.URL = getenv("LEAKWATCH_MITRE_URL", c.KnowledgeBase.URL)
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// Validate rejects settings the runner cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Feed.Type {
	case "file":
		if c.Feed.Path == "" {
			errs = append(errs, errors.New("feed.path is required for file feeds"))
		}
	case "kafka":
		if c.Kafka.Broker == "" || c.Kafka.RawTopic == "" {
			errs = append(errs, errors.New("kafka.broker and kafka.raw_topic are required for kafka feeds"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown feed.type %q", c.Feed.Type))
	}
	for _, b := range c.Feed.Channels {
		if strings.TrimSpace(b.Channel) == "" || strings.TrimSpace(b.Format) == "" {
			errs = append(errs, fmt.Errorf("feed.channels entry needs channel and format: %+v", b))
		}
	}
	if c.Store.DataDir == "" {
		errs = append(errs, errors.New("store.data_dir is required"))
	}
	if c.Store.PublishRecords && c.Kafka.RecordTopic == "" {
		errs = append(errs, errors.New("kafka.record_topic is required when store.publish_records is set"))
	}
	return errors.Join(errs...)
}

// Path resolves a store file name against the data directory.
func (s StoreConfig) Path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.DataDir, name)
}
