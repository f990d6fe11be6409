package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level orchestrator configuration.
type Config struct {
	mu sync.RWMutex `yaml:"-"`

	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Messaging    MessagingConfig    `yaml:"messaging"`
	Store        StoreConfig        `yaml:"store"`
	Redis        RedisConfig        `yaml:"redis"`
	History      HistoryConfig      `yaml:"history"`
	Nodes        NodesConfig        `yaml:"nodes"`
	Export       ExportConfig       `yaml:"export"`
	Web          WebConfig          `yaml:"web"`
}

// OrchestratorConfig identifies this orchestrator on the bus and to its nodes.
type OrchestratorConfig struct {
	ID                   string `yaml:"id"                      json:"id"`
	URL                  string `yaml:"url"                     json:"url"`
	UseExtWorkflowEngine bool   `yaml:"use_ext_workflow_engine" json:"useExtWorkflowEngine"`
}

type MessagingConfig struct {
	MQTT            MQTTConfig    `yaml:"mqtt"`
	TopicPrefix     string        `yaml:"topic_prefix"`
	QoS             byte          `yaml:"qos"`
	InboundWorkers  int           `yaml:"inbound_workers"`
	PublishTimeout  time.Duration `yaml:"publish_timeout"`
	DisconnectGrace time.Duration `yaml:"disconnect_grace"`

	// ReactionRate caps store-change reactions (variable report publishes
	// and configuration pushes) per second. Zero disables the cap.
	ReactionRate  float64 `yaml:"reaction_rate"`
	ReactionBurst int     `yaml:"reaction_burst"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// StoreConfig selects the object store backend: "file", "sqlite" or "postgres".
type StoreConfig struct {
	Backend  string         `yaml:"backend"`
	Path     string         `yaml:"path"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig enables the state mirror when Address is set.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// HistoryConfig bounds per-id history. Zero means unbounded.
type HistoryConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	MaxAge     time.Duration `yaml:"max_age"`
}

type NodesConfig struct {
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	MaxConcurrentFetches int           `yaml:"max_concurrent_fetches"`
	ConfigTemplatePath   string        `yaml:"config_template_path"`
	DeviceStatePath      string        `yaml:"device_state_path"`
	WorkflowTriggerPath  string        `yaml:"workflow_trigger_path"`
}

type ExportConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			ID:  "orchestrator",
			URL: "http://localhost:5215",
		},
		Messaging: MessagingConfig{
			MQTT: MQTTConfig{
				Broker: "localhost",
				Port:   1883,
			},
			TopicPrefix:     "riot2",
			QoS:             1,
			InboundWorkers:  4,
			PublishTimeout:  5 * time.Second,
			DisconnectGrace: time.Second,
		},
		Store: StoreConfig{
			Backend: "file",
			Path:    "data",
			SQLite:  SQLiteConfig{Path: "riot2.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "riot2",
				User:     "riot2",
				SSLMode:  "disable",
			},
		},
		History: HistoryConfig{
			MaxEntries: 500,
		},
		Nodes: NodesConfig{
			RequestTimeout:       10 * time.Second,
			MaxConcurrentFetches: 8,
			ConfigTemplatePath:   "api/node/configuration/template",
			DeviceStatePath:      "api/node/device/state",
			WorkflowTriggerPath:  "api/workflow/trigger",
		},
		Export: ExportConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "riot2.telemetry",
		},
		Web: WebConfig{
			Host:          "0.0.0.0",
			Port:          5215,
			SessionSecret: "change-me-in-production",
		},
	}
}

// Load reads a YAML config file and applies environment overrides.
// If the file doesn't exist, defaults are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays RIOT2_* environment variables onto the config.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("RIOT2_ORCHESTRATOR_ID"); ok && v != "" {
		c.Orchestrator.ID = v
	}
	if v, ok := lookup("RIOT2_ORCHESTRATOR_URL"); ok && v != "" {
		c.Orchestrator.URL = v
	}
	if v, ok := lookup("RIOT2_MQTT_IP"); ok && v != "" {
		c.Messaging.MQTT.Broker = v
	}
	if v, ok := lookup("RIOT2_MQTT_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RIOT2_MQTT_PORT: %w", err)
		}
		c.Messaging.MQTT.Port = port
	}
	if v, ok := lookup("RIOT2_MQTT_USERNAME"); ok {
		c.Messaging.MQTT.Username = v
	}
	if v, ok := lookup("RIOT2_MQTT_PASSWORD"); ok {
		c.Messaging.MQTT.Password = v
	}
	return nil
}

// ClientID returns the configured MQTT client id or one derived from the orchestrator id.
func (c *Config) ClientID() string {
	if c.Messaging.MQTT.ClientID != "" {
		return c.Messaging.MQTT.ClientID
	}
	return "riot2-" + c.Orchestrator.ID
}

// Save writes the config to a YAML file.
func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
