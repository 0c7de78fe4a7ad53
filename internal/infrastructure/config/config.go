package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Exchange types supported by the broker topology.
const (
	ExchangeTypeFanout = "fanout"
	ExchangeTypeTopic  = "topic"
)

// Config is the root configuration structure for Wellsite Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Publisher PublisherConfig `yaml:"publisher"`
	Retry     RetryConfig     `yaml:"retry"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
	// CleanSession discards broker-side session state on connect.
	// Set false so unacknowledged QoS 1 deliveries survive a consumer restart.
	CleanSession bool `yaml:"clean_session"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// TopologyConfig describes an exchange, the queue bound to it and the
// dead-letter pair attached to that queue.
type TopologyConfig struct {
	ExchangeName       string `yaml:"exchange_name"`
	ExchangeType       string `yaml:"exchange_type"`
	QueuePrefix        string `yaml:"queue_prefix"`
	RoutingKey         string `yaml:"routing_key"`
	DeadLetterExchange string `yaml:"dead_letter_exchange"`
	DeadLetterKey      string `yaml:"dead_letter_routing_key"`
	DeadLetterQueue    string `yaml:"dead_letter_queue"`
}

// ExchangeConfig contains the inbound update consumer settings.
type ExchangeConfig struct {
	Topology TopologyConfig `yaml:"topology"`
	// Discriminator is appended to QueuePrefix to form the queue name.
	Discriminator string `yaml:"discriminator"`
	// Consumers is the number of competing consumer instances.
	Consumers int `yaml:"consumers"`
	// Prefetch bounds the deliveries buffered per consumer.
	Prefetch int `yaml:"prefetch"`
	// ArchiveDeadLetters enables the dead-letter archiver.
	ArchiveDeadLetters bool `yaml:"archive_dead_letters"`
}

// PublisherConfig contains the outbound control publisher settings.
type PublisherConfig struct {
	Topology TopologyConfig `yaml:"topology"`
}

// RetryConfig contains persistence retry settings for store managers.
type RetryConfig struct {
	Default RetryPolicy `yaml:"default"`
	// Overrides are keyed by manager responsibility (e.g. "tblTransactions").
	Overrides map[string]RetryPolicy `yaml:"overrides"`
}

// RetryPolicy bounds the persistence attempts of one store manager.
type RetryPolicy struct {
	Retries    int `yaml:"retries"`
	IntervalMS int `yaml:"interval_ms"`
	// RequeueTransient classifies exhausted transient failures as recoverable.
	RequeueTransient bool `yaml:"requeue_transient"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: WELLSITE_SECTION_KEY
// For example: WELLSITE_DATABASE_PATH, WELLSITE_EXCHANGE_NAME
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Wellsite",
		},
		Database: DatabaseConfig{
			Path:        "./data/wellsite.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:         "localhost",
				Port:         1883,
				ClientID:     "wellsite-core",
				CleanSession: true,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Exchange: ExchangeConfig{
			Topology: TopologyConfig{
				ExchangeName:       "wellsite.updates",
				ExchangeType:       ExchangeTypeFanout,
				QueuePrefix:        "wellsite-updates-",
				RoutingKey:         "update",
				DeadLetterExchange: "wellsite.updates.dlx",
				DeadLetterKey:      "dead",
				DeadLetterQueue:    "wellsite-updates-dlq",
			},
			Discriminator:      "core",
			Consumers:          1,
			Prefetch:           1,
			ArchiveDeadLetters: true,
		},
		Publisher: PublisherConfig{
			Topology: TopologyConfig{
				ExchangeName:       "wellsite.control",
				ExchangeType:       ExchangeTypeTopic,
				QueuePrefix:        "wellsite-control-",
				RoutingKey:         "control",
				DeadLetterExchange: "wellsite.control.dlx",
				DeadLetterKey:      "dead",
				DeadLetterQueue:    "wellsite-control-dlq",
			},
		},
		Retry: RetryConfig{
			Default: RetryPolicy{
				Retries:    3,
				IntervalMS: 500,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: WELLSITE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("WELLSITE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("WELLSITE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("WELLSITE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("WELLSITE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Exchange topology
	if v := os.Getenv("WELLSITE_EXCHANGE_NAME"); v != "" {
		cfg.Exchange.Topology.ExchangeName = v
	}
	if v := os.Getenv("WELLSITE_EXCHANGE_TYPE"); v != "" {
		cfg.Exchange.Topology.ExchangeType = v
	}
	if v := os.Getenv("WELLSITE_EXCHANGE_DISCRIMINATOR"); v != "" {
		cfg.Exchange.Discriminator = v
	}
	if v := os.Getenv("WELLSITE_EXCHANGE_CONSUMERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Exchange.Consumers = n
		}
	}

	// Retry
	if v := os.Getenv("WELLSITE_RETRY_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.Default.Retries = n
		}
	}
	if v := os.Getenv("WELLSITE_RETRY_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.Default.IntervalMS = n
		}
	}

	// API
	if v := os.Getenv("WELLSITE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("WELLSITE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	errs = append(errs, c.Exchange.Topology.validate("exchange.topology")...)
	errs = append(errs, c.Publisher.Topology.validate("publisher.topology")...)

	if c.Exchange.Consumers < 1 {
		errs = append(errs, "exchange.consumers must be at least 1")
	}
	if c.Exchange.Prefetch < 1 {
		errs = append(errs, "exchange.prefetch must be at least 1")
	}

	if c.Retry.Default.Retries < 1 {
		errs = append(errs, "retry.default.retries must be at least 1")
	}
	if c.Retry.Default.IntervalMS < 0 {
		errs = append(errs, "retry.default.interval_ms cannot be negative")
	}
	for name, p := range c.Retry.Overrides {
		if p.Retries < 1 {
			errs = append(errs, fmt.Sprintf("retry.overrides.%s.retries must be at least 1", name))
		}
		if p.IntervalMS < 0 {
			errs = append(errs, fmt.Sprintf("retry.overrides.%s.interval_ms cannot be negative", name))
		}
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validate checks a topology section; prefix names the section in messages.
func (t TopologyConfig) validate(prefix string) []string {
	var errs []string
	if t.ExchangeName == "" {
		errs = append(errs, prefix+".exchange_name is required")
	}
	switch t.ExchangeType {
	case ExchangeTypeFanout, ExchangeTypeTopic:
	default:
		errs = append(errs, prefix+".exchange_type must be fanout or topic")
	}
	if t.DeadLetterExchange == "" {
		errs = append(errs, prefix+".dead_letter_exchange is required")
	}
	if t.DeadLetterExchange == t.ExchangeName && t.ExchangeName != "" {
		errs = append(errs, prefix+".dead_letter_exchange must differ from exchange_name")
	}
	return errs
}

// RetryFor returns the retry policy for a manager responsibility,
// falling back to the default policy.
func (r RetryConfig) RetryFor(responsibility string) RetryPolicy {
	if p, ok := r.Overrides[responsibility]; ok {
		return p
	}
	return r.Default
}

// Interval returns the inter-attempt delay as a Duration.
func (p RetryPolicy) Interval() time.Duration {
	return time.Duration(p.IntervalMS) * time.Millisecond
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
