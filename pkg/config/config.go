// Package config loads the poller configuration: built-in defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lejer/eon-client/pkg/logging"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultUpdateInterval = 3600
	DefaultPort           = 8080
	DefaultRedisURL       = "localhost:6379"
	DefaultLogLevel       = "info"
	DefaultTopicPrefix    = "eon"
	DefaultDatabasePath   = "eon-readings.db"

	// MinUpdateInterval keeps the poller from hammering the API.
	MinUpdateInterval = 60
)

// ErrMissingCredentials is returned by Validate when username or password is empty.
var ErrMissingCredentials = errors.New("missing E.ON credentials")

// MQTT configures publishing of flattened values.
type MQTT struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	Retain      bool   `yaml:"retain"`
}

// Enabled reports whether a broker is configured.
func (m MQTT) Enabled() bool {
	return m.Broker != ""
}

// Config is the poller configuration.
type Config struct {
	Username           string   `yaml:"username"`
	Password           string   `yaml:"password"`
	BaseURL            string   `yaml:"base_url"`
	SubscriptionKey    string   `yaml:"subscription_key"`
	CollectiveContract string   `yaml:"collective_contract"`
	UpdateInterval     int      `yaml:"update_interval"`
	RedisURL           string   `yaml:"redis_url"`
	Port               int      `yaml:"port"`
	LogLevel           string   `yaml:"log_level"`
	LogPretty          bool     `yaml:"log_pretty"`
	DatabasePath       string   `yaml:"database_path"`
	CORSOrigins        []string `yaml:"cors_origins"`
	MQTT               MQTT     `yaml:"mqtt"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		UpdateInterval: DefaultUpdateInterval,
		RedisURL:       DefaultRedisURL,
		Port:           DefaultPort,
		LogLevel:       DefaultLogLevel,
		DatabasePath:   DefaultDatabasePath,
		CORSOrigins:    []string{"*"},
		MQTT:           MQTT{TopicPrefix: DefaultTopicPrefix, Retain: true},
	}
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("EON_USERNAME", &c.Username)
	str("EON_PASSWORD", &c.Password)
	str("EON_BASE_URL", &c.BaseURL)
	str("EON_SUBSCRIPTION_KEY", &c.SubscriptionKey)
	str("EON_COLLECTIVE_CONTRACT", &c.CollectiveContract)
	str("REDIS_URL", &c.RedisURL)
	str("LOG_LEVEL", &c.LogLevel)
	str("DATABASE_PATH", &c.DatabasePath)
	str("MQTT_BROKER", &c.MQTT.Broker)
	str("MQTT_USERNAME", &c.MQTT.Username)
	str("MQTT_PASSWORD", &c.MQTT.Password)
	str("MQTT_TOPIC_PREFIX", &c.MQTT.TopicPrefix)

	if v, ok := lookup("EON_UPDATE_INTERVAL"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EON_UPDATE_INTERVAL: %w", err)
		}
		c.UpdateInterval = n
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Port = n
	}
	if v, ok := lookup("LOG_PRETTY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOG_PRETTY: %w", err)
		}
		c.LogPretty = b
	}
	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		c.CORSOrigins = splitList(v)
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) applyDefaults() {
	if c.UpdateInterval == 0 {
		c.UpdateInterval = DefaultUpdateInterval
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.RedisURL == "" {
		c.RedisURL = DefaultRedisURL
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = DefaultTopicPrefix
	}
}

// Interval returns the update interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.UpdateInterval) * time.Second
}

// SnapshotTTL is how long a snapshot survives without a refresh: three
// update intervals.
func (c *Config) SnapshotTTL() time.Duration {
	return 3 * c.Interval()
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// Validate checks the configuration and reports every problem at once.
// Missing credentials wrap ErrMissingCredentials.
func (c *Config) Validate() error {
	var problems []string
	missingCredentials := false

	if c.Username == "" {
		problems = append(problems, "username is required (EON_USERNAME)")
		missingCredentials = true
	}
	if c.Password == "" {
		problems = append(problems, "password is required (EON_PASSWORD)")
		missingCredentials = true
	}

	if c.BaseURL != "" {
		if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, fmt.Sprintf("base url must be absolute, got: %q", c.BaseURL))
		}
	}

	if c.UpdateInterval < MinUpdateInterval {
		problems = append(problems, fmt.Sprintf("update interval must be at least %d seconds, got: %d", MinUpdateInterval, c.UpdateInterval))
	}

	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port must be between 1-65535, got: %d", c.Port))
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, fmt.Sprintf("log level must be debug, info, warn or error, got: %q", c.LogLevel))
	}

	if c.CollectiveContract != "" && !isDigits(c.CollectiveContract) {
		problems = append(problems, fmt.Sprintf("collective contract must be numeric, got: %q", c.CollectiveContract))
	}

	if c.MQTT.Enabled() {
		if u, err := url.Parse(c.MQTT.Broker); err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, fmt.Sprintf("mqtt broker must be a URL like tcp://host:1883, got: %q", c.MQTT.Broker))
		}
	}

	if len(problems) == 0 {
		return nil
	}

	err := fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	if missingCredentials {
		return fmt.Errorf("%w: %w", ErrMissingCredentials, err)
	}
	return err
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
