// Package config loads the presenced YAML configuration. Credentials and
// endpoints can be supplied or overridden through the environment so the
// config file itself stays secret-free.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr = ":9120"
	DefaultMaxRetries = 3
	DefaultDedupTTL   = 2 * time.Second
)

type Config struct {
	Stream   StreamConfig           `yaml:"stream"`
	API      APIConfig              `yaml:"api"`
	MQTT     MQTTConfig             `yaml:"mqtt"`
	NATS     NATSConfig             `yaml:"nats"`
	Lights   map[string]LightConfig `yaml:"lights"`
	Presence []ChannelGroupConfig   `yaml:"presence"`
}

// StreamConfig points at the camera/NVR alert stream.
type StreamConfig struct {
	URL        string `yaml:"url"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	MaxRetries int    `yaml:"max_retries"`
}

type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// MQTTConfig configures the light-switch broker. An empty broker URL selects
// the dry-run driver.
type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// NATSConfig enables event publishing when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// LightConfig binds a light name to its switch topics.
type LightConfig struct {
	CommandTopic string `yaml:"command_topic"`
	StateTopic   string `yaml:"state_topic"`
}

// ChannelGroupConfig applies one rule list to a set of camera channels.
type ChannelGroupConfig struct {
	Channels []int             `yaml:"channels"`
	Lights   []LightRuleConfig `yaml:"lights"`
}

// LightRuleConfig is one light rule: auto-off duration in seconds (0 = stay
// on) and optional [start, end] active windows in 4-digit 24-hour form.
type LightRuleConfig struct {
	Light      string   `yaml:"light"`
	Duration   int      `yaml:"duration"`
	ActiveTime [][2]int `yaml:"active_time"`
}

// Load reads and validates the config file, then applies env overrides.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv keeps the same variable names the original deployment used, plus
// broker credentials.
func (c *Config) applyEnv() {
	setFromEnv(&c.Stream.URL, "ISAPI_EVENT_URL")
	setFromEnv(&c.Stream.Username, "ISAPI_USERNAME")
	setFromEnv(&c.Stream.Password, "ISAPI_PASSWORD")
	setFromEnv(&c.MQTT.BrokerURL, "MQTT_BROKER_URL")
	setFromEnv(&c.MQTT.Username, "MQTT_USERNAME")
	setFromEnv(&c.MQTT.Password, "MQTT_PASSWORD")
	setFromEnv(&c.NATS.URL, "NATS_URL")
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) applyDefaults() {
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = DefaultListenAddr
	}
	if c.Stream.MaxRetries <= 0 {
		c.Stream.MaxRetries = DefaultMaxRetries
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		c.NATS.Subject = "presence.events"
	}
}

// Validate rejects configurations the daemon cannot start from. Per-channel
// duplicate-light checks are deliberately left to the presence engine, which
// owns that invariant.
func (c *Config) Validate() error {
	if c.Stream.URL == "" {
		return fmt.Errorf("config: stream.url (or ISAPI_EVENT_URL) is required")
	}

	for i, group := range c.Presence {
		if len(group.Channels) == 0 {
			return fmt.Errorf("config: presence group %d has no channels", i)
		}
		for _, rule := range group.Lights {
			if rule.Light == "" {
				return fmt.Errorf("config: presence group %d has a rule without a light name", i)
			}
			if _, ok := c.Lights[rule.Light]; !ok {
				return fmt.Errorf("config: presence group %d references undeclared light %q", i, rule.Light)
			}
			if rule.Duration < 0 {
				return fmt.Errorf("config: light %q has negative duration %d", rule.Light, rule.Duration)
			}
			for _, w := range rule.ActiveTime {
				if err := validateWindow(w); err != nil {
					return fmt.Errorf("config: light %q: %w", rule.Light, err)
				}
			}
		}
	}

	for name, lc := range c.Lights {
		if c.MQTT.BrokerURL != "" && lc.CommandTopic == "" {
			return fmt.Errorf("config: light %q has no command_topic", name)
		}
	}
	return nil
}

func validateWindow(w [2]int) error {
	for _, v := range w {
		if v < 0 || v > 2400 || v%100 > 59 {
			return fmt.Errorf("active_time value %04d is not a valid HHMM time", v)
		}
	}
	if w[0] > w[1] {
		return fmt.Errorf("active_time window [%04d, %04d] has start after end", w[0], w[1])
	}
	return nil
}
