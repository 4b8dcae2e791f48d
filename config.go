package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultPort         = 50000
	defaultScanInterval = 10
	defaultPollInterval = 10
	minPollInterval     = 5
	maxPollInterval     = 60
)

// Config is the daemon configuration, loaded from a TOML file. Absent
// fields keep their defaults.
type Config struct {
	Listen       string           `toml:"listen"`
	LogFile      string           `toml:"log_file"`
	LogLevel     string           `toml:"log_level"`
	ScanInterval int              `toml:"scan_interval"`
	PollInterval int              `toml:"poll_interval"`
	Zone2Enabled bool             `toml:"zone2_enabled"`
	Receivers    []ReceiverConfig `toml:"receivers"`
	MQTT         MQTTConfig       `toml:"mqtt"`
}

type ReceiverConfig struct {
	Name string `toml:"name"`
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type MQTTConfig struct {
	Broker      string `toml:"broker"`
	TopicPrefix string `toml:"topic_prefix"`
}

func defaultConfig() Config {
	return Config{
		Listen:       ":8080",
		LogFile:      "arcam-control.log",
		LogLevel:     "info",
		ScanInterval: defaultScanInterval,
		PollInterval: defaultPollInterval,
		Zone2Enabled: true,
		MQTT:         MQTTConfig{TopicPrefix: "arcam"},
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.PollInterval < minPollInterval || c.PollInterval > maxPollInterval {
		return fmt.Errorf("poll_interval %d out of range %d..%d",
			c.PollInterval, minPollInterval, maxPollInterval)
	}
	if c.ScanInterval < 1 {
		return fmt.Errorf("scan_interval %d must be at least 1 second", c.ScanInterval)
	}
	if len(c.Receivers) == 0 {
		return errors.New("at least one [[receivers]] entry is required")
	}
	for i := range c.Receivers {
		r := &c.Receivers[i]
		if r.Host == "" {
			return fmt.Errorf("receivers[%d]: host is required", i)
		}
		if r.Port == 0 {
			r.Port = defaultPort
		}
		if r.Name == "" {
			r.Name = r.Host
		}
	}
	return nil
}
