package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lotline/lotline/internal/notify"
	"github.com/lotline/lotline/internal/timer"
)

// Config is the YAML application configuration. The timer tunables are
// deliberately configurable: tolerance and cadence are empirical choices,
// not correctness properties.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	Notify struct {
		Channel string `yaml:"channel"`
	} `yaml:"notify"`

	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Timer struct {
		TickIntervalMs      int `yaml:"tick_interval_ms"`
		ReconcileIntervalMs int `yaml:"reconcile_interval_ms"`
		DriftToleranceSec   int `yaml:"drift_tolerance_sec"`
		PersistEverySec     int `yaml:"persist_every_sec"`
	} `yaml:"timer"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.ListenAddr == "" {
		config.ListenAddr = ":8080"
	}
	return &config, nil
}

// timerConfig merges the YAML tunables over the engine defaults.
func (c *Config) timerConfig() timer.Config {
	cfg := timer.DefaultConfig()
	if c.Timer.TickIntervalMs > 0 {
		cfg.TickInterval = time.Duration(c.Timer.TickIntervalMs) * time.Millisecond
	}
	if c.Timer.ReconcileIntervalMs > 0 {
		cfg.ReconcileInterval = time.Duration(c.Timer.ReconcileIntervalMs) * time.Millisecond
	}
	if c.Timer.DriftToleranceSec > 0 {
		cfg.DriftTolerance = c.Timer.DriftToleranceSec
	}
	if c.Timer.PersistEverySec > 0 {
		cfg.PersistEvery = c.Timer.PersistEverySec
	}
	return cfg
}

// listenerConfig builds the notify listener config.
func (c *Config) listenerConfig(dsn string) notify.ListenerConfig {
	cfg := notify.DefaultListenerConfig()
	cfg.DatabaseURL = dsn
	if c.Notify.Channel != "" {
		cfg.NotifyChannel = c.Notify.Channel
	}
	return cfg
}

// bridgeConfig builds the NATS bridge config.
func (c *Config) bridgeConfig() notify.BridgeConfig {
	cfg := notify.DefaultBridgeConfig()
	if c.NATS.URL != "" {
		cfg.URL = c.NATS.URL
	}
	if c.NATS.SubjectPrefix != "" {
		cfg.SubjectPrefix = c.NATS.SubjectPrefix
	}
	return cfg
}
