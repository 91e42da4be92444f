package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/portalwatch/probe"
)

// fileConfig is the YAML configuration of the portalwatch daemon.
type fileConfig struct {
	Listen   string `yaml:"listen"`
	Database string `yaml:"database"`
	VaultKey string `yaml:"vault_key"`

	// APIToken protects the control API; AgentSecret signs the extraction
	// agent's inbound webhooks. Both may be empty on a localhost-only bind.
	APIToken    string `yaml:"api_token"`
	AgentSecret string `yaml:"agent_secret"`

	Portal struct {
		HomeURL string      `yaml:"home_url"`
		Rules   probe.Rules `yaml:"rules"`
	} `yaml:"portal"`

	Browser struct {
		Remote          string        `yaml:"remote"`
		NavigateTimeout time.Duration `yaml:"navigate_timeout"`
	} `yaml:"browser"`

	Schedule struct {
		RetryDelay  time.Duration `yaml:"retry_delay"`
		Cooldown    time.Duration `yaml:"cooldown"`
		ResumeAfter time.Duration `yaml:"resume_after"`
	} `yaml:"schedule"`

	Notify struct {
		WebhookURL    string `yaml:"webhook_url"`
		WebhookSecret string `yaml:"webhook_secret"`
	} `yaml:"notify"`
}

// loadConfig reads a YAML configuration file and applies defaults.
func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if cfg.Portal.HomeURL == "" {
		return nil, fmt.Errorf("config: portal.home_url is required")
	}
	return &cfg, nil
}

func (c *fileConfig) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8642"
	}
	if c.Database == "" {
		c.Database = "portalwatch.db"
	}
	if c.VaultKey == "" {
		c.VaultKey = "portalwatch.key"
	}
}
