// Package config loads the application configuration from JSON, YAML, or
// BCL files. Sections map onto the server, storage, synthesis, and alert
// layers; zero values fall back to sensible defaults.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/oarkflow/bcl"
	"github.com/oarkflow/json"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Synthesis SynthesisConfig `json:"synthesis" yaml:"synthesis"`
	Alerts    AlertConfig     `json:"alerts" yaml:"alerts"`
}

// ServerConfig controls the HTTP API listener.
type ServerConfig struct {
	Addr          string `json:"addr" yaml:"addr"`
	BasicAuthUser string `json:"basic_auth_user,omitempty" yaml:"basic_auth_user,omitempty"`
	BasicAuthPass string `json:"basic_auth_pass,omitempty" yaml:"basic_auth_pass,omitempty"`
	CORSOrigins   string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
}

// StorageConfig points at the SQLite database. EncryptionKey enables
// at-rest encryption of connection configs; leave it empty only for
// throwaway setups.
type StorageConfig struct {
	Path          string `json:"path" yaml:"path"`
	EncryptionKey string `json:"encryption_key,omitempty" yaml:"encryption_key,omitempty"`
}

// SynthesisConfig configures the code generation backend.
type SynthesisConfig struct {
	BaseURL     string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKey      string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Model       string `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature string `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Timeout     string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// AlertConfig wires run notifications. Channels are enabled by presence.
type AlertConfig struct {
	Email         *EmailAlert `json:"email,omitempty" yaml:"email,omitempty"`
	SMS           *SMSAlert   `json:"sms,omitempty" yaml:"sms,omitempty"`
	OnFailureOnly bool        `json:"on_failure_only,omitempty" yaml:"on_failure_only,omitempty"`
}

type EmailAlert struct {
	Host        string   `json:"host" yaml:"host"`
	Port        int      `json:"port" yaml:"port"`
	Username    string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password    string   `json:"password,omitempty" yaml:"password,omitempty"`
	Encryption  string   `json:"encryption,omitempty" yaml:"encryption,omitempty"`
	FromAddress string   `json:"from_address" yaml:"from_address"`
	Recipients  []string `json:"recipients" yaml:"recipients"`
}

type SMSAlert struct {
	URL      string   `json:"url" yaml:"url"`
	SystemID string   `json:"system_id" yaml:"system_id"`
	Password string   `json:"password,omitempty" yaml:"password,omitempty"`
	From     string   `json:"from" yaml:"from"`
	To       []string `json:"to" yaml:"to"`
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a configuration document, trying JSON, YAML, and BCL in
// that order.
func Parse(data []byte) (*Config, error) {
	trimmed := strings.TrimSpace(string(data))
	var cfg Config
	if json.Unmarshal([]byte(trimmed), &cfg) == nil {
		return finish(&cfg)
	}
	cfg = Config{}
	if yaml.Unmarshal([]byte(trimmed), &cfg) == nil {
		return finish(&cfg)
	}
	cfg = Config{}
	if _, err := bcl.Unmarshal([]byte(trimmed), &cfg); err == nil {
		return finish(&cfg)
	}
	return nil, fmt.Errorf("unable to detect config format, please provide valid JSON, YAML, or BCL")
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/app.db"
	}
}

func (c *Config) Validate() error {
	if c.Alerts.Email != nil {
		e := c.Alerts.Email
		if e.Host == "" || e.FromAddress == "" || len(e.Recipients) == 0 {
			return fmt.Errorf("alerts.email requires host, from_address, and recipients")
		}
	}
	if c.Alerts.SMS != nil {
		s := c.Alerts.SMS
		if s.URL == "" || len(s.To) == 0 {
			return fmt.Errorf("alerts.sms requires url and to")
		}
	}
	if (c.Server.BasicAuthUser == "") != (c.Server.BasicAuthPass == "") {
		return fmt.Errorf("server basic auth requires both user and password")
	}
	return nil
}
