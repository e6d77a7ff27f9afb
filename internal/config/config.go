package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// ErrNoConfig is returned when no config file is found.
var ErrNoConfig = errors.New("no shiplog config file found")

// Config is the parsed shiplog configuration.
type Config struct {
	// Store selects the document store backend.
	Store StoreConfig `yaml:"store" toml:"store" json:"store"`

	// Index controls index naming and rotation.
	Index IndexConfig `yaml:"index" toml:"index" json:"index"`

	// Spool tunes asynchronous log batching.
	Spool SpoolConfig `yaml:"spool" toml:"spool" json:"spool"`

	// Report describes the project being reported.
	Report ReportConfig `yaml:"report" toml:"report" json:"report"`

	// Notify holds notification channels. Unset channels are skipped.
	Notify NotifyConfig `yaml:"notify" toml:"notify" json:"notify"`

	// Archive is the object-storage target for pruned generations.
	Archive ArchiveConfig `yaml:"archive" toml:"archive" json:"archive"`
}

// StoreConfig is the document store connection.
type StoreConfig struct {
	// Backend is "sqlite" (default) or "postgres".
	Backend string `yaml:"backend" toml:"backend" json:"backend"`

	// DSN is the connection string. Defaults to shiplog.db in the
	// working directory for sqlite; required for postgres.
	DSN string `yaml:"dsn" toml:"dsn" json:"dsn"`
}

// IndexConfig is index naming and size-based rotation.
type IndexConfig struct {
	// Prefix names the index family. Default: shiplog.
	Prefix string `yaml:"prefix" toml:"prefix" json:"prefix"`

	// MaxSize rotates a write generation once it grows past this size,
	// e.g. "512mb". Zero uses the built-in 1gb default.
	MaxSize Size `yaml:"max_size" toml:"max_size" json:"max_size"`

	// Per-class overrides. Zero falls back to MaxSize.
	BuildMax   Size `yaml:"build_max" toml:"build_max" json:"build_max"`
	FailureMax Size `yaml:"failure_max" toml:"failure_max" json:"failure_max"`
	LogMax     Size `yaml:"log_max" toml:"log_max" json:"log_max"`
}

// Limits resolves the per-class rotation thresholds in bytes. A class
// without its own limit falls back to MaxSize; zero means the built-in
// default applies downstream.
func (c IndexConfig) Limits() (build, failure, logs int64) {
	pick := func(s Size) int64 {
		if s > 0 {
			return int64(s)
		}
		return int64(c.MaxSize)
	}
	return pick(c.BuildMax), pick(c.FailureMax), pick(c.LogMax)
}

// SpoolConfig is the log batching policy.
type SpoolConfig struct {
	// Capacity is the batch size and queue depth. Default: 100.
	Capacity int `yaml:"capacity" toml:"capacity" json:"capacity"`

	// Interval is the maximum age of a partial batch. Default: 1s.
	Interval Duration `yaml:"interval" toml:"interval" json:"interval"`
}

// ReportConfig identifies the project and where its test reports live.
type ReportConfig struct {
	// Org and Project override what the git remote yields.
	Org     string `yaml:"org" toml:"org" json:"org"`
	Project string `yaml:"project" toml:"project" json:"project"`

	// Reports are glob patterns for JUnit XML files, relative to the
	// working directory. Default: **/surefire-reports/*.xml.
	Reports []string `yaml:"reports" toml:"reports" json:"reports"`

	// LinkBase is the URL prefix for build links in notifications,
	// e.g. https://builds.example.com/b. Empty disables links.
	LinkBase string `yaml:"link_base" toml:"link_base" json:"link_base"`
}

// NotifyConfig is the set of notification channels.
type NotifyConfig struct {
	Webhook WebhookConfig `yaml:"webhook" toml:"webhook" json:"webhook"`
	Email   EmailConfig   `yaml:"email" toml:"email" json:"email"`
}

// WebhookConfig posts a JSON message to a chat webhook.
type WebhookConfig struct {
	URL      string `yaml:"url" toml:"url" json:"url"`
	Token    string `yaml:"token" toml:"token" json:"token"`
	Template string `yaml:"template" toml:"template" json:"template"`
}

// EmailConfig sends the build summary over SMTP.
type EmailConfig struct {
	// Addr is the SMTP server as host:port.
	Addr     string   `yaml:"addr" toml:"addr" json:"addr"`
	From     string   `yaml:"from" toml:"from" json:"from"`
	To       []string `yaml:"to" toml:"to" json:"to"`
	Username string   `yaml:"username" toml:"username" json:"username"`
	Password string   `yaml:"password" toml:"password" json:"password"`
	Template string   `yaml:"template" toml:"template" json:"template"`
}

// ArchiveConfig is an S3-compatible target for pruned generations.
type ArchiveConfig struct {
	// Endpoint overrides the AWS endpoint for S3-compatible stores.
	Endpoint        string `yaml:"endpoint" toml:"endpoint" json:"endpoint"`
	Region          string `yaml:"region" toml:"region" json:"region"`
	Bucket          string `yaml:"bucket" toml:"bucket" json:"bucket"`
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key" json:"secret_access_key"`

	// Keep is how many generations prune retains per class. Default: 3.
	Keep int `yaml:"keep" toml:"keep" json:"keep"`
}

// Duration wraps time.Duration for custom parsing.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(dur)
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// Size wraps a byte count for custom parsing. Accepts "512mb", "1gb",
// "64KiB" or a bare number of bytes, always as a string.
type Size int64

func (s Size) Bytes() int64 {
	return int64(s)
}

func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	var str string
	if err := node.Decode(&str); err != nil {
		return err
	}
	return s.set(str)
}

func (s *Size) UnmarshalText(text []byte) error {
	return s.set(string(text))
}

func (s *Size) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	return s.set(str)
}

func (s *Size) set(str string) error {
	n, err := humanize.ParseBytes(str)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", str, err)
	}
	*s = Size(n)
	return nil
}

// Load finds and parses a shiplog config file from the given directory.
func Load(dir string) (*Config, string, error) {
	candidates := []struct {
		name   string
		parser func([]byte, *Config) error
	}{
		{".shiplog.yaml", parseYAML},
		{".shiplog.yml", parseYAML},
		{".shiplog.toml", parseTOML},
		{".shiplog.json", parseJSON},
		{"shiplog.yaml", parseYAML},
		{"shiplog.yml", parseYAML},
		{"shiplog.toml", parseTOML},
		{"shiplog.json", parseJSON},
	}

	for _, c := range candidates {
		path := filepath.Join(dir, c.name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue // File doesn't exist, try next
		}

		var cfg Config
		if err := c.parser(data, &cfg); err != nil {
			return nil, c.name, fmt.Errorf("parse %s: %w", c.name, err)
		}

		// Env overlays run before validation so an override cannot
		// smuggle in an invalid value.
		cfg.applyEnv()

		if err := cfg.Validate(); err != nil {
			return nil, c.name, fmt.Errorf("validate %s: %w", c.name, err)
		}

		cfg.applyDefaults()

		return &cfg, c.name, nil
	}

	return nil, "", ErrNoConfig
}

// Default returns the configuration used when no config file exists:
// embedded SQLite, built-in rotation limits, no notifications.
func Default() *Config {
	var cfg Config
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg
}

func parseYAML(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Strict: error on unknown fields
	return decoder.Decode(cfg)
}

func parseTOML(data []byte, cfg *Config) error {
	_, err := toml.Decode(string(data), cfg)
	return err
}

func parseJSON(data []byte, cfg *Config) error {
	return json.Unmarshal(data, cfg)
}

// Validate checks the config for errors.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && c.Store.DSN == "" {
		return errors.New("store: dsn is required for postgres")
	}

	if c.Spool.Capacity < 0 {
		return errors.New("spool: capacity must not be negative")
	}
	if c.Spool.Interval < 0 {
		return errors.New("spool: interval must not be negative")
	}

	if len(c.Notify.Email.To) > 0 {
		if c.Notify.Email.Addr == "" {
			return errors.New("notify.email: addr is required")
		}
		if c.Notify.Email.From == "" {
			return errors.New("notify.email: from is required")
		}
	}

	if c.Archive.Keep < 0 {
		return errors.New("archive: keep must not be negative")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Store.DSN == "" && (c.Store.Backend == "" || c.Store.Backend == "sqlite") {
		c.Store.DSN = "shiplog.db"
	}
	if c.Index.Prefix == "" {
		c.Index.Prefix = "shiplog"
	}
	if c.Spool.Capacity == 0 {
		c.Spool.Capacity = 100
	}
	if c.Spool.Interval == 0 {
		c.Spool.Interval = Duration(time.Second)
	}
	if len(c.Report.Reports) == 0 {
		c.Report.Reports = []string{"**/surefire-reports/*.xml"}
	}
	if c.Archive.Keep == 0 {
		c.Archive.Keep = 3
	}
}

// applyEnv overlays SHIPLOG_* environment variables so connection
// settings and secrets can stay out of config files.
func (c *Config) applyEnv() {
	if v := os.Getenv("SHIPLOG_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("SHIPLOG_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("SHIPLOG_WEBHOOK_TOKEN"); v != "" {
		c.Notify.Webhook.Token = v
	}
	if v := os.Getenv("SHIPLOG_SMTP_PASSWORD"); v != "" {
		c.Notify.Email.Password = v
	}
	if v := os.Getenv("SHIPLOG_ARCHIVE_ACCESS_KEY_ID"); v != "" {
		c.Archive.AccessKeyID = v
	}
	if v := os.Getenv("SHIPLOG_ARCHIVE_SECRET_ACCESS_KEY"); v != "" {
		c.Archive.SecretAccessKey = v
	}
}
