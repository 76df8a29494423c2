// Package config loads the panel CLI configuration from a YAML file, an
// optional .env file and PANEL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lightforgemedia/go-panelsync/pkg/backoff"
	"github.com/lightforgemedia/go-panelsync/pkg/client"
)

// Environment variables read by Load.
const (
	EnvConfig      = "PANEL_CONFIG"
	EnvURL         = "PANEL_URL"
	EnvInstanceID  = "PANEL_INSTANCE_ID"
	EnvLogLevel    = "PANEL_LOG_LEVEL"
	EnvMetricsAddr = "PANEL_METRICS_ADDR"
	EnvNATSURL     = "PANEL_NATS_URL"
	EnvNATSPrefix  = "PANEL_NATS_PREFIX"
	EnvQueueLimit  = "PANEL_QUEUE_LIMIT"
)

var (
	ErrNoURL     = errors.New("config: url is required")
	ErrBadScheme = errors.New("config: url must use ws or wss")
)

// Duration is a time.Duration that reads "1.5s"-style strings from YAML.
type Duration time.Duration

// UnmarshalYAML accepts a Go duration string or a number of seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration in Go syntax.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Backoff mirrors backoff.Policy. Zero fields keep the library default.
type Backoff struct {
	Base        Duration `yaml:"base"`
	MaxDelay    Duration `yaml:"max_delay"`
	MaxAttempts int      `yaml:"max_attempts"`
}

// Client holds the tunables passed to the session client. Zero fields keep
// the library default.
type Client struct {
	CommandTimeout  Duration `yaml:"command_timeout"`
	Keepalive       Duration `yaml:"keepalive"`
	HealthInterval  Duration `yaml:"health_interval"`
	StaleAfter      Duration `yaml:"stale_after"`
	SettleDelay     Duration `yaml:"settle_delay"`
	ControlInterval Duration `yaml:"control_interval"`
	QueryInterval   Duration `yaml:"query_interval"`
	StateWindow     Duration `yaml:"state_window"`
	StateMaxAge     Duration `yaml:"state_max_age"`
	QueueLimit      int      `yaml:"queue_limit"`
	Backoff         Backoff  `yaml:"backoff"`
}

// NATS configures the event mirror. An empty URL disables it.
type NATS struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// Config is the panel CLI configuration.
type Config struct {
	URL         string `yaml:"url"`
	InstanceID  string `yaml:"instance_id"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
	NATS        NATS   `yaml:"nats"`
	Client      Client `yaml:"client"`

	// Path is the file the config was read from, if any.
	Path string `yaml:"-"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{LogLevel: "info"}
}

// LoadDotEnv loads environment variables from path. A missing file is not an
// error so .env files stay optional.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Load reads path (or $PANEL_CONFIG when path is empty), then applies
// environment overrides and validates the result. A missing file is only an
// error when it was named explicitly.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if path == "" {
		path = os.Getenv(EnvConfig)
		explicit = path != ""
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
			cfg.Path = path
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	setString(&c.URL, EnvURL)
	setString(&c.InstanceID, EnvInstanceID)
	setString(&c.LogLevel, EnvLogLevel)
	setString(&c.MetricsAddr, EnvMetricsAddr)
	setString(&c.NATS.URL, EnvNATSURL)
	setString(&c.NATS.Prefix, EnvNATSPrefix)
	if v := os.Getenv(EnvQueueLimit); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvQueueLimit, err)
		}
		c.Client.QueueLimit = n
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// Validate checks the fields the CLI cannot run without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return ErrNoURL
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("config: url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: %q", ErrBadScheme, u.Scheme)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Level returns the configured log level, info when unset or invalid.
func (c Config) Level() slog.Level {
	l, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: log_level: %w", err)
	}
	return l, nil
}

// ClientOptions overlays the configured tunables on base.
func (c Config) ClientOptions(base client.Options) client.Options {
	o := base
	if c.InstanceID != "" {
		o.InstanceID = c.InstanceID
	}
	setDuration(&o.CommandTimeout, c.Client.CommandTimeout)
	setDuration(&o.KeepaliveInterval, c.Client.Keepalive)
	setDuration(&o.HealthInterval, c.Client.HealthInterval)
	setDuration(&o.StaleAfter, c.Client.StaleAfter)
	setDuration(&o.SettleDelay, c.Client.SettleDelay)
	setDuration(&o.ControlInterval, c.Client.ControlInterval)
	setDuration(&o.QueryInterval, c.Client.QueryInterval)
	setDuration(&o.StateWindow, c.Client.StateWindow)
	setDuration(&o.StateMaxAge, c.Client.StateMaxAge)
	if c.Client.QueueLimit > 0 {
		o.QueueLimit = c.Client.QueueLimit
	}
	o.Backoff = c.Client.Backoff.policy(o.Backoff)
	return o
}

func (b Backoff) policy(p backoff.Policy) backoff.Policy {
	setDuration(&p.Base, b.Base)
	setDuration(&p.MaxDelay, b.MaxDelay)
	if b.MaxAttempts > 0 {
		p.MaxAttempts = b.MaxAttempts
	}
	return p
}

func setDuration(dst *time.Duration, d Duration) {
	if d > 0 {
		*dst = d.Std()
	}
}
