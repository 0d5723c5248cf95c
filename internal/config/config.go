package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.huddle/config.toml.
type Config struct {
	DefaultProfile string             `toml:"default_profile"`
	Profiles       map[string]Profile `toml:"profiles"`
}

// Profile holds the backend endpoints, identity and tuning for one account.
type Profile struct {
	APIURL    string `toml:"api_url"`
	SocketURL string `toml:"socket_url"`
	UserID    string `toml:"user_id"`
	Token     string `toml:"token"`
	LogLevel  string `toml:"log_level"`
	PageSize  int    `toml:"page_size"`
	Timing    Timing `toml:"timing"`
}

// Timing groups every protocol window and interval.
type Timing struct {
	SendTimeout        Duration `toml:"send_timeout"`
	ProbeInterval      Duration `toml:"probe_interval"`
	PresenceStaleAfter Duration `toml:"presence_stale_after"`
	SearchDebounce     Duration `toml:"search_debounce"`
	ReconnectMin       Duration `toml:"reconnect_min"`
	ReconnectMax       Duration `toml:"reconnect_max"`
	RequestTimeout     Duration `toml:"request_timeout"`
}

// Duration is a time.Duration written as "10s", "300ms" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Defaults applied to zero-valued profile fields.
const (
	DefaultPageSize           = 20
	DefaultLogLevel           = "info"
	DefaultSendTimeout        = 10 * time.Second
	DefaultProbeInterval      = 5 * time.Second
	DefaultPresenceStaleAfter = 15 * time.Second
	DefaultSearchDebounce     = 300 * time.Millisecond
	DefaultReconnectMin       = time.Second
	DefaultReconnectMax       = 30 * time.Second
	DefaultRequestTimeout     = 15 * time.Second
)

// TokenEnv overrides the configured token when set.
const TokenEnv = "HUDDLE_TOKEN"

// Profile returns the named profile with defaults and environment overrides applied.
// A missing profile yields a profile made only of defaults.
func (c *Config) Profile(name string) Profile {
	var p Profile
	if c != nil && c.Profiles != nil {
		p = c.Profiles[name]
	}
	return p.WithDefaults()
}

// WithDefaults fills every zero field with its default.
func (p Profile) WithDefaults() Profile {
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.LogLevel == "" {
		p.LogLevel = DefaultLogLevel
	}
	if tok := os.Getenv(TokenEnv); tok != "" {
		p.Token = tok
	}
	t := &p.Timing
	orDefault(&t.SendTimeout, DefaultSendTimeout)
	orDefault(&t.ProbeInterval, DefaultProbeInterval)
	orDefault(&t.PresenceStaleAfter, DefaultPresenceStaleAfter)
	orDefault(&t.SearchDebounce, DefaultSearchDebounce)
	orDefault(&t.ReconnectMin, DefaultReconnectMin)
	orDefault(&t.ReconnectMax, DefaultReconnectMax)
	orDefault(&t.RequestTimeout, DefaultRequestTimeout)
	if t.ReconnectMax.Duration < t.ReconnectMin.Duration {
		t.ReconnectMax = t.ReconnectMin
	}
	return p
}

func orDefault(d *Duration, def time.Duration) {
	if d.Duration <= 0 {
		d.Duration = def
	}
}

// Load reads config from the given path. Returns nil config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
