package config

import (
	"time"

	"github.com/agentos-labs/agentstate/internal/lock"
	"github.com/agentos-labs/agentstate/internal/recovery"
	"github.com/agentos-labs/agentstate/internal/ttl"
	asv1 "github.com/agentos-labs/agentstate/pkg/agentstate/v1"
)

// Defaults applied when a field is absent from the config file.
const (
	DefaultBaseDir   = ".agent-os"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	// FileName is the config file looked up inside the base directory.
	FileName = "agentstate.yaml"
)

// Constants for the accepted log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config represents the agentstate YAML configuration file. Every field is
// optional; getters fall back to the defaults above and to the package
// defaults of the lock, recovery and ttl components.
type Config struct {
	BaseDir      string          `yaml:"base_dir,omitempty"`
	StateVersion string          `yaml:"state_version,omitempty"`
	Lock         *LockConfig     `yaml:"lock,omitempty"`
	Recovery     *RecoveryConfig `yaml:"recovery,omitempty"`
	Cache        *CacheConfig    `yaml:"cache,omitempty"`
	Log          *LogConfig      `yaml:"log,omitempty"`

	// FilePath records where the config was read from. It is not parsed from
	// the YAML.
	FilePath string `yaml:"-"`
}

// LockConfig tunes the lock coordinator. Durations are Go duration strings.
type LockConfig struct {
	Timeout      string `yaml:"timeout,omitempty"`
	PollInterval string `yaml:"poll_interval,omitempty"`
}

// RecoveryConfig tunes backup retention.
type RecoveryConfig struct {
	Retain *int `yaml:"retain,omitempty"`
}

// CacheConfig tunes sliding expiration of cache entries.
type CacheConfig struct {
	ExtensionWindow   string `yaml:"extension_window,omitempty"`
	ExtensionDuration string `yaml:"extension_duration,omitempty"`
	MaxExtensions     *int   `yaml:"max_extensions,omitempty"`
}

// LogConfig selects the log level and handler format.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Default returns an empty Config, which resolves every getter to its default.
func Default() *Config {
	return &Config{}
}

// GetBaseDir returns the configured base directory or ".agent-os".
func (c *Config) GetBaseDir() string {
	if c.BaseDir != "" {
		return c.BaseDir
	}
	return DefaultBaseDir
}

// GetStateVersion returns the configured state_version or the built-in one.
func (c *Config) GetStateVersion() string {
	if c.StateVersion != "" {
		return c.StateVersion
	}
	return asv1.DefaultStateVersion
}

// GetLockTimeout returns the configured lock timeout or the default (30 seconds).
func (c *Config) GetLockTimeout() time.Duration {
	if c.Lock != nil {
		if d, ok := positiveDuration(c.Lock.Timeout); ok {
			return d
		}
	}
	return lock.DefaultTimeout
}

// GetLockPollInterval returns the configured poll interval or the default (100ms).
func (c *Config) GetLockPollInterval() time.Duration {
	if c.Lock != nil {
		if d, ok := positiveDuration(c.Lock.PollInterval); ok {
			return d
		}
	}
	return lock.DefaultPollInterval
}

// GetRetain returns the number of backups kept per key, defaulting to 5.
func (c *Config) GetRetain() int {
	if c.Recovery != nil && c.Recovery.Retain != nil && *c.Recovery.Retain >= 1 {
		return *c.Recovery.Retain
	}
	return recovery.DefaultRetain
}

// GetCachePolicy returns the sliding expiration policy with defaults filled in.
func (c *Config) GetCachePolicy() asv1.CachePolicy {
	policy := asv1.CachePolicy{
		ExtensionWindow:   ttl.DefaultExtensionWindow,
		ExtensionDuration: ttl.DefaultExtensionDuration,
		MaxExtensions:     ttl.DefaultMaxExtensions,
	}
	if c.Cache == nil {
		return policy
	}
	if d, ok := positiveDuration(c.Cache.ExtensionWindow); ok {
		policy.ExtensionWindow = d
	}
	if d, ok := positiveDuration(c.Cache.ExtensionDuration); ok {
		policy.ExtensionDuration = d
	}
	if c.Cache.MaxExtensions != nil && *c.Cache.MaxExtensions >= 1 {
		policy.MaxExtensions = *c.Cache.MaxExtensions
	}
	return policy
}

// GetLogLevel returns the configured log level or "info".
func (c *Config) GetLogLevel() string {
	if c.Log != nil && c.Log.Level != "" {
		return c.Log.Level
	}
	return DefaultLogLevel
}

// GetLogFormat returns the configured log format or "text".
func (c *Config) GetLogFormat() string {
	if c.Log != nil && c.Log.Format != "" {
		return c.Log.Format
	}
	return DefaultLogFormat
}

// ToStoreOptions converts the resolved settings into store options.
func (c *Config) ToStoreOptions() []asv1.StoreOption {
	return []asv1.StoreOption{
		asv1.WithStateVersion(c.GetStateVersion()),
		asv1.WithLockTimeout(c.GetLockTimeout()),
		asv1.WithLockPollInterval(c.GetLockPollInterval()),
		asv1.WithBackupRetention(c.GetRetain()),
		asv1.WithCachePolicy(c.GetCachePolicy()),
	}
}

func positiveDuration(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
