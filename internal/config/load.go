package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	aserrors "github.com/agentos-labs/agentstate/pkg/agentstate/v1/errors"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvBaseDir     = "AGENTSTATE_BASE_DIR"
	EnvLogLevel    = "AGENTSTATE_LOG_LEVEL"
	EnvLogFormat   = "AGENTSTATE_LOG_FORMAT"
	EnvLockTimeout = "AGENTSTATE_LOCK_TIMEOUT"
)

// LoadConfig validates configYAML against the embedded schema, decodes it
// strictly and applies the logical checks. Empty input yields the default
// config.
func LoadConfig(configYAML []byte, filePathHint string) (*Config, error) {
	cfg := Default()
	cfg.FilePath = filePathHint
	if len(strings.TrimSpace(string(configYAML))) == 0 {
		return cfg, nil
	}

	if err := ValidateWithSchema(configYAML); err != nil {
		return nil, aserrors.NewConfigError(fmt.Sprintf("config '%s' failed schema validation", filePathHint), err)
	}
	if err := yamlUnmarshalStrict(configYAML, cfg); err != nil {
		return nil, aserrors.NewConfigError(fmt.Sprintf("failed to parse config YAML '%s'", filePathHint), err)
	}

	if validationErrs := ValidateConfig(cfg); len(validationErrs) > 0 {
		var errorMessages []string
		for _, vErr := range validationErrs {
			errorMessages = append(errorMessages, vErr.Error())
		}
		combinedMessage := fmt.Sprintf("config '%s' has %d validation error(s):\n- %s",
			filePathHint, len(errorMessages), strings.Join(errorMessages, "\n- "))
		return nil, aserrors.NewValidationError(combinedMessage, validationErrs[0])
	}
	return cfg, nil
}

// LoadConfigFromFile reads and loads the config at filePath.
func LoadConfigFromFile(filePath string) (*Config, error) {
	if filePath == "" {
		return nil, aserrors.NewConfigError("config file path cannot be empty", nil)
	}
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, aserrors.NewConfigError(fmt.Sprintf("failed to get absolute path for '%s'", filePath), err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, aserrors.NewConfigError(fmt.Sprintf("failed to read config file '%s'", absPath), err)
	}
	return LoadConfig(data, absPath)
}

// Resolve loads the explicit config file when one is given. Otherwise it
// looks for agentstate.yaml inside baseDir and returns the default config
// when that file does not exist.
func Resolve(explicitPath, baseDir string) (*Config, error) {
	if explicitPath != "" {
		return LoadConfigFromFile(explicitPath)
	}
	if baseDir == "" {
		baseDir = DefaultBaseDir
	}
	candidate := filepath.Join(baseDir, FileName)
	if _, err := os.Stat(candidate); errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return LoadConfigFromFile(candidate)
}

// ApplyEnv overrides settings from the environment. lookup is usually
// os.LookupEnv. Unset or empty variables are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvBaseDir); ok {
		c.BaseDir = v
	}
	if v, ok := get(EnvLogLevel); ok {
		c.ensureLog().Level = v
	}
	if v, ok := get(EnvLogFormat); ok {
		if v != LogFormatText && v != LogFormatJSON {
			return aserrors.NewConfigError(fmt.Sprintf("%s must be '%s' or '%s', got '%s'", EnvLogFormat, LogFormatText, LogFormatJSON, v), nil)
		}
		c.ensureLog().Format = v
	}
	if v, ok := get(EnvLockTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return aserrors.NewConfigError(fmt.Sprintf("%s must be a positive duration, got '%s'", EnvLockTimeout, v), err)
		}
		if c.Lock == nil {
			c.Lock = &LockConfig{}
		}
		c.Lock.Timeout = v
	}
	return nil
}

func (c *Config) ensureLog() *LogConfig {
	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	return c.Log
}

// yamlUnmarshalStrict rejects fields not defined on the target struct.
func yamlUnmarshalStrict(in []byte, out interface{}) error {
	decoder := yaml.NewDecoder(strings.NewReader(string(in)))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("YAML parsing error: %w", err)
	}
	return nil
}
