package config

import (
	"fmt"
	"strings"
	"time"

	aserrors "github.com/agentos-labs/agentstate/pkg/agentstate/v1/errors"
)

// ValidateConfig performs the checks the JSON schema cannot express and
// returns every violation found.
func ValidateConfig(c *Config) []error {
	var errs []error

	if c.StateVersion != "" && !ValidStateVersion(c.StateVersion) {
		errs = append(errs, aserrors.NewValidationError(fmt.Sprintf("state_version '%s' is not a semantic version", c.StateVersion), nil))
	}
	if strings.TrimSpace(c.BaseDir) == "" && c.BaseDir != "" {
		errs = append(errs, aserrors.NewValidationError("base_dir cannot be blank", nil))
	}

	if c.Lock != nil {
		errs = appendDurationErr(errs, "lock.timeout", c.Lock.Timeout)
		errs = appendDurationErr(errs, "lock.poll_interval", c.Lock.PollInterval)
	}
	if c.Recovery != nil && c.Recovery.Retain != nil && *c.Recovery.Retain < 1 {
		errs = append(errs, aserrors.NewValidationError("recovery.retain must be at least 1", nil))
	}
	if c.Cache != nil {
		errs = appendDurationErr(errs, "cache.extension_window", c.Cache.ExtensionWindow)
		errs = appendDurationErr(errs, "cache.extension_duration", c.Cache.ExtensionDuration)
		if c.Cache.MaxExtensions != nil && *c.Cache.MaxExtensions < 1 {
			errs = append(errs, aserrors.NewValidationError("cache.max_extensions must be at least 1", nil))
		}
	}
	if c.Log != nil && c.Log.Format != "" && c.Log.Format != LogFormatText && c.Log.Format != LogFormatJSON {
		errs = append(errs, aserrors.NewValidationError(fmt.Sprintf("log.format must be '%s' or '%s', got '%s'", LogFormatText, LogFormatJSON, c.Log.Format), nil))
	}
	return errs
}

func appendDurationErr(errs []error, field, value string) []error {
	if value == "" {
		return errs
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, aserrors.NewValidationError(fmt.Sprintf("%s: '%s' is not a valid duration", field, value), err))
	}
	if d <= 0 {
		return append(errs, aserrors.NewValidationError(fmt.Sprintf("%s must be positive, got '%s'", field, value), nil))
	}
	return errs
}
