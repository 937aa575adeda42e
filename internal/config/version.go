package config

import (
	"fmt"
	"strings"

	aserrors "github.com/agentos-labs/agentstate/pkg/agentstate/v1/errors"
	"golang.org/x/mod/semver"
)

// canonicalVersion prefixes v so that x/mod/semver accepts "1.0.0".
func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// ValidStateVersion reports whether v is a semantic version, with or
// without the leading "v".
func ValidStateVersion(v string) bool {
	return v != "" && semver.IsValid(canonicalVersion(v))
}

// CheckStateVersion returns a ValidationError when found is malformed or
// its major version differs from supported.
func CheckStateVersion(supported, found string) error {
	if !ValidStateVersion(found) {
		return aserrors.NewValidationError(fmt.Sprintf("state_version '%s' is not a semantic version", found), nil)
	}
	if semver.Major(canonicalVersion(supported)) != semver.Major(canonicalVersion(found)) {
		return aserrors.NewValidationError(
			fmt.Sprintf("state_version '%s' is not compatible with supported version '%s'", found, supported), nil)
	}
	return nil
}
