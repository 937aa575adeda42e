package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvDotEnv disables .env loading when set to 0, false, off or no.
const EnvDotEnv = "AGENTSTATE_DOTENV"

// LoadDotEnv loads .env.local and then .env from the working directory.
// Variables already set in the environment are never overridden, so
// .env.local wins over .env. Missing files are skipped.
func LoadDotEnv() error {
	if IsDotEnvDisabled() {
		return nil
	}
	for _, p := range []string{".env.local", ".env"} {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// IsDotEnvDisabled reports whether EnvDotEnv turns .env loading off.
func IsDotEnvDisabled() bool {
	v := strings.TrimSpace(os.Getenv(EnvDotEnv))
	if v == "" {
		return false
	}
	switch strings.ToLower(v) {
	case "0", "false", "off", "no":
		return true
	default:
		return false
	}
}
