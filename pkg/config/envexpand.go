package config

import (
	"fmt"
	"os"
	"regexp"
)

// envPattern matches ${VAR_NAME} placeholders.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} placeholders with environment variable values.
// Unset variables are an error: silently substituting an empty string would
// hide misconfiguration until a pipeline run fails mid-flight.
func expandEnv(data []byte) ([]byte, error) {
	var missing []string
	out := envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(envPattern.FindSubmatch(match)[1])
		value, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return []byte(value)
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("undefined environment variables: %v", missing)
	}
	return out, nil
}
