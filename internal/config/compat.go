package config

import (
	"os"
	"strings"
)

// ApplyEnvOverrides reads configuration that is not representable as a CLI
// flag. API keys arrive through the environment so secrets stay out of argv.
func (c *Config) ApplyEnvOverrides() error {
	if c == nil {
		return nil
	}
	if keys := loadAPIKeysFromEnv(); len(keys) > 0 {
		c.APIKeys = keys
	}
	return nil
}

// loadAPIKeysFromEnv scans env vars matching MEMORIC_API_KEYS_<CLIENT_ID>=<key>[,<key>...]
// and returns a map from key value → clientId. Comma-separated values let a
// client rotate keys without downtime.
func loadAPIKeysFromEnv() map[string]string {
	const prefix = "MEMORIC_API_KEYS_"
	result := map[string]string{}
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		eqIdx := strings.IndexByte(env, '=')
		if eqIdx < 0 {
			continue
		}
		clientID := strings.ToLower(strings.TrimSpace(env[len(prefix):eqIdx]))
		if clientID == "" {
			continue
		}
		for _, key := range strings.Split(env[eqIdx+1:], ",") {
			keyValue := strings.TrimSpace(key)
			if keyValue == "" {
				continue
			}
			result[keyValue] = clientID
		}
	}
	return result
}
