package config

import "os"

// Environment overrides. These apply for the lifetime of the current
// process only and are never written back to the config file.
const (
	EnvAutoUpdate  = "DROVER_AUTO_UPDATE"          // bool: overrides enabled and auto_install together
	EnvChannel     = "DROVER_AUTO_UPDATE_CHANNEL"  // stable or beta
	EnvInterval    = "DROVER_AUTO_UPDATE_INTERVAL" // daily, weekly, never
	EnvManifestURL = "DROVER_AUTO_UPDATE_URL"      // manifest URL, mainly for testing
)

// ApplyEnvOverrides mutates u in place with any overrides set in the
// environment. Unparseable or out-of-range values are ignored.
func ApplyEnvOverrides(u *UpdateConfig) {
	if val, ok := os.LookupEnv(EnvAutoUpdate); ok {
		if enabled, err := parseBool(val); err == nil {
			u.Enabled = enabled
			u.AutoInstall = enabled
		}
	}

	if channel, ok := os.LookupEnv(EnvChannel); ok && validChannel(channel) {
		u.Channel = channel
	}

	if interval, ok := os.LookupEnv(EnvInterval); ok && validInterval(interval) {
		u.CheckInterval = interval
	}

	if url, ok := os.LookupEnv(EnvManifestURL); ok && url != "" {
		u.ManifestURL = url
	}
}

// EnvOverridesActive reports whether any update override is set in the
// environment, for display in `drover config show`.
func EnvOverridesActive() bool {
	for _, key := range []string{EnvAutoUpdate, EnvChannel, EnvInterval, EnvManifestURL} {
		if _, ok := os.LookupEnv(key); ok {
			return true
		}
	}
	return false
}
