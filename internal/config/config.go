package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()

	// Set config type to yaml (we only load config.yaml, not config.json)
	v.SetConfigType("yaml")

	// Explicitly locate config.yaml and use SetConfigFile to avoid picking up config.json
	// Precedence: project .pulse/config.yaml > ~/.config/supervisor/config.yaml > ~/.pulse/config.yaml
	configFileSet := false

	// 1. Walk up from CWD to find project .pulse/config.yaml
	//    This allows commands to work from subdirectories
	cwd, err := os.Getwd()
	if err == nil && !configFileSet {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			pulseDir := filepath.Join(dir, ".pulse")
			configPath := filepath.Join(pulseDir, "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	// 2. User config directory (~/.config/supervisor/config.yaml)
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "supervisor", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// 3. Home directory (~/.pulse/config.yaml)
	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".pulse", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Automatic environment variable binding
	// Environment variables take precedence over config file
	// E.g., SUPERVISOR_JSON, SUPERVISOR_NO_DAEMON, SUPERVISOR_DB
	v.SetEnvPrefix("SUPERVISOR")

	// Replace hyphens and dots with underscores for env var mapping
	// This allows SUPERVISOR_DISPATCH_BATCH_SIZE to map to "dispatch.batch-size"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Set defaults for all flags
	v.SetDefault("json", false)
	v.SetDefault("no-daemon", false)
	v.SetDefault("no-auto-flush", false)
	v.SetDefault("db", "")
	v.SetDefault("actor", "")
	v.SetDefault("lock-timeout", "30s")

	// Additional environment variables (not prefixed with SUPERVISOR_)
	// bound explicitly for parity with tooling that predates the prefix switch
	_ = v.BindEnv("flush-debounce", "PULSE_FLUSH_DEBOUNCE")
	_ = v.BindEnv("auto-start-daemon", "PULSE_AUTO_START_DAEMON")
	_ = v.BindEnv("backlog-path", "PULSE_BACKLOG_PATH")

	v.SetDefault("flush-debounce", "30s")
	v.SetDefault("auto-start-daemon", true)
	v.SetDefault("backlog-path", "BACKLOG.md")

	// Dispatch/concurrency defaults (spec.md §4.3)
	v.SetDefault("dispatch.batch-size", 5)
	v.SetDefault("dispatch.concurrency-base", 3)
	v.SetDefault("dispatch.concurrency-hard-cap", 0) // 0 -> runtime.NumCPU()
	v.SetDefault("dispatch.load-factor", 1.0)
	v.SetDefault("dispatch.heartbeat-seconds", 30)

	// Worker spawn defaults (spec.md §4.3 Worker spawn)
	v.SetDefault("worker.cli-binary", "claude")

	// Dedup guard defaults (spec.md §4.7)
	v.SetDefault("dedup.cooldown", "10m")
	v.SetDefault("dedup.max-consecutive", 2)

	// Circuit breaker defaults (spec.md §4.8)
	v.SetDefault("breaker.threshold", 3)
	v.SetDefault("breaker.cooldown", "30m")
	v.SetDefault("breaker.state-path", ".pulse/breaker.toml")

	// Self-heal defaults (spec.md §4.5)
	v.SetDefault("selfheal.ai-enabled", false)
	v.SetDefault("selfheal.model", "claude-3-5-haiku-latest")
	v.SetDefault("selfheal.budget", "60s")
	v.SetDefault("selfheal.retries", 2)

	// Model-tier defaults (spec.md §4.3's resolution cascade)
	v.SetDefault("model.default-tier", "sonnet")
	v.SetDefault("model.cost-efficiency-downgrade", true)

	// Worker/hang-detection defaults
	v.SetDefault("worker.hung-timeout-min", "30m")
	v.SetDefault("worker.hung-timeout-max", "4h")

	// Backup retention (spec.md §4.1)
	v.SetDefault("backup.keep", 5)
	v.SetDefault("backup.dir", ".pulse/backups")

	// Scheduler defaults (spec.md §6 `cron`)
	v.SetDefault("scheduler.interval-minutes", 5)

	// Read config file if it was found
	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		debugLogf("loaded config from %s", v.ConfigFileUsed())
	} else {
		debugLogf("no .pulse/config.yaml found; using defaults and environment variables")
	}

	return nil
}

// debugLogf writes to stderr only when SUPERVISOR_DEBUG is set, mirroring the
// lightweight opt-in debug tracing other pulseforge tooling uses.
func debugLogf(format string, args ...interface{}) {
	if os.Getenv("SUPERVISOR_DEBUG") == "" {
		return
	}
	fmt.Fprintf(os.Stderr, "debug: "+format+"\n", args...)
}

// ConfigSource represents where a configuration value came from.
type ConfigSource string

const (
	SourceDefault    ConfigSource = "default"
	SourceConfigFile ConfigSource = "config_file"
	SourceEnvVar     ConfigSource = "env_var"
	SourceFlag       ConfigSource = "flag"
)

// ConfigOverride represents a detected configuration override.
type ConfigOverride struct {
	Key            string
	EffectiveValue interface{}
	OverriddenBy   ConfigSource
	OriginalSource ConfigSource
	OriginalValue  interface{}
}

// GetValueSource returns the source of a configuration value.
// Priority (highest to lowest): env var > config file > default.
// Flag overrides are handled separately in main.go since viper doesn't know about cobra flags.
func GetValueSource(key string) ConfigSource {
	if v == nil {
		return SourceDefault
	}

	envKey := "SUPERVISOR_" + strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(key, "-", "_"), ".", "_"))
	if os.Getenv(envKey) != "" {
		return SourceEnvVar
	}

	if v.InConfig(key) {
		return SourceConfigFile
	}

	return SourceDefault
}

// CheckOverrides checks for configuration overrides and returns a list of detected overrides.
// This is useful for informing users when env vars or flags override config file values.
// flagOverrides is a map of key -> (flagValue, flagWasSet) for flags that were explicitly set.
func CheckOverrides(flagOverrides map[string]struct {
	Value  interface{}
	WasSet bool
}) []ConfigOverride {
	var overrides []ConfigOverride

	for key, flagInfo := range flagOverrides {
		if !flagInfo.WasSet {
			continue
		}

		source := GetValueSource(key)
		if source == SourceConfigFile || source == SourceEnvVar {
			var originalValue interface{}
			switch v := flagInfo.Value.(type) {
			case bool:
				originalValue = GetBool(key)
			case string:
				originalValue = GetString(key)
			case int:
				originalValue = GetInt(key)
			default:
				originalValue = v
			}

			overrides = append(overrides, ConfigOverride{
				Key:            key,
				EffectiveValue: flagInfo.Value,
				OverriddenBy:   SourceFlag,
				OriginalSource: source,
				OriginalValue:  originalValue,
			})
		}
	}

	if v != nil {
		for _, key := range v.AllKeys() {
			envSource := GetValueSource(key)
			if envSource == SourceEnvVar && v.InConfig(key) {
				envKey := "SUPERVISOR_" + strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(key, "-", "_"), ".", "_"))
				envValue := os.Getenv(envKey)
				if envValue == "" {
					continue
				}

				overrides = append(overrides, ConfigOverride{
					Key:            key,
					EffectiveValue: v.Get(key),
					OverriddenBy:   SourceEnvVar,
					OriginalSource: SourceConfigFile,
					OriginalValue:  nil, // the config file value isn't tracked separately by viper
				})
			}
		}
	}

	return overrides
}

// LogOverride logs a message about a configuration override in verbose mode.
func LogOverride(override ConfigOverride) {
	var sourceDesc string
	switch override.OriginalSource {
	case SourceConfigFile:
		sourceDesc = "config file"
	case SourceEnvVar:
		sourceDesc = "environment variable"
	case SourceDefault:
		sourceDesc = "default"
	default:
		sourceDesc = string(override.OriginalSource)
	}

	var overrideDesc string
	switch override.OverriddenBy {
	case SourceFlag:
		overrideDesc = "command-line flag"
	case SourceEnvVar:
		overrideDesc = "environment variable"
	default:
		overrideDesc = string(override.OverriddenBy)
	}

	// Always emit to stderr when verbose mode is enabled (caller guards on verbose)
	fmt.Fprintf(os.Stderr, "Config: %s overridden by %s (was: %v from %s, now: %v)\n",
		override.Key, overrideDesc, override.OriginalValue, sourceDesc, override.EffectiveValue)
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetFloat64 retrieves a float configuration value (dispatch.load-factor and similar).
func GetFloat64(key string) float64 {
	if v == nil {
		return 0
	}
	return v.GetFloat64(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set sets a configuration value.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map.
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// GetStringSlice retrieves a string slice configuration value.
func GetStringSlice(key string) []string {
	if v == nil {
		return []string{}
	}
	return v.GetStringSlice(key)
}

// GetStringMapString retrieves a map[string]string configuration value.
func GetStringMapString(key string) map[string]string {
	if v == nil {
		return map[string]string{}
	}
	return v.GetStringMapString(key)
}

// GetIdentity resolves the actor identity recorded on claims and proof-log
// entries. Priority chain:
//  1. flagValue (if non-empty, from --actor)
//  2. SUPERVISOR_ACTOR env var / config.yaml actor field (via viper)
//  3. git config user.name
//  4. hostname
func GetIdentity(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	if actor := GetString("actor"); actor != "" {
		return actor
	}

	cmd := exec.Command("git", "config", "user.name")
	if output, err := cmd.Output(); err == nil {
		if gitUser := strings.TrimSpace(string(output)); gitUser != "" {
			return gitUser
		}
	}

	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}

	return "unknown"
}
