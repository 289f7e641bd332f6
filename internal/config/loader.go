package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// configName is the base name of the configuration file.
const configName = "gatekeeper"

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for gatekeeper.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the binary itself is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig then returns ConfigFileNotFoundError, handled by callers.
		viper.SetConfigName(configName)
		viper.SetConfigType("yaml")
	}

	// Environment variable support: GATEKEEPER_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("GATEKEEPER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".gatekeeper"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "gatekeeper"))
		}
	} else {
		paths = append(paths, "/etc/gatekeeper")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for gatekeeper.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds scalar config keys for environment variable support.
// Example: GATEKEEPER_AUTH_JWT_SECRET overrides auth.jwt.secret
func bindNestedEnvKeys() {
	for _, key := range []string{
		"server.http_addr",
		"server.log_level",
		"server.log_format",
		"server.trust_proxy_headers",
		"server.upstream",
		"server.upstream_timeout",

		"rate_limit.window_ms",
		"rate_limit.limit",
		"rate_limit.backend",
		"rate_limit.fail_open",
		"rate_limit.cleanup_interval",
		"rate_limit.key_expression",
		"rate_limit.redis.addr",
		"rate_limit.redis.password",
		"rate_limit.redis.db",
		"rate_limit.redis.prefix",

		"auth.mode",
		"auth.validation_timeout_ms",
		"auth.jwt.secret",
		"auth.jwt.secret_file",
		"auth.jwt.public_key_file",
		"auth.jwt.issuer",
		"auth.jwt.audience",
		"auth.jwt.leeway",
		"auth.api_key_db",
		// auth.identities and auth.api_keys are lists; use the config file.

		"telemetry.enabled",
		"telemetry.service_name",

		"dev_mode",
	} {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the validated Config.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found: continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
