// Package config loads and validates monitor configuration from the
// environment, optionally supplemented by a local override file.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Environment variable names. All three values are required; there are no
// defaults.
const (
	EnvToken        = "PUSHPLUS_TOKEN"
	EnvFlightNumber = "FLIGHT_NUMBER"
	EnvTargetURL    = "TARGET_URL"

	envCI = "GITHUB_ACTIONS"
)

// LocalFile is the optional override file consulted outside CI. It holds a
// flat JSON object with the same three keys as the environment.
const LocalFile = "config.local.json"

// Placeholder tokens shipped in example configs. A token equal to one of
// these must never be used to send a notification.
var placeholderTokens = []string{"你的PushPlus Token", "******"}

// Validation failures.
var (
	ErrMissingConfig    = errors.New("missing configuration")
	ErrPlaceholderToken = errors.New("placeholder pushplus token")
)

// Config captures everything a single pipeline run needs. Immutable once
// loaded.
type Config struct {
	Token        string
	FlightNumber string
	TargetURL    string

	// CI reports whether the process runs under an automated CI context.
	// It controls headless mode and disables the local-file fallback.
	CI bool

	// Headless mirrors CI today but is carried separately so callers never
	// branch on the CI flag for browser behavior.
	Headless bool
}

type fieldRef struct {
	key  string
	dest *string
}

// InCI reports whether the process runs under an automated CI context.
func InCI() bool {
	return os.Getenv(envCI) == "true"
}

// Load resolves the three required values from the environment, filling any
// gaps from LocalFile when not running in CI. The environment always wins on
// conflict.
func Load(logger *zap.Logger) (Config, error) {
	ci := InCI()
	cfg := Config{CI: ci, Headless: ci}

	fields := []fieldRef{
		{EnvToken, &cfg.Token},
		{EnvFlightNumber, &cfg.FlightNumber},
		{EnvTargetURL, &cfg.TargetURL},
	}

	for _, f := range fields {
		if value := os.Getenv(f.key); value != "" {
			*f.dest = value
			logger.Info("config value resolved",
				zap.String("key", f.key),
				zap.String("source", "env"))
		}
	}

	if ci {
		logger.Info("ci environment, relying on environment variables only")
	} else if err := fillFromLocalFile(logger, fields); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	logger.Info("configuration loaded",
		zap.String("flight_number", cfg.FlightNumber),
		zap.Bool("ci", cfg.CI))
	return cfg, nil
}

func fillFromLocalFile(logger *zap.Logger, fields []fieldRef) error {
	if _, err := os.Stat(LocalFile); err != nil {
		logger.Info("no local config file, relying on environment variables",
			zap.String("path", LocalFile))
		return nil
	}

	v := viper.New()
	v.SetConfigFile(LocalFile)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", LocalFile, err)
	}

	for _, f := range fields {
		if *f.dest != "" {
			continue
		}
		if value := v.GetString(f.key); value != "" {
			*f.dest = value
			logger.Info("config value resolved",
				zap.String("key", f.key),
				zap.String("source", LocalFile))
		}
	}
	return nil
}

func (c Config) validate() error {
	for _, f := range []struct {
		key   string
		value string
	}{
		{EnvToken, c.Token},
		{EnvFlightNumber, c.FlightNumber},
		{EnvTargetURL, c.TargetURL},
	} {
		if f.value == "" {
			return fmt.Errorf("%w: %s", ErrMissingConfig, f.key)
		}
	}
	if IsPlaceholderToken(c.Token) {
		return fmt.Errorf("%w: configure a real token before running", ErrPlaceholderToken)
	}
	return nil
}

// IsPlaceholderToken reports whether token is one of the known example
// values. The notifier refuses these as well, so a placeholder can never
// reach the push endpoint even if validation is bypassed.
func IsPlaceholderToken(token string) bool {
	for _, placeholder := range placeholderTokens {
		if token == placeholder {
			return true
		}
	}
	return false
}
