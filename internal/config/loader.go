package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ssmParamSuffix marks environment variables that carry an SSM parameter
// name to resolve instead of a literal value, e.g. VENDOR_API_KEY_SSM_PARAM.
const ssmParamSuffix = "_SSM_PARAM"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds the configuration using the priority chain
// env > dotenv > SSM. Dotenv is best effort; a present but unreadable file
// is only logged. SSM resolution runs only for *_SSM_PARAM indirections and
// never overwrites a value already set in the environment.
func Load(ctx context.Context, resolver SecretProvider) (*Config, error) {
	if path := os.Getenv("DOTENV_PATH"); path != "" {
		if err := godotenv.Load(path); err != nil {
			slog.Warn("dotenv file not loaded", "path", path, "error", err)
		}
	} else if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env file")
	}

	if resolver != nil {
		if err := resolveSSMIndirections(ctx, resolver); err != nil {
			return nil, fmt.Errorf("%s: %w", ErrSSMResolution, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", ErrParsing, err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", ErrValidation, err)
	}

	if cfg.Pipeline.BaselineDays > cfg.Pipeline.WindowDays {
		return nil, fmt.Errorf("%s: BASELINE_DAYS (%d) exceeds WINDOW_DAYS (%d)",
			ErrValidation, cfg.Pipeline.BaselineDays, cfg.Pipeline.WindowDays)
	}

	return &cfg, nil
}

// resolveSSMIndirections scans the environment for FOO_SSM_PARAM=/path
// entries and sets FOO to the resolved parameter value unless FOO is
// already set directly.
func resolveSSMIndirections(ctx context.Context, resolver SecretProvider) error {
	for _, entry := range os.Environ() {
		key, paramName, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || paramName == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if target == "" || os.Getenv(target) != "" {
			continue
		}
		value, err := resolver.GetSecret(ctx, paramName)
		if err != nil {
			return fmt.Errorf("resolving %s from %q: %w", target, paramName, err)
		}
		if err := os.Setenv(target, value); err != nil {
			return fmt.Errorf("setting %s: %w", target, err)
		}
	}
	return nil
}

// NewLogger builds the process logger from the configured level. Output is
// JSON on stdout, the format CloudWatch Logs ingests natively.
func NewLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(
		slog.String("service", cfg.Service),
		slog.String("env", cfg.Environment),
	)
}
