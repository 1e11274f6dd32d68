package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the configuration file at path, expands environment
// variables, merges the result over the built-in defaults, and
// validates it. A missing file is not an error: the defaults apply.
//
// A .env file in the working directory is loaded first, so local
// development can keep credentials out of the YAML.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Skipping .env file", "error", err)
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		slog.Info("No configuration file, using defaults", "path", path)
	case err != nil:
		return nil, &LoadError{File: path, Err: err}
	default:
		var overrides Config
		if err := yaml.Unmarshal(ExpandEnv(data), &overrides); err != nil {
			return nil, &LoadError{File: path, Err: fmt.Errorf("%w: %v", ErrInvalidYAML, err)}
		}
		if err := mergo.Merge(cfg, &overrides, mergo.WithOverride); err != nil {
			return nil, &LoadError{File: path, Err: err}
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	slog.Info("Configuration loaded",
		"store_backend", cfg.Store.Backend,
		"workers", cfg.Coordinator.Workers,
		"addr", cfg.Server.Addr)
	return cfg, nil
}

// Validate checks struct tags plus the cross-field rules the tags
// cannot express.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	if cfg.Scoring.SuppressThreshold >= cfg.Scoring.InvestigateThreshold {
		return fmt.Errorf("%w: suppress threshold %.2f must be below investigate threshold %.2f",
			ErrValidationFailed, cfg.Scoring.SuppressThreshold, cfg.Scoring.InvestigateThreshold)
	}
	return nil
}
