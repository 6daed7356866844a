package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/rsvpvault/pkg/rsvpvault/store"
)

// EnvPrefix prefixes every environment variable read by FromEnv.
const EnvPrefix = "RSVPVAULT_"

// Load builds settings from defaults, an optional file, and the environment,
// then validates them. An empty path skips the file.
func Load(path string) (Settings, error) {
	s := Default()
	if path != "" {
		var err error
		if s, err = overlayFile(s, path); err != nil {
			return Settings{}, err
		}
	}
	s, err := overlayEnv(s)
	if err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("validate settings: %w", err)
	}
	return s, nil
}

// FromFile loads settings from a file over Default, auto-detecting format by
// extension. Supported extensions: .yaml, .yml, .json
func FromFile(path string) (Settings, error) {
	return overlayFile(Default(), path)
}

// FromYAML parses YAML data over Default.
func FromYAML(data []byte) (Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse yaml: %w", err)
	}
	return s, nil
}

// FromJSON parses JSON data over Default.
func FromJSON(data []byte) (Settings, error) {
	s := Default()
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse json: %w", err)
	}
	return s, nil
}

// FromEnv reads RSVPVAULT_* variables over Default.
func FromEnv() (Settings, error) {
	return overlayEnv(Default())
}

func overlayFile(s Settings, path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("parse json: %w", err)
		}
	default:
		return Settings{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
	return s, nil
}

func overlayEnv(s Settings) (Settings, error) {
	if err := env.ParseWithOptions(&s, env.Options{Prefix: EnvPrefix}); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	return s, nil
}

// OpenStore builds the snapshot store selected by s.
func OpenStore(ctx context.Context, s StoreSettings) (store.Store, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	switch s.Driver {
	case DriverSQLite:
		st, err := store.NewSQLiteStore(ctx, s.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	case DriverRedis:
		st, err := store.DialRedisStore(ctx, s.RedisAddr, s.RedisPrefix)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return st, nil
	default:
		return store.NewMemoryStore(), nil
	}
}
