// Package config loads daemon configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// StoreConfig maps one storefront's payment types to gateway endpoints.
type StoreConfig struct {
	Code     string            `koanf:"code"`
	Gateways map[string]string `koanf:"gateways"`
}

type Config struct {
	HTTP struct {
		Addr         string        `koanf:"addr"`
		ReadTimeout  time.Duration `koanf:"read_timeout"`
		WriteTimeout time.Duration `koanf:"write_timeout"`
	} `koanf:"http"`

	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`

	Postgres struct {
		DSN string `koanf:"dsn"`
	} `koanf:"postgres"`

	Kafka struct {
		Brokers []string `koanf:"brokers"`
		Topic   string   `koanf:"topic"`
	} `koanf:"kafka"`

	Contract struct {
		SchemaPath string `koanf:"schema_path"`
	} `koanf:"contract"`

	// ReviewRules are named govaluate expressions; a payment matching any
	// rule is held for manual review instead of being authorized.
	ReviewRules map[string]string `koanf:"review_rules"`

	Stores []StoreConfig `koanf:"stores"`
}

// Load reads the YAML file at path and then overlays environment variables
// with the SETTLEMENT_ prefix, nested keys separated by double underscores
// (SETTLEMENT_HTTP__ADDR, SETTLEMENT_POSTGRES__DSN).
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
	}

	if err := k.Load(env.Provider("SETTLEMENT_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "SETTLEMENT_")
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("overlaying environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr required")
	}
	if len(c.Stores) == 0 {
		return fmt.Errorf("at least one store required")
	}
	for _, s := range c.Stores {
		if s.Code == "" {
			return fmt.Errorf("store code required")
		}
		if len(s.Gateways) == 0 {
			return fmt.Errorf("store %s has no gateways", s.Code)
		}
	}
	return nil
}
