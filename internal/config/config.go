package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Port                string `mapstructure:"PORT"`
	Env                 string `mapstructure:"ENV"`
	BaseURL             string `mapstructure:"BASE_URL"`
	Store               string `mapstructure:"STORE"`
	DatabaseURL         string `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32  `mapstructure:"DB_MIN_CONNS"`
	DefaultPageSize     int    `mapstructure:"DEFAULT_PAGE_SIZE"`
	ReindexBatchSize    int    `mapstructure:"REINDEX_BATCH_SIZE"`
	ClearIndexOnRebuild bool   `mapstructure:"CLEAR_INDEX_ON_REBUILD"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE", "memory")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_PAGE_SIZE", 50)
	v.SetDefault("REINDEX_BATCH_SIZE", 100)
	v.SetDefault("CLEAR_INDEX_ON_REBUILD", true)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("BASE_URL")
	v.BindEnv("STORE")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("DEFAULT_PAGE_SIZE")
	v.BindEnv("REINDEX_BATCH_SIZE")
	v.BindEnv("CLEAR_INDEX_ON_REBUILD")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port + "/fhir"
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// UsesPostgres reports whether the persistent store backs this instance.
func (c *Config) UsesPostgres() bool {
	return c.Store == "postgres"
}

// Validate checks that the configuration is runnable: the store selector
// must name a known backend, and the postgres backend needs a database.
func (c *Config) Validate() error {
	switch c.Store {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE is \"postgres\"")
		}
	default:
		return fmt.Errorf("STORE must be \"memory\" or \"postgres\", got %q", c.Store)
	}
	if c.DefaultPageSize <= 0 {
		return fmt.Errorf("DEFAULT_PAGE_SIZE must be positive, got %d", c.DefaultPageSize)
	}
	if c.ReindexBatchSize <= 0 {
		return fmt.Errorf("REINDEX_BATCH_SIZE must be positive, got %d", c.ReindexBatchSize)
	}
	return nil
}
