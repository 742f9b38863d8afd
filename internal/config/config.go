package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"rumspool/internal/domain"
)

type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Consent ConsentConfig `mapstructure:"consent"`
	Log     LogConfig     `mapstructure:"log"`
}

type StorageConfig struct {
	RootDir string `mapstructure:"root_dir"`
}

type BatchConfig struct {
	MaxSizeBytes int64         `mapstructure:"max_size_bytes"`
	MaxItems     int           `mapstructure:"max_items"`
	RecentDelay  time.Duration `mapstructure:"recent_delay"`
}

type ConsentConfig struct {
	Initial   string `mapstructure:"initial"`
	StorePath string `mapstructure:"store_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads path (YAML, TOML or JSON by extension) and applies RUMSPOOL_*
// environment overrides. An empty path loads defaults and environment only.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("rumspool")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// AutomaticEnv only resolves keys viper already knows about.
	v.SetDefault("storage.root_dir", "")
	v.SetDefault("batch.max_size_bytes", 4<<20)
	v.SetDefault("batch.max_items", 500)
	v.SetDefault("batch.recent_delay", 5*time.Second)
	v.SetDefault("consent.initial", "pending")
	v.SetDefault("consent.store_path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func (c Config) Validate() error {
	if c.Storage.RootDir == "" {
		return fmt.Errorf("storage.root_dir is required")
	}
	if c.Batch.MaxSizeBytes <= 0 {
		return fmt.Errorf("batch.max_size_bytes must be positive")
	}
	if c.Batch.MaxItems <= 0 {
		return fmt.Errorf("batch.max_items must be positive")
	}
	if c.Batch.RecentDelay < 0 {
		return fmt.Errorf("batch.recent_delay must not be negative")
	}
	if _, err := c.InitialConsent(); err != nil {
		return fmt.Errorf("consent.initial: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func (c Config) InitialConsent() (domain.Consent, error) {
	return domain.ParseConsent(c.Consent.Initial)
}
