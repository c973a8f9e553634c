// Package config loads the xpense.yaml configuration. Secrets can be
// overridden from the environment (optionally via a .env file) so they stay
// out of the config file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level xpense.yaml configuration.
type Config struct {
	Server       ServerConfig   `yaml:"server"`
	Database     DatabaseConfig `yaml:"database"`
	Cache        CacheConfig    `yaml:"cache"`
	Auth         AuthConfig     `yaml:"auth"`
	OCR          OCRConfig      `yaml:"ocr"`
	Images       ImagesConfig   `yaml:"images"`
	Participants []string       `yaml:"participants"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite", "postgres" or "memory"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// CacheConfig configures the balance cache.
type CacheConfig struct {
	Driver   string   `yaml:"driver"` // "redis" or "memory"
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	TTL      Duration `yaml:"ttl"`
}

// AuthConfig configures session tokens.
type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret"`
	TokenTTL  Duration `yaml:"token_ttl"`
}

// Duration accepts YAML strings like "30s" or "1h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// OCRConfig configures the bill-analysis collaborator.
type OCRConfig struct {
	APIKey  string   `yaml:"api_key"`
	BaseURL string   `yaml:"base_url"`
	Models  []string `yaml:"models"`
}

// ImagesConfig configures bill image storage.
type ImagesConfig struct {
	Dir     string `yaml:"dir"`
	BaseURL string `yaml:"base_url"`
}

// Load reads an xpense.yaml file and applies environment overrides. A .env
// file next to the process is honored if present.
func Load(path string) (*Config, error) {
	// Best effort: absence of a .env file is not an error.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a runnable single-host configuration: sqlite storage,
// in-memory cache, test participants.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "./data/xpense.db",
			Host:   "localhost",
			Port:   5432,
			User:   "postgres",
			Name:   "xpense",
		},
		Cache: CacheConfig{
			Driver: "memory",
			Addr:   "localhost:6379",
			TTL:    Duration(5 * time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: "dev-only-secret",
			TokenTTL:  Duration(30 * time.Minute),
		},
		OCR: OCRConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Models: []string{
				"google/gemini-2.5-pro-exp-03-25:free",
				"qwen/qwen2.5-vl-32b-instruct:free",
			},
		},
		Images: ImagesConfig{
			Dir:     "./data/images",
			BaseURL: "/images",
		},
		Participants: []string{"test1", "test2", "test3"},
	}
}

// applyEnv lets secrets come from the environment instead of the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("CACHE_PASSWORD"); v != "" {
		c.Cache.Password = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		c.OCR.APIKey = v
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Cache.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown cache driver %q", c.Cache.Driver)
	}
	if len(c.Participants) == 0 {
		return fmt.Errorf("participants list must not be empty")
	}
	seen := make(map[string]bool)
	for _, p := range c.Participants {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("participants list contains an empty id")
		}
		if seen[p] {
			return fmt.Errorf("duplicate participant %q", p)
		}
		seen[p] = true
	}
	return nil
}

// IsParticipant reports whether user is on the configured allow-list.
func (c *Config) IsParticipant(user string) bool {
	for _, p := range c.Participants {
		if p == user {
			return true
		}
	}
	return false
}
