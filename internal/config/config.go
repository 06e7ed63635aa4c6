package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIURL   = "http://localhost:8000"
	DefaultCacheTTL = 10 * time.Minute
)

// Config holds application configuration
type Config struct {
	APIURL  string        `yaml:"api_url"`
	DataDir string        `yaml:"data_dir"` // Holds medchat.db and logs/
	Timeout time.Duration `yaml:"timeout"`  // 0 keeps the transport default
	Debug   bool          `yaml:"debug"`

	// Reply cache
	CacheEnabled bool          `yaml:"cache_enabled"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// Default returns the built-in configuration
func Default() Config {
	dataDir := ".medchat"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".medchat")
	}
	return Config{
		APIURL:   DefaultAPIURL,
		DataDir:  dataDir,
		CacheTTL: DefaultCacheTTL,
	}
}

// DefaultPath returns ~/.config/medchat/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "medchat", "config.yaml")
}

// Load builds the configuration from defaults, the YAML file at path
// (DefaultPath when empty), a .env file in the working directory and the
// process environment, in increasing priority. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// .env only fills variables that are not already set
	_ = godotenv.Load()

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("MEDCHAT_API_URL")); v != "" {
		cfg.APIURL = v
	}
	if v := strings.TrimSpace(os.Getenv("MEDCHAT_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("MEDCHAT_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid MEDCHAT_TIMEOUT value: %q", v)
		}
		cfg.Timeout = d
	}
	if v := strings.TrimSpace(os.Getenv("MEDCHAT_DEBUG")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid MEDCHAT_DEBUG value: %q", v)
		}
		cfg.Debug = b
	}
	return nil
}

// Validate checks the fields that have no sensible fallback
func (c Config) Validate() error {
	if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		return fmt.Errorf("api url must start with http:// or https://: %q", c.APIURL)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir must not be empty")
	}
	if c.Timeout < 0 || c.CacheTTL < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}
