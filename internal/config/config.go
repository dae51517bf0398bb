package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/veritable-cli/internal/api"
	"github.com/KaramelBytes/veritable-cli/internal/utils"
)

// Global configuration structure.
type Global struct {
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	APIURL     string `mapstructure:"api_url" yaml:"api_url"`
	SSLVerify  bool   `mapstructure:"ssl_verify" yaml:"ssl_verify"`
	EnableGzip bool   `mapstructure:"enable_gzip" yaml:"enable_gzip"`

	// Prediction and cleaning defaults
	PredictCount  int `mapstructure:"predict_count" yaml:"predict_count"`
	MaxCategories int `mapstructure:"max_categories" yaml:"max_categories"`

	// HTTP/Retry configuration
	HTTPTimeoutSec   int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`
}

// Keys lists the settable configuration keys in display order.
var Keys = []string{
	"api_key", "api_url", "ssl_verify", "enable_gzip",
	"predict_count", "max_categories",
	"http_timeout_sec", "retry_max_attempts", "retry_base_delay_ms", "retry_max_delay_ms",
}

// EnvFile is a dotenv file read by Load when present. Its VERITABLE_*
// entries sit between the process environment and the config file.
var EnvFile = ".env"

// DefaultPath returns ~/.veritable/config.yaml.
func DefaultPath() (string, error) {
	dir, err := utils.HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.veritable/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := utils.SafeWriteFile(path, b); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: flags (cfgFile) > env > config file > defaults.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("VERITABLE")
	v.AutomaticEnv()

	// AutomaticEnv only reaches keys viper already knows about.
	v.SetDefault("api_key", "")
	v.SetDefault("api_url", api.DefaultBaseURL)
	v.SetDefault("ssl_verify", true)
	v.SetDefault("enable_gzip", true)
	v.SetDefault("predict_count", 100)
	v.SetDefault("max_categories", 256)
	// HTTP/retry defaults
	v.SetDefault("http_timeout_sec", 60)
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_base_delay_ms", 500)
	v.SetDefault("retry_max_delay_ms", 4000)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		dir, err := utils.HomeDir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	// optional read
	_ = v.ReadInConfig()
	if err := applyEnvFile(v, EnvFile); err != nil {
		return nil, err
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// applyEnvFile sets keys from VERITABLE_* entries of a dotenv file, unless
// the process environment already has them.
func applyEnvFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	env, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	for k, val := range env {
		key, ok := strings.CutPrefix(k, "VERITABLE_")
		if !ok {
			continue
		}
		if _, set := os.LookupEnv(k); set {
			continue
		}
		v.Set(strings.ToLower(key), val)
	}
	return nil
}

// ConnectionOptions maps the configuration onto transport options.
func (c *Global) ConnectionOptions() api.Options {
	return api.Options{
		APIKey:         c.APIKey,
		BaseURL:        c.APIURL,
		SSLVerify:      c.SSLVerify,
		EnableGzip:     c.EnableGzip,
		HTTPTimeout:    time.Duration(c.HTTPTimeoutSec) * time.Second,
		RetryMax:       c.RetryMaxAttempts,
		RetryBaseDelay: time.Duration(c.RetryBaseDelayMs) * time.Millisecond,
		RetryMaxDelay:  time.Duration(c.RetryMaxDelayMs) * time.Millisecond,
	}
}
