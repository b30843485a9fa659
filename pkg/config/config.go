// pkg/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/yolkispalkis/nwutil/pkg/logging"
)

// Default values for configuration
const (
	DefaultProxyType                = "env"
	DefaultProxyConnectionTimeout   = 10 * time.Second
	DefaultPACTimeout               = 5 * time.Second
	DefaultPACMaxSize               = 1 << 20
	DefaultPACCacheTTL              = 5 * time.Minute
	DefaultMaxConcurrentEvaluations = 8
	DefaultWPADURL                  = "http://wpad/wpad.dat"
	DefaultLogLevel                 = "info"
	DefaultLogPath                  = ""
	EnvPrefix                       = "NWUTIL"
)

// Config holds the main application configuration.
type Config struct {
	Proxy    ProxyConfig `mapstructure:"proxy"`
	LogLevel string      `mapstructure:"log_level"`
	LogPath  string      `mapstructure:"log_path"` // Empty means stderr
}

// ProxyConfig describes where proxy settings come from and how PAC scripts
// are fetched and evaluated.
type ProxyConfig struct {
	Type                     string        `mapstructure:"type"`     // none, http, https, pac, wpad, env
	URL                      string        `mapstructure:"url"`      // For type=http/https
	PacURL                   string        `mapstructure:"pac_url"`  // For type=pac/wpad
	Username                 string        `mapstructure:"username"` // Proxy credentials, optional
	Password                 string        `mapstructure:"password"`
	NoProxy                  string        `mapstructure:"no_proxy"`           // Comma-separated, NO_PROXY syntax
	ConnectionTimeout        time.Duration `mapstructure:"connection_timeout"` // PAC download timeout
	PacTimeout               time.Duration `mapstructure:"pac_timeout"`        // Zero disables PAC
	PacCharset               string        `mapstructure:"pac_charset"`        // Optional override, e.g. "windows-1251"
	PacMaxSize               int64         `mapstructure:"pac_max_size"`       // Bytes
	PacCacheTTL              time.Duration `mapstructure:"pac_cache_ttl"`      // Zero disables caching
	MaxConcurrentEvaluations int64         `mapstructure:"max_concurrent_evaluations"`
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"proxy-type":  "proxy.type",
	"proxy-url":   "proxy.url",
	"pac-url":     "proxy.pac_url",
	"no-proxy":    "proxy.no_proxy",
	"pac-timeout": "proxy.pac_timeout",
	"pac-charset": "proxy.pac_charset",
	"log-level":   "log_level",
	"log-path":    "log_path",
}

// LoadConfig reads configuration from defaults, an optional YAML file,
// NWUTIL_* environment variables and, last, any bound flags that were set
// on the command line. An empty configPath skips the file.
func LoadConfig(configPath string, flags ...*pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// NWUTIL_PROXY_TYPE, NWUTIL_PROXY_PAC_TIMEOUT=2s, etc.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, flagSet := range flags {
		if err := bindFlags(v, flagSet); err != nil {
			return nil, err
		}
	}

	if configPath != "" {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			slog.Warn("Could not get absolute config path, using provided path", "path", configPath, "error", err)
			absPath = configPath
		}
		v.SetConfigFile(absPath)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
				slog.Warn("Config file not found, using defaults and environment variables", "path", absPath)
			} else {
				return nil, fmt.Errorf("failed to read config file %s: %w", absPath, err)
			}
		} else {
			slog.Debug("Loaded configuration file", "path", absPath)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	config.Proxy.Type = strings.ToLower(strings.TrimSpace(config.Proxy.Type))

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

func bindFlags(v *viper.Viper, flagSet *pflag.FlagSet) error {
	var bindErr error
	flagSet.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("failed to bind flag --%s: %w", f.Name, err)
		}
	})
	return bindErr
}

// validateConfig checks the consistency and validity of the configuration.
func validateConfig(cfg *Config) error {
	p := &cfg.Proxy
	validProxyTypes := map[string]bool{"none": true, "http": true, "https": true, "pac": true, "wpad": true, "env": true}
	if !validProxyTypes[p.Type] {
		return fmt.Errorf("invalid proxy.type '%s', must be one of: none, http, https, pac, wpad, env", p.Type)
	}
	if (p.Type == "http" || p.Type == "https") && p.URL == "" {
		return errors.New("proxy.url is required when proxy.type is http or https")
	}
	if p.Type == "pac" && p.PacURL == "" {
		return errors.New("proxy.pac_url is required when proxy.type is pac")
	}
	if p.Type == "wpad" && p.PacURL == "" {
		p.PacURL = DefaultWPADURL
	}
	if p.Password != "" && p.Username == "" {
		return errors.New("proxy.password is set without proxy.username")
	}
	if p.ConnectionTimeout <= 0 {
		return errors.New("proxy.connection_timeout must be a positive duration")
	}
	if p.PacTimeout < 0 {
		return errors.New("proxy.pac_timeout cannot be negative")
	}
	if p.PacMaxSize <= 0 {
		return errors.New("proxy.pac_max_size must be a positive number of bytes")
	}
	if p.PacCacheTTL < 0 {
		return errors.New("proxy.pac_cache_ttl cannot be negative")
	}
	if p.MaxConcurrentEvaluations <= 0 {
		return errors.New("proxy.max_concurrent_evaluations must be positive")
	}
	if p.PacCharset != "" {
		enc, err := ianaindex.IANA.Encoding(p.PacCharset)
		if err != nil {
			return fmt.Errorf("invalid proxy.pac_charset '%s': %w", p.PacCharset, err)
		}
		if enc == nil {
			return fmt.Errorf("unsupported proxy.pac_charset '%s'", p.PacCharset)
		}
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if p.PacTimeout == 0 && (p.Type == "pac" || p.Type == "wpad") {
		slog.Warn("proxy.pac_timeout is zero, PAC resolution is disabled and connections will go direct", "type", p.Type)
	}
	return nil
}

// setDefaults configures the default values in viper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("proxy.type", DefaultProxyType)
	v.SetDefault("proxy.url", "")
	v.SetDefault("proxy.pac_url", "")
	v.SetDefault("proxy.username", "")
	v.SetDefault("proxy.password", "")
	v.SetDefault("proxy.no_proxy", "")
	v.SetDefault("proxy.connection_timeout", DefaultProxyConnectionTimeout)
	v.SetDefault("proxy.pac_timeout", DefaultPACTimeout)
	v.SetDefault("proxy.pac_charset", "") // Server-announced charset, then UTF-8
	v.SetDefault("proxy.pac_max_size", DefaultPACMaxSize)
	v.SetDefault("proxy.pac_cache_ttl", DefaultPACCacheTTL)
	v.SetDefault("proxy.max_concurrent_evaluations", DefaultMaxConcurrentEvaluations)

	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_path", DefaultLogPath)
}
