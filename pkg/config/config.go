package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultConfigFileName = "openrouter-proxy.toml"

	DefaultPort            = 8080
	DefaultUpstreamBaseURL = "https://openrouter.ai"
	DefaultUpstreamHost    = "openrouter.ai"
)

// Environment variable names read by Load.
const (
	EnvAPIKey           = "OPENROUTER_API_KEY"
	EnvModelFilterFile  = "MODEL_FILTER_FILE"
	EnvDisableSSLVerify = "DISABLE_SSL_VERIFY"
	EnvPort             = "PORT"
	EnvUpstreamBaseURL  = "OPENROUTER_BASE_URL"
	EnvUpstreamHost     = "OPENROUTER_HOST"
	EnvAllowedOrigins   = "CORS_ALLOWED_ORIGINS"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogFormat        = "LOG_FORMAT"
	EnvLogFile          = "LOG_FILE"
)

type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file,omitempty"`
	MaxSizeMB  int    `toml:"max_size_mb,omitempty"`
	MaxBackups int    `toml:"max_backups,omitempty"`
}

type TLSConfig struct {
	Enabled  bool   `toml:"enabled"`
	Domain   string `toml:"domain,omitempty"`
	Email    string `toml:"email,omitempty"`
	CacheDir string `toml:"cache_dir,omitempty"`
}

type TimeoutConfig struct {
	ConnectSeconds        int `toml:"connect_seconds,omitempty"`
	TLSHandshakeSeconds   int `toml:"tls_handshake_seconds,omitempty"`
	ResponseHeaderSeconds int `toml:"response_header_seconds,omitempty"`
	// IdleReadSeconds bounds the wait for the next body bytes once the
	// upstream has answered.
	IdleReadSeconds int `toml:"idle_read_seconds,omitempty"`
}

// Config is built once at startup and shared read-only by every handler.
type Config struct {
	Port             int           `toml:"port"`
	APIKey           string        `toml:"api_key,omitempty"`
	ModelFilterFile  string        `toml:"model_filter_file,omitempty"`
	DisableTLSVerify bool          `toml:"disable_tls_verify,omitempty"`
	UpstreamBaseURL  string        `toml:"upstream_base_url"`
	UpstreamHost     string        `toml:"upstream_host"`
	AllowedOrigins   []string      `toml:"allowed_origins"`
	Timeouts         TimeoutConfig `toml:"timeouts"`
	Log              LogConfig     `toml:"log"`
	TLS              TLSConfig     `toml:"tls"`
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultConfigFileName
	}
	return filepath.Join(home, ".config", "openrouter-proxy", defaultConfigFileName)
}

func DefaultTLSCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tls-autocert"
	}
	return filepath.Join(home, ".cache", "openrouter-proxy", "tls-autocert")
}

func NewDefault() *Config {
	return &Config{
		Port:            DefaultPort,
		UpstreamBaseURL: DefaultUpstreamBaseURL,
		UpstreamHost:    DefaultUpstreamHost,
		AllowedOrigins:  []string{"*"},
		Timeouts: TimeoutConfig{
			ConnectSeconds:        10,
			TLSHandshakeSeconds:   10,
			ResponseHeaderSeconds: 120,
			IdleReadSeconds:       60,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
		TLS: TLSConfig{
			CacheDir: DefaultTLSCacheDir(),
		},
	}
}

// Load builds the configuration from defaults, the optional TOML file at path
// and the process environment, in that order. An empty path skips the file; a
// path that does not exist is only an error when explicit is true.
func Load(path string, explicit bool) (*Config, error) {
	cfg := NewDefault()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvAPIKey); ok {
		c.APIKey = v
	}
	if v, ok := lookup(EnvModelFilterFile); ok {
		c.ModelFilterFile = v
	}
	if v, ok := lookup(EnvDisableSSLVerify); ok {
		// Only the literal "true" disables verification.
		c.DisableTLSVerify = v == "true"
	}
	if v, ok := lookup(EnvPort); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q", EnvPort, v)
		}
		c.Port = port
	}
	if v, ok := lookup(EnvUpstreamBaseURL); ok && strings.TrimSpace(v) != "" {
		c.UpstreamBaseURL = v
	}
	if v, ok := lookup(EnvUpstreamHost); ok && strings.TrimSpace(v) != "" {
		c.UpstreamHost = v
	}
	if v, ok := lookup(EnvAllowedOrigins); ok && strings.TrimSpace(v) != "" {
		c.AllowedOrigins = strings.Split(v, ",")
	}
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		c.Log.Level = v
	}
	if v, ok := lookup(EnvLogFormat); ok && strings.TrimSpace(v) != "" {
		c.Log.Format = v
	}
	if v, ok := lookup(EnvLogFile); ok {
		c.Log.File = v
	}
	return nil
}

func (c *Config) Normalize() {
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.ModelFilterFile = strings.TrimSpace(c.ModelFilterFile)
	c.UpstreamBaseURL = strings.TrimRight(strings.TrimSpace(c.UpstreamBaseURL), "/")
	if c.UpstreamBaseURL == "" {
		c.UpstreamBaseURL = DefaultUpstreamBaseURL
	}
	c.UpstreamHost = strings.TrimSpace(c.UpstreamHost)
	if c.UpstreamHost == "" {
		c.UpstreamHost = DefaultUpstreamHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	origins := make([]string, 0, len(c.AllowedOrigins))
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c.AllowedOrigins = origins
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	c.Log.File = strings.TrimSpace(c.Log.File)
	if strings.TrimSpace(c.TLS.CacheDir) == "" {
		c.TLS.CacheDir = DefaultTLSCacheDir()
	}
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	u, err := url.Parse(c.UpstreamBaseURL)
	if err != nil {
		return fmt.Errorf("invalid upstream base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream base url must be http or https, got %q", c.UpstreamBaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream base url %q has no host", c.UpstreamBaseURL)
	}
	switch c.Log.Format {
	case "text", "json", "logfmt":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.TLS.Enabled && strings.TrimSpace(c.TLS.Domain) == "" {
		return fmt.Errorf("tls.domain is required when tls is enabled")
	}
	return nil
}

func (c *Config) HasAPIKey() bool {
	return c != nil && c.APIKey != ""
}

func (c *Config) ListenAddr() string {
	return ":" + strconv.Itoa(c.Port)
}

func (c *Config) ConnectTimeout() time.Duration {
	return seconds(c.Timeouts.ConnectSeconds, 10)
}

func (c *Config) TLSHandshakeTimeout() time.Duration {
	return seconds(c.Timeouts.TLSHandshakeSeconds, 10)
}

func (c *Config) ResponseHeaderTimeout() time.Duration {
	return seconds(c.Timeouts.ResponseHeaderSeconds, 120)
}

func (c *Config) IdleReadTimeout() time.Duration {
	return seconds(c.Timeouts.IdleReadSeconds, 60)
}

// Redacted returns a copy that is safe to print.
func (c *Config) Redacted() Config {
	out := *c
	if out.APIKey != "" {
		out.APIKey = "***"
	}
	out.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return out
}

func seconds(v int, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}
