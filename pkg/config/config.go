// Package config loads the Jira search client configuration from an optional
// YAML file and JIRA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/jira-search-client/pkg/client"
	"github.com/Sternrassler/jira-search-client/pkg/logging"
	"github.com/Sternrassler/jira-search-client/pkg/search"
)

// Config holds the full client and proxy configuration.
type Config struct {
	Jira      JiraConfig      `yaml:"jira"`
	Search    SearchConfig    `yaml:"search"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// JiraConfig holds connection and credential settings.
type JiraConfig struct {
	URL            string   `yaml:"url" validate:"required,url"`
	Token          string   `yaml:"token"`
	User           string   `yaml:"user"`
	Password       string   `yaml:"password"`
	Cookie         string   `yaml:"cookie"`
	UserAgent      string   `yaml:"user_agent" validate:"required"`
	Timeout        Duration `yaml:"timeout"`
	MaxRetries     int      `yaml:"max_retries" validate:"gte=0,lte=10"`
	RetryBaseDelay Duration `yaml:"retry_base_delay"`
}

// SearchConfig holds search defaults.
type SearchConfig struct {
	Version       string   `yaml:"version" validate:"oneof=auto legacy next"`
	PageSize      int      `yaml:"page_size" validate:"gte=0,lte=5000"`
	Preset        string   `yaml:"preset" validate:"omitempty,oneof=minimal essential standard all"`
	CloudSuffixes []string `yaml:"cloud_suffixes" validate:"dive,required"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Enabled Bool     `yaml:"enabled"`
	TTL     Duration `yaml:"ttl"`
}

// RateLimitConfig holds the client-side token bucket.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" validate:"gte=0"`
	Burst int     `yaml:"burst" validate:"gte=0"`
}

// RedisConfig holds the shared cache and rate limit store. An empty URL
// disables both.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// HTTPConfig holds the proxy server settings.
type HTTPConfig struct {
	Port            int      `yaml:"port" validate:"gte=1,lte=65535"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty Bool   `yaml:"pretty"`
}

// Default returns the configuration used before the file and environment
// are applied.
func Default() Config {
	return Config{
		Jira: JiraConfig{
			UserAgent:      "jira-search-client/1.0",
			Timeout:        Duration(30 * time.Second),
			MaxRetries:     3,
			RetryBaseDelay: Duration(time.Second),
		},
		Search: SearchConfig{
			Version:  string(search.VersionAuto),
			PageSize: search.DefaultPageSize,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     Duration(5 * time.Minute),
		},
		RateLimit: RateLimitConfig{
			RPS:   10,
			Burst: 20,
		},
		HTTP: HTTPConfig{
			Port:            8080,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level: string(logging.LevelInfo),
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the process environment, in that order.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}

		data = expandEnvVars(data)

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("JIRA_HOST"); ok {
		c.Jira.URL = v
	}
	if v, ok := get("JIRA_URL"); ok {
		c.Jira.URL = v
	}
	if c.Jira.URL != "" && !strings.Contains(c.Jira.URL, "://") {
		c.Jira.URL = "https://" + c.Jira.URL
	}

	if v, ok := get("JIRA_TOKEN"); ok {
		c.Jira.Token = v
	}
	if v, ok := get("JIRA_USER"); ok {
		c.Jira.User = v
	}
	if v, ok := get("JIRA_PASS"); ok {
		c.Jira.Password = v
	}
	if v, ok := get("JIRA_COOKIE"); ok {
		c.Jira.Cookie = v
	}
	if v, ok := get("JIRA_SEARCH_VERSION"); ok {
		c.Search.Version = strings.ToLower(v)
	}
	if v, ok := get("JIRA_CLOUD_SUFFIXES"); ok {
		c.Search.CloudSuffixes = splitCSV(v)
	}
	if v, ok := get("REDIS_URL"); ok {
		c.Redis.URL = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Logging.Level = v
	}

	var errs []error
	if v, ok := get("JIRA_TIMEOUT"); ok {
		errs = append(errs, envErr("JIRA_TIMEOUT", c.Jira.Timeout.parse(v)))
	}
	if v, ok := get("JIRA_RETRY_BASE_DELAY"); ok {
		errs = append(errs, envErr("JIRA_RETRY_BASE_DELAY", c.Jira.RetryBaseDelay.parse(v)))
	}
	if v, ok := get("JIRA_CACHE_TTL"); ok {
		errs = append(errs, envErr("JIRA_CACHE_TTL", c.Cache.TTL.parse(v)))
	}
	if v, ok := get("JIRA_CACHE_ENABLED"); ok {
		errs = append(errs, envErr("JIRA_CACHE_ENABLED", c.Cache.Enabled.parse(v)))
	}
	if v, ok := get("JIRA_MAX_RETRIES"); ok {
		errs = append(errs, envErr("JIRA_MAX_RETRIES", parseInt(v, &c.Jira.MaxRetries)))
	}
	if v, ok := get("JIRA_RATE_LIMIT_BURST"); ok {
		errs = append(errs, envErr("JIRA_RATE_LIMIT_BURST", parseInt(v, &c.RateLimit.Burst)))
	}
	if v, ok := get("JIRA_PAGE_SIZE"); ok {
		errs = append(errs, envErr("JIRA_PAGE_SIZE", parseInt(v, &c.Search.PageSize)))
	}
	if v, ok := get("PORT"); ok {
		errs = append(errs, envErr("PORT", parseInt(v, &c.HTTP.Port)))
	}
	if v, ok := get("JIRA_RATE_LIMIT_RPS"); ok {
		rps, err := strconv.ParseFloat(v, 64)
		if err == nil {
			c.RateLimit.RPS = rps
		}
		errs = append(errs, envErr("JIRA_RATE_LIMIT_RPS", err))
	}

	return errors.Join(errs...)
}

func envErr(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", key, err)
}

func parseInt(v string, dst *int) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid integer %q", v)
	}
	*dst = n
	return nil
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	d := Default()
	if c.Jira.UserAgent == "" {
		c.Jira.UserAgent = d.Jira.UserAgent
	}
	if c.Jira.Timeout <= 0 {
		c.Jira.Timeout = d.Jira.Timeout
	}
	if c.Jira.RetryBaseDelay <= 0 {
		c.Jira.RetryBaseDelay = d.Jira.RetryBaseDelay
	}
	if v, err := search.ParseVersion(c.Search.Version); err == nil {
		c.Search.Version = string(v)
	}
	if c.Search.PageSize == 0 {
		c.Search.PageSize = d.Search.PageSize
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = d.Cache.TTL
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = d.HTTP.Port
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = d.HTTP.ShutdownTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			// Namespace is "Config.jira.url"; drop the root type name.
			_, field, _ := strings.Cut(fe.Namespace(), ".")
			msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", field, fe.Tag(), fe.Value()))
		}
		return errors.New(strings.Join(msgs, "; "))
	}

	if (c.Jira.User == "") != (c.Jira.Password == "") && c.Jira.Token == "" {
		return fmt.Errorf("jira.user and jira.password must be set together")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Search.Preset != "" {
		if _, err := search.ParsePreset(c.Search.Preset); err != nil {
			return fmt.Errorf("search.preset: %w", err)
		}
	}
	if c.Redis.URL != "" {
		if _, err := c.RedisOptions(); err != nil {
			return fmt.Errorf("redis.url: %w", err)
		}
	}
	return nil
}

// Credentials picks the authentication scheme: bearer token, then basic,
// then session cookie, else anonymous.
func (c *Config) Credentials() client.Credentials {
	switch {
	case c.Jira.Token != "":
		return client.Bearer(c.Jira.Token)
	case c.Jira.User != "" && c.Jira.Password != "":
		return client.Basic(c.Jira.User, c.Jira.Password)
	case c.Jira.Cookie != "":
		return client.Cookie(c.Jira.Cookie)
	default:
		return client.Anonymous()
	}
}

// SearchVersion returns the configured protocol override.
func (c *Config) SearchVersion() (search.Version, error) {
	return search.ParseVersion(c.Search.Version)
}

// DefaultFields returns the configured preset, or the per-version default.
func (c *Config) DefaultFields() search.FieldSelection {
	if c.Search.Preset == "" {
		return search.DefaultFields()
	}
	p, err := search.ParsePreset(c.Search.Preset)
	if err != nil {
		return search.DefaultFields()
	}
	return search.UsePreset(p)
}

// RedisOptions parses the Redis URL. A bare host:port is accepted.
func (c *Config) RedisOptions() (*redis.Options, error) {
	if !strings.Contains(c.Redis.URL, "://") {
		return &redis.Options{Addr: c.Redis.URL}, nil
	}
	return redis.ParseURL(c.Redis.URL)
}

// ClientConfig converts the settings to a client configuration.
func (c *Config) ClientConfig(redisClient *redis.Client, logger *zerolog.Logger) client.Config {
	return client.Config{
		BaseURL:        c.Jira.URL,
		Credentials:    c.Credentials(),
		Redis:          redisClient,
		UserAgent:      c.Jira.UserAgent,
		Timeout:        time.Duration(c.Jira.Timeout),
		RateLimit:      c.RateLimit.RPS,
		RateBurst:      c.RateLimit.Burst,
		CacheEnabled:   bool(c.Cache.Enabled),
		CacheTTL:       time.Duration(c.Cache.TTL),
		MaxRetries:     c.Jira.MaxRetries,
		InitialBackoff: time.Duration(c.Jira.RetryBaseDelay),
		Logger:         logger,
	}
}

// LoggerConfig converts the settings to a logging configuration.
func (c *Config) LoggerConfig(service string) logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level, _ = logging.ParseLevel(c.Logging.Level)
	cfg.Pretty = bool(c.Logging.Pretty)
	cfg.Service = service
	return cfg
}

// envVarRegex matches ${VAR} and ${VAR:-default}.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
