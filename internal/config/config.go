// Package config centralizes how IteraFlow reads its settings: built-in
// defaults, an optional TOML file, then environment variables.
package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dharsanguruparan/IteraFlow/internal/apperr"
	"github.com/dharsanguruparan/IteraFlow/internal/itera"
)

// Config is the runtime configuration shared by every binary.
type Config struct {
	Address       string        `toml:"address"`
	DatabaseURL   string        `toml:"database_url"`
	SQLitePath    string        `toml:"sqlite_path"`
	Workers       int           `toml:"workers"`
	MaxFileSize   int64         `toml:"max_file_bytes"`
	AllowedTypes  []string      `toml:"allowed_types"`
	SigningSecret []byte        `toml:"-"`
	ExportLinkTTL time.Duration `toml:"-"`

	Itera Itera `toml:"itera"`
	Batch Batch `toml:"batch"`
	Redis Redis `toml:"redis"`
	S3    S3    `toml:"s3"`
	Log   Log   `toml:"log"`
}

// Itera holds remote service credentials and endpoint templates.
type Itera struct {
	Username       string        `toml:"username"`
	Password       string        `toml:"password"`
	AuthURL        string        `toml:"auth_url"`
	UploadURL      string        `toml:"upload_url"`
	StatusURL      string        `toml:"status_url"`
	ExportURL      string        `toml:"export_url"`
	MappingURL     string        `toml:"mapping_url"`
	Source         string        `toml:"source"`
	RequestTimeout time.Duration `toml:"-"`
	TokenTTL       time.Duration `toml:"-"`
	RateLimit      float64       `toml:"rate_limit"`
	RateBurst      int           `toml:"rate_burst"`
}

// Batch holds poll loop defaults and the status vocabulary.
type Batch struct {
	WaitForCompletion      bool     `toml:"wait_for_completion"`
	TimeoutSeconds         int      `toml:"timeout_seconds"`
	PollingIntervalSeconds int      `toml:"polling_interval_seconds"`
	Concurrency            int      `toml:"concurrency"`
	SuccessStatuses        []string `toml:"success_statuses"`
	ErrorStatuses          []string `toml:"error_statuses"`
}

// Timeout is TimeoutSeconds as a duration.
func (b Batch) Timeout() time.Duration { return time.Duration(b.TimeoutSeconds) * time.Second }

// Interval is PollingIntervalSeconds as a duration.
func (b Batch) Interval() time.Duration {
	return time.Duration(b.PollingIntervalSeconds) * time.Second
}

// Redis is the asynq broker.
type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// S3 is the MinIO archive. An empty Endpoint disables archiving.
type S3 struct {
	Endpoint        string `toml:"endpoint"`
	AccessKey       string `toml:"access_key"`
	SecretKey       string `toml:"secret_key"`
	Region          string `toml:"region"`
	UseSSL          bool   `toml:"use_ssl"`
	RawBucket       string `toml:"raw_bucket"`
	ProcessedBucket string `toml:"processed_bucket"`
}

// Enabled reports whether an archive endpoint is configured.
func (s S3) Enabled() bool { return s.Endpoint != "" }

// Log selects the slog handler.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// fileDurations carries duration settings as strings ("30s") since TOML has
// no duration type.
type fileDurations struct {
	ExportLinkTTL string `toml:"export_link_ttl"`
	SigningSecret string `toml:"signing_secret"`
	Itera         struct {
		RequestTimeout string `toml:"request_timeout"`
		TokenTTL       string `toml:"token_ttl"`
	} `toml:"itera"`
}

const (
	defaultAddress         = ":8080"
	defaultWorkers         = 4
	defaultMaxFileSize     = 25 << 20 // 25 MiB
	defaultExportLinkTTL   = 5 * time.Minute
	defaultRequestTimeout  = 30 * time.Second
	defaultTokenTTL        = 55 * time.Minute
	defaultRateLimit       = 5
	defaultRateBurst       = 10
	defaultSource          = "itera-orchestrator"
	defaultBatchTimeout    = 300
	defaultPollingInterval = 10
	defaultPollConcurrency = 4
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Address:       defaultAddress,
		SQLitePath:    defaultSQLitePath(),
		Workers:       defaultWorkers,
		MaxFileSize:   defaultMaxFileSize,
		AllowedTypes:  []string{"application/pdf", "image/png", "image/jpeg"},
		ExportLinkTTL: defaultExportLinkTTL,
		Itera: Itera{
			Source:         defaultSource,
			RequestTimeout: defaultRequestTimeout,
			TokenTTL:       defaultTokenTTL,
			RateLimit:      defaultRateLimit,
			RateBurst:      defaultRateBurst,
		},
		Batch: Batch{
			TimeoutSeconds:         defaultBatchTimeout,
			PollingIntervalSeconds: defaultPollingInterval,
			Concurrency:            defaultPollConcurrency,
		},
		Redis: Redis{Addr: "127.0.0.1:6379"},
		S3: S3{
			RawBucket:       "itera-raw",
			ProcessedBucket: "itera-processed",
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads configuration: defaults, then the TOML file named by
// ITERA_CONFIG_FILE when set, then environment variables. Load does not
// validate; binaries call Validate once they know which parts they need.
func Load() (*Config, error) {
	cfg := Default()
	if path := readEnv("ITERA_CONFIG_FILE", ""); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the TOML file at path onto cfg.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return apperr.Wrap(apperr.ErrValidation, "parse config file", err)
	}
	var d fileDurations
	if err := toml.Unmarshal(data, &d); err != nil {
		return apperr.Wrap(apperr.ErrValidation, "parse config file", err)
	}
	for _, f := range []struct {
		raw string
		dst *time.Duration
	}{
		{d.ExportLinkTTL, &c.ExportLinkTTL},
		{d.Itera.RequestTimeout, &c.Itera.RequestTimeout},
		{d.Itera.TokenTTL, &c.Itera.TokenTTL},
	} {
		if f.raw == "" {
			continue
		}
		v, err := time.ParseDuration(f.raw)
		if err != nil {
			return apperr.Wrap(apperr.ErrValidation, "parse config file", err)
		}
		*f.dst = v
	}
	if d.SigningSecret != "" {
		c.SigningSecret = []byte(d.SigningSecret)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Address = readEnv("ITERA_ADDRESS", c.Address)
	c.DatabaseURL = readEnv("ITERA_DATABASE_URL", c.DatabaseURL)
	c.SQLitePath = readEnv("ITERA_SQLITE_PATH", c.SQLitePath)
	c.Workers = parseInt("ITERA_WORKERS", c.Workers)
	c.MaxFileSize = parseInt64("ITERA_MAX_FILE_BYTES", c.MaxFileSize)
	c.AllowedTypes = parseList("ITERA_ALLOWED_TYPES", c.AllowedTypes)
	if secret := parseSecret("ITERA_SIGNING_SECRET"); secret != nil {
		c.SigningSecret = secret
	}
	c.ExportLinkTTL = parseDuration("ITERA_EXPORT_LINK_TTL", c.ExportLinkTTL)

	it := &c.Itera
	it.Username = readEnv("ITERA_USERNAME", it.Username)
	it.Password = readEnv("ITERA_PASSWORD", it.Password)
	it.AuthURL = readEnv("ITERA_AUTH_URL", it.AuthURL)
	it.UploadURL = readEnv("ITERA_UPLOAD_URL", it.UploadURL)
	it.StatusURL = readEnv("ITERA_STATUS_URL", it.StatusURL)
	it.ExportURL = readEnv("ITERA_EXPORT_URL", it.ExportURL)
	it.MappingURL = readEnv("ITERA_MAPPING_URL", it.MappingURL)
	it.Source = readEnv("ITERA_UPLOAD_SOURCE", it.Source)
	it.RequestTimeout = parseDuration("ITERA_REQUEST_TIMEOUT", it.RequestTimeout)
	it.TokenTTL = parseDuration("ITERA_TOKEN_TTL", it.TokenTTL)
	it.RateLimit = parseFloat("ITERA_RATE_LIMIT", it.RateLimit)
	it.RateBurst = parseInt("ITERA_RATE_BURST", it.RateBurst)

	b := &c.Batch
	b.WaitForCompletion = parseBool("ITERA_WAIT_FOR_COMPLETION", b.WaitForCompletion)
	b.TimeoutSeconds = parseInt("ITERA_BATCH_TIMEOUT_SECONDS", b.TimeoutSeconds)
	b.PollingIntervalSeconds = parseInt("ITERA_POLLING_INTERVAL_SECONDS", b.PollingIntervalSeconds)
	b.Concurrency = parseInt("ITERA_POLL_CONCURRENCY", b.Concurrency)
	b.SuccessStatuses = parseList("ITERA_SUCCESS_STATUSES", b.SuccessStatuses)
	b.ErrorStatuses = parseList("ITERA_ERROR_STATUSES", b.ErrorStatuses)

	c.Redis.Addr = readEnv("ITERA_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = readEnv("ITERA_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = parseInt("ITERA_REDIS_DB", c.Redis.DB)

	s := &c.S3
	s.Endpoint = readEnv("ITERA_S3_ENDPOINT", s.Endpoint)
	s.AccessKey = readEnv("ITERA_S3_ACCESS_KEY", s.AccessKey)
	s.SecretKey = readEnv("ITERA_S3_SECRET_KEY", s.SecretKey)
	s.Region = readEnv("ITERA_S3_REGION", s.Region)
	s.UseSSL = parseBool("ITERA_S3_USE_SSL", s.UseSSL)
	s.RawBucket = readEnv("ITERA_RAW_BUCKET", s.RawBucket)
	s.ProcessedBucket = readEnv("ITERA_PROCESSED_BUCKET", s.ProcessedBucket)

	c.Log.Level = readEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = readEnv("LOG_FORMAT", c.Log.Format)
}

// normalize replaces non-positive numbers with defaults and generates a
// signing secret when none is configured.
func (c *Config) normalize() error {
	if c.SigningSecret == nil {
		secret, err := randomSecret()
		if err != nil {
			return err
		}
		c.SigningSecret = secret
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = defaultMaxFileSize
	}
	if c.ExportLinkTTL <= 0 {
		c.ExportLinkTTL = defaultExportLinkTTL
	}
	if c.Itera.RequestTimeout <= 0 {
		c.Itera.RequestTimeout = defaultRequestTimeout
	}
	if c.Itera.TokenTTL <= 0 {
		c.Itera.TokenTTL = defaultTokenTTL
	}
	if c.Itera.RateBurst <= 0 {
		c.Itera.RateBurst = defaultRateBurst
	}
	if c.Batch.TimeoutSeconds <= 0 {
		c.Batch.TimeoutSeconds = defaultBatchTimeout
	}
	if c.Batch.PollingIntervalSeconds <= 0 {
		c.Batch.PollingIntervalSeconds = defaultPollingInterval
	}
	if c.Batch.Concurrency <= 0 {
		c.Batch.Concurrency = defaultPollConcurrency
	}
	return nil
}

// Validate reports missing remote credentials or endpoints.
func (c *Config) Validate() error {
	var errs []error
	required := []struct{ name, value string }{
		{"ITERA_USERNAME", c.Itera.Username},
		{"ITERA_PASSWORD", c.Itera.Password},
		{"ITERA_AUTH_URL", c.Itera.AuthURL},
		{"ITERA_UPLOAD_URL", c.Itera.UploadURL},
		{"ITERA_STATUS_URL", c.Itera.StatusURL},
		{"ITERA_EXPORT_URL", c.Itera.ExportURL},
		{"ITERA_MAPPING_URL", c.Itera.MappingURL},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		}
	}
	if c.Batch.PollingIntervalSeconds > c.Batch.TimeoutSeconds {
		errs = append(errs, fmt.Errorf("polling interval %ds exceeds batch timeout %ds", c.Batch.PollingIntervalSeconds, c.Batch.TimeoutSeconds))
	}
	if err := errors.Join(errs...); err != nil {
		return apperr.Wrap(apperr.ErrValidation, "validate config", err)
	}
	return nil
}

// Client returns the remote client settings.
func (c *Config) Client() itera.Config {
	return itera.Config{
		Username:       c.Itera.Username,
		Password:       c.Itera.Password,
		AuthURL:        c.Itera.AuthURL,
		UploadURL:      c.Itera.UploadURL,
		StatusURL:      c.Itera.StatusURL,
		ExportURL:      c.Itera.ExportURL,
		MappingURL:     c.Itera.MappingURL,
		Source:         c.Itera.Source,
		RequestTimeout: c.Itera.RequestTimeout,
		RateLimit:      c.Itera.RateLimit,
		RateBurst:      c.Itera.RateBurst,
	}
}

func defaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "itera.db"
	}
	return filepath.Join(home, ".itera", "itera.db")
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Invalid numbers, booleans and durations fall back to the default.

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}

// readRandom is swapped in tests.
var readRandom = rand.Read

func randomSecret() ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := readRandom(buf); err != nil {
		return nil, fmt.Errorf("generate signing secret: %w", err)
	}
	return buf, nil
}
