package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"coderev/internal/observability"
)

// Environment names accepted in ENVIRONMENT.
const (
	EnvironmentLocal = "local"
	EnvironmentDev   = "dev"
	EnvironmentProd  = "prod"
)

// Config holds the runtime settings of the service.
type Config struct {
	APIKey            string
	URL               string
	Model             string
	HTTPTimeout       time.Duration
	HealthTimeout     time.Duration
	MaxRetries        int
	BackoffFactor     time.Duration
	BackoffMax        time.Duration
	RetryableStatuses []int
	Referer           string
	Title             string

	Environment string
	Host        string
	Port        int

	LogLevel  string
	LogFormat string

	Metrics observability.MetricsConfig
	Tracing observability.TracingConfig

	PromptsFile        string
	StaticDir          string
	MaxUploadBytes     int64
	MaxResponseBytes   int64
	CORSAllowedOrigins []string
}

// Options controls where configuration is read from.
type Options struct {
	// ConfigFile is an optional YAML/JSON/TOML file.
	ConfigFile string
	// EnvFile is a dotenv file; when empty ".env" is used if it exists.
	EnvFile string
}

// Addr returns the API listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction reports whether the service runs in the prod environment.
func (c Config) IsProduction() bool {
	return c.Environment == EnvironmentProd
}

// envBindings maps config keys to the environment variables read for them,
// in lookup order.
var envBindings = map[string][]string{
	"api_key":              {"API_KEY", "OPENROUTER_API_KEY"},
	"url":                  {"URL", "LLM_BASE_URL"},
	"model":                {"MODEL", "LLM_MODEL"},
	"http_timeout":         {"HTTP_TIMEOUT"},
	"health_timeout":       {"HEALTH_TIMEOUT"},
	"max_retries":          {"MAX_RETRIES"},
	"backoff_factor":       {"BACKOFF_FACTOR"},
	"backoff_max":          {"BACKOFF_MAX"},
	"retryable_statuses":   {"RETRYABLE_STATUSES"},
	"app_referer":          {"APP_REFERER"},
	"app_title":            {"APP_TITLE"},
	"environment":          {"ENVIRONMENT"},
	"host":                 {"HOST"},
	"port":                 {"PORT"},
	"log_level":            {"LOG_LEVEL"},
	"log_format":           {"LOG_FORMAT"},
	"metrics_enabled":      {"METRICS_ENABLED"},
	"metrics_port":         {"METRICS_PORT"},
	"tracing_enabled":      {"TRACING_ENABLED"},
	"tracing_exporter":     {"TRACING_EXPORTER"},
	"tracing_endpoint":     {"TRACING_ENDPOINT"},
	"tracing_sample_rate":  {"TRACING_SAMPLE_RATE"},
	"prompts_file":         {"PROMPTS_FILE"},
	"static_dir":           {"STATIC_DIR"},
	"max_upload_bytes":     {"MAX_UPLOAD_BYTES"},
	"max_response_bytes":   {"MAX_RESPONSE_BYTES"},
	"cors_allowed_origins": {"CORS_ALLOWED_ORIGINS"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("url", "https://openrouter.ai/api/v1")
	v.SetDefault("model", "meta-llama/llama-3.3-70b-instruct:free")
	v.SetDefault("http_timeout", 30.0)
	v.SetDefault("health_timeout", 5.0)
	v.SetDefault("max_retries", 3)
	v.SetDefault("backoff_factor", 1.0)
	v.SetDefault("backoff_max", 0.0)
	v.SetDefault("retryable_statuses", "429,502,503,504")
	v.SetDefault("app_referer", "http://localhost:8080")
	v.SetDefault("app_title", "Code Review Assistant")
	v.SetDefault("environment", "")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_port", 9090)
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("tracing_exporter", "otlp")
	v.SetDefault("tracing_endpoint", "")
	v.SetDefault("tracing_sample_rate", 1.0)
	v.SetDefault("prompts_file", "")
	v.SetDefault("static_dir", "web")
	v.SetDefault("max_upload_bytes", int64(1<<20))
	v.SetDefault("max_response_bytes", int64(4<<20))
	v.SetDefault("cors_allowed_origins", "")
}

// Load reads configuration from defaults, the optional config file, the
// dotenv file and the process environment, then validates it.
func Load(opts Options) (Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v)
	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return Config{}, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", opts.ConfigFile, err)
		}
	}

	cfg := fromViper(v)
	statuses, err := statusList(v.Get("retryable_statuses"))
	if err != nil {
		return Config{}, err
	}
	cfg.RetryableStatuses = statuses
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadEnvFile never overrides variables that are already set.
func loadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetFloat64(key) * float64(time.Second))
}

func fromViper(v *viper.Viper) Config {
	return Config{
		APIKey:        strings.TrimSpace(v.GetString("api_key")),
		URL:           strings.TrimRight(strings.TrimSpace(v.GetString("url")), "/"),
		Model:         strings.TrimSpace(v.GetString("model")),
		HTTPTimeout:   seconds(v, "http_timeout"),
		HealthTimeout: seconds(v, "health_timeout"),
		MaxRetries:    v.GetInt("max_retries"),
		BackoffFactor: seconds(v, "backoff_factor"),
		BackoffMax:    seconds(v, "backoff_max"),
		Referer:       v.GetString("app_referer"),
		Title:         v.GetString("app_title"),
		Environment:   strings.ToLower(strings.TrimSpace(v.GetString("environment"))),
		Host:          v.GetString("host"),
		Port:          v.GetInt("port"),
		LogLevel:      strings.ToLower(v.GetString("log_level")),
		LogFormat:     strings.ToLower(v.GetString("log_format")),
		Metrics: observability.MetricsConfig{
			Enabled:        v.GetBool("metrics_enabled"),
			PrometheusPort: v.GetInt("metrics_port"),
		},
		Tracing: observability.TracingConfig{
			Enabled:     v.GetBool("tracing_enabled"),
			Exporter:    strings.ToLower(v.GetString("tracing_exporter")),
			Endpoint:    v.GetString("tracing_endpoint"),
			SampleRate:  v.GetFloat64("tracing_sample_rate"),
			ServiceName: "coderev",
		},
		PromptsFile:        v.GetString("prompts_file"),
		StaticDir:          v.GetString("static_dir"),
		MaxUploadBytes:     v.GetInt64("max_upload_bytes"),
		MaxResponseBytes:   v.GetInt64("max_response_bytes"),
		CORSAllowedOrigins: stringList(v.Get("cors_allowed_origins")),
	}
}

// stringList accepts either a comma separated string (environment) or a
// list (config file).
func stringList(raw any) []string {
	var items []string
	switch value := raw.(type) {
	case string:
		items = strings.Split(value, ",")
	case []string:
		items = value
	case []any:
		for _, item := range value {
			items = append(items, fmt.Sprint(item))
		}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// statusList parses RETRYABLE_STATUSES, given as a comma separated string or
// a list of numbers.
func statusList(raw any) ([]int, error) {
	items := stringList(raw)
	statuses := make([]int, 0, len(items))
	for _, item := range items {
		status, err := strconv.Atoi(strings.TrimSpace(item))
		if err != nil || status < 100 || status > 599 {
			return nil, fmt.Errorf("RETRYABLE_STATUSES: invalid status %q", item)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.APIKey == "" {
		errs = append(errs, errors.New("API_KEY is required"))
	}
	if c.URL == "" {
		errs = append(errs, errors.New("URL must not be empty"))
	}
	if c.Model == "" {
		errs = append(errs, errors.New("MODEL must not be empty"))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("HTTP_TIMEOUT must be positive"))
	}
	if c.HealthTimeout <= 0 {
		errs = append(errs, errors.New("HEALTH_TIMEOUT must be positive"))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, errors.New("MAX_RETRIES must be at least 1"))
	}
	if c.BackoffFactor < 0 || c.BackoffMax < 0 {
		errs = append(errs, errors.New("backoff settings must not be negative"))
	}
	switch c.Environment {
	case "", EnvironmentLocal, EnvironmentDev, EnvironmentProd:
	default:
		errs = append(errs, fmt.Errorf("ENVIRONMENT must be one of local, dev, prod (got %q)", c.Environment))
	}
	if _, ok := observability.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("unknown LOG_LEVEL %q", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json (got %q)", c.LogFormat))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
