package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix prefixes every environment variable read by the loader.
const DefaultEnvPrefix = "MDS"

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile string
	envPrefix  string
	flags      *pflag.FlagSet
	settings   map[string]interface{}
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (e.g., "MDS")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// WithFlags binds the command-line overrides registered by RegisterFlags.
// Flags that were set explicitly take precedence over the environment.
func (l *ViperLoader) WithFlags(flags *pflag.FlagSet) *ViperLoader {
	l.flags = flags
	return l
}

// Load loads configuration with precedence: flags > ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()
	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	v.SetEnvPrefix(l.envPrefix)
	l.bindEnvVars(v)

	if l.flags != nil {
		if err := bindFlags(v, l.flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	// Re-keyed from the decoded values so settings read from the
	// environment keep their real types.
	typed := viper.New()
	l.setDefaults(typed, &cfg)
	l.settings = typed.AllSettings()
	return &cfg, nil
}

// Settings returns the effective settings of the last Load with credentials
// masked, keyed the way they appear in a config file.
func (l *ViperLoader) Settings() map[string]interface{} {
	if l.settings == nil {
		return map[string]interface{}{}
	}
	return redact(l.settings)
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	v.BindEnv("router_type", l.prefixedEnv("ROUTER_TYPE"))
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	// HTTP
	v.BindEnv("http.port", l.prefixedEnv("HTTP_PORT"))
	v.BindEnv("http.read_timeout", l.prefixedEnv("HTTP_READ_TIMEOUT"))
	v.BindEnv("http.write_timeout", l.prefixedEnv("HTTP_WRITE_TIMEOUT"))
	v.BindEnv("http.idle_timeout", l.prefixedEnv("HTTP_IDLE_TIMEOUT"))
	v.BindEnv("http.request_timeout", l.prefixedEnv("HTTP_REQUEST_TIMEOUT"))
	v.BindEnv("http.max_request_size", l.prefixedEnv("HTTP_MAX_REQUEST_SIZE"))

	// Management
	v.BindEnv("management.enabled", l.prefixedEnv("MGMT_ENABLED"))
	v.BindEnv("management.port", l.prefixedEnv("MGMT_PORT"))
	v.BindEnv("management.read_timeout", l.prefixedEnv("MGMT_READ_TIMEOUT"))
	v.BindEnv("management.write_timeout", l.prefixedEnv("MGMT_WRITE_TIMEOUT"))

	// CORS
	v.BindEnv("cors.enabled", l.prefixedEnv("CORS_ENABLED"))
	v.BindEnv("cors.allow_origins", l.prefixedEnv("CORS_ALLOW_ORIGINS"))
	v.BindEnv("cors.allow_methods", l.prefixedEnv("CORS_ALLOW_METHODS"))
	v.BindEnv("cors.allow_headers", l.prefixedEnv("CORS_ALLOW_HEADERS"))
	v.BindEnv("cors.expose_headers", l.prefixedEnv("CORS_EXPOSE_HEADERS"))
	v.BindEnv("cors.allow_credentials", l.prefixedEnv("CORS_ALLOW_CREDENTIALS"))
	v.BindEnv("cors.max_age", l.prefixedEnv("CORS_MAX_AGE"))

	// Rate limit
	v.BindEnv("rate_limit.enabled", l.prefixedEnv("RATE_LIMIT_ENABLED"))
	v.BindEnv("rate_limit.type", l.prefixedEnv("RATE_LIMIT_TYPE"))
	v.BindEnv("rate_limit.requests_per_second", l.prefixedEnv("RATE_LIMIT_REQUESTS_PER_SECOND"))
	v.BindEnv("rate_limit.burst", l.prefixedEnv("RATE_LIMIT_BURST"))
	v.BindEnv("rate_limit.window", l.prefixedEnv("RATE_LIMIT_WINDOW"))
	v.BindEnv("rate_limit.prefix", l.prefixedEnv("RATE_LIMIT_PREFIX"))

	// Compression
	v.BindEnv("compression.enabled", l.prefixedEnv("COMPRESSION_ENABLED"))
	v.BindEnv("compression.enable_brotli", l.prefixedEnv("COMPRESSION_ENABLE_BROTLI"))
	v.BindEnv("compression.gzip_level", l.prefixedEnv("COMPRESSION_GZIP_LEVEL"))
	v.BindEnv("compression.brotli_level", l.prefixedEnv("COMPRESSION_BROTLI_LEVEL"))
	v.BindEnv("compression.min_size", l.prefixedEnv("COMPRESSION_MIN_SIZE"))

	// Database
	v.BindEnv("database.type", l.prefixedEnv("DB_TYPE"))
	v.BindEnv("database.url", l.prefixedEnv("DB_URL"))
	v.BindEnv("database.database_name", l.prefixedEnv("DB_DATABASE_NAME"), l.prefixedEnv("DB_NAME"))
	v.BindEnv("database.connect_timeout", l.prefixedEnv("DB_CONNECT_TIMEOUT"))
	v.BindEnv("database.query_timeout", l.prefixedEnv("DB_QUERY_TIMEOUT"))

	// Redis
	v.BindEnv("redis.url", l.prefixedEnv("REDIS_URL"))
	v.BindEnv("redis.max_conns", l.prefixedEnv("REDIS_MAX_CONNS"))
	v.BindEnv("redis.operation_timeout", l.prefixedEnv("REDIS_OPERATION_TIMEOUT"))

	// Query engine
	v.BindEnv("query.default_page_size", l.prefixedEnv("QUERY_DEFAULT_PAGE_SIZE"))
	v.BindEnv("query.max_page_size", l.prefixedEnv("QUERY_MAX_PAGE_SIZE"))
	v.BindEnv("query.timeout", l.prefixedEnv("QUERY_TIMEOUT"))
	v.BindEnv("query.retry_reads_on_timeout", l.prefixedEnv("QUERY_RETRY_READS_ON_TIMEOUT"))
	v.BindEnv("query.restricted", l.prefixedEnv("QUERY_RESTRICTED"))
	v.BindEnv("query.count_concurrency", l.prefixedEnv("QUERY_COUNT_CONCURRENCY"))

	// Relationship index
	v.BindEnv("index.max_age", l.prefixedEnv("INDEX_MAX_AGE"))
	v.BindEnv("index.batch_size", l.prefixedEnv("INDEX_BATCH_SIZE"))
	v.BindEnv("index.rebuild_timeout", l.prefixedEnv("INDEX_REBUILD_TIMEOUT"))

	// Breaker
	v.BindEnv("breaker.max_failures", l.prefixedEnv("BREAKER_MAX_FAILURES"))
	v.BindEnv("breaker.reset_timeout", l.prefixedEnv("BREAKER_RESET_TIMEOUT"))

	// Observability
	v.BindEnv("observability.log_level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("observability.log_format", l.prefixedEnv("LOG_FORMAT"))
	v.BindEnv("observability.tracing_enabled", l.prefixedEnv("TRACING_ENABLED"))
	v.BindEnv("observability.tracing_endpoint", l.prefixedEnv("TRACING_ENDPOINT"))
	v.BindEnv("observability.tracing_sample_rate", l.prefixedEnv("TRACING_SAMPLE_RATE"))
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

// setDefaults sets default values in Viper from the default config
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("router_type", cfg.RouterType)
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("http.port", cfg.HTTP.Port)
	v.SetDefault("http.read_timeout", cfg.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", cfg.HTTP.WriteTimeout)
	v.SetDefault("http.idle_timeout", cfg.HTTP.IdleTimeout)
	v.SetDefault("http.request_timeout", cfg.HTTP.RequestTimeout)
	v.SetDefault("http.max_request_size", cfg.HTTP.MaxRequestSize)

	v.SetDefault("management.enabled", cfg.Management.Enabled)
	v.SetDefault("management.port", cfg.Management.Port)
	v.SetDefault("management.read_timeout", cfg.Management.ReadTimeout)
	v.SetDefault("management.write_timeout", cfg.Management.WriteTimeout)

	v.SetDefault("cors.enabled", cfg.CORS.Enabled)
	v.SetDefault("cors.allow_origins", cfg.CORS.AllowOrigins)
	v.SetDefault("cors.allow_methods", cfg.CORS.AllowMethods)
	v.SetDefault("cors.allow_headers", cfg.CORS.AllowHeaders)
	v.SetDefault("cors.expose_headers", cfg.CORS.ExposeHeaders)
	v.SetDefault("cors.allow_credentials", cfg.CORS.AllowCredentials)
	v.SetDefault("cors.max_age", cfg.CORS.MaxAge)

	v.SetDefault("rate_limit.enabled", cfg.RateLimit.Enabled)
	v.SetDefault("rate_limit.type", cfg.RateLimit.Type)
	v.SetDefault("rate_limit.requests_per_second", cfg.RateLimit.RequestsPerSecond)
	v.SetDefault("rate_limit.burst", cfg.RateLimit.Burst)
	v.SetDefault("rate_limit.window", cfg.RateLimit.Window)
	v.SetDefault("rate_limit.prefix", cfg.RateLimit.Prefix)

	v.SetDefault("compression.enabled", cfg.Compression.Enabled)
	v.SetDefault("compression.enable_brotli", cfg.Compression.EnableBrotli)
	v.SetDefault("compression.gzip_level", cfg.Compression.GzipLevel)
	v.SetDefault("compression.brotli_level", cfg.Compression.BrotliLevel)
	v.SetDefault("compression.min_size", cfg.Compression.MinSize)

	v.SetDefault("database.type", cfg.Database.Type)
	v.SetDefault("database.url", cfg.Database.URL)
	v.SetDefault("database.database_name", cfg.Database.DatabaseName)
	v.SetDefault("database.connect_timeout", cfg.Database.ConnectTimeout)
	v.SetDefault("database.query_timeout", cfg.Database.QueryTimeout)

	v.SetDefault("redis.url", cfg.Redis.URL)
	v.SetDefault("redis.max_conns", cfg.Redis.MaxConns)
	v.SetDefault("redis.operation_timeout", cfg.Redis.OperationTimeout)

	v.SetDefault("query.default_page_size", cfg.Query.DefaultPageSize)
	v.SetDefault("query.max_page_size", cfg.Query.MaxPageSize)
	v.SetDefault("query.timeout", cfg.Query.Timeout)
	v.SetDefault("query.retry_reads_on_timeout", cfg.Query.RetryReadsOnTimeout)
	v.SetDefault("query.restricted", cfg.Query.Restricted)
	v.SetDefault("query.count_concurrency", cfg.Query.CountConcurrency)

	v.SetDefault("index.max_age", cfg.Index.MaxAge)
	v.SetDefault("index.batch_size", cfg.Index.BatchSize)
	v.SetDefault("index.rebuild_timeout", cfg.Index.RebuildTimeout)

	v.SetDefault("breaker.max_failures", cfg.Breaker.MaxFailures)
	v.SetDefault("breaker.reset_timeout", cfg.Breaker.ResetTimeout)

	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)
}

// Validate validates the configuration and returns detailed errors
func (l *ViperLoader) Validate(cfg *Config) error {
	var errs []error

	cfg.RouterType = strings.ToLower(strings.TrimSpace(cfg.RouterType))
	cfg.Database.Type = strings.ToLower(strings.TrimSpace(cfg.Database.Type))
	cfg.RateLimit.Type = strings.ToLower(strings.TrimSpace(cfg.RateLimit.Type))
	cfg.CORS.AllowOrigins = normalizeStringSlice(cfg.CORS.AllowOrigins)

	validRouterTypes := []string{RouterTypeGin, RouterTypeGorilla}
	if !contains(validRouterTypes, cfg.RouterType) {
		errs = append(errs, fmt.Errorf("invalid router_type: %s (must be one of: %v)", cfg.RouterType, validRouterTypes))
	}

	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port must be between 1 and 65535, got %d", cfg.HTTP.Port))
	}
	if cfg.Management.Enabled {
		if cfg.Management.Port <= 0 || cfg.Management.Port > 65535 {
			errs = append(errs, fmt.Errorf("management.port must be between 1 and 65535, got %d", cfg.Management.Port))
		} else if cfg.Management.Port == cfg.HTTP.Port {
			errs = append(errs, errors.New("management.port must differ from http.port"))
		}
	}

	switch cfg.Database.Type {
	case DatabaseTypeMemory:
	case DatabaseTypeMongoDB:
		if cfg.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required when database.type is mongodb"))
		}
		if cfg.Database.DatabaseName == "" {
			errs = append(errs, errors.New("database.database_name is required for MongoDB"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid database.type: %s (must be one of: %v)", cfg.Database.Type,
			[]string{DatabaseTypeMongoDB, DatabaseTypeMemory}))
	}

	if cfg.Query.DefaultPageSize <= 0 {
		errs = append(errs, errors.New("query.default_page_size must be greater than zero"))
	}
	if cfg.Query.MaxPageSize < cfg.Query.DefaultPageSize {
		errs = append(errs, fmt.Errorf("query.max_page_size (%d) must be at least query.default_page_size (%d)",
			cfg.Query.MaxPageSize, cfg.Query.DefaultPageSize))
	}
	if cfg.Query.Timeout <= 0 {
		errs = append(errs, errors.New("query.timeout must be greater than zero"))
	}
	if cfg.Query.CountConcurrency <= 0 {
		errs = append(errs, errors.New("query.count_concurrency must be greater than zero"))
	}

	if cfg.Index.BatchSize <= 0 {
		errs = append(errs, errors.New("index.batch_size must be greater than zero"))
	}
	if cfg.Index.MaxAge < 0 {
		errs = append(errs, errors.New("index.max_age cannot be negative"))
	}

	if cfg.Breaker.MaxFailures <= 0 {
		errs = append(errs, errors.New("breaker.max_failures must be greater than zero"))
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RequestsPerSecond <= 0 {
			errs = append(errs, errors.New("rate_limit.requests_per_second must be greater than zero"))
		}
		if cfg.RateLimit.Burst < 0 {
			errs = append(errs, errors.New("rate_limit.burst cannot be negative"))
		}
		switch cfg.RateLimit.Type {
		case RateLimitTypeLocal:
		case RateLimitTypeRedis:
			if cfg.Redis.URL == "" {
				errs = append(errs, errors.New("redis.url is required when rate_limit.type is redis"))
			}
		default:
			errs = append(errs, fmt.Errorf("invalid rate_limit.type: %s (must be one of: %v)", cfg.RateLimit.Type,
				[]string{RateLimitTypeLocal, RateLimitTypeRedis}))
		}
	}

	if cfg.CORS.Enabled && cfg.CORS.AllowCredentials && contains(cfg.CORS.AllowOrigins, "*") {
		errs = append(errs, errors.New("cors.allow_credentials cannot be combined with a wildcard origin"))
	}

	validLevels := []string{"debug", "info", "warn", "warning", "error"}
	if !contains(validLevels, strings.ToLower(cfg.Observability.LogLevel)) {
		errs = append(errs, fmt.Errorf("invalid observability.log_level: %s (must be one of: %v)", cfg.Observability.LogLevel, validLevels))
	}
	validFormats := []string{"json", "text", "console"}
	if !contains(validFormats, strings.ToLower(cfg.Observability.LogFormat)) {
		errs = append(errs, fmt.Errorf("invalid observability.log_format: %s (must be one of: %v)", cfg.Observability.LogFormat, validFormats))
	}
	if cfg.Observability.TracingEnabled {
		if cfg.Observability.TracingEndpoint == "" {
			errs = append(errs, errors.New("observability.tracing_endpoint is required when tracing is enabled"))
		}
		if cfg.Observability.TracingSampleRate < 0 || cfg.Observability.TracingSampleRate > 1 {
			errs = append(errs, fmt.Errorf("observability.tracing_sample_rate must be between 0 and 1, got %v", cfg.Observability.TracingSampleRate))
		}
	}

	return errors.Join(errs...)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func normalizeStringSlice(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// redact masks the password of any URL-valued setting.
func redact(settings map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(settings))
	for key, value := range settings {
		switch typed := value.(type) {
		case map[string]interface{}:
			out[key] = redact(typed)
		case string:
			out[key] = redactURL(typed)
		default:
			out[key] = value
		}
	}
	return out
}

func redactURL(raw string) string {
	if !strings.Contains(raw, "://") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, hasPassword := u.User.Password(); !hasPassword {
		return raw
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxx")
	return u.String()
}
