package config

import "time"

// Database type constants
const (
	// DatabaseTypeMongoDB stores documents in MongoDB
	DatabaseTypeMongoDB = "mongodb"
	// DatabaseTypeMemory keeps documents in process memory (development, tests)
	DatabaseTypeMemory = "memory"
)

// Router type constants
const (
	RouterTypeGin     = "gin"
	RouterTypeGorilla = "gorilla"
)

// Rate limiter backend constants
const (
	// RateLimitTypeLocal keeps one token bucket per client in process
	RateLimitTypeLocal = "local"
	// RateLimitTypeRedis shares a fixed-window counter across replicas
	RateLimitTypeRedis = "redis"
)

// Config is the root configuration structure of the metadata server
type Config struct {
	RouterType    string `mapstructure:"router_type"`
	Service       ServiceConfig
	HTTP          HTTPConfig
	Management    ManagementConfig
	CORS          CORSConfig
	RateLimit     RateLimitConfig   `mapstructure:"rate_limit"`
	Compression   CompressionConfig `mapstructure:"compression"`
	Database      DatabaseConfig
	Redis         RedisConfig
	Query         QueryConfig
	Index         IndexConfig
	Breaker       BreakerConfig
	Observability ObservabilityConfig
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// HTTPConfig configures the public API server
type HTTPConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// MaxRequestSize bounds request bodies; imports carry whole packages.
	MaxRequestSize int64 `mapstructure:"max_request_size"`
}

// ManagementConfig configures the management server (health, readiness, metrics, version)
type ManagementConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// CORSConfig configures cross-site requests to the public API
type CORSConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	AllowOrigins     []string      `mapstructure:"allow_origins"`
	AllowMethods     []string      `mapstructure:"allow_methods"`
	AllowHeaders     []string      `mapstructure:"allow_headers"`
	ExposeHeaders    []string      `mapstructure:"expose_headers"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	MaxAge           time.Duration `mapstructure:"max_age"`
}

// RateLimitConfig configures per-client request throttling
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Type              string        `mapstructure:"type"`
	RequestsPerSecond int           `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Window            time.Duration `mapstructure:"window"`
	Prefix            string        `mapstructure:"prefix"`
}

// CompressionConfig configures response compression
type CompressionConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	EnableBrotli bool `mapstructure:"enable_brotli"`
	GzipLevel    int  `mapstructure:"gzip_level"`
	BrotliLevel  int  `mapstructure:"brotli_level"`
	MinSize      int  `mapstructure:"min_size"`
}

// DatabaseConfig configures the document store
type DatabaseConfig struct {
	Type           string        `mapstructure:"type"`
	URL            string        `mapstructure:"url"`
	DatabaseName   string        `mapstructure:"database_name"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
}

// RedisConfig configures the optional Redis connection used to broadcast
// relationship index invalidations between replicas and, when
// rate_limit.type is redis, to share rate limit counters.
type RedisConfig struct {
	URL              string        `mapstructure:"url"`
	MaxConns         int           `mapstructure:"max_conns"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// QueryConfig configures resolution, paging and storage guards
type QueryConfig struct {
	DefaultPageSize     int           `mapstructure:"default_page_size"`
	MaxPageSize         int           `mapstructure:"max_page_size"`
	Timeout             time.Duration `mapstructure:"timeout"`
	RetryReadsOnTimeout bool          `mapstructure:"retry_reads_on_timeout"`
	// Restricted rejects list requests that carry no filter at all.
	Restricted       bool `mapstructure:"restricted"`
	CountConcurrency int  `mapstructure:"count_concurrency"`
}

// IndexConfig configures the package/media relationship index
type IndexConfig struct {
	MaxAge         time.Duration `mapstructure:"max_age"`
	BatchSize      int           `mapstructure:"batch_size"`
	RebuildTimeout time.Duration `mapstructure:"rebuild_timeout"`
}

// BreakerConfig configures the circuit breaker guarding the document store
type BreakerConfig struct {
	MaxFailures  int           `mapstructure:"max_failures"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

// ObservabilityConfig configures logging and tracing
type ObservabilityConfig struct {
	LogLevel          string  `mapstructure:"log_level"`
	LogFormat         string  `mapstructure:"log_format"`
	TracingEnabled    bool    `mapstructure:"tracing_enabled"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate"`
}

// DefaultConfig returns the configuration used when neither a file nor the
// environment overrides a key.
func DefaultConfig() *Config {
	return &Config{
		RouterType: RouterTypeGin,
		Service: ServiceConfig{
			Name:        "mds",
			Environment: "production",
		},
		HTTP: HTTPConfig{
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    120 * time.Second,
			RequestTimeout: 30 * time.Second,
			MaxRequestSize: 32 << 20,
		},
		Management: ManagementConfig{
			Enabled:      true,
			Port:         9090,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		CORS: CORSConfig{
			Enabled:       false,
			AllowOrigins:  []string{},
			AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Content-Type", "X-Request-ID"},
			ExposeHeaders: []string{"X-Request-ID"},
			MaxAge:        12 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			Type:              RateLimitTypeLocal,
			RequestsPerSecond: 100,
			Burst:             200,
			Window:            time.Second,
			Prefix:            "mds:ratelimit",
		},
		Compression: CompressionConfig{
			Enabled:      true,
			EnableBrotli: true,
			GzipLevel:    -1,
			BrotliLevel:  4,
			MinSize:      1024,
		},
		Database: DatabaseConfig{
			Type:           DatabaseTypeMemory,
			DatabaseName:   "mds",
			ConnectTimeout: 10 * time.Second,
			QueryTimeout:   5 * time.Second,
		},
		Redis: RedisConfig{
			MaxConns:         10,
			OperationTimeout: 3 * time.Second,
		},
		Query: QueryConfig{
			DefaultPageSize:     50,
			MaxPageSize:         500,
			Timeout:             5 * time.Second,
			RetryReadsOnTimeout: true,
			Restricted:          false,
			CountConcurrency:    8,
		},
		Index: IndexConfig{
			MaxAge:         5 * time.Minute,
			BatchSize:      500,
			RebuildTimeout: 30 * time.Second,
		},
		Breaker: BreakerConfig{
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			TracingEnabled:    false,
			TracingEndpoint:   "localhost:4317",
			TracingSampleRate: 0.1,
		},
	}
}
