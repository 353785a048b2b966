package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	Observability ObservabilityConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis   RedisConfig
	SePay   SePayConfig
	Webhook WebhookConfig
	Scan    ScanConfig
	Email   EmailConfig
	Notify  NotifyConfig
}

// ObservabilityConfig carries the raw logging and tracing settings.
type ObservabilityConfig struct {
	LogLevel            string
	LogFormat           string
	LogSampleInitial    int
	LogSampleThereafter int
	OtelEnabled         bool
	OtelEndpoint        string
	OtelProtocol        string
	OtelSamplingRatio   float64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis endpoint is configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type SePayConfig struct {
	BaseURL       string
	APIToken      string
	AccountNumber string
	Timeout       time.Duration
	Limit         int
	Timezone      string
}

type WebhookConfig struct {
	Secret    string
	Tolerance time.Duration
	Window    time.Duration
}

type ScanConfig struct {
	Interval time.Duration
	Lookback time.Duration
	Timeout  time.Duration
	Jobs     []string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type NotifyConfig struct {
	QueueSize int
	Workers   int
}

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewReconcileConfigHolder),
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:           getenv("APP_SERVICE", "paymatch"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		NodeID:            int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "paymatch"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		SePay: SePayConfig{
			BaseURL:       strings.TrimRight(getenv("SEPAY_BASE_URL", "https://my.sepay.vn"), "/"),
			APIToken:      strings.TrimSpace(getenv("SEPAY_API_TOKEN", "")),
			AccountNumber: strings.TrimSpace(getenv("SEPAY_ACCOUNT_NUMBER", "")),
			Timeout:       getenvDuration("SEPAY_TIMEOUT", 15*time.Second),
			Limit:         getenvInt("SEPAY_LIMIT", 100),
			Timezone:      getenv("SEPAY_TIMEZONE", "Asia/Ho_Chi_Minh"),
		},
		Webhook: WebhookConfig{
			Secret:    strings.TrimSpace(getenv("WEBHOOK_SECRET", "")),
			Tolerance: getenvDuration("WEBHOOK_TOLERANCE", 5*time.Minute),
			Window:    getenvDuration("WEBHOOK_WINDOW", time.Hour),
		},
		Scan: ScanConfig{
			Interval: getenvDuration("SCAN_INTERVAL", time.Minute),
			Lookback: getenvDuration("SCAN_LOOKBACK", 72*time.Hour),
			Timeout:  getenvDuration("SCAN_TIMEOUT", 45*time.Second),
			Jobs:     getenvList("SCHEDULER_ENABLED_JOBS"),
		},
		Email: EmailConfig{
			SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "no-reply@paymatch.local"),
		},
		Notify: NotifyConfig{
			QueueSize: getenvInt("NOTIFY_QUEUE_SIZE", 256),
			Workers:   getenvInt("NOTIFY_WORKERS", 2),
		},
		Observability: ObservabilityConfig{
			LogLevel:            strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:           strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			LogSampleInitial:    getenvInt("LOG_SAMPLE_INITIAL", 100),
			LogSampleThereafter: getenvInt("LOG_SAMPLE_THEREAFTER", 100),
			OtelEnabled:         getenvBool("OTEL_ENABLED", false),
			OtelEndpoint:        strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			OtelProtocol:        strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			OtelSamplingRatio:   getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
