package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultTicketSecret = "change-me-ticket-signing-secret"

// Config holds all application configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	OTel     OTelConfig     `mapstructure:"otel"`
	Booking  BookingConfig  `mapstructure:"booking"`
	Refund   RefundConfig   `mapstructure:"refund"`
	Issuance IssuanceConfig `mapstructure:"issuance"`
	Ticket   TicketConfig   `mapstructure:"ticket"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
	// Store selects the persistence backend: postgres or memory
	Store string `mapstructure:"store"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// Addr returns the listen address
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	EnableTracing   bool          `mapstructure:"enable_tracing"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda connection settings
type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	ClientID    string   `mapstructure:"client_id"`
	EventsTopic string   `mapstructure:"events_topic"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// BookingConfig holds booking transaction settings
type BookingConfig struct {
	DefaultCurrency    string        `mapstructure:"default_currency"`
	TransactionTimeout time.Duration `mapstructure:"transaction_timeout"`
	MaxLines           int           `mapstructure:"max_lines"`
	MaxQuantityPerLine int           `mapstructure:"max_quantity_per_line"`
}

// RefundConfig holds the cancellation refund windows.
// A booking cancelled at least FullRefundBefore ahead of the event start
// gets everything back, at least PartialRefundBefore ahead gets
// PartialRefundPercent, anything later is rejected.
type RefundConfig struct {
	FullRefundBefore     time.Duration `mapstructure:"full_refund_before"`
	PartialRefundBefore  time.Duration `mapstructure:"partial_refund_before"`
	PartialRefundPercent int           `mapstructure:"partial_refund_percent"`
}

// IssuanceConfig holds outbox relay and issuance pipeline settings
type IssuanceConfig struct {
	// EmbeddedWorker runs the outbox worker inside the API process
	EmbeddedWorker       bool          `mapstructure:"embedded_worker"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	BatchSize            int           `mapstructure:"batch_size"`
	// Lease hides a claimed message from other workers; renewed while it runs
	Lease                time.Duration `mapstructure:"lease"`
	MaxAttempts          int           `mapstructure:"max_attempts"`
	InitialBackoff       time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff           time.Duration `mapstructure:"max_backoff"`
	QRConcurrency        int           `mapstructure:"qr_concurrency"`
	StageTimeout         time.Duration `mapstructure:"stage_timeout"`
	CleanupInterval      time.Duration `mapstructure:"cleanup_interval"`
	CleanupRetentionDays int           `mapstructure:"cleanup_retention_days"`
}

// TicketConfig holds ticket token signing settings
type TicketConfig struct {
	SigningSecret string `mapstructure:"signing_secret"`
	Issuer        string `mapstructure:"issuer"`
}

// SMTPConfig holds outgoing mail settings
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// A missing .env is fine, environment variables still apply
	_ = v.ReadInConfig()

	return load(v)
}

// LoadWithPath loads configuration from a specific path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	if err := bindConfig(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "aievent-booking")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("APP_STORE", "postgres")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Database defaults
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "aievent")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 50)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 10)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")
	v.SetDefault("DATABASE_ENABLE_TRACING", true)
	v.SetDefault("DATABASE_AUTO_MIGRATE", true)

	// Redis defaults
	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 50)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 5)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_ENABLED", true)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CLIENT_ID", "aievent-booking")
	v.SetDefault("KAFKA_EVENTS_TOPIC", "booking-events")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "aievent-booking")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Booking defaults
	v.SetDefault("BOOKING_DEFAULT_CURRENCY", "VND")
	v.SetDefault("BOOKING_TRANSACTION_TIMEOUT", "10s")
	v.SetDefault("BOOKING_MAX_LINES", 20)
	v.SetDefault("BOOKING_MAX_QUANTITY_PER_LINE", 50)

	// Refund defaults
	v.SetDefault("REFUND_FULL_REFUND_BEFORE", "72h")
	v.SetDefault("REFUND_PARTIAL_REFUND_BEFORE", "24h")
	v.SetDefault("REFUND_PARTIAL_REFUND_PERCENT", 50)

	// Issuance defaults
	v.SetDefault("ISSUANCE_EMBEDDED_WORKER", true)
	v.SetDefault("ISSUANCE_POLL_INTERVAL", "500ms")
	v.SetDefault("ISSUANCE_BATCH_SIZE", 20)
	v.SetDefault("ISSUANCE_LEASE", "5m")
	v.SetDefault("ISSUANCE_MAX_ATTEMPTS", 5)
	v.SetDefault("ISSUANCE_INITIAL_BACKOFF", "5s")
	v.SetDefault("ISSUANCE_MAX_BACKOFF", "10m")
	v.SetDefault("ISSUANCE_QR_CONCURRENCY", 8)
	v.SetDefault("ISSUANCE_STAGE_TIMEOUT", "30s")
	v.SetDefault("ISSUANCE_CLEANUP_INTERVAL", "1h")
	v.SetDefault("ISSUANCE_CLEANUP_RETENTION_DAYS", 7)

	// Ticket defaults
	v.SetDefault("TICKET_SIGNING_SECRET", defaultTicketSecret)
	v.SetDefault("TICKET_ISSUER", "aievent")

	// SMTP defaults
	v.SetDefault("SMTP_HOST", "localhost")
	v.SetDefault("SMTP_PORT", 1025)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "no-reply@aievent.local")
	v.SetDefault("SMTP_FROM_NAME", "AIEvent")
}

func bindConfig(v *viper.Viper, cfg *Config) error {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")
	cfg.App.Store = v.GetString("APP_STORE")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	// Database
	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxOpenConns = v.GetInt("DATABASE_MAX_OPEN_CONNS")
	cfg.Database.MaxIdleConns = v.GetInt("DATABASE_MAX_IDLE_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")
	cfg.Database.EnableTracing = v.GetBool("DATABASE_ENABLE_TRACING")
	cfg.Database.AutoMigrate = v.GetBool("DATABASE_AUTO_MIGRATE")

	// Redis
	cfg.Redis.Enabled = v.GetBool("REDIS_ENABLED")
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	cfg.Kafka.Enabled = v.GetBool("KAFKA_ENABLED")
	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")
	cfg.Kafka.EventsTopic = v.GetString("KAFKA_EVENTS_TOPIC")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Booking
	cfg.Booking.DefaultCurrency = v.GetString("BOOKING_DEFAULT_CURRENCY")
	cfg.Booking.TransactionTimeout = v.GetDuration("BOOKING_TRANSACTION_TIMEOUT")
	cfg.Booking.MaxLines = v.GetInt("BOOKING_MAX_LINES")
	cfg.Booking.MaxQuantityPerLine = v.GetInt("BOOKING_MAX_QUANTITY_PER_LINE")

	// Refund
	cfg.Refund.FullRefundBefore = v.GetDuration("REFUND_FULL_REFUND_BEFORE")
	cfg.Refund.PartialRefundBefore = v.GetDuration("REFUND_PARTIAL_REFUND_BEFORE")
	cfg.Refund.PartialRefundPercent = v.GetInt("REFUND_PARTIAL_REFUND_PERCENT")

	// Issuance
	cfg.Issuance.EmbeddedWorker = v.GetBool("ISSUANCE_EMBEDDED_WORKER")
	cfg.Issuance.PollInterval = v.GetDuration("ISSUANCE_POLL_INTERVAL")
	cfg.Issuance.BatchSize = v.GetInt("ISSUANCE_BATCH_SIZE")
	cfg.Issuance.Lease = v.GetDuration("ISSUANCE_LEASE")
	cfg.Issuance.MaxAttempts = v.GetInt("ISSUANCE_MAX_ATTEMPTS")
	cfg.Issuance.InitialBackoff = v.GetDuration("ISSUANCE_INITIAL_BACKOFF")
	cfg.Issuance.MaxBackoff = v.GetDuration("ISSUANCE_MAX_BACKOFF")
	cfg.Issuance.QRConcurrency = v.GetInt("ISSUANCE_QR_CONCURRENCY")
	cfg.Issuance.StageTimeout = v.GetDuration("ISSUANCE_STAGE_TIMEOUT")
	cfg.Issuance.CleanupInterval = v.GetDuration("ISSUANCE_CLEANUP_INTERVAL")
	cfg.Issuance.CleanupRetentionDays = v.GetInt("ISSUANCE_CLEANUP_RETENTION_DAYS")

	// Ticket
	cfg.Ticket.SigningSecret = v.GetString("TICKET_SIGNING_SECRET")
	cfg.Ticket.Issuer = v.GetString("TICKET_ISSUER")

	// SMTP
	cfg.SMTP.Host = v.GetString("SMTP_HOST")
	cfg.SMTP.Port = v.GetInt("SMTP_PORT")
	cfg.SMTP.Username = v.GetString("SMTP_USERNAME")
	cfg.SMTP.Password = v.GetString("SMTP_PASSWORD")
	cfg.SMTP.From = v.GetString("SMTP_FROM")
	cfg.SMTP.FromName = v.GetString("SMTP_FROM_NAME")

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return errors.New("app name is required")
	}

	if c.App.Store != "postgres" && c.App.Store != "memory" {
		return fmt.Errorf("invalid store %q: must be postgres or memory", c.App.Store)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Booking.DefaultCurrency == "" {
		return errors.New("booking default currency is required")
	}

	if c.Booking.TransactionTimeout <= 0 {
		return errors.New("booking transaction timeout must be positive")
	}

	if c.Refund.PartialRefundPercent < 0 || c.Refund.PartialRefundPercent > 100 {
		return fmt.Errorf("invalid partial refund percent: %d", c.Refund.PartialRefundPercent)
	}

	if c.Refund.PartialRefundBefore > c.Refund.FullRefundBefore {
		return errors.New("partial refund window must not exceed full refund window")
	}

	if c.Issuance.MaxAttempts <= 0 {
		return errors.New("issuance max attempts must be positive")
	}

	if c.Issuance.Lease <= 0 {
		return errors.New("issuance lease must be positive")
	}

	if c.Ticket.SigningSecret == "" {
		return errors.New("ticket signing secret is required")
	}

	if c.IsProduction() && c.Ticket.SigningSecret == defaultTicketSecret {
		return errors.New("ticket signing secret must be changed in production")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("at least one kafka broker is required when kafka is enabled")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
