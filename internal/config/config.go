package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"rentflow/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	AMQP          AMQPConfig          `yaml:"amqp"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Booking       BookingConfig       `yaml:"booking"`
	Sweeper       SweeperConfig       `yaml:"sweeper"`
	Messaging     MessagingConfig     `yaml:"messaging"`
	Backup        BackupConfig        `yaml:"backup"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Logging       LoggingConfig       `yaml:"logging"`
	API           APIConfig           `yaml:"api"`
	Exports       ExportConfig        `yaml:"exports"`
	Properties    []models.Property   `yaml:"properties"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	Path     string         `yaml:"path"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	DBName         string `yaml:"dbname"`
	SSLMode        string `yaml:"sslmode"`
	MaxConnections int    `yaml:"max_connections"`
}

// DSN renders the lib/pq connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type AMQPConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

const (
	TransportNone  = "none"
	TransportRedis = "redis"
	TransportAMQP  = "amqp"
)

type NotificationsConfig struct {
	Transport     string        `yaml:"transport"`
	QueueKey      string        `yaml:"queue_key"`
	DeadLetterKey string        `yaml:"dead_letter_key"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	BatchSize     int           `yaml:"batch_size"`
	Retry         RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type BookingConfig struct {
	// MaxAdvanceDays rejects start dates further out than this; 0 disables the check.
	MaxAdvanceDays int `yaml:"max_advance_days"`
}

type SweeperConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	BatchSize    int           `yaml:"batch_size"`
	LookbackDays *int          `yaml:"lookback_days"`
	LeaseTTL     time.Duration `yaml:"lease_ttl"`
}

// Lookback returns the configured lookback, defaulting when unset. Zero means unbounded.
func (s SweeperConfig) Lookback() int {
	if s.LookbackDays == nil {
		return models.DefaultSweepLookbackDays
	}
	return *s.LookbackDays
}

type MessagingConfig struct {
	RateLimitMessages int `yaml:"rate_limit_messages"`
	RateLimitWindow   int `yaml:"rate_limit_window"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIAuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; variables may come from the environment directly
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case DriverPostgres:
		if c.Database.Postgres.Host == "" || c.Database.Postgres.DBName == "" {
			return errors.New("postgres host and dbname are required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Notifications.Transport {
	case TransportNone:
	case TransportRedis:
		if c.Redis.Address == "" {
			return errors.New("redis address is required for the redis notification transport")
		}
	case TransportAMQP:
		if c.AMQP.URL == "" {
			return errors.New("amqp url is required for the amqp notification transport")
		}
	default:
		return fmt.Errorf("unsupported notification transport %q", c.Notifications.Transport)
	}

	if c.API.Enabled && c.API.Auth.JWTSecret == "" {
		return errors.New("api.auth.jwt_secret is required when the API is enabled")
	}

	if c.Sweeper.BatchSize < 0 || c.Sweeper.Lookback() < 0 {
		return errors.New("sweeper batch_size and lookback_days must not be negative")
	}

	return ValidateProperties(c.Properties)
}

func ValidateProperties(properties []models.Property) error {
	ids := make(map[int64]bool)
	for _, p := range properties {
		if p.ID == 0 {
			return fmt.Errorf("property '%s' has invalid ID 0", p.Title)
		}
		if ids[p.ID] {
			return fmt.Errorf("duplicate property ID found: %d", p.ID)
		}
		if p.OwnerID == 0 {
			return fmt.Errorf("property %d has no owner", p.ID)
		}
		if p.MonthlyRent.IsNegative() {
			return fmt.Errorf("property %d has negative monthly rent", p.ID)
		}
		ids[p.ID] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}
	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.Auth.Issuer == "" {
		c.API.Auth.Issuer = c.App.Name
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Notifications.Transport == "" {
		c.Notifications.Transport = TransportNone
	}
	if c.Notifications.QueueKey == "" {
		c.Notifications.QueueKey = "notifications:queue"
	}
	if c.Notifications.DeadLetterKey == "" {
		c.Notifications.DeadLetterKey = "notifications:deadletter"
	}
	if c.Notifications.PollInterval == 0 {
		c.Notifications.PollInterval = 2 * time.Second
	}
	if c.Notifications.BatchSize == 0 {
		c.Notifications.BatchSize = 20
	}
	if c.AMQP.Queue == "" {
		c.AMQP.Queue = "notifications"
	}

	if c.Sweeper.Interval == 0 {
		c.Sweeper.Interval = time.Hour
	}
	if c.Sweeper.BatchSize == 0 {
		c.Sweeper.BatchSize = models.DefaultSweepBatchSize
	}
	if c.Sweeper.LeaseTTL == 0 {
		c.Sweeper.LeaseTTL = 10 * time.Minute
	}

	if c.Messaging.RateLimitMessages == 0 {
		c.Messaging.RateLimitMessages = models.RateLimitMessages
	}
	if c.Messaging.RateLimitWindow == 0 {
		c.Messaging.RateLimitWindow = models.RateLimitWindow
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
