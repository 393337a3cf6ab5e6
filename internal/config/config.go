package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Backup        BackupConfig        `yaml:"backup"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Logging       LoggingConfig       `yaml:"logging"`
	API           APIConfig           `yaml:"api"`
	Payment       PaymentConfig       `yaml:"payment"`
	ExchangeRates map[string]float64  `yaml:"exchange_rates"`
	Categories    []CategoryConfig    `yaml:"categories"`
	Sweeper       SweeperConfig       `yaml:"sweeper"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Exports       ExportConfig        `yaml:"exports"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	HeaderActor  string         `yaml:"header_actor"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
	// PublicURL is used to build 3-D Secure return links when the client sends none.
	PublicURL string `yaml:"public_url"`
}

type DatabaseConfig struct {
	Path        string `yaml:"path"`
	BusyTimeout int    `yaml:"busy_timeout_ms"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
	HealthCheckPort   int    `yaml:"health_check_port"`
	LogLevel          string `yaml:"log_level"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// PaymentConfig configures the gateway binding and the platform's own wallets.
type PaymentConfig struct {
	Gateway        string            `yaml:"gateway"`
	Timeout        time.Duration     `yaml:"timeout"`
	PlatformUserID string            `yaml:"platform_user_id"`
	Wallets        map[string]string `yaml:"wallets"`
	LedgerTTL      time.Duration     `yaml:"ledger_ttl"`
}

// CategoryConfig describes one bookable item category.
type CategoryConfig struct {
	Name            string   `yaml:"name"`
	Title           string   `yaml:"title"`
	DescribeFields  []string `yaml:"describe_fields"`
	PickupAttribute string   `yaml:"pickup_attribute"`
}

type SweeperConfig struct {
	Interval              time.Duration `yaml:"interval"`
	ResponseReminderAfter time.Duration `yaml:"response_reminder_after"`
	PickupReminderBefore  time.Duration `yaml:"pickup_reminder_before"`
	ReturnGrace           time.Duration `yaml:"return_grace"`
}

type NotificationsConfig struct {
	Worker   WorkerConfig   `yaml:"worker"`
	Telegram TelegramConfig `yaml:"telegram"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Sheets   SheetsConfig   `yaml:"sheets"`
}

type WorkerConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Backoff      float64       `yaml:"backoff"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Lease        time.Duration `yaml:"lease"`
	BatchSize    int           `yaml:"batch_size"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
	Debug    bool   `yaml:"debug"`
}

type KafkaConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Brokers            []string `yaml:"brokers"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	EventsTopic        string   `yaml:"events_topic"`
}

type SheetsConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	SheetName       string `yaml:"sheet_name"`
}

type ExportConfig struct {
	Path string   `yaml:"path"`
	S3   S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
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
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Payment.PlatformUserID == "" {
		return errors.New("payment.platform_user_id is required")
	}
	if len(c.Payment.Wallets) == 0 {
		return errors.New("payment.wallets must list at least one platform wallet")
	}

	if c.Notifications.Telegram.Enabled && c.Notifications.Telegram.BotToken == "" {
		return errors.New("notifications.telegram.bot_token is required when telegram is enabled")
	}
	if c.Notifications.Kafka.Enabled && len(c.Notifications.Kafka.Brokers) == 0 {
		return errors.New("notifications.kafka.brokers is required when kafka is enabled")
	}
	if c.Exports.S3.Enabled && c.Exports.S3.Bucket == "" {
		return errors.New("exports.s3.bucket is required when s3 upload is enabled")
	}

	if err := ValidateRates(c.ExchangeRates); err != nil {
		return err
	}
	return ValidateCategories(c.Categories)
}

// ValidateCategories rejects unnamed and duplicate categories.
func ValidateCategories(categories []CategoryConfig) error {
	if len(categories) == 0 {
		return errors.New("at least one item category is required")
	}
	seen := make(map[string]bool)
	for _, cat := range categories {
		if cat.Name == "" {
			return fmt.Errorf("category '%s' has empty name", cat.Title)
		}
		if seen[cat.Name] {
			return fmt.Errorf("duplicate category found: %s", cat.Name)
		}
		seen[cat.Name] = true
	}
	return nil
}

// ValidateRates checks that keys look like "EUR:USD" and rates are positive.
func ValidateRates(rates map[string]float64) error {
	for pair, rate := range rates {
		parts := strings.Split(pair, ":")
		if len(parts) != 2 || len(parts[0]) != 3 || len(parts[1]) != 3 {
			return fmt.Errorf("exchange rate key %q must look like EUR:USD", pair)
		}
		if rate <= 0 {
			return fmt.Errorf("exchange rate %s must be positive", pair)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.Auth.HeaderActor == "" {
		c.API.Auth.HeaderActor = "x-actor-id"
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = 5000
	}

	// Payment defaults
	if c.Payment.Gateway == "" {
		c.Payment.Gateway = "sandbox"
	}
	if c.Payment.Timeout == 0 {
		c.Payment.Timeout = 15 * time.Second
	}
	if c.Payment.LedgerTTL == 0 {
		c.Payment.LedgerTTL = 30 * 24 * time.Hour
	}

	// Sweeper defaults
	if c.Sweeper.Interval == 0 {
		c.Sweeper.Interval = 15 * time.Minute
	}
	if c.Sweeper.ResponseReminderAfter == 0 {
		c.Sweeper.ResponseReminderAfter = 24 * time.Hour
	}
	if c.Sweeper.PickupReminderBefore == 0 {
		c.Sweeper.PickupReminderBefore = 24 * time.Hour
	}
	if c.Sweeper.ReturnGrace == 0 {
		c.Sweeper.ReturnGrace = 24 * time.Hour
	}

	// Worker defaults
	w := &c.Notifications.Worker
	if w.MaxRetries == 0 {
		w.MaxRetries = 5
	}
	if w.InitialDelay == 0 {
		w.InitialDelay = 2 * time.Second
	}
	if w.MaxDelay == 0 {
		w.MaxDelay = 5 * time.Minute
	}
	if w.Backoff == 0 {
		w.Backoff = 2
	}
	if w.PollInterval == 0 {
		w.PollInterval = 5 * time.Second
	}
	if w.Lease == 0 {
		w.Lease = time.Minute
	}
	if w.BatchSize == 0 {
		w.BatchSize = 50
	}

	if c.Notifications.Kafka.NotificationsTopic == "" {
		c.Notifications.Kafka.NotificationsTopic = "gearshare.notifications"
	}
	if c.Notifications.Kafka.EventsTopic == "" {
		c.Notifications.Kafka.EventsTopic = "gearshare.booking-events"
	}
	if c.Notifications.Sheets.SheetName == "" {
		c.Notifications.Sheets.SheetName = "Notifications"
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "./exports"
	}
	if c.Exports.S3.Region == "" {
		c.Exports.S3.Region = "us-east-1"
	}
}
