package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Inference InferenceConfig `mapstructure:"inference"`
	Calendar  CalendarConfig  `mapstructure:"calendar"`
	Push      PushConfig      `mapstructure:"push"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// IngestConfig holds event ingestion configuration
type IngestConfig struct {
	BatchSize           int           `mapstructure:"batch_size"`
	Concurrency         int           `mapstructure:"concurrency"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BackoffBase         time.Duration `mapstructure:"backoff_base"`
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	TimeZone            string        `mapstructure:"timezone"`
}

// InferenceConfig holds the local inference endpoint configuration
type InferenceConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	Burst      int           `mapstructure:"burst"`
	PromptFile string        `mapstructure:"prompt_file"`
}

// CalendarConfig holds calendar sync configuration
type CalendarConfig struct {
	GoogleClientID     string          `mapstructure:"google_client_id"`
	GoogleClientSecret string          `mapstructure:"google_client_secret"`
	GoogleRedirectURL  string          `mapstructure:"google_redirect_url"`
	GoogleCalendarID   string          `mapstructure:"google_calendar_id"`
	Timeout            time.Duration   `mapstructure:"timeout"`
	BatchSize          int             `mapstructure:"batch_size"`
	Concurrency        int             `mapstructure:"concurrency"`
	MaxAttempts        int             `mapstructure:"max_attempts"`
	Lease              time.Duration   `mapstructure:"lease"`
	ReminderOffsets    []time.Duration `mapstructure:"reminder_offsets"`
}

// PushConfig holds push notification configuration
type PushConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	AccessToken string        `mapstructure:"access_token"`
	Title       string        `mapstructure:"title"`
	Timeout     time.Duration `mapstructure:"timeout"`
	BatchSize   int           `mapstructure:"batch_size"`
	Concurrency int           `mapstructure:"concurrency"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Lease       time.Duration `mapstructure:"lease"`
}

// SchedulerConfig holds the optional in-process trigger configuration
type SchedulerConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	IngestSchedule   string `mapstructure:"ingest_schedule"`
	SyncSchedule     string `mapstructure:"sync_schedule"`
	DispatchSchedule string `mapstructure:"dispatch_schedule"`
}

// LoadConfig loads configuration from .env, environment variables and config file
func LoadConfig() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("ingest.batch_size", 50)
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.max_attempts", 3)
	v.SetDefault("ingest.backoff_base", "1s")
	v.SetDefault("ingest.confidence_threshold", 0.7)
	v.SetDefault("ingest.timezone", "UTC")

	v.SetDefault("inference.base_url", "http://localhost:11434")
	v.SetDefault("inference.model", "llama3.1:8b")
	v.SetDefault("inference.timeout", "30s")
	v.SetDefault("inference.rate_limit", 2.0)
	v.SetDefault("inference.burst", 2)

	v.SetDefault("calendar.google_calendar_id", "primary")
	v.SetDefault("calendar.google_redirect_url", "http://localhost:8080/callback")
	v.SetDefault("calendar.timeout", "15s")
	v.SetDefault("calendar.batch_size", 50)
	v.SetDefault("calendar.concurrency", 4)
	v.SetDefault("calendar.max_attempts", 5)
	v.SetDefault("calendar.lease", "2m")
	v.SetDefault("calendar.reminder_offsets", []string{"24h", "3h", "30m"})

	v.SetDefault("push.endpoint", "https://exp.host/--/api/v2/push/send")
	v.SetDefault("push.title", "Event Reminder")
	v.SetDefault("push.timeout", "10s")
	v.SetDefault("push.batch_size", 100)
	v.SetDefault("push.concurrency", 4)
	v.SetDefault("push.max_retries", 5)
	v.SetDefault("push.lease", "1m")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.ingest_schedule", "0 */1 * * * *")
	v.SetDefault("scheduler.sync_schedule", "30 */5 * * * *")
	v.SetDefault("scheduler.dispatch_schedule", "15 */1 * * * *")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")

	// Logging
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")

	// Ingest
	v.BindEnv("ingest.batch_size", "INGEST_BATCH_SIZE")
	v.BindEnv("ingest.concurrency", "INGEST_CONCURRENCY")
	v.BindEnv("ingest.max_attempts", "INGEST_MAX_ATTEMPTS")
	v.BindEnv("ingest.backoff_base", "INGEST_BACKOFF_BASE")
	v.BindEnv("ingest.confidence_threshold", "INGEST_CONFIDENCE_THRESHOLD")
	v.BindEnv("ingest.timezone", "INGEST_TIMEZONE")

	// Inference
	v.BindEnv("inference.base_url", "OLLAMA_BASE_URL")
	v.BindEnv("inference.model", "OLLAMA_MODEL")
	v.BindEnv("inference.timeout", "OLLAMA_TIMEOUT")
	v.BindEnv("inference.prompt_file", "OLLAMA_PROMPT_FILE")

	// Calendar
	v.BindEnv("calendar.google_client_id", "GOOGLE_CLIENT_ID")
	v.BindEnv("calendar.google_client_secret", "GOOGLE_CLIENT_SECRET")
	v.BindEnv("calendar.google_redirect_url", "GOOGLE_REDIRECT_URL")
	v.BindEnv("calendar.google_calendar_id", "GOOGLE_CALENDAR_ID")
	v.BindEnv("calendar.max_attempts", "CALENDAR_MAX_ATTEMPTS")

	// Push
	v.BindEnv("push.endpoint", "EXPO_PUSH_ENDPOINT")
	v.BindEnv("push.access_token", "EXPO_ACCESS_TOKEN")
	v.BindEnv("push.max_retries", "PUSH_MAX_RETRIES")

	// Scheduler
	v.BindEnv("scheduler.enabled", "SCHEDULER_ENABLED")
	v.BindEnv("scheduler.ingest_schedule", "SCHEDULER_INGEST_SCHEDULE")
	v.BindEnv("scheduler.sync_schedule", "SCHEDULER_SYNC_SCHEDULE")
	v.BindEnv("scheduler.dispatch_schedule", "SCHEDULER_DISPATCH_SCHEDULE")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Location resolves the configured time zone used for relative dates
func (c *IngestConfig) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.TimeZone)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.Ingest.BatchSize <= 0 || c.Calendar.BatchSize <= 0 || c.Push.BatchSize <= 0 {
		return fmt.Errorf("batch sizes must be greater than 0")
	}
	if c.Ingest.Concurrency <= 0 || c.Calendar.Concurrency <= 0 || c.Push.Concurrency <= 0 {
		return fmt.Errorf("concurrency limits must be greater than 0")
	}
	if c.Ingest.MaxAttempts < 1 {
		return fmt.Errorf("ingest max_attempts must be at least 1")
	}
	if c.Ingest.BackoffBase < 0 {
		return fmt.Errorf("ingest backoff_base must not be negative")
	}
	if c.Ingest.ConfidenceThreshold <= 0 || c.Ingest.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in (0, 1], got %v", c.Ingest.ConfidenceThreshold)
	}
	if _, err := c.Ingest.Location(); err != nil {
		return fmt.Errorf("invalid ingest timezone %q: %w", c.Ingest.TimeZone, err)
	}

	if c.Inference.BaseURL == "" || c.Inference.Model == "" {
		return fmt.Errorf("inference base_url and model are required")
	}
	if c.Inference.Timeout <= 0 || c.Calendar.Timeout <= 0 || c.Push.Timeout <= 0 {
		return fmt.Errorf("external call timeouts must be greater than 0")
	}

	if c.Calendar.MaxAttempts < 1 {
		return fmt.Errorf("calendar max_attempts must be at least 1")
	}
	if c.Calendar.Lease <= 0 || c.Push.Lease <= 0 {
		return fmt.Errorf("lease durations must be greater than 0")
	}
	if len(c.Calendar.ReminderOffsets) == 0 {
		return fmt.Errorf("at least one reminder offset is required")
	}
	for _, off := range c.Calendar.ReminderOffsets {
		if off <= 0 {
			return fmt.Errorf("reminder offsets must be positive, got %v", off)
		}
	}

	if c.Push.MaxRetries < 1 {
		return fmt.Errorf("push max_retries must be at least 1")
	}

	if c.Scheduler.Enabled {
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		for name, spec := range map[string]string{
			"ingest":   c.Scheduler.IngestSchedule,
			"sync":     c.Scheduler.SyncSchedule,
			"dispatch": c.Scheduler.DispatchSchedule,
		} {
			if _, err := parser.Parse(spec); err != nil {
				return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
			}
		}
	}

	return nil
}
