// Package config provides configuration handling for flowcomposer.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config represents the application configuration
type Config struct {
	// Server configuration for the backend the composer talks to
	Server ServerConfig `json:"server"`

	// Transport configuration
	Transport TransportConfig `json:"transport"`

	// Assist configuration
	Assist AssistConfig `json:"assist"`

	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Redis configuration for scheduled jobs
	Redis RedisConfig `json:"redis"`

	// Secrets configuration
	Secrets SecretsConfig `json:"secrets"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig contains settings for the workflow backend
type ServerConfig struct {
	// BaseURL is the HTTP base URL of the backend, e.g. "http://localhost:8080"
	BaseURL string `json:"base_url"`

	// Token is the bearer token sent with each request
	Token string `json:"token"`

	// RequestTimeout is the per-request timeout in seconds
	RequestTimeout int `json:"request_timeout"`
}

// TransportConfig contains execution stream settings
type TransportConfig struct {
	// OpenTimeout is how long to wait for the stream to open, in seconds
	OpenTimeout int `json:"open_timeout"`

	// PollInterval is the polling cadence when streaming is unavailable, in seconds
	PollInterval int `json:"poll_interval"`

	// PollMaxAttempts is the maximum number of polls per execution
	PollMaxAttempts int `json:"poll_max_attempts"`

	// PollMaxWait is the overall polling deadline in seconds
	PollMaxWait int `json:"poll_max_wait"`
}

// AssistConfig contains AI assistant settings
type AssistConfig struct {
	// SuggestPath is the endpoint path for edit suggestions
	SuggestPath string `json:"suggest_path"`

	// IdentifyPath is the endpoint path for workflow identification
	IdentifyPath string `json:"identify_path"`

	// RequestTimeout is the per-request timeout in seconds
	RequestTimeout int `json:"request_timeout"`
}

// StorageConfig contains workflow storage settings
type StorageConfig struct {
	// Type of storage to use
	Type string `json:"type"` // "file", "memory", "dynamodb", "postgres"

	// Directory for file storage; defaults to ~/.flowcomposer/workflows
	Directory string `json:"directory"`

	// DynamoDB configuration
	DynamoDB DynamoDBConfig `json:"dynamodb"`

	// PostgreSQL configuration
	Postgres PostgresConfig `json:"postgres"`
}

// DynamoDBConfig contains DynamoDB settings
type DynamoDBConfig struct {
	// Region is the AWS region
	Region string `json:"region"`

	// Endpoint is the DynamoDB endpoint (for local development)
	Endpoint string `json:"endpoint"`

	// TablePrefix is the prefix for all tables
	TablePrefix string `json:"table_prefix"`
}

// PostgresConfig contains PostgreSQL settings
type PostgresConfig struct {
	// Host is the database host
	Host string `json:"host"`

	// Port is the database port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// User is the database user
	User string `json:"user"`

	// Password is the database password
	Password string `json:"password"`

	// SSLMode is the SSL mode
	SSLMode string `json:"ssl_mode"`
}

// RedisConfig contains Redis settings for the scheduler
type RedisConfig struct {
	// Address is the Redis host:port
	Address string `json:"address"`

	// Password is the Redis password
	Password string `json:"password"`

	// DB is the Redis database index
	DB int `json:"db"`
}

// SecretsConfig contains credential vault settings
type SecretsConfig struct {
	// Passphrase protects the local vault file
	Passphrase string `json:"passphrase"`

	// FilePath is the vault file location; defaults to
	// ~/.flowcomposer/secrets.vault
	FilePath string `json:"file_path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	// Level is the logging level
	Level string `json:"level"` // "debug", "info", "warn", "error"

	// Format is the log format
	Format string `json:"format"` // "json", "text"

	// Output is the log output
	Output string `json:"output"` // "stdout", "file"

	// FilePath is the path to the log file
	FilePath string `json:"file_path"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(path string) (*Config, error) {
	// Read the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse the JSON
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:        "http://localhost:8080",
			RequestTimeout: 30,
		},
		Transport: TransportConfig{
			OpenTimeout:     3,
			PollInterval:    2,
			PollMaxAttempts: 150,
			PollMaxWait:     300,
		},
		Assist: AssistConfig{
			SuggestPath:    "/api/ai/suggest",
			IdentifyPath:   "/api/ai/identify",
			RequestTimeout: 60,
		},
		Storage: StorageConfig{
			Type: "file",
			DynamoDB: DynamoDBConfig{
				Region:      "us-west-2",
				TablePrefix: "flowcomposer_",
			},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "flowcomposer",
				User:     "flowcomposer",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Secrets: SecretsConfig{},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// SaveConfig saves the configuration to a file
func SaveConfig(config *Config, path string) error {
	// Create the directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal the JSON
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write the file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnvironment overrides configuration values from FLOWCOMPOSER_* environment variables
func ApplyEnvironment(config *Config) {
	if v := os.Getenv("FLOWCOMPOSER_SERVER_URL"); v != "" {
		config.Server.BaseURL = v
	}
	if v := os.Getenv("FLOWCOMPOSER_SERVER_TOKEN"); v != "" {
		config.Server.Token = v
	}
	if v := os.Getenv("FLOWCOMPOSER_STORAGE_TYPE"); v != "" {
		config.Storage.Type = v
	}
	if v := os.Getenv("FLOWCOMPOSER_REDIS_ADDR"); v != "" {
		config.Redis.Address = v
	}
	if v := os.Getenv("FLOWCOMPOSER_SECRETS_PASSPHRASE"); v != "" {
		config.Secrets.Passphrase = v
	}
	if v := os.Getenv("FLOWCOMPOSER_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("FLOWCOMPOSER_POLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Transport.PollInterval = n
		}
	}
}

// RequestTimeoutDuration returns the server request timeout as a duration
func (c ServerConfig) RequestTimeoutDuration() time.Duration {
	if c.RequestTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeout) * time.Second
}

// OpenTimeoutDuration returns the stream open timeout as a duration
func (c TransportConfig) OpenTimeoutDuration() time.Duration {
	if c.OpenTimeout <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.OpenTimeout) * time.Second
}

// PollIntervalDuration returns the poll cadence as a duration
func (c TransportConfig) PollIntervalDuration() time.Duration {
	if c.PollInterval <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.PollInterval) * time.Second
}

// PollMaxWaitDuration returns the overall polling deadline as a duration
func (c TransportConfig) PollMaxWaitDuration() time.Duration {
	if c.PollMaxWait <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.PollMaxWait) * time.Second
}
