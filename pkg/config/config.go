// pkg/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Sink destinations for silver and gold output
const (
	SinkNone      = "none"
	SinkPostgres  = "postgres"
	SinkSnowflake = "snowflake"
)

// State store backends for versions and access grants
const (
	StateMemory   = "memory"
	StatePostgres = "postgres"
)

// Config represents the application configuration
type Config struct {
	// Database connections, nil when not needed by Sink or StateStore
	Snowflake *SnowflakeConfig
	Postgres  *PostgresConfig

	// Pipeline inputs
	SourceDir        string
	SourcePattern    string
	SilverConfigPath string // Empty uses the standard customer config
	CheckpointPath   string
	InferColumnTypes bool

	// Outputs
	Sink       string
	StateStore string
	Schema     string
	TableName  string // Base table name; layers add _raw, _silver, _gold

	// Masking
	MaskingUser       string
	AccessGrantsTable string
	SeedDefaultGrants bool

	// Execution
	WorkerPoolSize  int
	BatchSize       int
	RetryAttempts   int
	RetryDelay      time.Duration
	RefreshInterval time.Duration // Zero runs a single refresh

	// Observability
	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// LoadConfig loads configuration from environment variables, reading a .env
// file first when one exists
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(getEnv("ENV_FILE", ".env"))
}

// LoadConfigFrom loads configuration after applying the given env file.
// Variables already set in the environment win over the file.
func LoadConfigFrom(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
			}
		}
	}

	cfg := &Config{
		SourceDir:        getEnv("SOURCE_DIR", "./data/customers"),
		SourcePattern:    getEnv("SOURCE_PATTERN", "*.csv"),
		SilverConfigPath: getEnv("SILVER_CONFIG_PATH", ""),
		CheckpointPath:   getEnv("CHECKPOINT_PATH", ".checkpoint.json"),
		InferColumnTypes: getEnvAsBool("INFER_COLUMN_TYPES", true),

		Sink:       strings.ToLower(getEnv("SINK", SinkNone)),
		StateStore: strings.ToLower(getEnv("STATE_STORE", StateMemory)),
		Schema:     getEnv("TARGET_SCHEMA", "experiment01"),
		TableName:  getEnv("TABLE_NAME", "customers"),

		MaskingUser:       getEnv("MASKING_USER", "pipeline@company.com"),
		AccessGrantsTable: getEnv("ACCESS_GRANTS_TABLE", "pii_access_grants"),
		SeedDefaultGrants: getEnvAsBool("SEED_DEFAULT_GRANTS", true),

		WorkerPoolSize:  getEnvAsInt("WORKER_POOL_SIZE", 0), // 0 means use runtime.NumCPU()
		BatchSize:       getEnvAsInt("BATCH_SIZE", 1000),
		RetryAttempts:   getEnvAsInt("RETRY_ATTEMPTS", 3),
		RetryDelay:      time.Duration(getEnvAsInt("RETRY_DELAY_MS", 1000)) * time.Millisecond,
		RefreshInterval: getEnvAsDuration("REFRESH_INTERVAL", 0),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		MetricsAddr: getEnv("METRICS_ADDR", ""),
	}

	if cfg.Sink == SinkSnowflake {
		snowConfig, err := LoadSnowflakeConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load Snowflake configuration: %w", err)
		}
		cfg.Snowflake = snowConfig
	}

	if cfg.Sink == SinkPostgres || cfg.StateStore == StatePostgres {
		pgConfig, err := LoadPostgresConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load PostgreSQL configuration: %w", err)
		}
		cfg.Postgres = pgConfig
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present and valid
func (c *Config) Validate() error {
	switch c.Sink {
	case SinkNone:
	case SinkPostgres:
		if c.Postgres == nil {
			return errors.New("postgreSQL configuration is required for the postgres sink")
		}
	case SinkSnowflake:
		if c.Snowflake == nil {
			return errors.New("snowflake configuration is required for the snowflake sink")
		}
	default:
		return fmt.Errorf("unknown sink %q", c.Sink)
	}

	switch c.StateStore {
	case StateMemory:
	case StatePostgres:
		if c.Postgres == nil {
			return errors.New("postgreSQL configuration is required for the postgres state store")
		}
	default:
		return fmt.Errorf("unknown state store %q", c.StateStore)
	}

	// Published tables outlive the process; in-memory history does not
	if c.Sink != SinkNone && c.StateStore == StateMemory {
		return fmt.Errorf("the %s sink requires the postgres state store", c.Sink)
	}

	if c.SourceDir == "" {
		return errors.New("source directory is required")
	}

	if c.TableName == "" {
		return errors.New("table name is required")
	}

	if c.BatchSize <= 0 {
		return errors.New("batch size must be positive")
	}

	if c.RetryAttempts < 0 {
		return errors.New("retry attempts cannot be negative")
	}

	if c.RefreshInterval < 0 {
		return errors.New("refresh interval cannot be negative")
	}

	return nil
}

// RawTable returns the bronze table name
func (c *Config) RawTable() string {
	return c.TableName + "_raw"
}

// SilverTable returns the versioned silver table name
func (c *Config) SilverTable() string {
	return c.TableName + "_silver"
}

// GoldTable returns the masked gold table name
func (c *Config) GoldTable() string {
	return c.TableName + "_gold"
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
