// pkg/config/database.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/snowflakedb/gosnowflake"
)

// PoolConfig bounds a database/sql connection pool
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// SnowflakeConfig holds Snowflake connection parameters
type SnowflakeConfig struct {
	User          string
	Password      string
	Account       string
	Warehouse     string
	Database      string
	Schema        string
	Role          string
	Authenticator gosnowflake.AuthType

	PoolConfig

	// Applied per session through the DSN
	QueryTimeout time.Duration
}

// PostgresConfig holds PostgreSQL connection parameters
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	PoolConfig

	// Sent as the statement_timeout runtime parameter
	StatementTimeout time.Duration
}

var snowflakeAuthenticators = map[string]gosnowflake.AuthType{
	"snowflake":             gosnowflake.AuthTypeSnowflake,
	"oauth":                 gosnowflake.AuthTypeOAuth,
	"externalbrowser":       gosnowflake.AuthTypeExternalBrowser,
	"username_password_mfa": gosnowflake.AuthTypeUsernamePasswordMFA,
	"jwt":                   gosnowflake.AuthTypeJwt,
	"token":                 gosnowflake.AuthTypeTokenAccessor,
	"okta":                  gosnowflake.AuthTypeOkta,
}

// requireEnv reads every key and reports all missing ones in a single error
func requireEnv(keys ...string) (map[string]string, error) {
	values := make(map[string]string, len(keys))
	var missing []string
	for _, key := range keys {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
			continue
		}
		values[key] = v
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return values, nil
}

// LoadSnowflakeConfig loads Snowflake configuration from SNOWFLAKE_* variables
func LoadSnowflakeConfig() (*SnowflakeConfig, error) {
	env, err := requireEnv("SNOWFLAKE_USER", "SNOWFLAKE_ACCOUNT", "SNOWFLAKE_WAREHOUSE")
	if err != nil {
		return nil, err
	}

	authName := strings.ToLower(getEnv("SNOWFLAKE_AUTHENTICATOR", "snowflake"))
	auth, known := snowflakeAuthenticators[authName]
	if !known {
		return nil, fmt.Errorf("unsupported SNOWFLAKE_AUTHENTICATOR %q", authName)
	}

	password := os.Getenv("SNOWFLAKE_PASSWORD")
	needsPassword := auth == gosnowflake.AuthTypeSnowflake || auth == gosnowflake.AuthTypeUsernamePasswordMFA
	if needsPassword && password == "" {
		return nil, fmt.Errorf("missing required environment variables: SNOWFLAKE_PASSWORD (authenticator %s)", authName)
	}

	return &SnowflakeConfig{
		User:          env["SNOWFLAKE_USER"],
		Password:      password,
		Account:       env["SNOWFLAKE_ACCOUNT"],
		Warehouse:     env["SNOWFLAKE_WAREHOUSE"],
		Database:      getEnv("SNOWFLAKE_DATABASE", "CUSTOMER_DATA"),
		Schema:        getEnv("SNOWFLAKE_SCHEMA", "PUBLIC"),
		Role:          os.Getenv("SNOWFLAKE_ROLE"),
		Authenticator: auth,
		PoolConfig:    loadPoolConfig("SNOWFLAKE", 10, 5),
		QueryTimeout:  getEnvAsDuration("SNOWFLAKE_QUERY_TIMEOUT", 5*time.Minute),
	}, nil
}

// LoadPostgresConfig loads PostgreSQL configuration from POSTGRES_* variables
func LoadPostgresConfig() (*PostgresConfig, error) {
	env, err := requireEnv("POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB")
	if err != nil {
		return nil, err
	}

	return &PostgresConfig{
		Host:             getEnv("POSTGRES_HOST", "localhost"),
		Port:             getEnvAsInt("POSTGRES_PORT", 5432),
		User:             env["POSTGRES_USER"],
		Password:         env["POSTGRES_PASSWORD"],
		Database:         env["POSTGRES_DB"],
		SSLMode:          getEnv("POSTGRES_SSLMODE", "disable"),
		PoolConfig:       loadPoolConfig("POSTGRES", 25, 10),
		StatementTimeout: getEnvAsDuration("POSTGRES_STATEMENT_TIMEOUT", 5*time.Minute),
	}, nil
}

func loadPoolConfig(prefix string, maxOpen, maxIdle int) PoolConfig {
	return PoolConfig{
		MaxOpenConns:    getEnvAsInt(prefix+"_MAX_OPEN_CONNS", maxOpen),
		MaxIdleConns:    getEnvAsInt(prefix+"_MAX_IDLE_CONNS", maxIdle),
		ConnMaxLifetime: getEnvAsDuration(prefix+"_CONN_MAX_LIFETIME", 30*time.Minute),
		ConnMaxIdleTime: getEnvAsDuration(prefix+"_CONN_MAX_IDLE_TIME", 5*time.Minute),
	}
}

// DriverConfig returns the gosnowflake driver configuration
func (c *SnowflakeConfig) DriverConfig() *gosnowflake.Config {
	dc := &gosnowflake.Config{
		Account:       c.Account,
		User:          c.User,
		Password:      c.Password,
		Database:      c.Database,
		Schema:        c.Schema,
		Warehouse:     c.Warehouse,
		Role:          c.Role,
		Authenticator: c.Authenticator,
	}
	if secs := int64(c.QueryTimeout / time.Second); secs > 0 {
		timeout := strconv.FormatInt(secs, 10)
		dc.Params = map[string]*string{"STATEMENT_TIMEOUT_IN_SECONDS": &timeout}
	}
	return dc
}

// ConnectionString returns a formatted Snowflake DSN
func (c *SnowflakeConfig) ConnectionString() (string, error) {
	dsn, err := gosnowflake.DSN(c.DriverConfig())
	if err != nil {
		return "", fmt.Errorf("failed to build Snowflake DSN: %w", err)
	}
	return dsn, nil
}

// ConnectionString returns a libpq keyword/value connection string
func (c *PostgresConfig) ConnectionString() string {
	pairs := [][2]string{
		{"host", c.Host},
		{"port", strconv.Itoa(c.Port)},
		{"user", c.User},
		{"password", c.Password},
		{"dbname", c.Database},
		{"sslmode", c.SSLMode},
	}
	if ms := c.StatementTimeout.Milliseconds(); ms > 0 {
		pairs = append(pairs, [2]string{"statement_timeout", strconv.FormatInt(ms, 10)})
	}

	parts := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		parts = append(parts, kv[0]+"="+quoteConnValue(kv[1]))
	}
	return strings.Join(parts, " ")
}

// quoteConnValue quotes values libpq would otherwise split or drop
func quoteConnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
