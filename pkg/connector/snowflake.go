// pkg/connector/snowflake.go
package connector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/David-Botos/data-cleansing/pkg/config"
	"github.com/David-Botos/data-cleansing/pkg/converter"
)

// SnowflakeConnector is a DatabaseConnector over gosnowflake
type SnowflakeConnector struct {
	*session
	cfg *config.SnowflakeConfig
}

// NewSnowflakeConnector opens and pings a Snowflake pool
func NewSnowflakeConnector(ctx context.Context, cfg *config.SnowflakeConfig) (*SnowflakeConnector, error) {
	logger := zap.L().Named("snowflake-connector")
	logger.Info("Connecting to Snowflake",
		zap.String("account", cfg.Account),
		zap.String("user", cfg.User),
		zap.String("database", cfg.Database),
		zap.String("warehouse", cfg.Warehouse),
		zap.String("role", cfg.Role))

	dsn, err := cfg.ConnectionString()
	if err != nil {
		return nil, err
	}

	s, err := openSession(ctx, "snowflake", dsn, converter.DialectSnowflake,
		cfg.Database, cfg.PoolConfig, 10*time.Second, logger)
	if err != nil {
		return nil, err
	}
	return &SnowflakeConnector{session: s, cfg: cfg}, nil
}

// Validate checks the session landed in the configured database with a
// running warehouse
func (c *SnowflakeConnector) Validate(ctx context.Context) error {
	var role, database, warehouse sql.NullString
	row := c.db.QueryRowContext(ctx, "SELECT CURRENT_ROLE(), CURRENT_DATABASE(), CURRENT_WAREHOUSE()")
	if err := row.Scan(&role, &database, &warehouse); err != nil {
		return fmt.Errorf("failed to read Snowflake session context: %w", err)
	}

	switch {
	case !strings.EqualFold(database.String, c.cfg.Database):
		return fmt.Errorf("session is in database %q, expected %q", database.String, c.cfg.Database)
	case warehouse.String == "":
		return fmt.Errorf("role %s has no active warehouse", role.String)
	}

	c.logger.Info("Snowflake connection validated",
		zap.String("role", role.String),
		zap.String("database", database.String),
		zap.String("warehouse", warehouse.String))
	return nil
}
