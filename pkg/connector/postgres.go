// pkg/connector/postgres.go
package connector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	"go.uber.org/zap"

	"github.com/David-Botos/data-cleansing/pkg/config"
	"github.com/David-Botos/data-cleansing/pkg/converter"
)

// PostgresConnector is a DatabaseConnector over the pgx stdlib driver
type PostgresConnector struct {
	*session
	cfg *config.PostgresConfig
}

// NewPostgresConnector opens and pings a PostgreSQL pool. The statement
// timeout travels in the connection string so every pooled session gets it.
func NewPostgresConnector(ctx context.Context, cfg *config.PostgresConfig) (*PostgresConnector, error) {
	logger := zap.L().Named("postgres-connector")
	logger.Info("Connecting to PostgreSQL",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
		zap.String("user", cfg.User),
		zap.Duration("statementTimeout", cfg.StatementTimeout))

	s, err := openSession(ctx, "pgx", cfg.ConnectionString(), converter.DialectPostgres,
		cfg.Database, cfg.PoolConfig, 5*time.Second, logger)
	if err != nil {
		return nil, err
	}
	return &PostgresConnector{session: s, cfg: cfg}, nil
}

// OpenPostgres opens a pgx backed *sql.DB for the given connection string
func OpenPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL connection: %w", err)
	}
	return db, nil
}

// Validate checks the server answers and the user may create schemas in the
// target database
func (c *PostgresConnector) Validate(ctx context.Context) error {
	var (
		version   string
		user      string
		canCreate bool
	)
	row := c.db.QueryRowContext(ctx,
		`SELECT version(), current_user, has_database_privilege(current_database(), 'CREATE')`)
	if err := row.Scan(&version, &user, &canCreate); err != nil {
		return fmt.Errorf("failed to query PostgreSQL privileges: %w", err)
	}
	if !canCreate {
		return fmt.Errorf("user %s lacks CREATE on database %s", user, c.cfg.Database)
	}

	c.logger.Info("PostgreSQL connection validated",
		zap.String("version", version),
		zap.String("user", user),
		zap.String("database", c.cfg.Database))
	return nil
}
