// pkg/connector/factory.go
package connector

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/David-Botos/data-cleansing/pkg/config"
)

// ConnectorFactory opens connectors from the loaded configuration
type ConnectorFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewConnectorFactory creates a new connector factory
func NewConnectorFactory(cfg *config.Config, logger *zap.Logger) *ConnectorFactory {
	return &ConnectorFactory{cfg: cfg, logger: logger}
}

// CreateSnowflakeConnector opens the configured Snowflake account
func (f *ConnectorFactory) CreateSnowflakeConnector(ctx context.Context) (*SnowflakeConnector, error) {
	if f.cfg.Snowflake == nil {
		return nil, errors.New("snowflake is not configured")
	}
	conn, err := NewSnowflakeConnector(ctx, f.cfg.Snowflake)
	if err != nil {
		return nil, fmt.Errorf("failed to create Snowflake connector: %w", err)
	}
	return conn, nil
}

// CreatePostgresConnector opens the configured PostgreSQL database
func (f *ConnectorFactory) CreatePostgresConnector(ctx context.Context) (*PostgresConnector, error) {
	if f.cfg.Postgres == nil {
		return nil, errors.New("postgreSQL is not configured")
	}
	conn, err := NewPostgresConnector(ctx, f.cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL connector: %w", err)
	}
	return conn, nil
}

// CreateSinkConnector opens the connector for the configured sink. It returns
// a nil connector when output is not persisted.
func (f *ConnectorFactory) CreateSinkConnector(ctx context.Context) (DatabaseConnector, error) {
	f.logger.Info("Opening sink connector", zap.String("sink", f.cfg.Sink))

	switch f.cfg.Sink {
	case config.SinkPostgres:
		conn, err := f.CreatePostgresConnector(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case config.SinkSnowflake:
		conn, err := f.CreateSnowflakeConnector(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	default:
		return nil, nil
	}
}
