package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresClient loads the fleet snapshot from a bot_telemetry table. It
// is an alternative to the CSV source; the snapshot is read once at
// startup and never written back.
type PostgresClient struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresClient(connectionURL string, logger *zap.Logger) (*PostgresClient, error) {
	config, err := pgxpool.ParseConfig(connectionURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection URL: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute
	config.ConnConfig.ConnectTimeout = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{
		pool:   pool,
		logger: logger,
	}, nil
}

func (c *PostgresClient) Close() {
	c.pool.Close()
}

func (c *PostgresClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.pool.Ping(ctx)
}

// LoadFleet reads every bot's latest telemetry row.
func (c *PostgresClient) LoadFleet(ctx context.Context) (Fleet, error) {
	query := `
		SELECT bot_name, bot_type, owner, priority, version, last_status,
		       run_count, failure_count, success_rate, avg_execution_time_s,
		       last_run_timestamp
		FROM bot_telemetry
		ORDER BY bot_name
	`

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query bot telemetry: %w", err)
	}
	defer rows.Close()

	var fleet Fleet
	for rows.Next() {
		var r TelemetryRecord
		if err := rows.Scan(
			&r.BotName,
			&r.BotType,
			&r.Owner,
			&r.Priority,
			&r.Version,
			&r.LastStatus,
			&r.RunCount,
			&r.FailureCount,
			&r.SuccessRate,
			&r.AvgExecTime,
			&r.LastRun,
		); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry row: %w", err)
		}
		fleet = append(fleet, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating telemetry: %w", err)
	}

	c.logger.Info("Fleet snapshot loaded from database", zap.Int("bots", len(fleet)))
	return fleet, nil
}
