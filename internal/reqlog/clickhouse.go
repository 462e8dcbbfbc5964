package reqlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/nulpointcorp/llmur/internal/store"
)

// requestLogsDDL mirrors the Postgres request_logs table for analytics
// queries. History is append-only, so MergeTree ordered by time is enough.
const requestLogsDDL = `
CREATE TABLE IF NOT EXISTS request_logs (
    id                UUID,
    attempt_number    Int16,
    virtual_key_id    UUID,
    project_id        UUID,
    deployment_id     UUID,
    connection_id     UUID,
    input_tokens      Int64,
    output_tokens     Int64,
    total_tokens      Int64,
    cost              Float64,
    http_status_code  Int32,
    error             Nullable(String),
    request_ts        DateTime64(3, 'UTC'),
    response_ts       DateTime64(3, 'UTC'),
    method            LowCardinality(String),
    path              LowCardinality(String),
    provider          LowCardinality(String),
    deployment_name   LowCardinality(String),
    project_name      String,
    virtual_key_alias String
) ENGINE = MergeTree
ORDER BY (request_ts)`

type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

// ClickHouse is an analytics sink for request logs. It satisfies Sink and
// is meant to run as the Recorder's mirror next to the relational store.
type ClickHouse struct {
	conn   driver.Conn
	logger *slog.Logger
}

// NewClickHouse connects, verifies the server is reachable and creates the
// request_logs table when absent.
func NewClickHouse(ctx context.Context, cfg ClickHouseConfig, logger *slog.Logger) (*ClickHouse, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("reqlog: clickhouse address must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("reqlog: opening clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("reqlog: pinging clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, requestLogsDDL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("reqlog: creating request_logs table: %w", err)
	}

	logger.Info("clickhouse_connected", slog.String("addr", cfg.Addr))
	return &ClickHouse{conn: conn, logger: logger}, nil
}

func (c *ClickHouse) InsertRequestLogs(ctx context.Context, logs []*store.RequestLog) error {
	if len(logs) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO request_logs")
	if err != nil {
		return fmt.Errorf("preparing batch: %w", err)
	}
	for _, l := range logs {
		err := batch.Append(
			l.ID,
			l.AttemptNumber,
			l.VirtualKeyID,
			l.ProjectID,
			l.DeploymentID,
			l.ConnectionID,
			l.InputTokens,
			l.OutputTokens,
			l.TotalTokens,
			l.Cost,
			int32(l.HTTPStatusCode),
			l.Error,
			l.RequestTS,
			l.ResponseTS,
			l.Method,
			l.Path,
			l.Provider,
			l.DeploymentName,
			l.ProjectName,
			l.VirtualKeyAlias,
		)
		if err != nil {
			return fmt.Errorf("appending row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("sending batch: %w", err)
	}
	return nil
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
