package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leapmail/mx/config"
	"github.com/leapmail/mx/logger"
	"github.com/leapmail/mx/pkg/metrics"
)

//go:embed schema.sql
var schema string

// Database holds the PostgreSQL connection pool backing alias lookups.
type Database struct {
	Pool *pgxpool.Pool
}

// NewDatabase creates a connection pool from configuration, verifies
// connectivity and applies the embedded schema.
func NewDatabase(ctx context.Context, cfg *config.DatabaseConfig) (*Database, error) {
	sslMode := "disable"
	if cfg.TLSMode {
		sslMode = "require"
	}

	connString := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, sslMode)

	logger.Info("DB: connecting", "host", cfg.Host, "port", cfg.Port,
		"user", cfg.User, "name", cfg.Name, "sslmode", sslMode)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	if cfg.LogQueries {
		poolConfig.ConnConfig.Tracer = &queryTracer{}
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}

	db := &Database{Pool: pool}

	if err := db.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return db, nil
}

func (db *Database) migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// StartPoolMetrics starts a goroutine that periodically publishes
// connection pool statistics.
func (db *Database) StartPoolMetrics(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := db.Pool.Stat()
				metrics.DBPoolTotalConns.Set(float64(stats.TotalConns()))
				metrics.DBPoolIdleConns.Set(float64(stats.IdleConns()))
				metrics.DBPoolInUseConns.Set(float64(stats.AcquiredConns()))
			}
		}
	}()
}

// timedQueryRow wraps QueryRow with duration and count metrics. With
// pgx the query error only materializes at Scan, so the outcome is
// recorded there via a wrapping row.
func (db *Database) timedQueryRow(ctx context.Context, operation string, sql string, args ...interface{}) pgx.Row {
	return &timedRow{
		row:       db.Pool.QueryRow(ctx, sql, args...),
		operation: operation,
		start:     time.Now(),
	}
}

type timedRow struct {
	row       pgx.Row
	operation string
	start     time.Time
}

func (r *timedRow) Scan(dest ...interface{}) error {
	err := r.row.Scan(dest...)
	metrics.DBQueryDuration.WithLabelValues(r.operation).Observe(time.Since(r.start).Seconds())
	// Absence of a row is a normal lookup outcome, not a query failure.
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		metrics.DBQueriesTotal.WithLabelValues(r.operation, "failure").Inc()
	} else {
		metrics.DBQueriesTotal.WithLabelValues(r.operation, "success").Inc()
	}
	return err
}

// timedExec wraps Exec with duration and count metrics.
func (db *Database) timedExec(ctx context.Context, operation string, sql string, args ...interface{}) error {
	start := time.Now()
	_, err := db.Pool.Exec(ctx, sql, args...)
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DBQueriesTotal.WithLabelValues(operation, "failure").Inc()
	} else {
		metrics.DBQueriesTotal.WithLabelValues(operation, "success").Inc()
	}
	return err
}

// queryTracer logs every statement when database.log_queries is set.
type queryTracer struct{}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	logger.Debug("DB: query start", "sql", data.SQL, "args", data.Args)
	return context.WithValue(ctx, traceStartKey{}, time.Now())
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	var elapsed time.Duration
	if start, ok := ctx.Value(traceStartKey{}).(time.Time); ok {
		elapsed = time.Since(start)
	}
	if data.Err != nil {
		logger.Debug("DB: query end", "elapsed", elapsed, "error", data.Err)
	} else {
		logger.Debug("DB: query end", "elapsed", elapsed, "command_tag", data.CommandTag.String())
	}
}

type traceStartKey struct{}
