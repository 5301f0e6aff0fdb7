// Package executor runs vetted SQL against the analytics database.
// The executing role is read-only and scoped to the allowed database;
// the gateway's validator is the policy layer, this is the last hop.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// ResultSet is the outcome of a successful statement execution.
type ResultSet struct {
	QueryID  string          `json:"query_id"`
	Columns  []string        `json:"columns"`
	Rows     [][]interface{} `json:"rows"`
	RowCount int64           `json:"row_count"`
	Elapsed  time.Duration   `json:"-"`
}

// Executor runs statements that have already passed validation.
type Executor interface {
	// ExplainOnly compiles the statement without executing it.
	ExplainOnly(ctx context.Context, sqlText string) error

	// Execute runs the statement under the given timeout and returns
	// the full result set.
	Execute(ctx context.Context, sqlText string, timeout time.Duration) (*ResultSet, error)
}

// SQLExecutor is the database/sql backed Executor.
type SQLExecutor struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLExecutor opens the analytics database connection pool.
func NewSQLExecutor(connectionString string, logger *zap.Logger) (*SQLExecutor, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open executor database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping executor database: %w", err)
	}

	logger.Info("connected to executor database")
	return &SQLExecutor{db: db, logger: logger}, nil
}

// NewSQLExecutorFromDB wraps an existing pool, used by tests and the
// embedded backend.
func NewSQLExecutorFromDB(db *sql.DB, logger *zap.Logger) *SQLExecutor {
	return &SQLExecutor{db: db, logger: logger}
}

// Close closes the underlying pool.
func (e *SQLExecutor) Close() error {
	return e.db.Close()
}

// ExplainOnly asks the database to plan the statement without running
// it. Any planner error surfaces as the returned error.
func (e *SQLExecutor) ExplainOnly(ctx context.Context, sqlText string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := e.db.QueryContext(ctx, "EXPLAIN "+sqlText)
	if err != nil {
		return fmt.Errorf("explain failed: %w", err)
	}
	return rows.Close()
}

// ExecDDL runs a DDL statement under the given timeout. Used by the
// deployment gate, which holds its own elevated role.
func (e *SQLExecutor) ExecDDL(ctx context.Context, sqlText string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := e.db.ExecContext(ctx, sqlText); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return context.DeadlineExceeded
		}
		return fmt.Errorf("ddl execution failed: %w", err)
	}
	return nil
}

// Execute runs the statement with a server-observed deadline. A
// deadline hit is reported as context.DeadlineExceeded for callers to
// classify as a timeout rather than a generic failure.
func (e *SQLExecutor) Execute(ctx context.Context, sqlText string, timeout time.Duration) (*ResultSet, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	queryID := uuid.New().String()
	start := time.Now()

	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	result := &ResultSet{
		QueryID: queryID,
		Columns: columns,
	}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		scanTargets := make([]interface{}, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			// Drivers return []byte for text columns; normalize for JSON
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
		result.RowCount++
	}
	if err := rows.Err(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}

	result.Elapsed = time.Since(start)
	e.logger.Debug("executed statement",
		zap.String("query_id", queryID),
		zap.Int64("row_count", result.RowCount),
		zap.Duration("elapsed", result.Elapsed))

	return result, nil
}
