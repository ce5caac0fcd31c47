package circuitbreaker

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
)

// DatabaseWrapper wraps a *sql.DB with a circuit breaker. Used by the corpus
// store; repeated query failures stop hammering a down database.
type DatabaseWrapper struct {
	db     *sql.DB
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewDatabaseWrapper creates a database wrapper with circuit breaker
func NewDatabaseWrapper(db *sql.DB, name string, logger *zap.Logger) *DatabaseWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	config := GetDatabaseConfig().ToConfig()
	cb := NewCircuitBreaker(name, config, logger)
	GlobalMetricsCollector.RegisterCircuitBreaker(name, "corpus", cb)

	return &DatabaseWrapper{db: db, cb: cb, logger: logger}
}

// DB exposes the underlying handle (for pool configuration at startup)
func (dw *DatabaseWrapper) DB() *sql.DB { return dw.db }

// Execute runs fn under the breaker; used when callers query through sqlx.
// sql.ErrNoRows is propagated but not counted as a breaker failure.
func (dw *DatabaseWrapper) Execute(ctx context.Context, fn func() error) error {
	var inner error
	err := dw.cb.Execute(ctx, func() error {
		inner = fn()
		if inner == sql.ErrNoRows {
			return nil
		}
		return inner
	})
	GlobalMetricsCollector.RecordRequest("corpus-db", "corpus", dw.cb.State(), err == nil)
	if err != nil {
		return err
	}
	return inner
}

// PingContext wraps Ping with circuit breaker
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	err := dw.cb.Execute(ctx, func() error {
		return dw.db.PingContext(ctx)
	})
	GlobalMetricsCollector.RecordRequest("corpus-db", "corpus", dw.cb.State(), err == nil)
	return err
}

// QueryContext wraps Query with circuit breaker
func (dw *DatabaseWrapper) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	err := dw.cb.Execute(ctx, func() error {
		var qerr error
		rows, qerr = dw.db.QueryContext(ctx, query, args...)
		return qerr
	})
	GlobalMetricsCollector.RecordRequest("corpus-db", "corpus", dw.cb.State(), err == nil)
	return rows, err
}

// QueryRowContext wraps QueryRow with circuit breaker. Row errors surface on
// Scan; only breaker-open short-circuits here.
func (dw *DatabaseWrapper) QueryRowContext(ctx context.Context, query string, args ...interface{}) (*sql.Row, error) {
	var row *sql.Row
	err := dw.cb.Execute(ctx, func() error {
		row = dw.db.QueryRowContext(ctx, query, args...)
		return nil
	})
	GlobalMetricsCollector.RecordRequest("corpus-db", "corpus", dw.cb.State(), err == nil)
	if err != nil {
		return nil, err
	}
	return row, nil
}
