package sqlite

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/mistakeknot/calalarmd/internal/logger"
)

const slowQueryThreshold = 100 * time.Millisecond

// dbHandle is satisfied by both *sql.DB and *queryLogger, so the store can
// run with or without query logging.
type dbHandle interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
	Begin() (*sql.Tx, error)
	Close() error
}

// queryLogger wraps a *sql.DB and reports queries exceeding the slow-query
// threshold.
type queryLogger struct {
	inner *sql.DB
	log   *zap.SugaredLogger
}

func newQueryLogger(db *sql.DB) *queryLogger {
	return &queryLogger{inner: db, log: logger.Named("sqlite")}
}

func (q *queryLogger) Exec(query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := q.inner.Exec(query, args...)
	q.observe(query, time.Since(start))
	return res, err
}

func (q *queryLogger) Query(query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := q.inner.Query(query, args...)
	q.observe(query, time.Since(start))
	return rows, err
}

func (q *queryLogger) QueryRow(query string, args ...any) *sql.Row {
	start := time.Now()
	row := q.inner.QueryRow(query, args...)
	q.observe(query, time.Since(start))
	return row
}

func (q *queryLogger) Begin() (*sql.Tx, error) {
	return q.inner.Begin()
}

func (q *queryLogger) Close() error {
	return q.inner.Close()
}

func (q *queryLogger) observe(query string, d time.Duration) {
	if d >= slowQueryThreshold {
		q.log.Warnw("slow query", "duration", d.Round(time.Millisecond), "query", truncateQuery(query))
	}
}

func truncateQuery(query string) string {
	const max = 120
	if len(query) <= max {
		return query
	}
	return query[:max] + "..."
}
