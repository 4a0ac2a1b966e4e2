// Package sqlstore provides read-only access to the unchained database.
package sqlstore

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/kenshi-labs/unchained-dashboard/domain"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSqlite   = "sqlite"
)

type Store struct {
	db     *sql.DB
	driver string
}

func Open(driver, dsn string, maxOpenConnections int) (*Store, error) {
	if driver != DriverPostgres && driver != DriverSqlite {
		return nil, errors.Errorf("unsupported database driver [%s]", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if maxOpenConnections > 0 {
		db.SetMaxOpenConns(maxOpenConnections)
		db.SetMaxIdleConns(maxOpenConnections)
	}
	return NewStore(db, driver), nil
}

func NewStore(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) Ping(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return domain.NewBackingStoreError(err, "ping")
	}
	return nil
}

// DB exposes the underlying handle. Only used to prepare test databases.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Query runs a read query. Placeholders are written as '?' and rebound for the driver.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, domain.NewBackingStoreError(err, "query")
	}
	return rows, nil
}

func (s *Store) CountExact(ctx context.Context, table string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+QuoteTable(table)).Scan(&count)
	if err != nil {
		return 0, domain.NewBackingStoreError(err, "counting table [%s]", table)
	}
	return count, nil
}

// CountEstimate returns the row count the storage engine keeps in its planner statistics.
func (s *Store) CountEstimate(ctx context.Context, table string) (int64, error) {
	if s.driver == DriverSqlite {
		return s.sqliteEstimate(ctx, table)
	}
	return s.postgresEstimate(ctx, table)
}

func (s *Store) postgresEstimate(ctx context.Context, table string) (int64, error) {
	var estimate int64
	err := s.db.QueryRowContext(ctx,
		`SELECT c.reltuples::bigint FROM pg_class c WHERE c.oid = to_regclass($1)`, QuoteTable(table)).Scan(&estimate)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.NewBackingStoreError(errors.Errorf("relation [%s] does not exist", table), "resolving table")
	}
	if err != nil {
		return 0, domain.NewBackingStoreError(err, "reading statistics of table [%s]", table)
	}
	if estimate < 0 { // table was never analyzed
		return 0, &domain.EstimationUnavailableError{Table: table}
	}
	return estimate, nil
}

func (s *Store) sqliteEstimate(ctx context.Context, table string) (int64, error) {
	found, err := s.sqliteTableExists(ctx, table)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, domain.NewBackingStoreError(errors.Errorf("no such table [%s]", table), "resolving table")
	}

	analyzed, err := s.sqliteTableExists(ctx, "sqlite_stat1")
	if err != nil {
		return 0, err
	}
	if !analyzed {
		return 0, &domain.EstimationUnavailableError{Table: table}
	}

	var stat string
	err = s.db.QueryRowContext(ctx, `SELECT stat FROM sqlite_stat1 WHERE tbl = ? LIMIT 1`, table).Scan(&stat)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &domain.EstimationUnavailableError{Table: table}
	}
	if err != nil {
		return 0, domain.NewBackingStoreError(err, "reading statistics of table [%s]", table)
	}

	// first value is the approximate number of rows, index statistics follow
	fields := strings.Fields(stat)
	if len(fields) == 0 {
		return 0, &domain.EstimationUnavailableError{Table: table}
	}
	estimate, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing statistics [%s] of table [%s]", stat, table)
	}
	return estimate, nil
}

func (s *Store) sqliteTableExists(ctx context.Context, table string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&count)
	if err != nil {
		return false, domain.NewBackingStoreError(err, "looking up table [%s]", table)
	}
	return count > 0, nil
}

func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var builder strings.Builder
	builder.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			builder.WriteByte('$')
			builder.WriteString(strconv.Itoa(n))
		} else {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

// QuoteTable quotes a possibly schema qualified table name.
func QuoteTable(table string) string {
	parts := strings.Split(table, ".")
	for i, part := range parts {
		parts[i] = pq.QuoteIdentifier(part)
	}
	return strings.Join(parts, ".")
}
