package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jonwraymond/keycache/cache"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "keycache_entries"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ErrInvalidTable is returned for table names that are not plain identifiers.
var ErrInvalidTable = errors.New("sqlstore: invalid table name")

// Config describes a SQL-backed storage.
type Config struct {
	Dialect Dialect
	DSN     string
	Table   string // default: DefaultTable
}

// Storage implements cache.Storage on a SQL table. Expiry is stored as unix
// milliseconds in expires_at and enforced on read; PurgeExpired removes
// expired rows.
type Storage struct {
	db      *sql.DB
	dialect Dialect
	q       queries
	owned   bool
	now     func() time.Time
}

// Open connects with cfg, verifies the connection and creates the table.
func Open(ctx context.Context, cfg Config) (*Storage, error) {
	db, err := sql.Open(cfg.Dialect.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", cfg.Dialect, err)
	}
	if cfg.Dialect == SQLite {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", cfg.Dialect, err)
	}

	s, err := New(ctx, db, cfg.Dialect, cfg.Table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New uses an existing database handle and creates the table if missing.
// Close leaves db open.
func New(ctx context.Context, db *sql.DB, dialect Dialect, table string) (*Storage, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}

	s := &Storage{
		db:      db,
		dialect: dialect,
		q:       buildQueries(dialect, table),
		now:     time.Now,
	}
	if _, err := db.ExecContext(ctx, s.q.schema); err != nil {
		return nil, fmt.Errorf("sqlstore: create table %s: %w", table, err)
	}
	return s, nil
}

// DB returns the database handle.
func (s *Storage) DB() *sql.DB { return s.db }

func (s *Storage) nowMillis() int64 { return s.now().UnixMilli() }

func (s *Storage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value     []byte
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.q.get, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if expiresAt.Valid && expiresAt.Int64 <= s.nowMillis() {
		return nil, false, nil
	}
	return value, true, nil
}

// Set upserts value; ttl <= 0 stores without expiry.
func (s *Storage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: s.now().Add(ttl).UnixMilli(), Valid: true}
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, s.q.upsert, key, value, expiresAt)
	return err
}

// Delete reports true only when a live row was removed. Expired rows are
// removed as well.
func (s *Storage) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q.deleteLive, key, s.nowMillis())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.db.ExecContext(ctx, s.q.deleteAny, key); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Storage) Has(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.q.has, key, s.nowMillis()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PurgeExpired deletes expired rows and returns how many were removed.
func (s *Storage) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q.purge, s.nowMillis())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SupportsTTL reports that expiry is honored on read.
func (s *Storage) SupportsTTL() bool { return true }

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database when Open created it.
func (s *Storage) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

var (
	_ cache.Storage     = (*Storage)(nil)
	_ cache.TTLReporter = (*Storage)(nil)
	_ cache.Pinger      = (*Storage)(nil)
)
