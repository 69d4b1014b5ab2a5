package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"rentflow/internal/config"
	"rentflow/internal/domain"
	"rentflow/internal/models"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	ErrConcurrentModification = errors.New("booking was modified concurrently")
	ErrDuplicate              = errors.New("duplicate record")
	ErrTerminalStatus         = errors.New("booking status is terminal")
)

// DB is the booking store on top of database/sql.
type DB struct {
	*sql.DB
	dialect dialect
	path    string
	logger  *zerolog.Logger

	mu              sync.RWMutex
	propertiesCache map[int64]*models.Property
	cacheLoadedAt   time.Time
	cacheTTL        time.Duration
}

// queryRunner is satisfied by both *sql.DB and *sql.Tx.
type queryRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects to the configured driver and makes sure the schema exists.
func Open(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	switch cfg.Driver {
	case "", config.DriverSQLite:
		return NewDB(cfg.Path, logger)
	case config.DriverPostgres:
		return NewPostgresDB(cfg.Postgres, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewDB opens a sqlite database at path. Every transaction starts with
// BEGIN IMMEDIATE, so writers are serialised by the database lock.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path + "?_txlock=immediate&_busy_timeout=10000&_foreign_keys=on"
	if path != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// each connection would otherwise get its own empty database
		sqlDB.SetMaxOpenConns(1)
	}

	db, err := newDB(sqlDB, sqliteDialect, path, logger)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	db.logger.Info().Str("path", path).Msg("sqlite database initialized")
	return db, nil
}

// NewPostgresDB opens a postgres database through lib/pq.
func NewPostgresDB(cfg config.PostgresConfig, logger *zerolog.Logger) (*DB, error) {
	connector, err := pq.NewConnector(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	sqlDB := sql.OpenDB(connector)
	if cfg.MaxConnections > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	}

	db, err := newDB(sqlDB, postgresDialect, "", logger)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	db.logger.Info().Str("host", cfg.Host).Str("dbname", cfg.DBName).Msg("postgres database initialized")
	return db, nil
}

func newDB(sqlDB *sql.DB, d dialect, path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	for _, stmt := range d.schema {
		if _, err := sqlDB.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return &DB{
		DB:              sqlDB,
		dialect:         d,
		path:            path,
		logger:          logger,
		propertiesCache: make(map[int64]*models.Property),
		cacheTTL:        time.Duration(models.PropertiesCacheTTL) * time.Second,
	}, nil
}

// Driver reports the dialect name.
func (db *DB) Driver() string {
	return db.dialect.name
}

// Path is the sqlite file path, empty for postgres.
func (db *DB) Path() string {
	return db.path
}

// WithTx runs fn in one transaction and commits when fn returns nil.
func (db *DB) WithTx(ctx context.Context, fn func(tx domain.BookingTx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(&Tx{tx: sqlTx, dialect: db.dialect}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Tx is the locked view of the store used inside WithTx.
type Tx struct {
	tx      *sql.Tx
	dialect dialect
}

type dialect struct {
	name      string
	forUpdate string
	schema    []string
}

// q rewrites ? placeholders into the dialect's form.
func (d dialect) q(query string) string {
	if d.name != config.DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return models.FormatDate(*t)
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

var sqliteDialect = dialect{
	name: config.DriverSQLite,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS properties (
			id INTEGER PRIMARY KEY,
			owner_id INTEGER NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			monthly_rent TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			property_id INTEGER NOT NULL REFERENCES properties(id),
			renter_id INTEGER NOT NULL,
			start_date DATE NOT NULL,
			end_date DATE NOT NULL,
			monthly_rent TEXT NOT NULL,
			total_amount TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			cancel_until DATE,
			created_at DATETIME NOT NULL,
			confirmed_at DATETIME,
			completed_at DATETIME,
			updated_at DATETIME NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			CHECK (start_date < end_date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_property_status ON bookings(property_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status_end ON bookings(status, end_date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_renter ON bookings(renter_id)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			booking_id INTEGER NOT NULL REFERENCES bookings(id),
			sender_id INTEGER NOT NULL,
			receiver_id INTEGER NOT NULL,
			text TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_booking ON messages(booking_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS reviews (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			booking_id INTEGER NOT NULL REFERENCES bookings(id),
			property_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
			comment TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			UNIQUE (property_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			recipient_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			summary TEXT NOT NULL,
			payload TEXT NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			delivery_status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			next_retry_at DATETIME,
			delivered_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, is_read)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_delivery ON notifications(delivery_status, next_retry_at)`,
	},
}

var postgresDialect = dialect{
	name:      config.DriverPostgres,
	forUpdate: " FOR UPDATE",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS properties (
			id BIGINT PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			monthly_rent NUMERIC(12,2) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id BIGSERIAL PRIMARY KEY,
			property_id BIGINT NOT NULL REFERENCES properties(id),
			renter_id BIGINT NOT NULL,
			start_date DATE NOT NULL,
			end_date DATE NOT NULL,
			monthly_rent NUMERIC(12,2) NOT NULL,
			total_amount NUMERIC(12,2) NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			cancel_until DATE,
			created_at TIMESTAMPTZ NOT NULL,
			confirmed_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			CHECK (start_date < end_date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_property_status ON bookings(property_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status_end ON bookings(status, end_date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_renter ON bookings(renter_id)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			booking_id BIGINT NOT NULL REFERENCES bookings(id),
			sender_id BIGINT NOT NULL,
			receiver_id BIGINT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_booking ON messages(booking_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS reviews (
			id BIGSERIAL PRIMARY KEY,
			booking_id BIGINT NOT NULL REFERENCES bookings(id),
			property_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			rating SMALLINT NOT NULL CHECK (rating BETWEEN 1 AND 5),
			comment TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (property_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id BIGSERIAL PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			recipient_id BIGINT NOT NULL,
			kind TEXT NOT NULL,
			summary TEXT NOT NULL,
			payload TEXT NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			delivery_status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			next_retry_at TIMESTAMPTZ,
			delivered_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, is_read)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_delivery ON notifications(delivery_status, next_retry_at)`,
	},
}
