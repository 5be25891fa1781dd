package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver           string
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// DB is a database/sql handle plus the dialect its queries are built for.
type DB struct {
	SQL    *sql.DB
	pool   *pgxpool.Pool
	driver string
	logger *slog.Logger
}

// Open connects to SQLite (embedded, default) or PostgreSQL through a pgx pool
// wrapped as *sql.DB, and applies the schema.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	logger.Info("connecting to database", "driver", cfg.Driver)

	var db *DB
	switch cfg.Driver {
	case DriverSQLite:
		sqldb, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			return nil, err
		}
		// one writer; transactions serialize on the single connection
		sqldb.SetMaxOpenConns(1)
		db = &DB{SQL: sqldb, driver: DriverSQLite, logger: logger}
	case DriverPostgres:
		pc, err := pgxpool.ParseConfig(cfg.DSN)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			return nil, err
		}
		if cfg.MaxConns > 0 {
			pc.MaxConns = cfg.MaxConns
		}
		if cfg.MinConns > 0 {
			pc.MinConns = cfg.MinConns
		}
		if cfg.MaxConnLifetime > 0 {
			pc.MaxConnLifetime = cfg.MaxConnLifetime
		}
		if cfg.MaxConnIdleTime > 0 {
			pc.MaxConnIdleTime = cfg.MaxConnIdleTime
		}
		pc.ConnConfig.RuntimeParams["application_name"] = "expense-extractor"
		if cfg.StatementTimeout > 0 {
			pc.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
		}

		dialCtx := ctx
		if cfg.DialTimeout > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
			defer cancel()
		}
		pool, err := pgxpool.NewWithConfig(dialCtx, pc)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			return nil, err
		}
		db = &DB{SQL: stdlib.OpenDBFromPool(pool), pool: pool, driver: DriverPostgres, logger: logger}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("successfully connected to database", "driver", db.driver)
	return db, nil
}

// Driver returns the dialect name.
func (db *DB) Driver() string { return db.driver }

// Close closes the database connections gracefully
func (db *DB) Close() {
	if db == nil {
		return
	}
	db.logger.Info("closing database connections")
	if err := db.SQL.Close(); err != nil {
		db.logger.Error("failed to close database", "error", err)
	}
	if db.pool != nil {
		db.pool.Close()
	}
	db.logger.Info("database connections closed")
}

// HealthCheck pings using database/sql to catch DSN issues early.
func (db *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	db.logger.Debug("pinging database")
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := db.SQL.PingContext(ctx); err != nil {
		db.logger.Error("database ping failed", "error", err)
		return err
	}
	db.logger.Debug("database ping successful")
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS requests (
		id          TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		locale      TEXT NOT NULL DEFAULT '',
		currency    TEXT NOT NULL DEFAULT '',
		state       TEXT NOT NULL,
		progress    DOUBLE PRECISION NOT NULL DEFAULT 0,
		message     TEXT NOT NULL DEFAULT '',
		created_at  BIGINT NOT NULL,
		updated_at  BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS requests_state_idx ON requests (state)`,
	`CREATE TABLE IF NOT EXISTS request_files (
		request_id TEXT NOT NULL REFERENCES requests(id),
		idx        INTEGER NOT NULL,
		filename   TEXT NOT NULL,
		mime       TEXT NOT NULL DEFAULT '',
		size       BIGINT NOT NULL DEFAULT 0,
		upload_key TEXT NOT NULL DEFAULT '',
		ref        TEXT,
		PRIMARY KEY (request_id, idx)
	)`,
	`CREATE TABLE IF NOT EXISTS request_events (
		request_id TEXT NOT NULL REFERENCES requests(id),
		seq        BIGINT NOT NULL,
		state      TEXT NOT NULL,
		progress   DOUBLE PRECISION NOT NULL,
		message    TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		PRIMARY KEY (request_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS request_errors (
		request_id TEXT NOT NULL REFERENCES requests(id),
		seq        BIGINT NOT NULL,
		filename   TEXT NOT NULL,
		message    TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (request_id, seq)
	)`,
}

// Migrate creates the tables when missing.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.SQL.ExecContext(ctx, stmt); err != nil {
			db.logger.Error("failed to apply schema", "error", err)
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// builder returns an ent SQL builder for the connected dialect; it quotes
// identifiers and numbers placeholders the way the driver expects.
func (db *DB) builder() *entsql.DialectBuilder {
	if db.driver == DriverPostgres {
		return entsql.Dialect(dialect.Postgres)
	}
	return entsql.Dialect(dialect.SQLite)
}
