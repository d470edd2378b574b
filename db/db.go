package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"touchminer/logger"
)

// Options configures the connection
type Options struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB represents a database connection
type DB struct {
	conn *sqlx.DB
	// Prepared statements cache
	stmtCache struct {
		sync.RWMutex
		statements map[string]*sqlx.Stmt
	}
}

// New connects to the touch store and creates its tables
func New(ctx context.Context, opts Options) (*DB, error) {
	switch opts.Driver {
	case "postgres", "sqlite3":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, opts.Driver)
	}
	if opts.DSN == "" {
		return nil, fmt.Errorf("%w: empty data source name", ErrInvalidInput)
	}

	logger.Info("Connecting to database", zap.String("driver", opts.Driver))
	conn, err := sqlx.ConnectContext(ctx, opts.Driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseConnection, err)
	}

	maxOpenConns := opts.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = 25
	}
	maxIdleConns := opts.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = 25
	}
	connMaxLifetime := opts.ConnMaxLifetime
	if connMaxLifetime <= 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if opts.Driver == "sqlite3" {
		// a single writer avoids "database is locked"
		maxOpenConns = 1
	}

	conn.SetMaxOpenConns(maxOpenConns)
	conn.SetMaxIdleConns(maxIdleConns)
	conn.SetConnMaxLifetime(connMaxLifetime)

	database := newDB(conn)
	if err := database.Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("Database connection established",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return database, nil
}

func newDB(conn *sqlx.DB) *DB {
	database := &DB{conn: conn}
	database.stmtCache.statements = make(map[string]*sqlx.Stmt)
	return database
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS mining_runs (
		id TEXT PRIMARY KEY,
		repository TEXT NOT NULL,
		commits INTEGER NOT NULL,
		touches INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS touches (
		run_id TEXT NOT NULL REFERENCES mining_runs(id),
		seq INTEGER NOT NULL,
		file TEXT NOT NULL,
		author TEXT NOT NULL,
		date TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS file_touch_counts (
		run_id TEXT NOT NULL REFERENCES mining_runs(id),
		file TEXT NOT NULL,
		touches INTEGER NOT NULL,
		PRIMARY KEY (run_id, file)
	)`,
}

// Migrate creates the tables if they do not exist
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

// getStmt returns a prepared statement from cache or creates a new one
func (db *DB) getStmt(ctx context.Context, query string) (*sqlx.Stmt, error) {
	query = db.conn.Rebind(query)

	db.stmtCache.RLock()
	stmt, exists := db.stmtCache.statements[query]
	db.stmtCache.RUnlock()

	if exists {
		return stmt, nil
	}

	db.stmtCache.Lock()
	defer db.stmtCache.Unlock()

	// Double-check after acquiring write lock
	if stmt, exists = db.stmtCache.statements[query]; exists {
		return stmt, nil
	}

	stmt, err := db.conn.PreparexContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	db.stmtCache.statements[query] = stmt
	return stmt, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	db.stmtCache.Lock()
	for _, stmt := range db.stmtCache.statements {
		stmt.Close()
	}
	db.stmtCache.statements = make(map[string]*sqlx.Stmt)
	db.stmtCache.Unlock()

	return db.conn.Close()
}
