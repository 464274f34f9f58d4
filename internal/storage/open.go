package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects SQL syntax differences between backends.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Config configures the storage backend and its connection pool.
type Config struct {
	// Driver is postgres, sqlite or memory.
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
	// ApprovalTTL bounds how long a pending approval stays readable.
	ApprovalTTL time.Duration
}

// DefaultConfig returns default connection pool settings.
func DefaultConfig() Config {
	return Config{
		Driver:          "memory",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectTimeout:  10 * time.Second,
		ApprovalTTL:     10 * time.Minute,
	}
}

// Open connects the configured backend. The memory driver never fails.
func Open(ctx context.Context, cfg Config) (StoreSet, error) {
	defaults := DefaultConfig()
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaults.MaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaults.MaxIdleConns
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.ApprovalTTL <= 0 {
		cfg.ApprovalTTL = defaults.ApprovalTTL
	}

	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		stores, _ := NewMemoryStores(cfg.ApprovalTTL)
		return stores, nil
	case "postgres", "sqlite":
	default:
		return StoreSet{}, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return StoreSet{}, fmt.Errorf("database url is required")
	}

	db, dialect, err := OpenDB(cfg)
	if err != nil {
		return StoreSet{}, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("ping database: %w", err)
	}
	return NewSQLStores(db, dialect, cfg.ApprovalTTL), nil
}

// OpenDB opens a pooled *sql.DB for a SQL driver without pinging it.
func OpenDB(cfg Config) (*sql.DB, Dialect, error) {
	dialect := Dialect(strings.ToLower(cfg.Driver))
	driverName := "postgres"
	if dialect == DialectSQLite {
		driverName = "sqlite"
	}
	db, err := sql.Open(driverName, cfg.URL)
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if dialect == DialectSQLite {
		// One writer avoids SQLITE_BUSY under concurrent turns.
		db.SetMaxOpenConns(1)
	}
	return db, dialect, nil
}

// NewSQLStores builds every store over one database handle.
func NewSQLStores(db *sql.DB, dialect Dialect, approvalTTL time.Duration) StoreSet {
	store := &SQLStore{db: db, dialect: dialect, now: time.Now}
	return StoreSet{
		Chats:       store,
		Preferences: store,
		Pages:       store,
		Leads:       store,
		Calls:       store,
		Contacts:    store,
		Approvals:   &SQLApprovalStore{db: db, dialect: dialect, ttl: approvalTTL, now: time.Now},
		ping:        db.PingContext,
		closer:      db.Close,
	}
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

// rebind rewrites $N placeholders into the dialect's form.
func (d Dialect) rebind(query string) string {
	if d == DialectSQLite {
		return placeholder.ReplaceAllString(query, "?$1")
	}
	return query
}
