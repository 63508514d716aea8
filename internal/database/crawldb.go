package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver
)

// FileName is the name of the database file inside the data directory.
const FileName = "d2crawl.db"

// DefaultCacheSize is the number of positive existence answers kept in memory.
const DefaultCacheSize = 65536

var (
	// ErrNotFound is returned when no record matches an identity or offset.
	// Past the end of the guardian table it signals frontier exhaustion.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateRecord is returned when more than one record matches an
	// identity that must be unique. It indicates a broken dedup key.
	ErrDuplicateRecord = errors.New("duplicate record for unique identity")
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// CrawlDB is the dedup store. Guardians, activities and consumed sources are
// three independent identity domains; every write is insert-if-absent.
//
// The store uses a single connection, so concurrent callers are serialized
// and two inserts of the same identity can never both succeed.
type CrawlDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string

	// seen caches identities known to exist. Records are never deleted, so
	// a cached positive answer never goes stale.
	seen *lru.Cache[string, struct{}]
}

// Options configures CrawlDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool

	// CacheSize is the capacity of the existence cache. Zero uses
	// DefaultCacheSize.
	CacheSize int
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
		CacheSize:         DefaultCacheSize,
	}
}

// Open opens or creates the store in dbDir and applies pending migrations.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*CrawlDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (run a crawl or seed first)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a missing file.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx := context.Background()
	if opts.EnableWAL {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	seen, err := lru.New[string, struct{}](size)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create existence cache: %w", err)
	}

	return &CrawlDB{
		db:     db,
		dbPath: dbPath,
		seen:   seen,
	}, nil
}

// migrate applies the embedded goose migrations.
func migrate(ctx context.Context, db *sql.DB) error {
	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (cdb *CrawlDB) Path() string {
	return cdb.dbPath
}

// Close closes the database connection.
func (cdb *CrawlDB) Close() error {
	return cdb.db.Close()
}

func (cdb *CrawlDB) cached(key string) bool {
	return cdb.seen.Contains(key)
}

func (cdb *CrawlDB) remember(key string) {
	cdb.seen.Add(key, struct{}{})
}

// exists runs a COUNT query and caches a positive answer under key.
func (cdb *CrawlDB) exists(ctx context.Context, key, query string, args ...any) (bool, error) {
	if cdb.cached(key) {
		return true, nil
	}
	var n int
	if err := cdb.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, err
	}
	switch {
	case n > 1:
		return false, fmt.Errorf("%w: %s", ErrDuplicateRecord, key)
	case n == 1:
		cdb.remember(key)
		return true, nil
	}
	return false, nil
}

// insert runs an INSERT OR IGNORE and reports whether a row was written.
// Either way the identity exists afterwards and is cached.
func (cdb *CrawlDB) insert(ctx context.Context, key, query string, args ...any) (bool, error) {
	result, err := cdb.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	cdb.remember(key)
	return n > 0, nil
}

// count runs a COUNT(*) query.
func (cdb *CrawlDB) count(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := cdb.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanOne reads exactly one row through decode. It returns ErrNotFound for
// zero rows and ErrDuplicateRecord for more than one.
func scanOne[T any](ctx context.Context, db *sql.DB, decode func(rowScanner) (T, error), query string, args ...any) (T, error) {
	var zero T
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return zero, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return zero, err
		}
		return zero, ErrNotFound
	}
	v, err := decode(rows)
	if err != nil {
		return zero, err
	}
	if rows.Next() {
		return zero, ErrDuplicateRecord
	}
	return v, rows.Err()
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02T15:04:05Z",    // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
	time.RFC3339,              // Full RFC3339 format
	time.RFC3339Nano,          // RFC3339 with nanoseconds
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// formatTimestamp is the inverse of parseTimestamp for values the store writes.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
