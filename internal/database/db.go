package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB stores records as jsonb values keyed by their slash-delimited path.
type DB struct {
	pool *pgxpool.Pool
}

type Config struct {
	// DSN takes precedence over the individual connection fields.
	DSN         string
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
}

func (c Config) dsn() string {
	if c.DSN != "" {
		return c.DSN
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode)
}

const schema = `
CREATE TABLE IF NOT EXISTS kv_records (
	path       TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

func New(ctx context.Context, cfg Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Set pool configuration
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLife > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLife
	}
	if cfg.MaxConnIdle > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdle
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{pool: pool}
	if err := db.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Migrate(ctx context.Context) error {
	return db.Transaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, schema); err != nil {
			return fmt.Errorf("failed to create kv_records: %w", err)
		}
		return nil
	})
}

func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// Transaction executes a function within a database transaction
func (db *DB) Transaction(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = fmt.Errorf("tx rollback failed: %v (original error: %w)", rbErr, err)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func key(path string) string {
	return strings.Trim(path, "/")
}

func (db *DB) Get(ctx context.Context, path string) ([]byte, bool, error) {
	var value []byte
	err := db.pool.QueryRow(ctx,
		`SELECT value::text FROM kv_records WHERE path = $1`, key(path),
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", path, err)
	}
	return value, true, nil
}

func (db *DB) Set(ctx context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	_, err = db.pool.Exec(ctx, `
		INSERT INTO kv_records (path, value, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key(path), string(data))
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

// Update merges fields into the object stored at path, creating it if needed.
func (db *DB) Update(ctx context.Context, path string, fields map[string]any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	_, err = db.pool.Exec(ctx, `
		INSERT INTO kv_records (path, value, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (path) DO UPDATE SET
			value = CASE jsonb_typeof(kv_records.value)
				WHEN 'object' THEN kv_records.value || EXCLUDED.value
				ELSE EXCLUDED.value
			END,
			updated_at = now()`,
		key(path), string(data))
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", path, err)
	}
	return nil
}

// Incr atomically increments the integer at path and returns the new value.
func (db *DB) Incr(ctx context.Context, path string) (int, error) {
	var next int
	err := db.pool.QueryRow(ctx, `
		INSERT INTO kv_records (path, value, updated_at)
		VALUES ($1, '1'::jsonb, now())
		ON CONFLICT (path) DO UPDATE SET
			value = to_jsonb(COALESCE((kv_records.value #>> '{}')::int, 0) + 1),
			updated_at = now()
		RETURNING (value #>> '{}')::int`,
		key(path)).Scan(&next)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return 0, fmt.Errorf("failed to increment %s: %s: %w", path, pgErr.Code, err)
		}
		return 0, fmt.Errorf("failed to increment %s: %w", path, err)
	}
	return next, nil
}
