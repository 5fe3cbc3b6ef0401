/*
Package state implements durable persistence for the gate's trust state.

This file defines the Postgres backend. Each room's trust state lives in one
row of the gate_state table (verified ids as an array, pending records as
JSONB); the schema is applied at startup through embedded goose migrations.
*/
package state

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"sogsgate/internal/app/trust"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// PostgresBackend persists the trust snapshot in a Postgres table.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend initializes a connection pool for the given DSN and
// applies pending migrations.
func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	config.MaxConns = 5
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := runMigrations(sqlDB); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresBackend{pool: pool}, nil
}

// runMigrations applies all pending migrations from the embedded file system.
func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// Load reads every room row into a snapshot.
func (b *PostgresBackend) Load(ctx context.Context) (*trust.Snapshot, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT room_token, seed_hex, verified, pending
		FROM gate_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to query gate state: %w", err)
	}
	defer rows.Close()

	snap := trust.NewSnapshot()

	for rows.Next() {
		var (
			token      string
			seedHex    string
			verified   []int64
			pendingRaw []byte
		)

		if err := rows.Scan(&token, &seedHex, &verified, &pendingRaw); err != nil {
			return nil, fmt.Errorf("failed to scan gate state row: %w", err)
		}

		snap.Verified[token] = verified
		if seedHex != "" {
			snap.Sessions[token] = seedHex
		}

		records := make(map[string]trust.Record)
		if len(pendingRaw) > 0 {
			if err := json.Unmarshal(pendingRaw, &records); err != nil {
				return nil, fmt.Errorf("failed to parse pending records for room %q: %w", token, err)
			}
		}
		snap.Rooms[token] = records
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read gate state rows: %w", err)
	}

	return snap, nil
}

// Save upserts one row per room in a single transaction. Rooms not present in
// the snapshot keep their existing rows.
func (b *PostgresBackend) Save(ctx context.Context, snap *trust.Snapshot) error {
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tokens := make(map[string]struct{}, len(snap.Verified))
	for token := range snap.Verified {
		tokens[token] = struct{}{}
	}
	for token := range snap.Rooms {
		tokens[token] = struct{}{}
	}
	for token := range snap.Sessions {
		tokens[token] = struct{}{}
	}

	for token := range tokens {
		verified := snap.Verified[token]
		if verified == nil {
			verified = []int64{}
		}

		pendingRaw, err := json.Marshal(snap.Rooms[token])
		if err != nil {
			return fmt.Errorf("failed to marshal pending records for room %q: %w", token, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO gate_state (room_token, seed_hex, verified, pending, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (room_token) DO UPDATE
			SET seed_hex = EXCLUDED.seed_hex,
			    verified = EXCLUDED.verified,
			    pending = EXCLUDED.pending,
			    updated_at = now()`,
			token, snap.Sessions[token], verified, pendingRaw)
		if err != nil {
			return fmt.Errorf("failed to upsert gate state for room %q: %w", token, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit snapshot transaction: %w", err)
	}

	return nil
}

// Close releases the connection pool.
func (b *PostgresBackend) Close() {
	b.pool.Close()
}
