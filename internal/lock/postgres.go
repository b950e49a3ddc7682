// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package lock

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tomtom215/snapvault/internal/logging"
)

// PostgresBackend uses session-scoped advisory locks. Each lease pins one
// pooled connection for its lifetime, so a crashed holder's lock is freed
// by the server when the connection drops.
type PostgresBackend struct {
	db     *sql.DB
	ownsDB bool
}

// NewPostgresBackend wraps an existing pool. The caller keeps ownership of db.
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// OpenPostgresBackend opens and pings a pool dedicated to locking.
func OpenPostgresBackend(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	// One connection per concurrently held lock plus headroom.
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("connect postgres %s: %w", logging.RedactURL(databaseURL), err)
	}
	return &PostgresBackend{db: db, ownsDB: true}, nil
}

// Name implements Backend.
func (b *PostgresBackend) Name() string { return "postgres" }

// TryAcquire implements Backend with pg_try_advisory_lock.
func (b *PostgresBackend) TryAcquire(ctx context.Context, key Key) (Lease, bool, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("checkout connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key.ID).Scan(&ok); err != nil {
		discard(conn)
		return nil, false, fmt.Errorf("pg_try_advisory_lock: %w", err)
	}
	if !ok {
		_ = conn.Close() //nolint:errcheck // returns the connection to the pool
		return nil, false, nil
	}
	return &postgresLease{conn: conn, key: key}, true, nil
}

// Close implements Backend. A pool passed to NewPostgresBackend is left open.
func (b *PostgresBackend) Close() error {
	if b.ownsDB {
		return b.db.Close()
	}
	return nil
}

type postgresLease struct {
	conn *sql.Conn
	key  Key
}

func (l *postgresLease) Release(ctx context.Context) error {
	var released bool
	err := l.conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", l.key.ID).Scan(&released)
	if err != nil {
		// The session may still hold the lock; never hand it back to the pool.
		discard(l.conn)
		return fmt.Errorf("pg_advisory_unlock: %w", err)
	}
	if !released {
		logging.Warn().
			Str("lock", l.key.Name).
			Int32("lock_id", l.key.ID).
			Msg("Advisory lock was not held by this session at release")
	}
	return l.conn.Close()
}

// discard closes conn and tells database/sql to drop it instead of reusing it.
func discard(conn *sql.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn }) //nolint:errcheck // always ErrBadConn
	if err := conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		logging.Debug().Err(err).Msg("Closing discarded lock connection")
	}
}
