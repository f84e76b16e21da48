// Package persistence is the mux's only SQLite access point — every other
// package talks to tenants, bindings, pairing state, idempotency entries,
// provider offsets and the WhatsApp retry queue through the typed methods
// here. Grounded on the teacher's core/database/connection.go for the
// WAL/single-writer setup, on uncord-chat-uncord-server's goose-migration
// bootstrap, and on rakunlabs-at's goqu-over-database/sql query shape.
package persistence

import (
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/relaymux/mux/internal/persistence/migrations"
)

// DB wraps the single sqlite connection and the goqu query builder bound to
// it. SQLite is single-writer; the pool is capped at one connection so every
// statement is implicitly serialized the way the spec's concurrency model
// describes (§5: "SQLite ... treated as short synchronous operations under
// a connection mutex").
type DB struct {
	SQL  *sql.DB
	goqu *goqu.Database
}

type gooseLogger struct{ log *logrus.Entry }

func (l gooseLogger) Fatalf(format string, v ...any) { l.log.Errorf(format, v...) }
func (l gooseLogger) Printf(format string, v ...any) { l.log.Infof(format, v...) }

// Open creates/opens the sqlite file at path, enables WAL +
// synchronous=NORMAL, runs pending goose migrations, and applies the
// table_info-driven column-addition step for fields added after the
// original schema (inbound target columns on tenants).
func Open(path string, log *logrus.Entry) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on", path)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{log: log})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(sqlDB, "."); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db := &DB{SQL: sqlDB, goqu: goqu.New("sqlite3", sqlDB)}
	if err := db.ensureInboundTargetColumns(); err != nil {
		return nil, fmt.Errorf("ensure inbound target columns: %w", err)
	}
	return db, nil
}

// ensureInboundTargetColumns mirrors the teacher's "PRAGMA table_info-driven
// column additions for inbound target fields" migration style (§4.1): on a
// database created before a given column existed, add it; on a fresh
// database (already carrying the column from 0001_init.sql) this is a
// no-op.
func (d *DB) ensureInboundTargetColumns() error {
	existing, err := d.tableColumns("tenants")
	if err != nil {
		return err
	}
	wanted := map[string]string{
		"inbound_url":        "TEXT NOT NULL DEFAULT ''",
		"inbound_token":      "TEXT NOT NULL DEFAULT ''",
		"inbound_timeout_ms": "INTEGER NOT NULL DEFAULT 15000",
	}
	for col, ddl := range wanted {
		if existing[col] {
			continue
		}
		if _, err := d.SQL.Exec(fmt.Sprintf("ALTER TABLE tenants ADD COLUMN %s %s", col, ddl)); err != nil {
			return fmt.Errorf("add column %s: %w", col, err)
		}
	}
	return nil
}

func (d *DB) tableColumns(table string) (map[string]bool, error) {
	rows, err := d.SQL.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

func (d *DB) Close() error {
	return d.SQL.Close()
}
