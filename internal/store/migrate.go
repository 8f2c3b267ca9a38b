package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
)

type migration struct {
	version int
	label   string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		label:   "create emote_catalogs",
		stmts: []string{`CREATE TABLE IF NOT EXISTS emote_catalogs (
  provider TEXT NOT NULL,
  scope TEXT NOT NULL,
  fetched_at TEXT NOT NULL,
  emotes_json TEXT NOT NULL DEFAULT '[]',
  PRIMARY KEY (provider, scope)
);`},
	},
	{
		version: 2,
		label:   "index fetched_at",
		stmts:   []string{`CREATE INDEX IF NOT EXISTS emote_catalogs_fetched_at ON emote_catalogs(fetched_at);`},
	},
}

// migrate brings the schema up to the latest user_version.
func migrate(ctx context.Context, db *sql.DB) error {
	current, err := sqliteUserVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("sqlite: user_version: %w", err)
	}
	log.Printf("store: sqlite: path=%s user_version=%d", sqlitePath(ctx, db), current)

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqlite: begin %s: %w", m.label, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("sqlite: %s: %w", m.label, err)
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, m.version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: bump user_version to %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqlite: commit %s: %w", m.label, err)
		}
		log.Printf("store: sqlite: applied migration %d (%s)", m.version, m.label)
	}
	return nil
}

func sqlitePath(ctx context.Context, db *sql.DB) string {
	rows, err := db.QueryContext(ctx, `PRAGMA database_list;`)
	if err != nil {
		return "(unknown)"
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq  int
			name string
			file sql.NullString
		)
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return "(unknown)"
		}
		if strings.EqualFold(strings.TrimSpace(name), "main") {
			if file.Valid && strings.TrimSpace(file.String) != "" {
				return file.String
			}
			return "(memory)"
		}
	}
	return "(unknown)"
}

func sqliteUserVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func sqliteHasIndex(ctx context.Context, db *sql.DB, table, index string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_list('%s');`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return false, err
		}
		if strings.EqualFold(strings.TrimSpace(name), index) {
			return true, nil
		}
	}
	return false, rows.Err()
}
