package store

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
)

// ApplySQLitePragmas applies optional SQLite tuning statements when
// CHATDECK_SQLITE_TUNING=1. The cache is small and write-light, so only the
// pragmas that matter for concurrent readers are set.
func ApplySQLitePragmas(ctx context.Context, db *sql.DB) {
	if os.Getenv("CHATDECK_SQLITE_TUNING") != "1" {
		return
	}

	pragmas := []string{
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}

	for _, pragma := range pragmas {
		if value, err := applyPragma(ctx, db, pragma); err != nil {
			log.Printf("store: pragma %s failed: %v", pragma, err)
		} else {
			log.Printf("store: pragma %s => %v", pragma, value)
		}
	}
}

func applyPragma(ctx context.Context, db *sql.DB, pragma string) (any, error) {
	var value any
	if err := db.QueryRowContext(ctx, pragma).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
				return nil, execErr
			}
			return "ok", nil
		}
		return nil, err
	}
	return value, nil
}
