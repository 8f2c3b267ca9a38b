// Package store is the on-disk emote catalog cache. Catalogs are keyed by
// provider and scope and served back while younger than the caller's max age.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"

	"github.com/you/chatdeck/internal/core"
)

type CatalogCache struct {
	db  *sql.DB
	now func() time.Time
}

func OpenSQLite(ctx context.Context, path string) (*CatalogCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	ApplySQLitePragmas(ctx, db)
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return &CatalogCache{db: db, now: time.Now}, nil
}

func (c *CatalogCache) Close() error { return c.db.Close() }

func (c *CatalogCache) Ping() error { return c.db.Ping() }

func (c *CatalogCache) String() string {
	return fmt.Sprintf("CatalogCache{%p}", c.db)
}

// LoadCatalog returns the cached catalog when it exists and is younger than
// maxAge. A miss is (nil, false, nil).
func (c *CatalogCache) LoadCatalog(ctx context.Context, provider core.EmoteProvider, scope string, maxAge time.Duration) ([]core.Emote, bool, error) {
	const q = `SELECT fetched_at, emotes_json FROM emote_catalogs WHERE provider = ? AND scope = ?;`
	var (
		fetchedAt string
		payload   string
	)
	err := c.db.QueryRowContext(ctx, q, string(provider), scope).Scan(&fetchedAt, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "load catalog")
	}

	ts, err := time.Parse(time.RFC3339Nano, fetchedAt)
	if err != nil {
		return nil, false, errors.Wrap(err, "parse fetched_at")
	}
	if maxAge > 0 && c.now().Sub(ts) > maxAge {
		return nil, false, nil
	}

	var emotes []core.Emote
	if err := json.Unmarshal([]byte(payload), &emotes); err != nil {
		return nil, false, errors.Wrap(err, "decode catalog")
	}
	return emotes, true, nil
}

func (c *CatalogCache) SaveCatalog(ctx context.Context, provider core.EmoteProvider, scope string, emotes []core.Emote) error {
	if emotes == nil {
		emotes = []core.Emote{}
	}
	payload, err := json.Marshal(emotes)
	if err != nil {
		return errors.Wrap(err, "encode catalog")
	}
	const q = `INSERT INTO emote_catalogs (provider, scope, fetched_at, emotes_json)
VALUES (?, ?, ?, ?)
ON CONFLICT(provider, scope) DO UPDATE SET fetched_at = excluded.fetched_at, emotes_json = excluded.emotes_json;`
	ts := c.now().UTC().Format(time.RFC3339Nano)
	_, err = c.db.ExecContext(ctx, q, string(provider), scope, ts, string(payload))
	return errors.Wrap(err, "save catalog")
}

// Purge deletes catalogs fetched more than olderThan ago.
func (c *CatalogCache) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := c.now().Add(-olderThan).UTC().Format(time.RFC3339Nano)
	res, err := c.db.ExecContext(ctx, `DELETE FROM emote_catalogs WHERE fetched_at < ?;`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "purge catalogs")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "purge rows affected")
}
