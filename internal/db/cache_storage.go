package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hpungsan/atelier/internal/assetcache"
	"github.com/hpungsan/atelier/internal/errors"
)

// CacheStorage persists asset cache generations in cache_generations and cache_entries.
type CacheStorage struct {
	db *sql.DB
}

var _ assetcache.Storage = (*CacheStorage)(nil)

// NewCacheStorage returns a CacheStorage over db.
func NewCacheStorage(db *sql.DB) *CacheStorage {
	return &CacheStorage{db: db}
}

// Open returns the named generation, creating its row if needed.
func (s *CacheStorage) Open(ctx context.Context, name string) (assetcache.Cache, error) {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO cache_generations (name, created_at, installed_at) VALUES (?, ?, NULL)",
		name, time.Now().UnixNano(),
	)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &sqlCache{db: s.db, generation: name}, nil
}

// Keys lists generation names, oldest first.
func (s *CacheStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM cache_generations ORDER BY created_at, rowid")
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.NewInternal(err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return names, nil
}

// Delete removes a generation and its entries in one transaction.
func (s *CacheStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM cache_entries WHERE generation = ?", name); err != nil {
		return false, errors.NewInternal(err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM cache_generations WHERE name = ?", name)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	if err := tx.Commit(); err != nil {
		return false, errors.NewInternal(err)
	}
	return n > 0, nil
}

// MarkInstalled stamps the generation as holding a complete manifest.
func (s *CacheStorage) MarkInstalled(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE cache_generations SET installed_at = ? WHERE name = ?",
		time.Now().Unix(), name,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound(name)
	}
	return nil
}

// Installed reports whether the generation exists and was marked installed.
func (s *CacheStorage) Installed(ctx context.Context, name string) (bool, error) {
	var installedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT installed_at FROM cache_generations WHERE name = ?", name,
	).Scan(&installedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return installedAt.Valid, nil
}

type sqlCache struct {
	db         *sql.DB
	generation string
}

func (c *sqlCache) Match(ctx context.Context, key string) (*assetcache.Response, bool, error) {
	var (
		status     int
		headerJSON string
		body       []byte
		storedAt   int64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT status, header_json, body, stored_at
		FROM cache_entries
		WHERE generation = ? AND request_key = ?
	`, c.generation, key).Scan(&status, &headerJSON, &body, &storedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.NewInternal(err)
	}

	var header http.Header
	if err := json.Unmarshal([]byte(headerJSON), &header); err != nil {
		return nil, false, errors.NewInternal(err)
	}
	return &assetcache.Response{
		StatusCode: status,
		Header:     header,
		Body:       body,
		StoredAt:   time.UnixMilli(storedAt).UTC(),
	}, true, nil
}

// putQuery only writes when the generation row still exists, so a put racing a
// purge never leaves orphaned entries behind.
const putQuery = `
	INSERT OR REPLACE INTO cache_entries (generation, request_key, status, header_json, body, stored_at)
	SELECT ?, ?, ?, ?, ?, ?
	WHERE EXISTS (SELECT 1 FROM cache_generations WHERE name = ?)
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (c *sqlCache) put(ctx context.Context, ex execer, key string, resp *assetcache.Response) error {
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return err
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	_, err = ex.ExecContext(ctx, putQuery,
		c.generation, key, resp.StatusCode, string(header), body, storedAt.UnixMilli(),
		c.generation,
	)
	return err
}

func (c *sqlCache) Put(ctx context.Context, key string, resp *assetcache.Response) error {
	if err := c.put(ctx, c.db, key, resp); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

func (c *sqlCache) PutAll(ctx context.Context, entries []assetcache.Entry) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, e := range entries {
		if err := c.put(ctx, tx, e.Key, e.Response); err != nil {
			return errors.NewInternal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

func (c *sqlCache) Len(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM cache_entries WHERE generation = ?", c.generation,
	).Scan(&n)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}
