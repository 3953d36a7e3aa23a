package ai

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Cache is an on-disk response cache shared by every session in the process.
type Cache struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// CacheKey hashes the inputs that make a kickoff reply reproducible.
func CacheKey(system, prompt, name string) string {
	sum := sha256.Sum256([]byte(system + prompt + name))
	return hex.EncodeToString(sum[:])
}

// OpenCache opens (creating if needed) the sqlite cache at path.
func OpenCache(path string) (*Cache, error) {
	if path == "" {
		return nil, fmt.Errorf("empty cache path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS llm_cache (
			key TEXT PRIMARY KEY,
			response TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache %s: %w", path, err)
		}
	}
	return &Cache{db: db, locks: make(map[string]*keyLock)}, nil
}

// Lock serialises read-modify-write on key. Call the returned func to release.
func (c *Cache) Lock(key string) func() {
	c.mu.Lock()
	l, ok := c.locks[key]
	if !ok {
		l = &keyLock{}
		c.locks[key] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, key)
		}
		c.mu.Unlock()
	}
}

// Get returns the cached response for key.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	var resp string
	err := c.db.QueryRowContext(ctx, "SELECT response FROM llm_cache WHERE key = ?", key).Scan(&resp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return resp, true, nil
}

// Put stores response under key, replacing any previous value.
func (c *Cache) Put(ctx context.Context, key, response string) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT INTO llm_cache(key, response, created_at) VALUES(?, ?, ?) ON CONFLICT(key) DO UPDATE SET response = excluded.response, created_at = excluded.created_at",
		key, response, time.Now().Unix())
	return err
}

// Len is the number of cached responses.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM llm_cache").Scan(&n)
	return n, err
}

func (c *Cache) Close() error {
	return c.db.Close()
}
