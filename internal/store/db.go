package store

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the per-profile cache.db: conversation summaries and message logs
// mirrored from the daemon's in-memory state.
type DB struct {
	*sql.DB
	path string
}

// Stats counts cached rows.
type Stats struct {
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
}

// Open opens the cache at path in WAL mode. Transactions start IMMEDIATE so
// concurrent writers wait on the busy timeout instead of failing on upgrade.
func Open(path string) (*DB, error) {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "on")
	q.Set("_txlock", "immediate")
	db, err := sql.Open("sqlite3", path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache %s: %w", path, err)
	}
	return &DB{DB: db, path: path}, nil
}

// Path is the file the cache was opened from.
func (db *DB) Path() string { return db.path }

// Stats reports how many conversations and messages are cached.
func (db *DB) Stats() (Stats, error) {
	var s Stats
	err := db.QueryRow(`SELECT (SELECT COUNT(*) FROM conversations), (SELECT COUNT(*) FROM messages)`).
		Scan(&s.Conversations, &s.Messages)
	if err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}
	return s, nil
}
