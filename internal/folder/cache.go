package folder

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Cache stores a group's last-resolved mail list IDs with the time they
// were resolved. It is small and disposable: nothing else depends on its
// contents, and the lifecycle controller only writes to it.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (creating if needed) the sqlite-backed folder cache at
// path, using the cgo sqlite3 driver the way the host's auth database
// does for its small, write-light tables.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("could not open folder cache: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS folder_cache (
			group_id   TEXT PRIMARY KEY,
			list_ids   TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create folder_cache table: %w", err)
	}

	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Put stores the resolved list IDs for a group.
func (c *Cache) Put(groupID string, listIDs []string, updatedAtUnix int64) error {
	encoded, err := json.Marshal(listIDs)
	if err != nil {
		return fmt.Errorf("could not encode list ids: %w", err)
	}

	_, err = c.db.Exec(
		`INSERT INTO folder_cache (group_id, list_ids, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(group_id) DO UPDATE SET list_ids = excluded.list_ids, updated_at = excluded.updated_at`,
		groupID, string(encoded), updatedAtUnix,
	)
	if err != nil {
		return fmt.Errorf("could not store folder cache entry: %w", err)
	}
	return nil
}

// Get returns the cached list IDs for a group, or nil if unknown.
func (c *Cache) Get(groupID string) ([]string, error) {
	var encoded string
	err := c.db.QueryRow(`SELECT list_ids FROM folder_cache WHERE group_id = ?`, groupID).Scan(&encoded)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read folder cache entry: %w", err)
	}

	var listIDs []string
	if err := json.Unmarshal([]byte(encoded), &listIDs); err != nil {
		return nil, fmt.Errorf("could not decode folder cache entry: %w", err)
	}
	return listIDs, nil
}
