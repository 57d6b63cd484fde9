// Package cache persists the local view of every synced repository in a
// bbolt database under ~/.gitnotes/. It is what makes the app usable
// offline: the full note set, pending edits included, survives restarts
// without touching the network.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/gitnotes/internal/notes"
	bolt "go.etcd.io/bbolt"
)

const (
	// cacheDirPerm is the permission mode for the cache directory (~/.gitnotes/).
	cacheDirPerm = fs.FileMode(0o700)

	// cacheFilePerm is the permission mode for the cache database file.
	cacheFilePerm = fs.FileMode(0o600)

	// cacheOpenTimeout is the maximum time to wait for the bolt database lock.
	cacheOpenTimeout = 5 * time.Second
)

var (
	appBucket = []byte("app")
	tokenKey  = []byte("token")
	metaKey   = []byte("meta")
)

func repoNotesBucket(repoKey string) []byte {
	return []byte("repo:" + repoKey + ":notes")
}

func repoMetaBucket(repoKey string) []byte {
	return []byte("repo:" + repoKey + ":meta")
}

// Meta holds the per-repository fields that are not per-note.
type Meta struct {
	Folders        []notes.Folder `json:"folders"`
	PendingFolders []string       `json:"pendingFolders,omitempty"`
	CurrentNoteID  string         `json:"currentNoteId"`
	SyncedAt       time.Time      `json:"syncedAt"`
}

// Cache wraps a bbolt database for all persistent application state.
type Cache struct {
	db *bolt.DB
}

// Load opens the cache database at ~/.gitnotes/state.db, creating it if
// it does not exist.
func Load() (*Cache, error) {
	path, err := dbPath()
	if err != nil {
		return nil, err
	}

	return LoadAt(path)
}

// LoadAt opens a cache database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
//
// The cache only mirrors remote state plus pending edits, so a database
// that fails to open for any reason other than lock contention is
// discarded and rebuilt empty rather than blocking startup.
func LoadAt(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), cacheDirPerm); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := open(path)
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("opening cache db: %w", err)
		}

		if removeErr := os.Remove(path); removeErr != nil {
			return nil, fmt.Errorf("opening cache db: %w", err)
		}

		db, err = open(path)
		if err != nil {
			return nil, fmt.Errorf("rebuilding cache db: %w", err)
		}
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(appBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache db: %w", err)
	}

	return &Cache{db: db}, nil
}

func open(path string) (*bolt.DB, error) {
	return bolt.Open(path, cacheFilePerm, &bolt.Options{Timeout: cacheOpenTimeout})
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Token returns the cached access token, or empty string.
func (c *Cache) Token() string {
	var token string

	_ = c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(tokenKey)
		if v != nil {
			token = string(v)
		}

		return nil
	})

	return token
}

// SetToken persists the access token so later runs skip the OAuth
// exchange.
func (c *Cache) SetToken(token string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(tokenKey, []byte(token))
	})
}

// ClearToken drops the cached access token. Called when the remote
// rejects it.
func (c *Cache) ClearToken() error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Delete(tokenKey)
	})
}

// InitRepo ensures the note and meta buckets exist for the given
// repository selection. Call this once after selecting the repository.
func (c *Cache) InitRepo(repoKey string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(repoNotesBucket(repoKey)); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(repoMetaBucket(repoKey))

		return err
	})
}

// Meta returns the per-repository metadata, defaulting to zero values.
func (c *Cache) Meta(repoKey string) (Meta, error) {
	var m Meta

	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(repoMetaBucket(repoKey))
		if b == nil {
			return nil
		}

		v := b.Get(metaKey)
		if v == nil {
			return nil
		}

		return json.Unmarshal(v, &m)
	})

	return m, err
}

// SetMeta persists the per-repository metadata.
func (c *Cache) SetMeta(repoKey string, m Meta) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(repoMetaBucket(repoKey))
		if b == nil {
			return fmt.Errorf("meta bucket not initialized for repo %s", repoKey)
		}

		data, err := json.Marshal(m)
		if err != nil {
			return err
		}

		return b.Put(metaKey, data)
	})
}

// Note returns the cached note with the given ID, or nil if not found.
func (c *Cache) Note(repoKey, id string) (*notes.Note, error) {
	var n *notes.Note

	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(repoNotesBucket(repoKey))
		if b == nil {
			return nil
		}

		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}

		n = &notes.Note{}

		return json.Unmarshal(v, n)
	})

	return n, err
}

// SaveNote persists one note, keyed by its ID.
func (c *Cache) SaveNote(repoKey string, n notes.Note) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(repoNotesBucket(repoKey))
		if b == nil {
			return fmt.Errorf("notes bucket not initialized for repo %s", repoKey)
		}

		data, err := json.Marshal(n)
		if err != nil {
			return err
		}

		return b.Put([]byte(n.ID), data)
	})
}

// DeleteNote removes the cached note with the given ID.
func (c *Cache) DeleteNote(repoKey, id string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(repoNotesBucket(repoKey))
		if b == nil {
			return nil
		}

		return b.Delete([]byte(id))
	})
}

// Notes returns all cached notes for a repository, keyed by ID.
func (c *Cache) Notes(repoKey string) (map[string]notes.Note, error) {
	result := make(map[string]notes.Note)
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(repoNotesBucket(repoKey))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var n notes.Note
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}

			result[string(k)] = n

			return nil
		})
	})

	return result, err
}

// ReplaceNotes atomically swaps the entire cached note set for a
// repository. Used after a fetch so notes deleted remotely do not
// linger in the cache.
func (c *Cache) ReplaceNotes(repoKey string, all []notes.Note) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		name := repoNotesBucket(repoKey)

		if tx.Bucket(name) != nil {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}

		b, err := tx.CreateBucket(name)
		if err != nil {
			return err
		}

		for _, n := range all {
			data, err := json.Marshal(n)
			if err != nil {
				return err
			}

			if err := b.Put([]byte(n.ID), data); err != nil {
				return err
			}
		}

		return nil
	})
}

func dbPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		// Fail rather than silently writing a database holding an access
		// token into the current directory with wrong permissions or
		// inside a source-controlled tree.
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".gitnotes", "state.db"), nil
}
