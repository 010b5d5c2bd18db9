// Package scrape provides the external research clients: the AniList
// GraphQL client, the Fandom MediaWiki client, and the disk-backed TTL
// cache both share. It is consumed exclusively by the research pipeline;
// nothing here calls an LLM.
package scrape

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
)

// ErrNotFound is returned when a title cannot be resolved by either client:
// the AniList search came back empty or wiki discovery exhausted every slug
// candidate.
var ErrNotFound = errors.New("scrape: not found")

// Cache is a disk-backed key-value store with per-entry TTLs. AniList
// entries default to 7 days (3 for releasing series); Fandom pages default
// to 30 days (7 for ongoing series). Entries are stored in one Bolt bucket
// per client so a cache purge can be selective.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens (creating if needed) the cache file at path.
func OpenCache(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("scrape: open cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database file.
func (c *Cache) Close() error {
	return c.db.Close()
}

// entry layout: 8 bytes big-endian unix-seconds expiry, then the value.
func encodeEntry(value []byte, expires time.Time) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(expires.Unix()))
	copy(buf[8:], value)
	return buf
}

func decodeEntry(raw []byte, now time.Time) ([]byte, bool) {
	if len(raw) < 8 {
		return nil, false
	}
	expires := time.Unix(int64(binary.BigEndian.Uint64(raw[:8])), 0)
	if now.After(expires) {
		return nil, false
	}
	out := make([]byte, len(raw)-8)
	copy(out, raw[8:])
	return out, true
}

// Put stores value under bucket/key with the given TTL.
func (c *Cache) Put(bucket, key string, value []byte, ttl time.Duration) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), encodeEntry(value, time.Now().Add(ttl)))
	})
}

// Get returns the cached value for bucket/key, or ok=false when the entry
// is missing or has expired. Expired entries stay on disk until a Put to
// the same key overwrites them; Get never writes.
func (c *Cache) Get(bucket, key string) (value []byte, ok bool) {
	_ = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		value, ok = decodeEntry(raw, time.Now())
		return nil
	})
	return value, ok
}
