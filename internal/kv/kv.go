// Package kv is the small key-value store behind user preferences.
package kv

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/abelbrown/chatfeed/internal/logging"
)

var (
	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = errors.New("kv: key not found")

	// ErrQuotaExceeded is returned by Set when the write would exceed the
	// storage quota.
	ErrQuotaExceeded = errors.New("kv: quota exceeded")
)

// KV is a string-keyed byte store.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// Pebble is a KV backed by a pebble database.
type Pebble struct {
	db *pebble.DB
}

// Open opens or creates a pebble database at path.
func Open(path string) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logging.Error("pebble open failed", "path", path, "error", err)
		return nil, fmt.Errorf("open pebble %s: %w", path, err)
	}
	return &Pebble{db: db}, nil
}

// OpenMem opens a pebble database on an in-memory filesystem.
func OpenMem() (*Pebble, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("open in-memory pebble: %w", err)
	}
	return &Pebble{db: db}, nil
}

// Get returns a copy of the value stored at key.
func (p *Pebble) Get(key string) ([]byte, error) {
	v, closer, err := p.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer closer.Close()

	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores value at key with a synced write.
func (p *Pebble) Set(key string, value []byte) error {
	if err := p.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (p *Pebble) Delete(key string) error {
	if err := p.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (p *Pebble) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

// Quota wraps a KV with a byte budget over everything written through it,
// the way browser-style storage rejects writes once its quota is full.
// Each key costs len(key)+len(value).
type Quota struct {
	mu    sync.Mutex
	inner KV
	limit int
	sizes map[string]int
	used  int
}

// NewQuota wraps inner with a limit in bytes. A non-positive limit disables
// the check.
func NewQuota(inner KV, limit int) *Quota {
	return &Quota{inner: inner, limit: limit, sizes: make(map[string]int)}
}

// Get reads through to the wrapped store.
func (q *Quota) Get(key string) ([]byte, error) {
	v, err := q.inner.Get(key)
	if err == nil {
		q.mu.Lock()
		q.account(key, len(key)+len(v))
		q.mu.Unlock()
	}
	return v, err
}

// Set writes through unless the write would exceed the limit.
func (q *Quota) Set(key string, value []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	cost := len(key) + len(value)
	if q.limit > 0 && q.used-q.sizes[key]+cost > q.limit {
		return fmt.Errorf("set %s (%d bytes, %d/%d used): %w", key, cost, q.used, q.limit, ErrQuotaExceeded)
	}
	if err := q.inner.Set(key, value); err != nil {
		return err
	}
	q.account(key, cost)
	return nil
}

// Delete removes key and releases its share of the budget.
func (q *Quota) Delete(key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.inner.Delete(key); err != nil {
		return err
	}
	q.used -= q.sizes[key]
	delete(q.sizes, key)
	return nil
}

// Used returns the bytes currently accounted.
func (q *Quota) Used() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used
}

// Limit returns the configured budget.
func (q *Quota) Limit() int {
	return q.limit
}

func (q *Quota) account(key string, size int) {
	q.used += size - q.sizes[key]
	q.sizes[key] = size
}
