// Package store provides SQLite persistence for ingested chat messages.
//
// It is the local message store: the ingester writes into it, the
// aggregation engine publishes every fetched page into it, and the store
// gateway serves pages back out of it.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/abelbrown/chatfeed/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// memSeq gives every ":memory:" store its own shared-cache database.
var memSeq atomic.Uint64

// Store handles SQLite persistence. NOT an interface - concrete type.
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Stats summarizes the store contents.
type Stats struct {
	Sources int
	Items   int
	Oldest  time.Time
	Newest  time.Time
}

// Open creates a new Store with the given database path.
// Creates tables if they don't exist. File databases use WAL mode.
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	memory := dbPath == ":memory:"
	if memory {
		// shared cache so every pooled connection sees the same database
		connStr = fmt.Sprintf("file:chatfeed-mem-%d?mode=memory&cache=shared", memSeq.Add(1))
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if memory {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if !memory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		kind TEXT NOT NULL,
		self INTEGER DEFAULT 0,
		feed_url TEXT,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS items (
		source_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		date INTEGER NOT NULL,
		group_id TEXT,
		has_text INTEGER DEFAULT 0,
		text TEXT,
		media TEXT,
		reactions TEXT,
		fetched_at DATETIME NOT NULL,
		PRIMARY KEY (source_id, item_id)
	);

	CREATE INDEX IF NOT EXISTS idx_items_source_date ON items(source_id, date DESC);
	CREATE INDEX IF NOT EXISTS idx_items_date ON items(date DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// UpsertSources inserts or refreshes source metadata.
func (s *Store) UpsertSources(sources []model.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sources) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO sources (id, title, kind, self, feed_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			kind = excluded.kind,
			self = excluded.self,
			feed_url = excluded.feed_url,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, src := range sources {
		if _, err := stmt.Exec(src.ID, src.Title, string(src.Kind), boolToInt(src.Self), src.FeedURL, now); err != nil {
			return fmt.Errorf("upsert source %s: %w", src.ID, err)
		}
	}

	return tx.Commit()
}

// Sources returns all known sources ordered by title.
func (s *Store) Sources() ([]model.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, title, kind, self, feed_url FROM sources ORDER BY title, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// Source returns one source by ID.
func (s *Store) Source(id string) (model.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT id, title, kind, self, feed_url FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Source{}, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	return src, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(row scanner) (model.Source, error) {
	var src model.Source
	var kind string
	var self int
	var feedURL sql.NullString
	if err := row.Scan(&src.ID, &src.Title, &kind, &self, &feedURL); err != nil {
		return model.Source{}, err
	}
	src.Kind = model.ParseSourceKind(kind)
	src.Self = self != 0
	src.FeedURL = feedURL.String
	return src, nil
}

// SaveItems upserts items by (source_id, item_id) and returns how many were
// new. An existing row is replaced, so edits and reaction updates land.
func (s *Store) SaveItems(items []model.Item) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	exists, err := tx.Prepare(`SELECT 1 FROM items WHERE source_id = ? AND item_id = ?`)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer exists.Close()

	upsert, err := tx.Prepare(`
		INSERT INTO items (source_id, item_id, date, group_id, has_text, text, media, reactions, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, item_id) DO UPDATE SET
			date = excluded.date,
			group_id = excluded.group_id,
			has_text = excluded.has_text,
			text = excluded.text,
			media = excluded.media,
			reactions = excluded.reactions,
			fetched_at = excluded.fetched_at
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer upsert.Close()

	now := time.Now().UTC()
	newCount := 0
	for _, item := range items {
		var one int
		err := exists.QueryRow(item.SourceID, item.ItemID).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			newCount++
		case err != nil:
			return 0, fmt.Errorf("lookup %s: %w", item.Key(), err)
		}

		media, reactions, err := encodeExtras(item)
		if err != nil {
			return 0, fmt.Errorf("encode %s: %w", item.Key(), err)
		}

		if _, err := upsert.Exec(
			item.SourceID,
			item.ItemID,
			item.Date,
			nullString(item.GroupID),
			boolToInt(item.HasText),
			item.Text,
			media,
			reactions,
			now,
		); err != nil {
			return 0, fmt.Errorf("upsert %s: %w", item.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return newCount, nil
}

// Page returns up to limit items of one source, newest first from the
// cursor, in ascending date order. A zero cursor starts at the newest item;
// otherwise only items strictly older than cursor are returned.
func (s *Store) Page(sourceID string, cursor int64, limit int) ([]model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		return []model.Item{}, nil
	}

	query := `
		SELECT source_id, item_id, date, group_id, has_text, text, media, reactions
		FROM items
		WHERE source_id = ?`
	args := []any{sourceID}
	if cursor > 0 {
		query += ` AND date < ?`
		args = append(args, cursor)
	}
	query += ` ORDER BY date DESC, item_id DESC LIMIT ?`
	args = append(args, limit)

	items, err := s.queryItems(query, args...)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// Item returns one item by key.
func (s *Store) Item(key model.Key) (model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items, err := s.queryItems(`
		SELECT source_id, item_id, date, group_id, has_text, text, media, reactions
		FROM items WHERE source_id = ? AND item_id = ?`, key.SourceID, key.ItemID)
	if err != nil {
		return model.Item{}, err
	}
	if len(items) == 0 {
		return model.Item{}, fmt.Errorf("item %s: %w", key, ErrNotFound)
	}
	return items[0], nil
}

// Stats returns row counts and the date span of stored items.
func (s *Store) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sources`).Scan(&st.Sources); err != nil {
		return Stats{}, err
	}

	var oldest, newest sql.NullInt64
	if err := s.db.QueryRow(`SELECT COUNT(*), MIN(date), MAX(date) FROM items`).Scan(&st.Items, &oldest, &newest); err != nil {
		return Stats{}, err
	}
	if oldest.Valid {
		st.Oldest = time.Unix(oldest.Int64, 0)
	}
	if newest.Valid {
		st.Newest = time.Unix(newest.Int64, 0)
	}
	return st, nil
}

// queryItems executes a query and scans the rows into Items.
// Caller must hold s.mu (read lock is sufficient).
func (s *Store) queryItems(query string, args ...any) ([]model.Item, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []model.Item{}
	for rows.Next() {
		var item model.Item
		var groupID, text, media, reactions sql.NullString
		var hasText int
		if err := rows.Scan(
			&item.SourceID,
			&item.ItemID,
			&item.Date,
			&groupID,
			&hasText,
			&text,
			&media,
			&reactions,
		); err != nil {
			return nil, err
		}
		item.GroupID = groupID.String
		item.HasText = hasText != 0
		item.Text = text.String
		if err := decodeExtras(&item, media.String, reactions.String); err != nil {
			return nil, fmt.Errorf("decode %s: %w", item.Key(), err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func encodeExtras(item model.Item) (sql.NullString, sql.NullString, error) {
	var media, reactions sql.NullString
	if item.Media != nil {
		b, err := json.Marshal(item.Media)
		if err != nil {
			return media, reactions, err
		}
		media = sql.NullString{String: string(b), Valid: true}
	}
	if len(item.Reactions) > 0 {
		b, err := json.Marshal(item.Reactions)
		if err != nil {
			return media, reactions, err
		}
		reactions = sql.NullString{String: string(b), Valid: true}
	}
	return media, reactions, nil
}

func decodeExtras(item *model.Item, media, reactions string) error {
	if media != "" {
		var m model.Media
		if err := json.Unmarshal([]byte(media), &m); err != nil {
			return err
		}
		item.Media = &m
	}
	if reactions != "" {
		if err := json.Unmarshal([]byte(reactions), &item.Reactions); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// boolToInt converts a bool to an int for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
