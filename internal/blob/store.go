// Package blob stores opaque audio buffers and the persisted queue metadata
// in a local SQLite database.
package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite" // Register driver

	"github.com/dgnsrekt/readaloud/internal/tts"
)

// compressThreshold is the size above which blobs are considered for
// compression.
const compressThreshold = 1024

// ErrNotFound is returned by LoadState when no state is stored under a name.
var ErrNotFound = errors.New("blob: not found")

// Op is the kind of change a Store reports to subscribers.
type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
	OpClear  Op = "clear"
	OpState  Op = "state"
)

// Change is a storage-change notification.
type Change struct {
	Op  Op
	Key string
}

// Entry describes one stored blob.
type Entry struct {
	Key       string
	Size      int64 // bytes on disk, after compression
	Original  int64
	CreatedAt time.Time
}

// Options configures a Store.
type Options struct {
	// CompressionLevel is a zstd level; 0 disables compression.
	CompressionLevel int
}

// Store is a key/value store for audio byte buffers. It is safe for
// concurrent use.
type Store struct {
	db *sql.DB

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	subMu   sync.Mutex
	subs    map[int]chan Change
	nextSub int
}

// Open opens (creating if needed) the database at path.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, tts.StorageUnavailable("no storage path configured", nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, tts.StorageUnavailable("failed to create storage dir", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, tts.StorageUnavailable("failed to open db", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, tts.StorageUnavailable("failed to ping db", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, tts.StorageUnavailable("failed to enable WAL mode", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		db.Close()
		return nil, tts.StorageUnavailable("failed to set busy timeout", err)
	}
	// single writer; sqlite returns SQLITE_BUSY otherwise
	db.SetMaxOpenConns(1)

	s := &Store{
		db:   db,
		subs: make(map[int]chan Change),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, tts.StorageUnavailable("migration failed", err)
	}

	if opts.CompressionLevel > 0 {
		s.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.CompressionLevel)))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	s.decoder, err = zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS blobs (
			key TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			size INTEGER NOT NULL,
			original_size INTEGER NOT NULL,
			compressed INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS state (
			name TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			data BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	s.subMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()

	if s.encoder != nil {
		s.encoder.Close()
	}
	s.decoder.Close()
	return s.db.Close()
}

// Put stores data under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return tts.Validation("blob key must not be empty")
	}

	stored, compressed := s.compress(data)
	flag := 0
	if compressed {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs (key, data, size, original_size, compressed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			size = excluded.size,
			original_size = excluded.original_size,
			compressed = excluded.compressed,
			created_at = excluded.created_at`,
		key, stored, len(stored), len(data), flag, time.Now().UnixNano())
	if err != nil {
		return tts.StorageUnavailable(fmt.Sprintf("failed to store %s", key), err)
	}

	log.Debug("Blob store: Stored blob", "key", key, "size", len(stored), "original", len(data))
	s.notify(Change{Op: OpPut, Key: key})
	return nil
}

// Get returns the bytes stored under key. Read failures are reported as
// absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	var (
		data       []byte
		compressed int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, compressed FROM blobs WHERE key = ?`, key).Scan(&data, &compressed)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Warn("Blob store: Read failed", "key", key, "error", err)
		}
		return nil, false
	}

	if compressed == 1 {
		data, err = s.decoder.DecodeAll(data, nil)
		if err != nil {
			log.Warn("Blob store: Decompression failed", "key", key, "error", err)
			return nil, false
		}
	}
	return data, true
}

// Has reports whether key is stored.
func (s *Store) Has(ctx context.Context, key string) bool {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM blobs WHERE key = ?`, key).Scan(&one)
	return err == nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE key = ?`, key)
	if err != nil {
		return tts.StorageUnavailable(fmt.Sprintf("failed to delete %s", key), err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.notify(Change{Op: OpDelete, Key: key})
	}
	return nil
}

// Clear removes every blob. Persisted state is kept.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobs`); err != nil {
		return tts.StorageUnavailable("failed to clear blobs", err)
	}
	log.Debug("Blob store: Cleared")
	s.notify(Change{Op: OpClear})
	return nil
}

// TotalBytes is the sum of stored blob sizes.
func (s *Store) TotalBytes(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM blobs`).Scan(&total)
	if err != nil {
		return 0, tts.StorageUnavailable("failed to sum blob sizes", err)
	}
	return total, nil
}

// Entries lists every stored blob, oldest first.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, size, original_size, created_at FROM blobs ORDER BY created_at, key`)
	if err != nil {
		return nil, tts.StorageUnavailable("failed to list blobs", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			created int64
		)
		if err := rows.Scan(&e.Key, &e.Size, &e.Original, &created); err != nil {
			return nil, tts.StorageUnavailable("failed to scan blob", err)
		}
		e.CreatedAt = time.Unix(0, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveState stores a named, versioned metadata document.
func (s *Store) SaveState(ctx context.Context, name string, version int, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state (name, version, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			version = excluded.version,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		name, version, data, time.Now().UnixNano())
	if err != nil {
		return tts.StorageUnavailable(fmt.Sprintf("failed to save state %s", name), err)
	}
	s.notify(Change{Op: OpState, Key: name})
	return nil
}

// LoadState returns the document stored under name, or ErrNotFound.
func (s *Store) LoadState(ctx context.Context, name string) (int, []byte, error) {
	var (
		version int
		data    []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT version, data FROM state WHERE name = ?`, name).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, ErrNotFound
	}
	if err != nil {
		return 0, nil, tts.StorageUnavailable(fmt.Sprintf("failed to load state %s", name), err)
	}
	return version, data, nil
}

// StateBytes is the size of all persisted metadata documents.
func (s *Store) StateBytes(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(LENGTH(data)), 0) FROM state`).Scan(&total)
	if err != nil {
		return 0, tts.StorageUnavailable("failed to sum state sizes", err)
	}
	return total, nil
}

// Subscribe returns a channel of change notifications and a function that
// cancels the subscription. Slow subscribers miss events rather than block
// writers.
func (s *Store) Subscribe() (<-chan Change, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Change, 16)
	s.subs[id] = ch

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (s *Store) compress(data []byte) ([]byte, bool) {
	if s.encoder == nil || len(data) <= compressThreshold {
		return data, false
	}
	out := s.encoder.EncodeAll(data, make([]byte, 0, len(data)))
	if len(out) >= len(data) {
		return data, false
	}
	return out, true
}
