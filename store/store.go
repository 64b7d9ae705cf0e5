// Package store keeps image snapshots in a SQLite database.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chazu/marl/vm"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("marl.store")

// ErrSnapshotNotFound indicates the requested snapshot doesn't exist.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot describes a stored image.
type Snapshot struct {
	ID        string
	Name      string
	CreatedAt time.Time
	Size      int
}

// Store handles SQLite storage for snapshots.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens (creating if needed) the snapshot database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		size INTEGER NOT NULL,
		image BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save encodes rt's image and stores it under a new id.
func (s *Store) Save(ctx context.Context, name string, rt *vm.Runtime) (Snapshot, error) {
	var buf bytes.Buffer
	if err := rt.SaveImage(&buf); err != nil {
		return Snapshot{}, fmt.Errorf("encoding image: %w", err)
	}
	return s.SaveBytes(ctx, name, buf.Bytes())
}

// SaveBytes stores an already encoded image under a new id.
func (s *Store) SaveBytes(ctx context.Context, name string, image []byte) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now(),
		Size:      len(image),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO snapshots (id, name, created_at, size, image) VALUES (?, ?, ?, ?, ?)",
		snap.ID, snap.Name, snap.CreatedAt.UnixNano(), snap.Size, image,
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("saving snapshot: %w", err)
	}
	log.Infof("saved snapshot %s (%s, %d bytes)", snap.ID, name, snap.Size)
	return snap, nil
}

// Image returns the encoded image stored under id.
func (s *Store) Image(ctx context.Context, id string) ([]byte, error) {
	var image []byte
	err := s.db.QueryRowContext(ctx, "SELECT image FROM snapshots WHERE id = ?", id).Scan(&image)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", id, ErrSnapshotNotFound)
		}
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	return image, nil
}

// Load rebuilds the runtime stored under id.
func (s *Store) Load(ctx context.Context, id string, opts vm.Options) (*vm.Runtime, error) {
	image, err := s.Image(ctx, id)
	if err != nil {
		return nil, err
	}
	rt, err := vm.LoadImage(bytes.NewReader(image), opts)
	if err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", id, err)
	}
	return rt, nil
}

// List returns the stored snapshots, newest first.
func (s *Store) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, created_at, size FROM snapshots ORDER BY created_at DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var snap Snapshot
		var created int64
		if err := rows.Scan(&snap.ID, &snap.Name, &created, &snap.Size); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		snap.CreatedAt = time.Unix(0, created)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// Delete removes the snapshot stored under id.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", id, ErrSnapshotNotFound)
	}
	return nil
}
