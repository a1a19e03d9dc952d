// Package snapshotstore keeps a history of graph documents in SQLite so the
// last graph can be restored when the application starts. Documents are
// stored HCL encoded and zstd compressed; saving a document identical to the
// latest snapshot of the same name is a no-op.
package snapshotstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/specialistvlad/audiogrid/internal/ctxlog"
	"github.com/specialistvlad/audiogrid/internal/document"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

// ErrNotFound is returned when no snapshot matches.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot describes a stored document.
type Snapshot struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Digest string `json:"digest"`
	// Size is the encoded document size; Stored is the compressed size.
	Size      int       `json:"size"`
	Stored    int       `json:"stored"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a SQLite-backed snapshot store.
type Store struct {
	conn *sql.DB
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	now  func() time.Time
}

// Open opens or creates a store at path.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		conn.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &Store{conn: conn, enc: enc, dec: dec, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.dec.Close()
	if err := s.enc.Close(); err != nil {
		s.conn.Close()
		return err
	}
	return s.conn.Close()
}

// Save stores d under name. When the latest snapshot of that name already
// holds the same document it is returned with created set to false.
func (s *Store) Save(ctx context.Context, name string, d *document.Document) (snap Snapshot, created bool, err error) {
	logger := ctxlog.FromContext(ctx)

	data, err := document.Encode(d)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("encoding document: %w", err)
	}
	digest := document.DigestEncoded(data)

	latest, err := s.latest(ctx, name)
	switch {
	case err == nil && latest.Digest == digest:
		logger.Debug("Snapshot unchanged, skipping save.", "name", name, "id", latest.ID)
		return latest, false, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return Snapshot{}, false, err
	}

	blob := s.enc.EncodeAll(data, nil)
	snap = Snapshot{
		ID:        uuid.New().String(),
		Name:      name,
		Digest:    digest,
		Size:      len(data),
		Stored:    len(blob),
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO snapshots (id, name, digest, size, data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Name, snap.Digest, snap.Size, blob, snap.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("inserting snapshot: %w", err)
	}
	logger.Info("Snapshot saved.", "name", name, "id", snap.ID,
		"size", humanize.Bytes(uint64(snap.Size)), "stored", humanize.Bytes(uint64(snap.Stored)))
	return snap, true, nil
}

const columns = `id, name, digest, size, length(data), created_at`

func scan(row interface{ Scan(...any) error }) (Snapshot, error) {
	var (
		snap Snapshot
		ms   int64
	)
	if err := row.Scan(&snap.ID, &snap.Name, &snap.Digest, &snap.Size, &snap.Stored, &ms); err != nil {
		return Snapshot{}, err
	}
	snap.CreatedAt = time.UnixMilli(ms).UTC()
	return snap, nil
}

func (s *Store) latest(ctx context.Context, name string) (Snapshot, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+columns+` FROM snapshots WHERE name = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, name)
	snap, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("%w: name %q", ErrNotFound, name)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("querying snapshot: %w", err)
	}
	return snap, nil
}

// Latest returns the newest document saved under name.
func (s *Store) Latest(ctx context.Context, name string) (*document.Document, Snapshot, error) {
	snap, err := s.latest(ctx, name)
	if err != nil {
		return nil, Snapshot{}, err
	}
	d, err := s.Load(ctx, snap.ID)
	return d, snap, err
}

// Load returns the document stored under id.
func (s *Store) Load(ctx context.Context, id string) (*document.Document, error) {
	var blob []byte
	err := s.conn.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	data, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot %s: %w", id, err)
	}
	return document.Decode("snapshot:"+id, data)
}

// List returns the snapshots saved under name, newest first.
func (s *Store) List(ctx context.Context, name string) ([]Snapshot, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+columns+` FROM snapshots WHERE name = ? ORDER BY created_at DESC, rowid DESC`, name)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep snapshots saved under name and
// returns how many were deleted.
func (s *Store) Prune(ctx context.Context, name string, keep int) (int, error) {
	res, err := s.conn.ExecContext(ctx, `
DELETE FROM snapshots WHERE name = ? AND id NOT IN (
    SELECT id FROM snapshots WHERE name = ? ORDER BY created_at DESC, rowid DESC LIMIT ?
)`, name, name, max(keep, 0))
	if err != nil {
		return 0, fmt.Errorf("pruning snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		ctxlog.FromContext(ctx).Debug("Snapshots pruned.", "name", name, "deleted", n)
	}
	return int(n), nil
}
