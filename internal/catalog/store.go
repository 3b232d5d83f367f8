package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS novels (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	title       TEXT NOT NULL,
	description TEXT NOT NULL UNIQUE,
	created_at  TEXT NOT NULL
);`

// Store is the sqlite story database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, q := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA busy_timeout=5000;", schema} {
		if _, err := db.ExecContext(ctx, q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init story db: %w", err)
		}
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Insert adds entries in one transaction. Entries whose index is already
// stored, or repeated within the batch, are skipped.
func (s *Store) Insert(ctx context.Context, entries []Entry) (InsertResult, error) {
	var res InsertResult
	if len(entries) == 0 {
		return res, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC().Format(time.RFC3339Nano)
	for _, e := range entries {
		if strings.TrimSpace(e.Index) == "" {
			return InsertResult{}, fmt.Errorf("entry %q has no index", e.Title)
		}
		r, err := tx.ExecContext(ctx,
			`INSERT INTO novels (title, description, created_at) VALUES (?, ?, ?)
			 ON CONFLICT(description) DO NOTHING`, e.Title, e.Index, now)
		if err != nil {
			return InsertResult{}, fmt.Errorf("insert %s: %w", e.Index, err)
		}
		if n, _ := r.RowsAffected(); n > 0 {
			res.Inserted++
		} else {
			res.Skipped++
		}
	}
	if err := tx.Commit(); err != nil {
		return InsertResult{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// Get returns the novel stored under index.
func (s *Store) Get(ctx context.Context, index string) (Novel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, created_at FROM novels WHERE description = ?`, index)
	n, err := scanNovel(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Novel{}, fmt.Errorf("%w: %s", ErrNotFound, index)
	}
	return n, err
}

// All lists every novel ordered by description.
func (s *Store) All(ctx context.Context) ([]Novel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, created_at FROM novels ORDER BY description`)
	if err != nil {
		return nil, fmt.Errorf("list novels: %w", err)
	}
	defer rows.Close()

	var out []Novel
	for rows.Next() {
		n, err := scanNovel(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Has reports which of indexes are stored.
func (s *Store) Has(ctx context.Context, indexes []string) (map[string]bool, error) {
	found := make(map[string]bool, len(indexes))
	for _, idx := range indexes {
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM novels WHERE description = ?`, idx).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, fmt.Errorf("lookup %s: %w", idx, err)
		default:
			found[idx] = true
		}
	}
	return found, nil
}

func scanNovel(scan func(...any) error) (Novel, error) {
	var (
		n       Novel
		created string
	)
	if err := scan(&n.ID, &n.Title, &n.Description, &created); err != nil {
		return Novel{}, err
	}
	n.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return n, nil
}
