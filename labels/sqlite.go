package labels

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS labels (
	barcode    TEXT PRIMARY KEY,
	checked    INTEGER NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLiteStore keeps records in an SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening label database %s: %w", path, err)
	}
	// One connection serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating label table in %s: %w", path, err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, barcode string) (Record, bool, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx,
		`SELECT checked, updated_at FROM labels WHERE barcode = ?`, barcode).Scan(&rec.Checked, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, barcode string, checked bool) (Record, error) {
	rec := Record{Checked: checked, UpdatedAt: stamp()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO labels (barcode, checked, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(barcode) DO UPDATE SET checked = excluded.checked, updated_at = excluded.updated_at`,
		barcode, rec.Checked, rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *SQLiteStore) All(ctx context.Context) (map[string]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT barcode, checked, updated_at FROM labels`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]Record)
	for rows.Next() {
		var barcode string
		var rec Record
		if err := rows.Scan(&barcode, &rec.Checked, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out[barcode] = rec
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
