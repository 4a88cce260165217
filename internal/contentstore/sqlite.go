package contentstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/inplacehq/inplace/internal/compression"
	"github.com/inplacehq/inplace/internal/model"
	"github.com/inplacehq/inplace/internal/util"
)

// SQLiteStore keeps envelopes in a single content table, compressed at
// rest. The content hash column lets reload checks skip unchanged rows.
type SQLiteStore struct {
	conn       *sql.DB
	compressor compression.Compressor
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("error opening content database: %w", err)
	}

	_, err = conn.Exec(`
CREATE TABLE IF NOT EXISTS content (
    app_id TEXT NOT NULL,
    element_id TEXT NOT NULL,
    content BLOB,
    content_hash TEXT,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (app_id, element_id)
);`)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("error creating content table: %w", err)
	}

	return &SQLiteStore{
		conn:       conn,
		compressor: compression.ZstdCompressor{},
	}, nil
}

func (s *SQLiteStore) List(ctx context.Context, appID model.AppID) ([]model.ContentEntry, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT element_id, content, updated_at FROM content WHERE app_id = ?`, string(appID))
	if err != nil {
		return nil, fmt.Errorf("error querying content: %w", err)
	}
	defer rows.Close()

	entries := make([]model.ContentEntry, 0)
	for rows.Next() {
		var entry model.ContentEntry
		var compressed []byte
		if err := rows.Scan(&entry.ElementID, &compressed, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning content row: %w", err)
		}
		content, err := s.compressor.Decompress(compressed)
		if err != nil {
			return nil, fmt.Errorf("error decompressing content: %w", err)
		}
		entry.Content = string(content)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, appID model.AppID, key model.Key) (*model.ContentEntry, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT element_id, content, updated_at FROM content WHERE app_id = ? AND element_id = ?`,
		string(appID), string(key))

	var entry model.ContentEntry
	var compressed []byte
	err := row.Scan(&entry.ElementID, &compressed, &entry.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning content row: %w", err)
	}
	content, err := s.compressor.Decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("error decompressing content: %w", err)
	}
	entry.Content = string(content)
	return &entry, nil
}

func (s *SQLiteStore) Put(ctx context.Context, appID model.AppID, key model.Key, content string) error {
	compressed, err := s.compressor.Compress([]byte(content))
	if err != nil {
		return fmt.Errorf("error compressing content: %w", err)
	}

	_, err = s.conn.ExecContext(ctx, `
INSERT INTO content (app_id, element_id, content, content_hash, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (app_id, element_id)
DO UPDATE SET content = excluded.content, content_hash = excluded.content_hash, updated_at = excluded.updated_at`,
		string(appID), string(key), compressed, util.ContentHashString(content), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("error storing content: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, appID model.AppID, key model.Key) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM content WHERE app_id = ? AND element_id = ?`, string(appID), string(key))
	if err != nil {
		return fmt.Errorf("error deleting content: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}
