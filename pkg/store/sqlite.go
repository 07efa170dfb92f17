package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite stores one row per document. Bodies are compressed with the
// configured algorithm and writes whose digest matches the stored one are
// skipped.
type SQLite struct {
	database    *sql.DB
	compression Compression
}

func OpenSQLite(ctx context.Context, path string, compression Compression) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &SQLite{database: db, compression: compression}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenSQLiteReadOnly opens an existing database for inspection. It never
// creates the file or the schema, and every write fails.
func OpenSQLiteReadOnly(ctx context.Context, path string) (*SQLite, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	var tables int
	if err := db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'files'`,
	).Scan(&tables); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to read schema: %w", err)
	} else if tables == 0 {
		_ = db.Close()
		return nil, fmt.Errorf("%s has no files table", path)
	}
	return &SQLite{database: db, compression: CompressionNone}, nil
}

func (s *SQLite) init(ctx context.Context) error {
	if _, err := s.database.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS files (
		id integer not null primary key,
		content blob not null,
		compression text not null,
		digest blob not null,
		size integer not null,
		updated_at integer not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create files table: %w", err)
	}
	slog.Debug("Ensured files table exists")
	return nil
}

func (s *SQLite) Close() error {
	return s.database.Close()
}

func (s *SQLite) Load(ctx context.Context, fileID int64) (string, error) {
	var raw []byte
	var compression string
	var size int
	if err := s.database.QueryRowContext(ctx,
		`SELECT content, compression, size FROM files WHERE id = ?`, fileID,
	).Scan(&raw, &compression, &size); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("file %d: %w", fileID, ErrNotFound)
		}
		return "", fmt.Errorf("failed to query file %d: %w", fileID, err)
	}
	content, err := decode(raw, Compression(compression), size)
	if err != nil {
		return "", fmt.Errorf("failed to decode file %d: %w", fileID, err)
	}
	return string(content), nil
}

func (s *SQLite) Save(ctx context.Context, fileID int64, content string) error {
	body, used, err := encode([]byte(content), s.compression)
	if err != nil {
		return fmt.Errorf("failed to encode file %d: %w", fileID, err)
	}
	digest := Digest(content)
	res, err := s.database.ExecContext(ctx,
		`UPDATE files SET content = ?, compression = ?, digest = ?, size = ?, updated_at = ? WHERE id = ? AND digest != ?`,
		body, string(used), digest, len(content), time.Now().UnixMilli(), fileID, digest,
	)
	if err != nil {
		return fmt.Errorf("failed to update file %d: %w", fileID, err)
	}
	if r, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to count rows affected by update: %w", err)
	} else if r > 0 {
		return nil
	}
	var exists bool
	if err := s.database.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM files WHERE id = ?)`, fileID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to query file %d: %w", fileID, err)
	}
	if !exists {
		return fmt.Errorf("file %d: %w", fileID, ErrNotFound)
	}
	return nil
}

func (s *SQLite) Create(ctx context.Context, fileID int64, content string) error {
	body, used, err := encode([]byte(content), s.compression)
	if err != nil {
		return fmt.Errorf("failed to encode file %d: %w", fileID, err)
	}
	res, err := s.database.ExecContext(ctx,
		`INSERT OR IGNORE INTO files (id, content, compression, digest, size, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		fileID, body, string(used), Digest(content), len(content), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert file %d: %w", fileID, err)
	}
	if r, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to count rows affected by insert: %w", err)
	} else if r == 0 {
		return fmt.Errorf("file %d: %w", fileID, ErrExists)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context) ([]Info, error) {
	rows, err := s.database.QueryContext(ctx, `SELECT id, size, compression, digest, updated_at FROM files ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "err", err)
		}
	}(rows)
	var out []Info
	for rows.Next() {
		var info Info
		var compression string
		var updatedAt int64
		if err := rows.Scan(&info.FileID, &info.Size, &compression, &info.Digest, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		info.Compression = Compression(compression)
		info.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, info)
	}
	return out, rows.Err()
}
