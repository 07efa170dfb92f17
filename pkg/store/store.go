package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrExists   = errors.New("document already exists")
)

// Store is the content persistence the session layer relies on. Only Load and
// Save are used while editing; Create and List serve tooling and the HTTP API.
type Store interface {
	Load(ctx context.Context, fileID int64) (string, error)
	Save(ctx context.Context, fileID int64, content string) error
	Create(ctx context.Context, fileID int64, content string) error
	List(ctx context.Context) ([]Info, error)
}

type Info struct {
	FileID      int64
	Size        int
	Compression Compression
	Digest      []byte
	UpdatedAt   time.Time
}
