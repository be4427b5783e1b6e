// Package storage persists the raw invoice files the ingestion pipeline
// parses, independent of whatever handler first received the bytes.
// upload/resubmit write through it synchronously; cmd/ebilling-worker
// reads back through it to reprocess an invoice that never finished its
// first pipeline run. Local disk is the only backend implemented —
// spec's storage section only asks for a "Backend" switch, and no pack
// example wires an object-store SDK anywhere this domain's invoices
// would exercise one.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/mzemanski-eng/claims-ebilling/internal/config"
)

// Store persists raw invoice file bytes under a pointer and retrieves
// them later by that same pointer.
type Store interface {
	Save(ctx context.Context, invoiceID uuid.UUID, filename string, data []byte) (pointer string, err error)
	Load(ctx context.Context, pointer string) ([]byte, error)
}

// LocalStore writes to a directory on the local filesystem, keyed by
// invoice id so repeated uploads for the same invoice don't collide.
type LocalStore struct {
	basePath string
}

func NewLocalStore(cfg config.StorageConfig) *LocalStore {
	return &LocalStore{basePath: cfg.LocalBasePath}
}

func (s *LocalStore) Save(ctx context.Context, invoiceID uuid.UUID, filename string, data []byte) (string, error) {
	dir := filepath.Join(s.basePath, invoiceID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: create directory: %w", err)
	}
	pointer := filepath.Join(dir, filepath.Base(filename))
	if err := os.WriteFile(pointer, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	return pointer, nil
}

func (s *LocalStore) Load(ctx context.Context, pointer string) ([]byte, error) {
	data, err := os.ReadFile(pointer)
	if err != nil {
		return nil, fmt.Errorf("storage: read file: %w", err)
	}
	return data, nil
}
