// Package store persists the channel dataset as one whole document. Each save
// rewrites the document completely; there are no incremental writes.
package store

import (
	"context"

	"github.com/hikari-mc/chatcore-go/internal/domain"
)

// Store is the persistence contract the registry consumes. Load returns an
// empty current-version snapshot when no document exists yet.
type Store interface {
	Load(ctx context.Context) (*domain.Snapshot, error)
	Save(ctx context.Context, snapshot *domain.Snapshot) error
	Close() error
}
