package ports

import (
	"context"

	"github.com/bnema/rotor/internal/domain"
)

// SnapshotStore is append-only; snapshots are never read back mid-run.
type SnapshotStore interface {
	Append(ctx context.Context, snapshot domain.LedgerSnapshot) error
	Close() error
}
