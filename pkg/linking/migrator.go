package linking

import (
	"context"

	"github.com/platinummonkey/idlink/pkg/storage"
)

// Migrator moves data owned by one identity to another. It runs inside the
// commit transaction and must only write through ops.
type Migrator interface {
	Migrate(ctx context.Context, ops storage.Ops, fromID, toID string) (int64, error)
}

// MigratorFunc adapts a function to Migrator
type MigratorFunc func(ctx context.Context, ops storage.Ops, fromID, toID string) (int64, error)

// Migrate calls f
func (f MigratorFunc) Migrate(ctx context.Context, ops storage.Ops, fromID, toID string) (int64, error) {
	return f(ctx, ops, fromID, toID)
}

// ResourceMigrator re-points owned resources
type ResourceMigrator struct{}

// Migrate reassigns every resource owned by fromID
func (ResourceMigrator) Migrate(ctx context.Context, ops storage.Ops, fromID, toID string) (int64, error) {
	return ops.ReassignResources(ctx, fromID, toID)
}

// Chain runs migrators in order and sums their counts. The first error stops
// the chain.
func Chain(migrators ...Migrator) Migrator {
	return MigratorFunc(func(ctx context.Context, ops storage.Ops, fromID, toID string) (int64, error) {
		var total int64
		for _, m := range migrators {
			n, err := m.Migrate(ctx, ops, fromID, toID)
			if err != nil {
				return total, err
			}
			total += n
		}
		return total, nil
	})
}
