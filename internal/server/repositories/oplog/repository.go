// Package oplog persists the append-only operation log. Entries are
// never updated or deleted; only the audit status is stamped after an
// apply attempt.
package oplog

import (
	"context"

	"github.com/shelfmesh/shelfmesh/internal/server/models"
)

type Repository interface {
	// Append inserts the entry and fills in its assigned id.
	Append(ctx context.Context, entry *models.OperationEntry) error
	Get(ctx context.Context, id int64) (*models.OperationEntry, error)
	// ListSince returns entries with id > sinceID in id order.
	ListSince(ctx context.Context, sinceID int64, limit int) ([]models.OperationEntry, error)
	// MarkStatus stamps the audit outcome of applying an entry.
	MarkStatus(ctx context.Context, id int64, status models.OpStatus, applyErr string) error
	// LatestDeleteAt returns the created_at of the newest delete entry
	// recorded for the entity, or shared.ErrNotFound. Used to keep
	// deletes dominant over out-of-order inserts.
	LatestDeleteAt(ctx context.Context, entityType models.EntityType, entityID string) (string, error)
}
