// Package operators persists local operator accounts.
package operators

import (
	"context"

	"github.com/shelfmesh/shelfmesh/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, op *models.Operator) error
	GetByUsername(ctx context.Context, username string) (*models.Operator, error)
}
