// Package peers persists the peer registry.
package peers

import (
	"context"

	"github.com/shelfmesh/shelfmesh/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, peer *models.Peer) error
	Get(ctx context.Context, id string) (*models.Peer, error)
	GetByURL(ctx context.Context, url string) (*models.Peer, error)
	List(ctx context.Context) ([]models.Peer, error)
	Update(ctx context.Context, peer *models.Peer) error
	// Touch stamps last_seen after any successful interaction.
	Touch(ctx context.Context, id string, at string) error
	Delete(ctx context.Context, id string) error
}
