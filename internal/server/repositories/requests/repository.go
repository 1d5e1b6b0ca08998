// Package requests persists inbound borrow requests and the local
// records of outgoing requests to other peers.
package requests

import (
	"context"

	"github.com/shelfmesh/shelfmesh/internal/server/models"
)

type Repository interface {
	CreateInbound(ctx context.Context, req *models.BorrowRequest) error
	GetInbound(ctx context.Context, id string) (*models.BorrowRequest, error)
	ListInbound(ctx context.Context) ([]models.BorrowRequest, error)
	// UpdateInboundStatus transitions the request only if it is still
	// in fromStatus; returns shared.ErrRequestNotPending otherwise.
	// The guard runs in SQL so two concurrent accepts cannot both win.
	UpdateInboundStatus(ctx context.Context, id string, from, to models.RequestStatus, at string) error
	DeleteInbound(ctx context.Context, id string) error

	CreateOutgoing(ctx context.Context, req *models.OutgoingRequest) error
	GetOutgoing(ctx context.Context, id string) (*models.OutgoingRequest, error)
	ListOutgoing(ctx context.Context) ([]models.OutgoingRequest, error)
	ListOutgoingByPeer(ctx context.Context, peerID string) ([]models.OutgoingRequest, error)
	UpdateOutgoingStatus(ctx context.Context, id string, to models.RequestStatus, at string) error
	DeleteOutgoing(ctx context.Context, id string) error
}
