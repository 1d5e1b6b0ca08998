package services

import (
	"context"

	"github.com/shelfmesh/shelfmesh/internal/server/models"
	"github.com/shelfmesh/shelfmesh/internal/server/peerclient"
)

// PeerClient is the outbound surface the services need from the peer
// transport. *peerclient.Client implements it.
type PeerClient interface {
	FetchConfig(ctx context.Context, peerURL string) (*peerclient.RemoteConfig, error)
	FetchCatalogue(ctx context.Context, peerURL string) ([]peerclient.RemoteBook, error)
	PushBorrowRequest(ctx context.Context, peerURL string, notice peerclient.BorrowNotice) (*peerclient.RequestStatus, error)
	PushOperations(ctx context.Context, peerURL string, entries []models.OperationEntry) error
	ConfirmLoan(ctx context.Context, peerURL string, conf peerclient.LoanConfirmation) error
	NotifyReturn(ctx context.Context, peerURL string, notice peerclient.ReturnNotice) error
	FetchRequestStatus(ctx context.Context, peerURL, requestID string) (*peerclient.RequestStatus, error)
}

var _ PeerClient = (*peerclient.Client)(nil)
