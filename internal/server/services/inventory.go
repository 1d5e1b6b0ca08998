package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/shelfmesh/shelfmesh/internal/dbx"
	"github.com/shelfmesh/shelfmesh/internal/logging"
	"github.com/shelfmesh/shelfmesh/internal/server/models"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/repomanager"
	"github.com/shelfmesh/shelfmesh/internal/urlx"
)

// InventorySync mirrors remote peer catalogues into the local books
// table as ephemeral, peer-attributed entries. The cache is advisory
// and never lendable, so the reconcile is a wholesale replace rather
// than a diff: the fetch happens outside the transaction, the swap
// inside it.
type InventorySync struct {
	db     *sql.DB
	rm     repomanager.RepositoryManager
	client PeerClient
	log    logging.Logger
}

func NewInventorySync(db *sql.DB, rm repomanager.RepositoryManager, client PeerClient, log logging.Logger) *InventorySync {
	return &InventorySync{db: db, rm: rm, client: client, log: log}
}

// SyncWithPeer replaces the cached catalogue of one peer with whatever
// the peer currently advertises. Returns the number of cached entries
// after the sync. An unreachable peer leaves the previous cache intact.
func (s *InventorySync) SyncWithPeer(ctx context.Context, peerID string) (int, error) {
	peer, err := s.rm.Peers(s.db).Get(ctx, peerID)
	if err != nil {
		return 0, err
	}
	peerURL, err := urlx.ValidatePeerURL(peer.URL)
	if err != nil {
		return 0, err
	}

	remote, err := s.client.FetchCatalogue(ctx, peerURL)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		catalogRepo := s.rm.Catalog(tx)
		if err := catalogRepo.DeleteBooksByOriginPeer(ctx, peer.ID); err != nil {
			return err
		}
		for i := range remote {
			rb := &remote[i]
			remoteID := rb.ID
			book := &models.Book{
				ID:           uuid.NewString(),
				Title:        rb.Title,
				ISBN:         rb.ISBN,
				Author:       rb.Author,
				Summary:      rb.Summary,
				CoverURL:     rb.CoverURL,
				Retention:    models.RetentionEphemeral,
				OriginPeerID: &peer.ID,
				RemoteID:     &remoteID,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := catalogRepo.CreateBook(ctx, book); err != nil {
				return err
			}
		}
		return s.rm.Peers(tx).Touch(ctx, peer.ID, models.FormatTime(now))
	})
	if err != nil {
		return 0, err
	}

	s.log.Info(ctx, "peer catalogue synced", "peer", peer.Name, "books", len(remote))
	return len(remote), nil
}

// LocalBooks returns the catalogue this library advertises to peers.
// Cached peer entries are excluded so a book never loops back through a
// third library's sync.
func (s *InventorySync) LocalBooks(ctx context.Context) ([]models.Book, error) {
	return s.rm.Catalog(s.db).ListLocalBooks(ctx)
}

// ListPeerBooks returns the cached catalogue of one peer.
func (s *InventorySync) ListPeerBooks(ctx context.Context, peerID string) ([]models.Book, error) {
	return s.rm.Catalog(s.db).ListBooksByOriginPeer(ctx, peerID)
}

// Search runs a title/author/isbn search across the local catalogue,
// cached peer entries included.
func (s *InventorySync) Search(ctx context.Context, query string) ([]models.Book, error) {
	return s.rm.Catalog(s.db).SearchBooks(ctx, query)
}
