package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/shelfmesh/shelfmesh/internal/dbx"
	"github.com/shelfmesh/shelfmesh/internal/logging"
	"github.com/shelfmesh/shelfmesh/internal/server/config"
	"github.com/shelfmesh/shelfmesh/internal/server/models"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/repomanager"
	"github.com/shelfmesh/shelfmesh/internal/shared"
	"github.com/shelfmesh/shelfmesh/internal/urlx"
)

// Registry manages the set of known peers. Peer URLs are validated
// before any row is written or any request is sent: a stored URL is a
// URL this server is willing to call later.
type Registry struct {
	db     *sql.DB
	rm     repomanager.RepositoryManager
	cfg    *config.Config
	client PeerClient
	log    logging.Logger
}

func NewRegistry(db *sql.DB, rm repomanager.RepositoryManager, cfg *config.Config, client PeerClient, log logging.Logger) *Registry {
	return &Registry{db: db, rm: rm, cfg: cfg, client: client, log: log}
}

// Connect registers a peer this operator wants to talk to. The peer
// must answer its config endpoint before anything is stored; an
// unreachable peer leaves the registry untouched. Connecting to an
// already known URL refreshes the row instead of duplicating it.
func (s *Registry) Connect(ctx context.Context, name, rawURL string, publicKey *string, autoApprove bool) (*models.Peer, error) {
	peerURL, err := urlx.ValidatePeerURL(rawURL)
	if err != nil {
		return nil, err
	}

	remote, err := s.client.FetchConfig(ctx, peerURL)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = remote.LibraryName
	}

	now := time.Now().UTC()
	repo := s.rm.Peers(s.db)

	existing, err := repo.GetByURL(ctx, peerURL)
	switch {
	case err == nil:
		existing.Name = name
		existing.PublicKey = publicKey
		existing.AutoApprove = autoApprove
		existing.LastSeen = &now
		existing.UpdatedAt = now
		if err := repo.Update(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	case errors.Is(err, shared.ErrNotFound):
		peer := &models.Peer{
			ID:          uuid.NewString(),
			Name:        name,
			URL:         peerURL,
			PublicKey:   publicKey,
			AutoApprove: autoApprove,
			LastSeen:    &now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := repo.Create(ctx, peer); err != nil {
			return nil, err
		}
		s.log.Info(ctx, "peer registered", "peer", peer.Name, "url", peer.URL)
		return peer, nil
	default:
		return nil, err
	}
}

// ReceiveConnection registers a peer that reached out to us. The
// advertised URL is validated the same way an operator-supplied one is.
// Inbound peers get the configured auto-approve default.
func (s *Registry) ReceiveConnection(ctx context.Context, name, rawURL string) (*models.Peer, error) {
	peerURL, err := urlx.ValidatePeerURL(rawURL)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, shared.ErrValidation
	}

	now := time.Now().UTC()
	repo := s.rm.Peers(s.db)

	existing, err := repo.GetByURL(ctx, peerURL)
	switch {
	case err == nil:
		if err := repo.Touch(ctx, existing.ID, models.FormatTime(now)); err != nil {
			return nil, err
		}
		existing.LastSeen = &now
		return existing, nil
	case errors.Is(err, shared.ErrNotFound):
		peer := &models.Peer{
			ID:          uuid.NewString(),
			Name:        name,
			URL:         peerURL,
			AutoApprove: s.cfg.AutoApproveDefault,
			LastSeen:    &now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := repo.Create(ctx, peer); err != nil {
			return nil, err
		}
		s.log.Info(ctx, "inbound peer registered", "peer", peer.Name, "url", peer.URL)
		return peer, nil
	default:
		return nil, err
	}
}

func (s *Registry) Get(ctx context.Context, id string) (*models.Peer, error) {
	return s.rm.Peers(s.db).Get(ctx, id)
}

func (s *Registry) List(ctx context.Context) ([]models.Peer, error) {
	return s.rm.Peers(s.db).List(ctx)
}

// SetAutoApprove flips the per-peer auto-approve flag.
func (s *Registry) SetAutoApprove(ctx context.Context, id string, autoApprove bool) error {
	repo := s.rm.Peers(s.db)
	peer, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}
	peer.AutoApprove = autoApprove
	peer.UpdatedAt = time.Now().UTC()
	return repo.Update(ctx, peer)
}

// Delete removes a peer and, through the same transaction, every cached
// catalogue entry attributed to it. Peers are only ever removed by an
// explicit operator action; staleness never deletes them.
func (s *Registry) Delete(ctx context.Context, id string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.rm.Catalog(tx).DeleteBooksByOriginPeer(ctx, id); err != nil {
			return err
		}
		return s.rm.Peers(tx).Delete(ctx, id)
	})
}
