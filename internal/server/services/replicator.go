package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/shelfmesh/shelfmesh/internal/logging"
	"github.com/shelfmesh/shelfmesh/internal/server/models"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/repomanager"
	"github.com/shelfmesh/shelfmesh/internal/urlx"
)

// pushBatchSize bounds one replication push; peers pull the rest on the
// next round.
const pushBatchSize = 500

// Replicator ships local operation-log entries to peers. Only entries
// that were actually applied here are worth replicating; skipped and
// failed ones never mutated state.
type Replicator struct {
	db     *sql.DB
	rm     repomanager.RepositoryManager
	client PeerClient
	log    logging.Logger
}

func NewReplicator(db *sql.DB, rm repomanager.RepositoryManager, client PeerClient, log logging.Logger) *Replicator {
	return &Replicator{db: db, rm: rm, client: client, log: log}
}

// PushToPeer sends applied entries with id > sinceID to the peer and
// returns how many were shipped. The receiving side runs them through
// its own conflict resolution, so re-pushing is harmless.
func (s *Replicator) PushToPeer(ctx context.Context, peerID string, sinceID int64) (int, error) {
	peer, err := s.rm.Peers(s.db).Get(ctx, peerID)
	if err != nil {
		return 0, err
	}
	peerURL, err := urlx.ValidatePeerURL(peer.URL)
	if err != nil {
		return 0, err
	}

	entries, err := s.rm.OpLog(s.db).ListSince(ctx, sinceID, pushBatchSize)
	if err != nil {
		return 0, err
	}
	applied := entries[:0]
	for _, e := range entries {
		if e.Status == models.OpStatusApplied {
			applied = append(applied, e)
		}
	}
	if len(applied) == 0 {
		return 0, nil
	}

	if err := s.client.PushOperations(ctx, peerURL, applied); err != nil {
		return 0, err
	}
	if err := s.rm.Peers(s.db).Touch(ctx, peer.ID, models.FormatTime(time.Now().UTC())); err != nil {
		s.log.Warn(ctx, "peer touch failed", "peer", peer.Name, "error", err.Error())
	}
	s.log.Info(ctx, "operations pushed", "peer", peer.Name, "count", len(applied))
	return len(applied), nil
}
