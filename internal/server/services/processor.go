package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shelfmesh/shelfmesh/internal/dbx"
	"github.com/shelfmesh/shelfmesh/internal/logging"
	"github.com/shelfmesh/shelfmesh/internal/server/models"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/oplog"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/repomanager"
	"github.com/shelfmesh/shelfmesh/internal/shared"
)

// SyncProcessor applies operation-log entries to catalogue state. It is
// the only conflict-resolution authority: last-writer-wins by entry
// timestamp for inserts and updates, tombstone dominance for deletes.
// Apply is idempotent; re-applying an entry the state already reflects
// is a no-op.
type SyncProcessor struct {
	db  *sql.DB
	rm  repomanager.RepositoryManager
	log logging.Logger
}

func NewSyncProcessor(db *sql.DB, rm repomanager.RepositoryManager, log logging.Logger) *SyncProcessor {
	return &SyncProcessor{db: db, rm: rm, log: log}
}

// ApplyRemote records a peer-pushed entry in the local log (retaining
// its original timestamp, so it is never re-originated here) and then
// applies it to state. The audit status of the recorded entry reflects
// the outcome: applied, skipped (lost the conflict) or failed.
//
// Validation failures are reported before anything is written: silently
// dropping a malformed or unknown entry would desynchronize peers
// without trace.
func (s *SyncProcessor) ApplyRemote(ctx context.Context, entry *models.OperationEntry) error {
	if _, err := entry.DecodePayload(); err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		logRepo := s.rm.OpLog(tx)

		recorded := *entry
		recorded.ID = 0
		recorded.Status = models.OpStatusPending
		if err := logRepo.Append(ctx, &recorded); err != nil {
			return err
		}

		applied, err := s.applyTx(ctx, tx, entry)
		switch {
		case err != nil:
			// Keep the entry with its failure note; the mutation
			// itself must not survive.
			if mErr := logRepo.MarkStatus(ctx, recorded.ID, models.OpStatusFailed, err.Error()); mErr != nil {
				return mErr
			}
			s.log.Warn(ctx, "operation apply failed",
				"entity_type", entry.EntityType, "entity_id", entry.EntityID, "error", err.Error())
			return nil
		case applied:
			return logRepo.MarkStatus(ctx, recorded.ID, models.OpStatusApplied, "")
		default:
			return logRepo.MarkStatus(ctx, recorded.ID, models.OpStatusSkipped, "")
		}
	})
}

// applyTx maps one entry onto catalogue state. It reports whether the
// entry won (mutated state) or lost the conflict resolution.
func (s *SyncProcessor) applyTx(ctx context.Context, tx dbx.DBTX, entry *models.OperationEntry) (bool, error) {
	decoded, err := entry.DecodePayload()
	if err != nil {
		return false, err
	}

	if entry.Operation == models.OpDelete {
		return s.applyDelete(ctx, tx, entry)
	}

	// A delete recorded at or after this entry's timestamp dominates
	// it: an out-of-order insert must not resurrect the entity.
	logRepo := s.rm.OpLog(tx)
	if deletedAt, err := logRepo.LatestDeleteAt(ctx, entry.EntityType, entry.EntityID); err == nil {
		tombstone, err := models.ParseTime(deletedAt)
		if err != nil {
			return false, err
		}
		if !tombstone.Before(entry.CreatedAt) {
			return false, nil
		}
	} else if !errors.Is(err, shared.ErrNotFound) {
		return false, err
	}

	switch target := decoded.(type) {
	case *models.Book:
		return s.upsertBook(ctx, tx, target, entry.CreatedAt)
	case *models.Copy:
		return s.upsertCopy(ctx, tx, target, entry.CreatedAt)
	case *models.Loan:
		return s.upsertLoan(ctx, tx, target, entry.CreatedAt)
	}
	return false, fmt.Errorf("%w: %q", shared.ErrUnknownEntityType, entry.EntityType)
}

func (s *SyncProcessor) applyDelete(ctx context.Context, tx dbx.DBTX, entry *models.OperationEntry) (bool, error) {
	var err error
	switch entry.EntityType {
	case models.EntityBook:
		err = s.rm.Catalog(tx).DeleteBook(ctx, entry.EntityID)
	case models.EntityCopy:
		err = s.rm.Catalog(tx).DeleteCopy(ctx, entry.EntityID)
	case models.EntityLoan:
		err = s.rm.Loans(tx).Delete(ctx, entry.EntityID)
	default:
		return false, fmt.Errorf("%w: %q", shared.ErrUnknownEntityType, entry.EntityType)
	}
	if errors.Is(err, shared.ErrNotFound) {
		// Already gone; the tombstone in the log is what matters.
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SyncProcessor) upsertBook(ctx context.Context, tx dbx.DBTX, book *models.Book, at time.Time) (bool, error) {
	repo := s.rm.Catalog(tx)

	existing, err := repo.GetBook(ctx, book.ID)
	if errors.Is(err, shared.ErrNotFound) {
		book.UpdatedAt = at
		if book.CreatedAt.IsZero() {
			book.CreatedAt = at
		}
		return true, repo.CreateBook(ctx, book)
	}
	if err != nil {
		return false, err
	}
	if !at.After(existing.UpdatedAt) {
		return false, nil
	}
	book.UpdatedAt = at
	book.CreatedAt = existing.CreatedAt
	return true, repo.UpdateBook(ctx, book)
}

func (s *SyncProcessor) upsertCopy(ctx context.Context, tx dbx.DBTX, copy *models.Copy, at time.Time) (bool, error) {
	repo := s.rm.Catalog(tx)

	existing, err := repo.GetCopy(ctx, copy.ID)
	if errors.Is(err, shared.ErrNotFound) {
		copy.UpdatedAt = at
		if copy.CreatedAt.IsZero() {
			copy.CreatedAt = at
		}
		if copy.LibraryID == "" {
			copy.LibraryID = models.DefaultLibraryID
		}
		return true, repo.CreateCopy(ctx, copy)
	}
	if err != nil {
		return false, err
	}
	if !at.After(existing.UpdatedAt) {
		return false, nil
	}
	copy.UpdatedAt = at
	copy.CreatedAt = existing.CreatedAt
	if copy.LibraryID == "" {
		copy.LibraryID = existing.LibraryID
	}
	return true, repo.UpdateCopy(ctx, copy)
}

func (s *SyncProcessor) upsertLoan(ctx context.Context, tx dbx.DBTX, loan *models.Loan, at time.Time) (bool, error) {
	repo := s.rm.Loans(tx)

	existing, err := repo.Get(ctx, loan.ID)
	if errors.Is(err, shared.ErrNotFound) {
		loan.UpdatedAt = at
		if loan.CreatedAt.IsZero() {
			loan.CreatedAt = at
		}
		return true, repo.Create(ctx, loan)
	}
	if err != nil {
		return false, err
	}
	if !at.After(existing.UpdatedAt) {
		return false, nil
	}
	loan.UpdatedAt = at
	return true, repo.Update(ctx, loan)
}

// ListSince exposes the log for peers that poll instead of receiving
// pushes.
func (s *SyncProcessor) ListSince(ctx context.Context, sinceID int64, limit int) ([]models.OperationEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	return s.rm.OpLog(s.db).ListSince(ctx, sinceID, limit)
}

// recordLocal appends a log entry for a locally originated mutation so
// the change becomes replicable. It must run inside the same
// transaction as the mutation itself.
func recordLocal(ctx context.Context, repo oplog.Repository, entityType models.EntityType, op models.Operation, entityID string, payload any, at time.Time) error {
	entry := &models.OperationEntry{
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  op,
		Status:     models.OpStatusApplied,
		CreatedAt:  at,
	}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		entry.Payload = body
	}
	return repo.Append(ctx, entry)
}
