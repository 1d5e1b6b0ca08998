package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/shelfmesh/shelfmesh/internal/dbx"
	"github.com/shelfmesh/shelfmesh/internal/logging"
	"github.com/shelfmesh/shelfmesh/internal/server/config"
	"github.com/shelfmesh/shelfmesh/internal/server/models"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/repomanager"
	"github.com/shelfmesh/shelfmesh/internal/shared"
)

// LoanService drives the loan lifecycle and enforces the retention
// policy when loans come back. Every mutation and its operation-log
// entries commit in one transaction.
type LoanService struct {
	db  *sql.DB
	rm  repomanager.RepositoryManager
	cfg *config.Config
	log logging.Logger
}

func NewLoanService(db *sql.DB, rm repomanager.RepositoryManager, cfg *config.Config, log logging.Logger) *LoanService {
	return &LoanService{db: db, rm: rm, cfg: cfg, log: log}
}

// CreateLoan issues a loan of an available copy to a contact. The copy
// flips to borrowed in the same transaction; a copy that is not
// available cannot be lent.
func (s *LoanService) CreateLoan(ctx context.Context, copyID, contactID string, dueDate time.Time) (*models.Loan, error) {
	now := time.Now().UTC()
	if dueDate.IsZero() {
		dueDate = now.Add(s.cfg.LoanPeriod)
	}

	var loan *models.Loan
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		catalogRepo := s.rm.Catalog(tx)
		loanRepo := s.rm.Loans(tx)
		logRepo := s.rm.OpLog(tx)

		copy, err := catalogRepo.GetCopy(ctx, copyID)
		if err != nil {
			return err
		}
		if copy.Status != models.CopyAvailable {
			return shared.ErrCopyNotAvailable
		}
		if _, err := loanRepo.GetContact(ctx, contactID); err != nil {
			return err
		}

		loan = &models.Loan{
			ID:        uuid.NewString(),
			CopyID:    copy.ID,
			ContactID: contactID,
			LibraryID: copy.LibraryID,
			LoanDate:  now,
			DueDate:   dueDate,
			Status:    models.LoanActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := loanRepo.Create(ctx, loan); err != nil {
			return err
		}

		// The availability check above is advisory only; the guarded
		// flip is what settles a race for the copy.
		if err := catalogRepo.BorrowCopy(ctx, copy.ID, models.FormatTime(now)); err != nil {
			return err
		}
		copy.Status = models.CopyBorrowed
		copy.UpdatedAt = now

		if err := recordLocal(ctx, logRepo, models.EntityLoan, models.OpInsert, loan.ID, loan, now); err != nil {
			return err
		}
		return recordLocal(ctx, logRepo, models.EntityCopy, models.OpUpdate, copy.ID, copy, now)
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// ReturnLoan closes an active loan and applies the retention policy to
// the copy and its book, in order: a temporary copy is deleted while a
// permanent one goes back to available; an owned or wishlist book is
// kept regardless; an ephemeral book with no copies left is deleted.
// The whole cascade commits atomically.
func (s *LoanService) ReturnLoan(ctx context.Context, loanID string) (*models.Loan, error) {
	now := time.Now().UTC()

	var loan *models.Loan
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		loan, err = s.returnLoanTx(ctx, tx, loanID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// returnLoanTx is the transactional body of ReturnLoan, shared with the
// borrow coordinator's return-notice handling.
func (s *LoanService) returnLoanTx(ctx context.Context, tx dbx.DBTX, loanID string, now time.Time) (*models.Loan, error) {
	catalogRepo := s.rm.Catalog(tx)
	loanRepo := s.rm.Loans(tx)
	logRepo := s.rm.OpLog(tx)

	loan, err := loanRepo.Get(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanActive && loan.Status != models.LoanOverdue {
		return nil, shared.ErrLoanNotActive
	}

	loan.Status = models.LoanReturned
	loan.ReturnDate = &now
	loan.UpdatedAt = now
	if err := loanRepo.Update(ctx, loan); err != nil {
		return nil, err
	}
	if err := recordLocal(ctx, logRepo, models.EntityLoan, models.OpUpdate, loan.ID, loan, now); err != nil {
		return nil, err
	}

	copy, err := catalogRepo.GetCopy(ctx, loan.CopyID)
	if err != nil {
		return nil, err
	}

	if copy.IsTemporary {
		if err := catalogRepo.DeleteCopy(ctx, copy.ID); err != nil {
			return nil, err
		}
		if err := recordLocal(ctx, logRepo, models.EntityCopy, models.OpDelete, copy.ID, nil, now); err != nil {
			return nil, err
		}
	} else {
		copy.Status = models.CopyAvailable
		copy.UpdatedAt = now
		if err := catalogRepo.UpdateCopy(ctx, copy); err != nil {
			return nil, err
		}
		if err := recordLocal(ctx, logRepo, models.EntityCopy, models.OpUpdate, copy.ID, copy, now); err != nil {
			return nil, err
		}
	}

	book, err := catalogRepo.GetBook(ctx, copy.BookID)
	if err != nil {
		return nil, err
	}
	switch book.Retention {
	case models.RetentionOwned, models.RetentionWishlist:
		return loan, nil
	}

	remaining, err := catalogRepo.CountCopies(ctx, book.ID)
	if err != nil {
		return nil, err
	}
	if remaining > 0 {
		return loan, nil
	}
	if err := catalogRepo.DeleteBook(ctx, book.ID); err != nil {
		return nil, err
	}
	if err := recordLocal(ctx, logRepo, models.EntityBook, models.OpDelete, book.ID, nil, now); err != nil {
		return nil, err
	}
	s.log.Info(ctx, "ephemeral book collected", "book", book.Title)
	return loan, nil
}

func (s *LoanService) Get(ctx context.Context, id string) (*models.Loan, error) {
	return s.rm.Loans(s.db).Get(ctx, id)
}

func (s *LoanService) List(ctx context.Context, status models.LoanStatus) ([]models.Loan, error) {
	return s.rm.Loans(s.db).List(ctx, status)
}
