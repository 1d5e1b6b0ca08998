package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shelfmesh/shelfmesh/internal/dbx"
	"github.com/shelfmesh/shelfmesh/internal/logging"
	"github.com/shelfmesh/shelfmesh/internal/server/config"
	"github.com/shelfmesh/shelfmesh/internal/server/models"
	"github.com/shelfmesh/shelfmesh/internal/server/peerclient"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/repomanager"
	"github.com/shelfmesh/shelfmesh/internal/shared"
	"github.com/shelfmesh/shelfmesh/internal/urlx"
)

// contactKindLibrary is the contact kind used for cross-peer loans.
const contactKindLibrary = "library"

// BorrowCoordinator runs the cross-peer borrow protocol on both sides:
// inbound requests against this library's stock and outgoing requests
// to other peers. Inventory decisions commit before any peer is
// notified; a notification that fails after commit is logged, never
// rolled back.
type BorrowCoordinator struct {
	db       *sql.DB
	rm       repomanager.RepositoryManager
	cfg      *config.Config
	client   PeerClient
	registry *Registry
	loans    *LoanService
	log      logging.Logger
}

func NewBorrowCoordinator(db *sql.DB, rm repomanager.RepositoryManager, cfg *config.Config, client PeerClient, registry *Registry, loans *LoanService, log logging.Logger) *BorrowCoordinator {
	return &BorrowCoordinator{db: db, rm: rm, cfg: cfg, client: client, registry: registry, loans: loans, log: log}
}

// Receive records an inbound borrow request from a peer. Unknown peers
// are registered on the fly. If the peer is trusted with auto-approve,
// the request goes through the same accept path immediately; when that
// fails because no copy can be lent, the request simply stays pending
// for an operator to look at.
func (s *BorrowCoordinator) Receive(ctx context.Context, notice peerclient.BorrowNotice) (*models.BorrowRequest, error) {
	if notice.BookTitle == "" && notice.BookISBN == "" {
		return nil, shared.ErrValidation
	}

	peer, err := s.registry.ReceiveConnection(ctx, notice.FromName, notice.FromURL)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	req := &models.BorrowRequest{
		ID:         uuid.NewString(),
		FromPeerID: peer.ID,
		BookISBN:   notice.BookISBN,
		BookTitle:  notice.BookTitle,
		Status:     models.RequestPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.rm.Requests(s.db).CreateInbound(ctx, req); err != nil {
		return nil, err
	}

	if peer.AutoApprove {
		if _, err := s.Accept(ctx, req.ID); err != nil {
			s.log.Warn(ctx, "auto-approve declined", "request", req.ID, "error", err.Error())
		} else {
			req.Status = models.RequestAccepted
		}
	}
	return req, nil
}

// Accept grants an inbound request: it picks the lendable copy with the
// lowest id, issues a loan to a contact representing the peer and flips
// the request to accepted, all in one transaction. The two refusal
// modes stay distinct: a book with no lendable copies at all is
// ErrNoCopyAvailable, a book whose copies are all out on loan is
// ErrAlreadyBorrowed. After commit the requesting peer is notified;
// that notification is best effort.
func (s *BorrowCoordinator) Accept(ctx context.Context, requestID string) (*models.Loan, error) {
	now := time.Now().UTC()

	var (
		loan *models.Loan
		peer *models.Peer
		book *models.Book
	)
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		catalogRepo := s.rm.Catalog(tx)
		loanRepo := s.rm.Loans(tx)
		reqRepo := s.rm.Requests(tx)
		logRepo := s.rm.OpLog(tx)

		req, err := reqRepo.GetInbound(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != models.RequestPending {
			return shared.ErrRequestNotPending
		}
		peer, err = s.rm.Peers(tx).Get(ctx, req.FromPeerID)
		if err != nil {
			return err
		}

		book, err = s.resolveLocalBook(ctx, tx, req)
		if err != nil {
			return err
		}

		lendable, err := catalogRepo.CountLendableCopies(ctx, book.ID)
		if err != nil {
			return err
		}
		if lendable == 0 {
			return shared.ErrNoCopyAvailable
		}

		copy, err := catalogRepo.FirstAvailableCopy(ctx, book.ID)
		if errors.Is(err, shared.ErrNotFound) {
			return shared.ErrAlreadyBorrowed
		}
		if err != nil {
			return err
		}

		contact, err := s.peerContact(ctx, tx, peer, now)
		if err != nil {
			return err
		}

		loan = &models.Loan{
			ID:        uuid.NewString(),
			CopyID:    copy.ID,
			ContactID: contact.ID,
			LibraryID: copy.LibraryID,
			LoanDate:  now,
			DueDate:   now.Add(s.cfg.LoanPeriod),
			Status:    models.LoanActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := loanRepo.Create(ctx, loan); err != nil {
			return err
		}

		// The status guard in BorrowCopy decides the race: a concurrent
		// transaction that took this copy between the select and the
		// flip makes this one lose instead of double-lending.
		if err := catalogRepo.BorrowCopy(ctx, copy.ID, models.FormatTime(now)); err != nil {
			if errors.Is(err, shared.ErrCopyNotAvailable) {
				return shared.ErrAlreadyBorrowed
			}
			return err
		}
		copy.Status = models.CopyBorrowed
		copy.UpdatedAt = now

		// The SQL guard makes concurrent accepts of the same request
		// lose here instead of double-lending.
		if err := reqRepo.UpdateInboundStatus(ctx, req.ID, models.RequestPending, models.RequestAccepted, models.FormatTime(now)); err != nil {
			return err
		}

		if err := recordLocal(ctx, logRepo, models.EntityLoan, models.OpInsert, loan.ID, loan, now); err != nil {
			return err
		}
		return recordLocal(ctx, logRepo, models.EntityCopy, models.OpUpdate, copy.ID, copy, now)
	})
	if err != nil {
		return nil, err
	}

	s.confirmLoan(ctx, peer, book, loan)
	return loan, nil
}

// resolveLocalBook maps a request's isbn/title onto a book this library
// actually holds. A request naming a book we do not stock is refused
// the same way as one with zero lendable copies.
func (s *BorrowCoordinator) resolveLocalBook(ctx context.Context, tx dbx.DBTX, req *models.BorrowRequest) (*models.Book, error) {
	catalogRepo := s.rm.Catalog(tx)

	if req.BookISBN != "" {
		book, err := catalogRepo.FindLocalBookByISBN(ctx, req.BookISBN)
		if err == nil {
			return book, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
	}
	if req.BookTitle != "" {
		book, err := catalogRepo.FindLocalBookByTitle(ctx, req.BookTitle)
		if err == nil {
			return book, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
	}
	return nil, shared.ErrNoCopyAvailable
}

func (s *BorrowCoordinator) peerContact(ctx context.Context, tx dbx.DBTX, peer *models.Peer, now time.Time) (*models.Contact, error) {
	loanRepo := s.rm.Loans(tx)

	contact, err := loanRepo.FindContactByName(ctx, peer.Name, contactKindLibrary)
	if err == nil {
		return contact, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	contact = &models.Contact{
		ID:        uuid.NewString(),
		Name:      peer.Name,
		Kind:      contactKindLibrary,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := loanRepo.CreateContact(ctx, contact); err != nil {
		return nil, err
	}
	return contact, nil
}

// confirmLoan notifies the requesting peer after the accept committed.
// A delivery failure leaves the loan in place; the requester will learn
// the outcome when it polls the request status.
func (s *BorrowCoordinator) confirmLoan(ctx context.Context, peer *models.Peer, book *models.Book, loan *models.Loan) {
	peerURL, err := urlx.ValidatePeerURL(peer.URL)
	if err != nil {
		s.log.Warn(ctx, "loan confirmation skipped", "peer", peer.Name, "error", err.Error())
		return
	}
	conf := peerclient.LoanConfirmation{
		ISBN:       book.ISBN,
		Title:      book.Title,
		Author:     book.Author,
		CoverURL:   book.CoverURL,
		LenderName: s.cfg.LibraryName,
		DueDate:    models.FormatTime(loan.DueDate),
	}
	if err := s.client.ConfirmLoan(ctx, peerURL, conf); err != nil {
		s.log.Warn(ctx, "loan confirmation failed", "peer", peer.Name, "error", err.Error())
	}
}

// Reject declines a pending inbound request. No inventory is touched.
func (s *BorrowCoordinator) Reject(ctx context.Context, requestID string) error {
	now := time.Now().UTC()
	return s.rm.Requests(s.db).UpdateInboundStatus(ctx, requestID, models.RequestPending, models.RequestRejected, models.FormatTime(now))
}

func (s *BorrowCoordinator) ListInbound(ctx context.Context) ([]models.BorrowRequest, error) {
	return s.rm.Requests(s.db).ListInbound(ctx)
}

func (s *BorrowCoordinator) GetInbound(ctx context.Context, id string) (*models.BorrowRequest, error) {
	return s.rm.Requests(s.db).GetInbound(ctx, id)
}

// RequestBook sends a borrow request to a peer and records the local
// outgoing row. The notice is delivered first: if the peer cannot be
// reached there is nothing worth recording.
func (s *BorrowCoordinator) RequestBook(ctx context.Context, peerID, isbn, title string) (*models.OutgoingRequest, error) {
	if isbn == "" && title == "" {
		return nil, shared.ErrValidation
	}
	peer, err := s.registry.Get(ctx, peerID)
	if err != nil {
		return nil, err
	}
	peerURL, err := urlx.ValidatePeerURL(peer.URL)
	if err != nil {
		return nil, err
	}

	notice := peerclient.BorrowNotice{
		FromName:  s.cfg.LibraryName,
		FromURL:   s.cfg.BaseURL,
		BookISBN:  isbn,
		BookTitle: title,
	}
	remote, err := s.client.PushBorrowRequest(ctx, peerURL, notice)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	req := &models.OutgoingRequest{
		ID:        uuid.NewString(),
		ToPeerID:  peer.ID,
		RemoteID:  &remote.ID,
		BookISBN:  isbn,
		BookTitle: title,
		Status:    remote.Status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Status == "" {
		req.Status = models.RequestPending
	}
	if err := s.rm.Requests(s.db).CreateOutgoing(ctx, req); err != nil {
		return nil, err
	}
	if err := s.rm.Peers(s.db).Touch(ctx, peer.ID, models.FormatTime(now)); err != nil {
		s.log.Warn(ctx, "peer touch failed", "peer", peer.Name, "error", err.Error())
	}
	return req, nil
}

func (s *BorrowCoordinator) ListOutgoing(ctx context.Context) ([]models.OutgoingRequest, error) {
	return s.rm.Requests(s.db).ListOutgoing(ctx)
}

// ReceiveConfirmation handles the lender's acceptance on the requesting
// side: the borrowed book is materialized as an ephemeral entry backed
// by a temporary, already-borrowed copy, and the matching outgoing
// request flips to accepted. The copy exists only for the duration of
// the loan; returning it unwinds everything.
func (s *BorrowCoordinator) ReceiveConfirmation(ctx context.Context, conf peerclient.LoanConfirmation) (*models.Copy, error) {
	if conf.Title == "" {
		return nil, shared.ErrValidation
	}
	due, err := models.ParseTime(conf.DueDate)
	if err != nil {
		return nil, fmt.Errorf("%w: bad due_date", shared.ErrValidation)
	}

	now := time.Now().UTC()
	var created *models.Copy
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		catalogRepo := s.rm.Catalog(tx)
		logRepo := s.rm.OpLog(tx)

		book, err := s.findBorrowedBook(ctx, tx, conf)
		if errors.Is(err, shared.ErrNotFound) {
			book = &models.Book{
				ID:        uuid.NewString(),
				Title:     conf.Title,
				ISBN:      conf.ISBN,
				Author:    conf.Author,
				CoverURL:  conf.CoverURL,
				Retention: models.RetentionEphemeral,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := catalogRepo.CreateBook(ctx, book); err != nil {
				return err
			}
			if err := recordLocal(ctx, logRepo, models.EntityBook, models.OpInsert, book.ID, book, now); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		notes := fmt.Sprintf("Borrowed from %s until %s", conf.LenderName, due.Format("2006-01-02"))
		created = &models.Copy{
			ID:          uuid.NewString(),
			BookID:      book.ID,
			LibraryID:   models.DefaultLibraryID,
			Status:      models.CopyBorrowed,
			IsTemporary: true,
			Notes:       &notes,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := catalogRepo.CreateCopy(ctx, created); err != nil {
			return err
		}
		if err := recordLocal(ctx, logRepo, models.EntityCopy, models.OpInsert, created.ID, created, now); err != nil {
			return err
		}

		return s.settleOutgoing(ctx, tx, conf, now)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *BorrowCoordinator) findBorrowedBook(ctx context.Context, tx dbx.DBTX, conf peerclient.LoanConfirmation) (*models.Book, error) {
	catalogRepo := s.rm.Catalog(tx)
	if conf.ISBN != nil && *conf.ISBN != "" {
		book, err := catalogRepo.FindBookByISBN(ctx, *conf.ISBN)
		if err == nil || !errors.Is(err, shared.ErrNotFound) {
			return book, err
		}
	}
	return catalogRepo.FindBookByTitle(ctx, conf.Title)
}

// settleOutgoing marks the pending outgoing request this confirmation
// answers, matched by isbn or title. A confirmation with no matching
// row is still honored; the local record is bookkeeping, not truth.
func (s *BorrowCoordinator) settleOutgoing(ctx context.Context, tx dbx.DBTX, conf peerclient.LoanConfirmation, now time.Time) error {
	reqRepo := s.rm.Requests(tx)
	pending, err := reqRepo.ListOutgoing(ctx)
	if err != nil {
		return err
	}
	for i := range pending {
		req := &pending[i]
		if req.Status != models.RequestPending {
			continue
		}
		matched := (conf.ISBN != nil && *conf.ISBN != "" && req.BookISBN == *conf.ISBN) ||
			(req.BookTitle != "" && req.BookTitle == conf.Title)
		if matched {
			return reqRepo.UpdateOutgoingStatus(ctx, req.ID, models.RequestAccepted, models.FormatTime(now))
		}
	}
	s.log.Warn(ctx, "loan confirmation without matching outgoing request", "title", conf.Title)
	return nil
}

// ReceiveReturn handles a borrower's notice that our book is coming
// back: it resolves the peer's contact, finds the active loan on any
// copy of the named book and closes it through the normal return path,
// retention policy included.
func (s *BorrowCoordinator) ReceiveReturn(ctx context.Context, notice peerclient.ReturnNotice) (*models.Loan, error) {
	peerURL, err := urlx.ValidatePeerURL(notice.FromURL)
	if err != nil {
		return nil, err
	}
	peer, err := s.rm.Peers(s.db).GetByURL(ctx, peerURL)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var loan *models.Loan
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		loanRepo := s.rm.Loans(tx)

		contact, err := loanRepo.FindContactByName(ctx, peer.Name, contactKindLibrary)
		if err != nil {
			return err
		}

		req := &models.BorrowRequest{BookISBN: notice.BookISBN, BookTitle: notice.BookTitle}
		book, err := s.resolveLocalBook(ctx, tx, req)
		if err != nil {
			return err
		}

		copyIDs, err := s.copyIDsOf(ctx, tx, book.ID)
		if err != nil {
			return err
		}
		active, err := loanRepo.ActiveLoanForContactAndCopies(ctx, contact.ID, copyIDs)
		if err != nil {
			return err
		}

		loan, err = s.loans.returnLoanTx(ctx, tx, active.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

func (s *BorrowCoordinator) copyIDsOf(ctx context.Context, tx dbx.DBTX, bookID string) ([]string, error) {
	// Borrowed copies are not "available", so enumerate via loans on
	// each copy id; the catalog repo keeps this lookup simple.
	copies, err := s.rm.Catalog(tx).ListCopiesByBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(copies))
	for i := range copies {
		ids = append(ids, copies[i].ID)
	}
	return ids, nil
}

// ReturnBorrowed hands a borrowed book back to its lender: the
// temporary copy is deleted, its ephemeral book is collected when
// nothing else references it, and the lender is notified after commit.
// Only temporary copies can go through this path.
func (s *BorrowCoordinator) ReturnBorrowed(ctx context.Context, copyID string) error {
	now := time.Now().UTC()

	var (
		book     *models.Book
		lenderID string
	)
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		catalogRepo := s.rm.Catalog(tx)
		logRepo := s.rm.OpLog(tx)

		copy, err := catalogRepo.GetCopy(ctx, copyID)
		if err != nil {
			return err
		}
		if !copy.IsTemporary {
			return fmt.Errorf("%w: copy is not a borrowed one", shared.ErrValidation)
		}
		book, err = catalogRepo.GetBook(ctx, copy.BookID)
		if err != nil {
			return err
		}

		if err := catalogRepo.DeleteCopy(ctx, copy.ID); err != nil {
			return err
		}
		if err := recordLocal(ctx, logRepo, models.EntityCopy, models.OpDelete, copy.ID, nil, now); err != nil {
			return err
		}

		if book.Retention == models.RetentionEphemeral {
			remaining, err := catalogRepo.CountCopies(ctx, book.ID)
			if err != nil {
				return err
			}
			if remaining == 0 {
				if err := catalogRepo.DeleteBook(ctx, book.ID); err != nil {
					return err
				}
				if err := recordLocal(ctx, logRepo, models.EntityBook, models.OpDelete, book.ID, nil, now); err != nil {
					return err
				}
			}
		}

		lenderID = s.lenderOf(ctx, tx, book)
		return nil
	})
	if err != nil {
		return err
	}

	if lenderID == "" {
		s.log.Warn(ctx, "return without known lender", "book", book.Title)
		return nil
	}
	peer, err := s.registry.Get(ctx, lenderID)
	if err != nil {
		return err
	}
	peerURL, err := urlx.ValidatePeerURL(peer.URL)
	if err != nil {
		return err
	}
	isbn := ""
	if book.ISBN != nil {
		isbn = *book.ISBN
	}
	notice := peerclient.ReturnNotice{
		FromURL:   s.cfg.BaseURL,
		BookISBN:  isbn,
		BookTitle: book.Title,
	}
	if err := s.client.NotifyReturn(ctx, peerURL, notice); err != nil {
		s.log.Warn(ctx, "return notice failed", "peer", peer.Name, "error", err.Error())
	}
	return nil
}

// lenderOf resolves which peer lent us the book, via the accepted
// outgoing request that matches it.
func (s *BorrowCoordinator) lenderOf(ctx context.Context, tx dbx.DBTX, book *models.Book) string {
	reqs, err := s.rm.Requests(tx).ListOutgoing(ctx)
	if err != nil {
		return ""
	}
	for i := range reqs {
		req := &reqs[i]
		if req.Status != models.RequestAccepted {
			continue
		}
		if (book.ISBN != nil && *book.ISBN != "" && req.BookISBN == *book.ISBN) ||
			(req.BookTitle != "" && req.BookTitle == book.Title) {
			return req.ToPeerID
		}
	}
	return ""
}

// PollOutgoing asks the lending peer for its decision on one of our
// requests and records a terminal answer locally.
func (s *BorrowCoordinator) PollOutgoing(ctx context.Context, requestID string) (*models.OutgoingRequest, error) {
	reqRepo := s.rm.Requests(s.db)
	req, err := reqRepo.GetOutgoing(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.RequestPending {
		return req, nil
	}
	if req.RemoteID == nil {
		// Recorded before the peer acknowledged; nothing to poll with.
		return req, nil
	}
	peer, err := s.registry.Get(ctx, req.ToPeerID)
	if err != nil {
		return nil, err
	}
	peerURL, err := urlx.ValidatePeerURL(peer.URL)
	if err != nil {
		return nil, err
	}

	st, err := s.client.FetchRequestStatus(ctx, peerURL, *req.RemoteID)
	if err != nil {
		return nil, err
	}
	if st.Status == models.RequestAccepted || st.Status == models.RequestRejected {
		now := time.Now().UTC()
		if err := reqRepo.UpdateOutgoingStatus(ctx, req.ID, st.Status, models.FormatTime(now)); err != nil {
			return nil, err
		}
		req.Status = st.Status
		req.UpdatedAt = now
	}
	return req, nil
}
