// Package httpapi exposes the catalogue engine over HTTP. Two surfaces
// share one mux: /api/peers/* plus the read-only catalogue endpoints
// make up the peer protocol (unauthenticated, the trust model is the
// URL validation on outbound calls), everything else is the operator
// surface behind JWT bearer tokens.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shelfmesh/shelfmesh/internal/logging"
	"github.com/shelfmesh/shelfmesh/internal/server/config"
	"github.com/shelfmesh/shelfmesh/internal/server/models"
	"github.com/shelfmesh/shelfmesh/internal/server/peerclient"
	"github.com/shelfmesh/shelfmesh/internal/server/services"
	"github.com/shelfmesh/shelfmesh/internal/shared"
)

// Service interfaces consumed by the handlers. The services package
// provides the real implementations; tests substitute fakes.
type (
	RegistryService interface {
		Connect(ctx context.Context, name, rawURL string, publicKey *string, autoApprove bool) (*models.Peer, error)
		ReceiveConnection(ctx context.Context, name, rawURL string) (*models.Peer, error)
		Get(ctx context.Context, id string) (*models.Peer, error)
		List(ctx context.Context) ([]models.Peer, error)
		SetAutoApprove(ctx context.Context, id string, autoApprove bool) error
		Delete(ctx context.Context, id string) error
	}

	SyncService interface {
		ApplyRemote(ctx context.Context, entry *models.OperationEntry) error
		ListSince(ctx context.Context, sinceID int64, limit int) ([]models.OperationEntry, error)
	}

	InventoryService interface {
		SyncWithPeer(ctx context.Context, peerID string) (int, error)
		ListPeerBooks(ctx context.Context, peerID string) ([]models.Book, error)
		LocalBooks(ctx context.Context) ([]models.Book, error)
		Search(ctx context.Context, query string) ([]models.Book, error)
	}

	BorrowService interface {
		Receive(ctx context.Context, notice peerclient.BorrowNotice) (*models.BorrowRequest, error)
		Accept(ctx context.Context, requestID string) (*models.Loan, error)
		Reject(ctx context.Context, requestID string) error
		ListInbound(ctx context.Context) ([]models.BorrowRequest, error)
		GetInbound(ctx context.Context, id string) (*models.BorrowRequest, error)
		RequestBook(ctx context.Context, peerID, isbn, title string) (*models.OutgoingRequest, error)
		ListOutgoing(ctx context.Context) ([]models.OutgoingRequest, error)
		PollOutgoing(ctx context.Context, requestID string) (*models.OutgoingRequest, error)
		ReceiveConfirmation(ctx context.Context, conf peerclient.LoanConfirmation) (*models.Copy, error)
		ReceiveReturn(ctx context.Context, notice peerclient.ReturnNotice) (*models.Loan, error)
		ReturnBorrowed(ctx context.Context, copyID string) error
	}

	LoanAPI interface {
		CreateLoan(ctx context.Context, copyID, contactID string, dueDate time.Time) (*models.Loan, error)
		ReturnLoan(ctx context.Context, loanID string) (*models.Loan, error)
		List(ctx context.Context, status models.LoanStatus) ([]models.Loan, error)
	}

	ReplicationService interface {
		PushToPeer(ctx context.Context, peerID string, sinceID int64) (int, error)
	}

	OperatorAPI interface {
		Login(ctx context.Context, username, password string) (string, error)
		Authorize(token string) (string, error)
	}

	ExportAPI interface {
		UploadSnapshot(ctx context.Context) (string, error)
		GetPresignedGetURL(ctx context.Context, key string) (string, error)
	}

	// PeerSearcher relays a catalogue query to one remote peer.
	PeerSearcher interface {
		SearchPeer(ctx context.Context, peerURL, query string) ([]peerclient.RemoteBook, error)
	}
)

var (
	_ RegistryService    = (*services.Registry)(nil)
	_ SyncService        = (*services.SyncProcessor)(nil)
	_ InventoryService   = (*services.InventorySync)(nil)
	_ BorrowService      = (*services.BorrowCoordinator)(nil)
	_ LoanAPI            = (*services.LoanService)(nil)
	_ ReplicationService = (*services.Replicator)(nil)
	_ OperatorAPI        = (*services.OperatorService)(nil)
	_ ExportAPI          = (*services.ExportService)(nil)
	_ PeerSearcher       = (*peerclient.Client)(nil)
)

type Server struct {
	cfg       *config.Config
	registry  RegistryService
	sync      SyncService
	inventory InventoryService
	borrow    BorrowService
	loans     LoanAPI
	repl      ReplicationService
	operators OperatorAPI
	export    ExportAPI
	searcher  PeerSearcher
	log       logging.Logger
}

func NewServer(cfg *config.Config, registry RegistryService, sync SyncService,
	inventory InventoryService, borrow BorrowService, loans LoanAPI,
	repl ReplicationService, operators OperatorAPI, export ExportAPI,
	searcher PeerSearcher, log logging.Logger) *Server {
	return &Server{
		cfg:       cfg,
		registry:  registry,
		sync:      sync,
		inventory: inventory,
		borrow:    borrow,
		loans:     loans,
		repl:      repl,
		operators: operators,
		export:    export,
		searcher:  searcher,
		log:       log,
	}
}

// Routes builds the full route table.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Peer protocol.
	mux.HandleFunc("GET /api/config", s.handleConfig)
	mux.HandleFunc("GET /api/books", s.handleAdvertisedBooks)
	mux.HandleFunc("POST /api/peers/connect", s.handleReceiveConnection)
	mux.HandleFunc("POST /api/peers/search", s.handleLocalSearch)
	mux.HandleFunc("POST /api/peers/requests", s.handleReceiveRequest)
	mux.HandleFunc("GET /api/peers/requests/{id}/status", s.handleRequestStatus)
	mux.HandleFunc("POST /api/peers/operations", s.handlePushOperations)
	mux.HandleFunc("GET /api/peers/operations", s.handlePullOperations)
	mux.HandleFunc("POST /api/peers/loans/confirm", s.handleLoanConfirmation)
	mux.HandleFunc("POST /api/peers/loans/return", s.handleReturnNotice)

	// Operator surface.
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/peers", s.requireOperator(s.handleConnectPeer))
	mux.HandleFunc("GET /api/peers", s.requireOperator(s.handleListPeers))
	mux.HandleFunc("DELETE /api/peers/{id}", s.requireOperator(s.handleDeletePeer))
	mux.HandleFunc("PUT /api/peers/{id}/auto-approve", s.requireOperator(s.handleSetAutoApprove))
	mux.HandleFunc("POST /api/peers/{id}/sync", s.requireOperator(s.handleSyncPeer))
	mux.HandleFunc("GET /api/peers/{id}/books", s.requireOperator(s.handlePeerBooks))
	mux.HandleFunc("POST /api/peers/{id}/push", s.requireOperator(s.handlePushToPeer))
	mux.HandleFunc("POST /api/peers/{id}/proxy-search", s.requireOperator(s.handleProxySearch))
	mux.HandleFunc("GET /api/search", s.requireOperator(s.handleSearch))
	mux.HandleFunc("GET /api/requests", s.requireOperator(s.handleListInbound))
	mux.HandleFunc("POST /api/requests/{id}/accept", s.requireOperator(s.handleAcceptRequest))
	mux.HandleFunc("POST /api/requests/{id}/reject", s.requireOperator(s.handleRejectRequest))
	mux.HandleFunc("POST /api/outgoing", s.requireOperator(s.handleCreateOutgoing))
	mux.HandleFunc("GET /api/outgoing", s.requireOperator(s.handleListOutgoing))
	mux.HandleFunc("POST /api/outgoing/{id}/poll", s.requireOperator(s.handlePollOutgoing))
	mux.HandleFunc("POST /api/loans", s.requireOperator(s.handleCreateLoan))
	mux.HandleFunc("GET /api/loans", s.requireOperator(s.handleListLoans))
	mux.HandleFunc("POST /api/loans/{id}/return", s.requireOperator(s.handleReturnLoan))
	mux.HandleFunc("POST /api/borrowed/{copyID}/return", s.requireOperator(s.handleReturnBorrowed))
	mux.HandleFunc("POST /api/snapshots", s.requireOperator(s.handleUploadSnapshot))
	mux.HandleFunc("GET /api/snapshots/url", s.requireOperator(s.handleSnapshotURL))

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return shared.ErrInvalidPayload
	}
	return nil
}

// writeError maps the sentinel taxonomy onto status codes. Internal
// details never leak; the sentinel text is enough for callers.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, shared.ErrValidation),
		errors.Is(err, shared.ErrInvalidPayload),
		errors.Is(err, shared.ErrUnknownEntityType),
		errors.Is(err, shared.ErrInvalidPeerURL):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, shared.ErrUnauthorized),
		errors.Is(err, shared.ErrInvalidToken),
		errors.Is(err, shared.ErrTokenExpired):
		status, msg = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, shared.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, shared.ErrNoCopyAvailable),
		errors.Is(err, shared.ErrAlreadyBorrowed),
		errors.Is(err, shared.ErrRequestNotPending),
		errors.Is(err, shared.ErrLoanNotActive),
		errors.Is(err, shared.ErrCopyNotAvailable):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, shared.ErrPeerUnreachable):
		status, msg = http.StatusBadGateway, shared.ErrPeerUnreachable.Error()
	default:
		s.log.Error(r.Context(), "handler error", "path", r.URL.Path, "error", err.Error())
	}

	writeJSON(w, status, map[string]string{"error": msg})
}
