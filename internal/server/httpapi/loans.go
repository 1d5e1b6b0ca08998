package httpapi

import (
	"net/http"
	"time"

	"github.com/shelfmesh/shelfmesh/internal/server/models"
	"github.com/shelfmesh/shelfmesh/internal/server/peerclient"
	"github.com/shelfmesh/shelfmesh/internal/shared"
)

func (s *Server) handleCreateLoan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CopyID    string `json:"copy_id"`
		ContactID string `json:"contact_id"`
		DueDate   string `json:"due_date,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var due time.Time
	if req.DueDate != "" {
		parsed, err := models.ParseTime(req.DueDate)
		if err != nil {
			s.writeError(w, r, shared.ErrValidation)
			return
		}
		due = parsed
	}

	loan, err := s.loans.CreateLoan(r.Context(), req.CopyID, req.ContactID, due)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) handleListLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := s.loans.List(r.Context(), models.LoanStatus(r.URL.Query().Get("status")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]models.Loan{"loans": loans})
}

func (s *Server) handleReturnLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := s.loans.ReturnLoan(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// handleReturnBorrowed hands a copy borrowed from a peer back to its
// lender.
func (s *Server) handleReturnBorrowed(w http.ResponseWriter, r *http.Request) {
	if err := s.borrow.ReturnBorrowed(r.Context(), r.PathValue("copyID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLoanConfirmation is the peer-facing endpoint a lender calls
// after accepting our request.
func (s *Server) handleLoanConfirmation(w http.ResponseWriter, r *http.Request) {
	var conf peerclient.LoanConfirmation
	if err := decodeJSON(r, &conf); err != nil {
		s.writeError(w, r, err)
		return
	}
	cp, err := s.borrow.ReceiveConfirmation(r.Context(), conf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

// handleReturnNotice is the peer-facing endpoint a borrower calls when
// it hands our book back.
func (s *Server) handleReturnNotice(w http.ResponseWriter, r *http.Request) {
	var notice peerclient.ReturnNotice
	if err := decodeJSON(r, &notice); err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := s.borrow.ReceiveReturn(r.Context(), notice)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}
