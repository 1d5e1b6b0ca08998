package httpapi

import (
	"net/http"

	"github.com/shelfmesh/shelfmesh/internal/server/models"
	"github.com/shelfmesh/shelfmesh/internal/server/peerclient"
)

// handleReceiveRequest ingests a borrow request from a remote peer. The
// response carries the id this side assigned so the requester can poll
// the decision later.
func (s *Server) handleReceiveRequest(w http.ResponseWriter, r *http.Request) {
	var notice peerclient.BorrowNotice
	if err := decodeJSON(r, &notice); err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := s.borrow.Receive(r.Context(), notice)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, peerclient.RequestStatus{ID: req.ID, Status: req.Status})
}

func (s *Server) handleRequestStatus(w http.ResponseWriter, r *http.Request) {
	req, err := s.borrow.GetInbound(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, peerclient.RequestStatus{ID: req.ID, Status: req.Status})
}

func (s *Server) handleListInbound(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.borrow.ListInbound(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]models.BorrowRequest{"requests": reqs})
}

func (s *Server) handleAcceptRequest(w http.ResponseWriter, r *http.Request) {
	loan, err := s.borrow.Accept(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) handleRejectRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.borrow.Reject(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateOutgoing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PeerID string `json:"peer_id"`
		ISBN   string `json:"isbn"`
		Title  string `json:"title"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.borrow.RequestBook(r.Context(), req.PeerID, req.ISBN, req.Title)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleListOutgoing(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.borrow.ListOutgoing(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]models.OutgoingRequest{"requests": reqs})
}

func (s *Server) handlePollOutgoing(w http.ResponseWriter, r *http.Request) {
	out, err := s.borrow.PollOutgoing(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
