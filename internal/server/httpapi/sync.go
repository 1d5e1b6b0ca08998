package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/shelfmesh/shelfmesh/internal/server/models"
	"github.com/shelfmesh/shelfmesh/internal/shared"
)

// handlePushOperations ingests replicated log entries from a peer. Each
// entry is applied on its own; a malformed entry is rejected without
// blocking the rest of the batch.
func (s *Server) handlePushOperations(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Operations []models.OperationEntry `json:"operations"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	applied, rejected := 0, 0
	for i := range req.Operations {
		err := s.sync.ApplyRemote(r.Context(), &req.Operations[i])
		switch {
		case err == nil:
			applied++
		case errors.Is(err, shared.ErrValidation),
			errors.Is(err, shared.ErrInvalidPayload),
			errors.Is(err, shared.ErrUnknownEntityType):
			rejected++
		default:
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"applied": applied, "rejected": rejected})
}

// handlePullOperations lets a peer poll the local log instead of being
// pushed to. since is the last id the peer has seen.
func (s *Server) handlePullOperations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var sinceID int64
	if raw := q.Get("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, shared.ErrValidation)
			return
		}
		sinceID = v
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, shared.ErrValidation)
			return
		}
		limit = v
	}

	entries, err := s.sync.ListSince(r.Context(), sinceID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.OperationEntry{}
	}
	writeJSON(w, http.StatusOK, map[string][]models.OperationEntry{"operations": entries})
}
