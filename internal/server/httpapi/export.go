package httpapi

import (
	"net/http"

	"github.com/shelfmesh/shelfmesh/internal/shared"
)

func (s *Server) handleUploadSnapshot(w http.ResponseWriter, r *http.Request) {
	key, err := s.export.UploadSnapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}

func (s *Server) handleSnapshotURL(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeError(w, r, shared.ErrValidation)
		return
	}
	url, err := s.export.GetPresignedGetURL(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
