package httpapi

import (
	"net/http"

	"github.com/shelfmesh/shelfmesh/internal/server/models"
	"github.com/shelfmesh/shelfmesh/internal/server/peerclient"
	"github.com/shelfmesh/shelfmesh/internal/urlx"
)

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, peerclient.RemoteConfig{LibraryName: s.cfg.LibraryName})
}

func advertisedBook(b *models.Book) peerclient.RemoteBook {
	return peerclient.RemoteBook{
		ID:       b.ID,
		Title:    b.Title,
		ISBN:     b.ISBN,
		Author:   b.Author,
		Summary:  b.Summary,
		CoverURL: b.CoverURL,
	}
}

// handleAdvertisedBooks serves the catalogue peers mirror during
// inventory sync. Cached entries from other peers are excluded.
func (s *Server) handleAdvertisedBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.inventory.LocalBooks(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]peerclient.RemoteBook, 0, len(books))
	for i := range books {
		out = append(out, advertisedBook(&books[i]))
	}
	writeJSON(w, http.StatusOK, map[string][]peerclient.RemoteBook{"books": out})
}

func (s *Server) handleReceiveConnection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	peer, err := s.registry.ReceiveConnection(r.Context(), req.Name, req.URL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, peer)
}

// handleLocalSearch answers a remote peer's catalogue query against the
// local holdings only.
func (s *Server) handleLocalSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	books, err := s.inventory.Search(r.Context(), req.Query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]peerclient.RemoteBook, 0, len(books))
	for i := range books {
		if books[i].OriginPeerID != nil {
			continue
		}
		out = append(out, advertisedBook(&books[i]))
	}
	writeJSON(w, http.StatusOK, map[string][]peerclient.RemoteBook{"books": out})
}

func (s *Server) handleConnectPeer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string  `json:"name"`
		URL         string  `json:"url"`
		PublicKey   *string `json:"public_key,omitempty"`
		AutoApprove bool    `json:"auto_approve"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	peer, err := s.registry.Connect(r.Context(), req.Name, req.URL, req.PublicKey, req.AutoApprove)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, peer)
}

func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := s.registry.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]models.Peer{"peers": peers})
}

func (s *Server) handleDeletePeer(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetAutoApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AutoApprove bool `json:"auto_approve"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.registry.SetAutoApprove(r.Context(), r.PathValue("id"), req.AutoApprove); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSyncPeer(w http.ResponseWriter, r *http.Request) {
	n, err := s.inventory.SyncWithPeer(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"books": n})
}

func (s *Server) handlePeerBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.inventory.ListPeerBooks(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]models.Book{"books": books})
}

func (s *Server) handlePushToPeer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SinceID int64 `json:"since_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.repl.PushToPeer(r.Context(), r.PathValue("id"), req.SinceID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pushed": n})
}

// handleProxySearch relays a query to one peer and returns its answer
// verbatim. Nothing is cached.
func (s *Server) handleProxySearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	peer, err := s.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	peerURL, err := urlx.ValidatePeerURL(peer.URL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	books, err := s.searcher.SearchPeer(r.Context(), peerURL, req.Query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]peerclient.RemoteBook{"books": books})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	books, err := s.inventory.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]models.Book{"books": books})
}
