package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/shelfmesh/shelfmesh/internal/shared"
)

type ctxKey int

const operatorIDKey ctxKey = iota

// OperatorID returns the authenticated operator id stored by the
// middleware, or "" on unauthenticated requests.
func OperatorID(ctx context.Context) string {
	id, _ := ctx.Value(operatorIDKey).(string)
	return id
}

const bearerPrefix = "Bearer "

func (s *Server) requireOperator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			s.writeError(w, r, shared.ErrUnauthorized)
			return
		}
		id, err := s.operators.Authorize(strings.TrimPrefix(header, bearerPrefix))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), operatorIDKey, id)))
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := s.operators.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
