package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/shelfmesh/shelfmesh/internal/logging"
	"github.com/shelfmesh/shelfmesh/internal/server/auth"
	"github.com/shelfmesh/shelfmesh/internal/server/config"
	"github.com/shelfmesh/shelfmesh/internal/server/models"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/repomanager"
	"github.com/shelfmesh/shelfmesh/internal/shared"
)

// OperatorService manages local operator accounts and session tokens.
type OperatorService struct {
	db  *sql.DB
	rm  repomanager.RepositoryManager
	cfg *config.Config
	log logging.Logger
}

func NewOperatorService(db *sql.DB, rm repomanager.RepositoryManager, cfg *config.Config, log logging.Logger) *OperatorService {
	return &OperatorService{db: db, rm: rm, cfg: cfg, log: log}
}

// Register creates an operator account with a bcrypt-hashed password.
func (s *OperatorService) Register(ctx context.Context, username, password string) (*models.Operator, error) {
	if username == "" || password == "" {
		return nil, shared.ErrValidation
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	op := &models.Operator{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.rm.Operators(s.db).Create(ctx, op); err != nil {
		return nil, err
	}
	s.log.Info(ctx, "operator registered", "username", username)
	return op, nil
}

// Login checks the credentials and returns a signed session token. A
// missing account and a wrong password are indistinguishable to the
// caller.
func (s *OperatorService) Login(ctx context.Context, username, password string) (string, error) {
	op, err := s.rm.Operators(s.db).GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return "", shared.ErrUnauthorized
		}
		return "", err
	}
	if !auth.CheckPassword(op.PasswordHash, password) {
		return "", shared.ErrUnauthorized
	}
	return auth.GenerateToken(op.ID, []byte(s.cfg.SecretKey), s.cfg.TokenValidity)
}

// Authorize resolves a bearer token to an operator id.
func (s *OperatorService) Authorize(token string) (string, error) {
	return auth.GetOperatorIDFromToken(token, []byte(s.cfg.SecretKey))
}
