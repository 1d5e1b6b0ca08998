package operators

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shelfmesh/shelfmesh/internal/dbx"
	"github.com/shelfmesh/shelfmesh/internal/server/models"
	"github.com/shelfmesh/shelfmesh/internal/shared"
)

type SQLRepository struct {
	db dbx.DBTX
}

func NewSQLRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Create(ctx context.Context, op *models.Operator) error {
	query := `INSERT INTO operators (id, username, password_hash, created_at)
	          VALUES ($1, $2, $3, $4)`

	_, err := r.db.ExecContext(ctx, query,
		op.ID, op.Username, op.PasswordHash, models.FormatTime(op.CreatedAt))
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return nil
}

func (r *SQLRepository) GetByUsername(ctx context.Context, username string) (*models.Operator, error) {
	query := `SELECT id, username, password_hash, created_at FROM operators WHERE username = $1`

	var (
		op        models.Operator
		createdAt string
	)
	err := r.db.QueryRowContext(ctx, query, username).
		Scan(&op.ID, &op.Username, &op.PasswordHash, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	if op.CreatedAt, err = models.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("bad created_at: %v", err)
	}
	return &op, nil
}
