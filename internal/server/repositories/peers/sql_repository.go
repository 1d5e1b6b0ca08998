package peers

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

const peerColumns = `id, name, url, public_key, auto_approve, last_seen, created_at, updated_at`

func scanPeer(row interface{ Scan(...any) error }) (*models.Peer, error) {
	var (
		p                  models.Peer
		publicKey          sql.NullString
		lastSeen           sql.NullString
		createdAt, updated string
	)
	err := row.Scan(&p.ID, &p.Name, &p.URL, &publicKey, &p.AutoApprove,
		&lastSeen, &createdAt, &updated)
	if err != nil {
		return nil, err
	}
	if publicKey.Valid {
		p.PublicKey = &publicKey.String
	}
	if lastSeen.Valid {
		seen, err := models.ParseTime(lastSeen.String)
		if err != nil {
			return nil, fmt.Errorf("bad last_seen: %v", err)
		}
		p.LastSeen = &seen
	}
	if p.CreatedAt, err = models.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("bad created_at: %v", err)
	}
	if p.UpdatedAt, err = models.ParseTime(updated); err != nil {
		return nil, fmt.Errorf("bad updated_at: %v", err)
	}
	return &p, nil
}

func (r *SQLRepository) Create(ctx context.Context, peer *models.Peer) error {
	query := `INSERT INTO peers (` + peerColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	var publicKey, lastSeen sql.NullString
	if peer.PublicKey != nil {
		publicKey = sql.NullString{String: *peer.PublicKey, Valid: true}
	}
	if peer.LastSeen != nil {
		lastSeen = sql.NullString{String: models.FormatTime(*peer.LastSeen), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		peer.ID, peer.Name, peer.URL, publicKey, peer.AutoApprove, lastSeen,
		models.FormatTime(peer.CreatedAt), models.FormatTime(peer.UpdatedAt))
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return nil
}

func (r *SQLRepository) getWhere(ctx context.Context, where string, args ...any) (*models.Peer, error) {
	query := `SELECT ` + peerColumns + ` FROM peers WHERE ` + where

	peer, err := scanPeer(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	return peer, nil
}

func (r *SQLRepository) Get(ctx context.Context, id string) (*models.Peer, error) {
	return r.getWhere(ctx, `id = $1`, id)
}

func (r *SQLRepository) GetByURL(ctx context.Context, url string) (*models.Peer, error) {
	return r.getWhere(ctx, `url = $1`, url)
}

func (r *SQLRepository) List(ctx context.Context) ([]models.Peer, error) {
	query := `SELECT ` + peerColumns + ` FROM peers ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	defer rows.Close()

	var result []models.Peer
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (r *SQLRepository) Update(ctx context.Context, peer *models.Peer) error {
	query := `UPDATE peers
	          SET name = $1, url = $2, public_key = $3, auto_approve = $4,
	              last_seen = $5, updated_at = $6
	          WHERE id = $7`

	var publicKey, lastSeen sql.NullString
	if peer.PublicKey != nil {
		publicKey = sql.NullString{String: *peer.PublicKey, Valid: true}
	}
	if peer.LastSeen != nil {
		lastSeen = sql.NullString{String: models.FormatTime(*peer.LastSeen), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, query,
		peer.Name, peer.URL, publicKey, peer.AutoApprove, lastSeen,
		models.FormatTime(peer.UpdatedAt), peer.ID)
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return requireRow(res)
}

func (r *SQLRepository) Touch(ctx context.Context, id string, at string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE peers SET last_seen = $1, updated_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return requireRow(res)
}

func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM peers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected: %v", err)
	}
	if n == 0 {
		return shared.ErrNotFound
	}
	return nil
}
