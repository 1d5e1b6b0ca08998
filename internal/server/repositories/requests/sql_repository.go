package requests

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

func (r *SQLRepository) CreateInbound(ctx context.Context, req *models.BorrowRequest) error {
	query := `INSERT INTO borrow_requests (id, from_peer_id, book_isbn, book_title, status, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		req.ID, req.FromPeerID, req.BookISBN, req.BookTitle, req.Status,
		models.FormatTime(req.CreatedAt), models.FormatTime(req.UpdatedAt))
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return nil
}

func scanInbound(row interface{ Scan(...any) error }) (*models.BorrowRequest, error) {
	var (
		req                  models.BorrowRequest
		createdAt, updatedAt string
	)
	err := row.Scan(&req.ID, &req.FromPeerID, &req.BookISBN, &req.BookTitle,
		&req.Status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if req.CreatedAt, err = models.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("bad created_at: %v", err)
	}
	if req.UpdatedAt, err = models.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("bad updated_at: %v", err)
	}
	return &req, nil
}

func (r *SQLRepository) GetInbound(ctx context.Context, id string) (*models.BorrowRequest, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, from_peer_id, book_isbn, book_title, status, created_at, updated_at
		 FROM borrow_requests WHERE id = $1`, id)

	req, err := scanInbound(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	return req, nil
}

func (r *SQLRepository) ListInbound(ctx context.Context) ([]models.BorrowRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, from_peer_id, book_isbn, book_title, status, created_at, updated_at
		 FROM borrow_requests ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	defer rows.Close()

	var result []models.BorrowRequest
	for rows.Next() {
		req, err := scanInbound(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *req)
	}
	return result, rows.Err()
}

func (r *SQLRepository) UpdateInboundStatus(ctx context.Context, id string, from, to models.RequestStatus, at string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE borrow_requests SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		to, at, id, from)
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected: %v", err)
	}
	if n == 0 {
		// Either the row is gone or it already left fromStatus.
		if _, err := r.GetInbound(ctx, id); err != nil {
			return err
		}
		return shared.ErrRequestNotPending
	}
	return nil
}

func (r *SQLRepository) DeleteInbound(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM borrow_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return requireRow(res)
}

func (r *SQLRepository) CreateOutgoing(ctx context.Context, req *models.OutgoingRequest) error {
	query := `INSERT INTO outgoing_requests (id, to_peer_id, remote_id, book_isbn, book_title, status, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	remoteID := sql.NullString{}
	if req.RemoteID != nil {
		remoteID = sql.NullString{String: *req.RemoteID, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query,
		req.ID, req.ToPeerID, remoteID, req.BookISBN, req.BookTitle, req.Status,
		models.FormatTime(req.CreatedAt), models.FormatTime(req.UpdatedAt))
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return nil
}

func scanOutgoing(row interface{ Scan(...any) error }) (*models.OutgoingRequest, error) {
	var (
		req                  models.OutgoingRequest
		remoteID             sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&req.ID, &req.ToPeerID, &remoteID, &req.BookISBN, &req.BookTitle,
		&req.Status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if remoteID.Valid {
		req.RemoteID = &remoteID.String
	}
	if req.CreatedAt, err = models.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("bad created_at: %v", err)
	}
	if req.UpdatedAt, err = models.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("bad updated_at: %v", err)
	}
	return &req, nil
}

func (r *SQLRepository) GetOutgoing(ctx context.Context, id string) (*models.OutgoingRequest, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, to_peer_id, remote_id, book_isbn, book_title, status, created_at, updated_at
		 FROM outgoing_requests WHERE id = $1`, id)

	req, err := scanOutgoing(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	return req, nil
}

func (r *SQLRepository) listOutgoingWhere(ctx context.Context, where string, args ...any) ([]models.OutgoingRequest, error) {
	query := `SELECT id, to_peer_id, remote_id, book_isbn, book_title, status, created_at, updated_at
	          FROM outgoing_requests ` + where + ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	defer rows.Close()

	var result []models.OutgoingRequest
	for rows.Next() {
		req, err := scanOutgoing(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *req)
	}
	return result, rows.Err()
}

func (r *SQLRepository) ListOutgoing(ctx context.Context) ([]models.OutgoingRequest, error) {
	return r.listOutgoingWhere(ctx, ``)
}

func (r *SQLRepository) ListOutgoingByPeer(ctx context.Context, peerID string) ([]models.OutgoingRequest, error) {
	return r.listOutgoingWhere(ctx, `WHERE to_peer_id = $1`, peerID)
}

func (r *SQLRepository) UpdateOutgoingStatus(ctx context.Context, id string, to models.RequestStatus, at string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outgoing_requests SET status = $1, updated_at = $2 WHERE id = $3`,
		to, at, id)
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return requireRow(res)
}

func (r *SQLRepository) DeleteOutgoing(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM outgoing_requests WHERE id = $1`, id)
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
