package oplog

import (
	"context"
	"database/sql"
	"encoding/json"
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

func (r *SQLRepository) Append(ctx context.Context, entry *models.OperationEntry) error {
	query := `INSERT INTO operation_log (entity_type, entity_id, operation, payload, status, error_message, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          RETURNING id`

	var payload sql.NullString
	if len(entry.Payload) > 0 {
		payload = sql.NullString{String: string(entry.Payload), Valid: true}
	}
	var errMsg sql.NullString
	if entry.Error != nil {
		errMsg = sql.NullString{String: *entry.Error, Valid: true}
	}
	status := entry.Status
	if status == "" {
		status = models.OpStatusPending
	}

	err := r.db.QueryRowContext(ctx, query,
		entry.EntityType, entry.EntityID, entry.Operation, payload, status,
		errMsg, models.FormatTime(entry.CreatedAt)).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	entry.Status = status
	return nil
}

const entryColumns = `id, entity_type, entity_id, operation, payload, status, error_message, created_at`

func scanEntry(row interface{ Scan(...any) error }) (*models.OperationEntry, error) {
	var (
		e               models.OperationEntry
		payload, errMsg sql.NullString
		createdAt       string
	)
	err := row.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Operation,
		&payload, &e.Status, &errMsg, &createdAt)
	if err != nil {
		return nil, err
	}
	if payload.Valid {
		e.Payload = json.RawMessage(payload.String)
	}
	if errMsg.Valid {
		e.Error = &errMsg.String
	}
	if e.CreatedAt, err = models.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("bad created_at: %v", err)
	}
	return &e, nil
}

func (r *SQLRepository) Get(ctx context.Context, id int64) (*models.OperationEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM operation_log WHERE id = $1`, id)

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	return entry, nil
}

func (r *SQLRepository) ListSince(ctx context.Context, sinceID int64, limit int) ([]models.OperationEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM operation_log WHERE id > $1 ORDER BY id LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	defer rows.Close()

	var result []models.OperationEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

func (r *SQLRepository) MarkStatus(ctx context.Context, id int64, status models.OpStatus, applyErr string) error {
	var errMsg sql.NullString
	if applyErr != "" {
		errMsg = sql.NullString{String: applyErr, Valid: true}
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE operation_log SET status = $1, error_message = $2 WHERE id = $3`,
		status, errMsg, id)
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected: %v", err)
	}
	if n == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// LatestDeleteAt relies on created_at being stored in the fixed-width
// models.TimeLayout, which makes text order chronological.
func (r *SQLRepository) LatestDeleteAt(ctx context.Context, entityType models.EntityType, entityID string) (string, error) {
	query := `SELECT created_at FROM operation_log
	          WHERE entity_type = $1 AND entity_id = $2 AND operation = $3
	          ORDER BY created_at DESC LIMIT 1`

	var at string
	err := r.db.QueryRowContext(ctx, query, entityType, entityID, models.OpDelete).Scan(&at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", shared.ErrNotFound
		}
		return "", fmt.Errorf("error performing sql request: %v", err)
	}
	return at, nil
}
