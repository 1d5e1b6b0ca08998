package loans

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

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

const loanColumns = `id, copy_id, contact_id, library_id, loan_date, due_date, return_date, status, created_at, updated_at`

func scanLoan(row interface{ Scan(...any) error }) (*models.Loan, error) {
	var (
		l                    models.Loan
		loanDate, dueDate    string
		returnDate           sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&l.ID, &l.CopyID, &l.ContactID, &l.LibraryID,
		&loanDate, &dueDate, &returnDate, &l.Status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if l.LoanDate, err = models.ParseTime(loanDate); err != nil {
		return nil, fmt.Errorf("bad loan_date: %v", err)
	}
	if l.DueDate, err = models.ParseTime(dueDate); err != nil {
		return nil, fmt.Errorf("bad due_date: %v", err)
	}
	if returnDate.Valid {
		ret, err := models.ParseTime(returnDate.String)
		if err != nil {
			return nil, fmt.Errorf("bad return_date: %v", err)
		}
		l.ReturnDate = &ret
	}
	if l.CreatedAt, err = models.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("bad created_at: %v", err)
	}
	if l.UpdatedAt, err = models.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("bad updated_at: %v", err)
	}
	return &l, nil
}

func (r *SQLRepository) Create(ctx context.Context, loan *models.Loan) error {
	query := `INSERT INTO loans (` + loanColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	var returnDate sql.NullString
	if loan.ReturnDate != nil {
		returnDate = sql.NullString{String: models.FormatTime(*loan.ReturnDate), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		loan.ID, loan.CopyID, loan.ContactID, loan.LibraryID,
		models.FormatTime(loan.LoanDate), models.FormatTime(loan.DueDate),
		returnDate, loan.Status,
		models.FormatTime(loan.CreatedAt), models.FormatTime(loan.UpdatedAt))
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return nil
}

func (r *SQLRepository) getWhere(ctx context.Context, where string, args ...any) (*models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE ` + where

	loan, err := scanLoan(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	return loan, nil
}

func (r *SQLRepository) Get(ctx context.Context, id string) (*models.Loan, error) {
	return r.getWhere(ctx, `id = $1`, id)
}

func (r *SQLRepository) ActiveLoanForCopy(ctx context.Context, copyID string) (*models.Loan, error) {
	return r.getWhere(ctx, `copy_id = $1 AND status = $2`, copyID, models.LoanActive)
}

func (r *SQLRepository) ActiveLoanForContactAndCopies(ctx context.Context, contactID string, copyIDs []string) (*models.Loan, error) {
	if len(copyIDs) == 0 {
		return nil, shared.ErrNotFound
	}

	placeholders := make([]string, len(copyIDs))
	args := []any{contactID, models.LoanActive}
	for i, id := range copyIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+3)
		args = append(args, id)
	}

	return r.getWhere(ctx,
		`contact_id = $1 AND status = $2 AND copy_id IN (`+strings.Join(placeholders, ", ")+`)`,
		args...)
}

func (r *SQLRepository) Update(ctx context.Context, loan *models.Loan) error {
	query := `UPDATE loans
	          SET return_date = $1, status = $2, due_date = $3, updated_at = $4
	          WHERE id = $5`

	var returnDate sql.NullString
	if loan.ReturnDate != nil {
		returnDate = sql.NullString{String: models.FormatTime(*loan.ReturnDate), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, query,
		returnDate, loan.Status, models.FormatTime(loan.DueDate),
		models.FormatTime(loan.UpdatedAt), loan.ID)
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

func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM loans WHERE id = $1`, id)
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

func (r *SQLRepository) List(ctx context.Context, status models.LoanStatus) ([]models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY loan_date DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	defer rows.Close()

	var result []models.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *l)
	}
	return result, rows.Err()
}

const contactColumns = `id, name, kind, created_at, updated_at`

func scanContact(row interface{ Scan(...any) error }) (*models.Contact, error) {
	var (
		c                    models.Contact
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ID, &c.Name, &c.Kind, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if c.CreatedAt, err = models.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("bad created_at: %v", err)
	}
	if c.UpdatedAt, err = models.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("bad updated_at: %v", err)
	}
	return &c, nil
}

func (r *SQLRepository) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)

	contact, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	return contact, nil
}

func (r *SQLRepository) FindContactByName(ctx context.Context, name, kind string) (*models.Contact, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE name = $1 AND kind = $2`, name, kind)

	contact, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	return contact, nil
}

func (r *SQLRepository) CreateContact(ctx context.Context, contact *models.Contact) error {
	query := `INSERT INTO contacts (` + contactColumns + `) VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query,
		contact.ID, contact.Name, contact.Kind,
		models.FormatTime(contact.CreatedAt), models.FormatTime(contact.UpdatedAt))
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return nil
}
