package catalog

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

const bookColumns = `id, title, isbn, author, summary, cover_url, retention, origin_peer_id, remote_id, created_at, updated_at`

func scanBook(row interface{ Scan(...any) error }) (*models.Book, error) {
	var (
		b                  models.Book
		isbn, author       sql.NullString
		summary, coverURL  sql.NullString
		originPeer, remote sql.NullString
		createdAt, updated string
	)
	err := row.Scan(&b.ID, &b.Title, &isbn, &author, &summary, &coverURL,
		&b.Retention, &originPeer, &remote, &createdAt, &updated)
	if err != nil {
		return nil, err
	}
	b.ISBN = nullToPtr(isbn)
	b.Author = nullToPtr(author)
	b.Summary = nullToPtr(summary)
	b.CoverURL = nullToPtr(coverURL)
	b.OriginPeerID = nullToPtr(originPeer)
	b.RemoteID = nullToPtr(remote)
	if b.CreatedAt, err = models.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("bad created_at: %v", err)
	}
	if b.UpdatedAt, err = models.ParseTime(updated); err != nil {
		return nil, fmt.Errorf("bad updated_at: %v", err)
	}
	return &b, nil
}

func nullToPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func ptrToNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func (r *SQLRepository) CreateBook(ctx context.Context, book *models.Book) error {
	query := `INSERT INTO books (` + bookColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		book.ID, book.Title, ptrToNull(book.ISBN), ptrToNull(book.Author),
		ptrToNull(book.Summary), ptrToNull(book.CoverURL), book.Retention,
		ptrToNull(book.OriginPeerID), ptrToNull(book.RemoteID),
		models.FormatTime(book.CreatedAt), models.FormatTime(book.UpdatedAt))
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return nil
}

func (r *SQLRepository) getBookWhere(ctx context.Context, where string, args ...any) (*models.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE ` + where

	book, err := scanBook(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	return book, nil
}

func (r *SQLRepository) GetBook(ctx context.Context, id string) (*models.Book, error) {
	return r.getBookWhere(ctx, `id = $1`, id)
}

func (r *SQLRepository) FindBookByISBN(ctx context.Context, isbn string) (*models.Book, error) {
	return r.getBookWhere(ctx, `isbn = $1 ORDER BY id LIMIT 1`, isbn)
}

func (r *SQLRepository) FindBookByTitle(ctx context.Context, title string) (*models.Book, error) {
	return r.getBookWhere(ctx, `title = $1 ORDER BY id LIMIT 1`, title)
}

func (r *SQLRepository) FindLocalBookByISBN(ctx context.Context, isbn string) (*models.Book, error) {
	return r.getBookWhere(ctx,
		`isbn = $1 AND origin_peer_id IS NULL ORDER BY id LIMIT 1`, isbn)
}

func (r *SQLRepository) FindLocalBookByTitle(ctx context.Context, title string) (*models.Book, error) {
	return r.getBookWhere(ctx,
		`title = $1 AND origin_peer_id IS NULL ORDER BY id LIMIT 1`, title)
}

func (r *SQLRepository) queryBooks(ctx context.Context, where string, args ...any) ([]models.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE ` + where

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	defer rows.Close()

	var books []models.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, *b)
	}
	return books, rows.Err()
}

func (r *SQLRepository) SearchBooks(ctx context.Context, query string) ([]models.Book, error) {
	pattern := "%" + query + "%"
	return r.queryBooks(ctx, `(title LIKE $1 OR isbn = $2) ORDER BY title`, pattern, query)
}

func (r *SQLRepository) ListLocalBooks(ctx context.Context) ([]models.Book, error) {
	return r.queryBooks(ctx, `origin_peer_id IS NULL ORDER BY title`)
}

func (r *SQLRepository) ListBooksByOriginPeer(ctx context.Context, peerID string) ([]models.Book, error) {
	return r.queryBooks(ctx, `origin_peer_id = $1 ORDER BY id`, peerID)
}

func (r *SQLRepository) UpdateBook(ctx context.Context, book *models.Book) error {
	query := `UPDATE books
	          SET title = $1, isbn = $2, author = $3, summary = $4, cover_url = $5,
	              retention = $6, origin_peer_id = $7, remote_id = $8, updated_at = $9
	          WHERE id = $10`

	res, err := r.db.ExecContext(ctx, query,
		book.Title, ptrToNull(book.ISBN), ptrToNull(book.Author),
		ptrToNull(book.Summary), ptrToNull(book.CoverURL), book.Retention,
		ptrToNull(book.OriginPeerID), ptrToNull(book.RemoteID),
		models.FormatTime(book.UpdatedAt), book.ID)
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return requireRow(res)
}

func (r *SQLRepository) DeleteBook(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return requireRow(res)
}

func (r *SQLRepository) DeleteBooksByOriginPeer(ctx context.Context, peerID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM books WHERE origin_peer_id = $1`, peerID)
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return nil
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

const copyColumns = `id, book_id, library_id, status, is_temporary, notes, created_at, updated_at`

func scanCopy(row interface{ Scan(...any) error }) (*models.Copy, error) {
	var (
		c                  models.Copy
		notes              sql.NullString
		createdAt, updated string
	)
	err := row.Scan(&c.ID, &c.BookID, &c.LibraryID, &c.Status, &c.IsTemporary,
		&notes, &createdAt, &updated)
	if err != nil {
		return nil, err
	}
	c.Notes = nullToPtr(notes)
	if c.CreatedAt, err = models.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("bad created_at: %v", err)
	}
	if c.UpdatedAt, err = models.ParseTime(updated); err != nil {
		return nil, fmt.Errorf("bad updated_at: %v", err)
	}
	return &c, nil
}

func (r *SQLRepository) CreateCopy(ctx context.Context, copy *models.Copy) error {
	query := `INSERT INTO copies (` + copyColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		copy.ID, copy.BookID, copy.LibraryID, copy.Status, copy.IsTemporary,
		ptrToNull(copy.Notes), models.FormatTime(copy.CreatedAt), models.FormatTime(copy.UpdatedAt))
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return nil
}

func (r *SQLRepository) getCopyWhere(ctx context.Context, where string, args ...any) (*models.Copy, error) {
	query := `SELECT ` + copyColumns + ` FROM copies WHERE ` + where

	copy, err := scanCopy(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	return copy, nil
}

func (r *SQLRepository) GetCopy(ctx context.Context, id string) (*models.Copy, error) {
	return r.getCopyWhere(ctx, `id = $1`, id)
}

// FirstAvailableCopy orders by id so the selection is reproducible.
func (r *SQLRepository) FirstAvailableCopy(ctx context.Context, bookID string) (*models.Copy, error) {
	return r.getCopyWhere(ctx,
		`book_id = $1 AND status = $2 AND is_temporary = $3 ORDER BY id LIMIT 1`,
		bookID, models.CopyAvailable, false)
}

func (r *SQLRepository) ListCopiesByBook(ctx context.Context, bookID string) ([]models.Copy, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+copyColumns+` FROM copies WHERE book_id = $1 ORDER BY id`, bookID)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %v", err)
	}
	defer rows.Close()

	var copies []models.Copy
	for rows.Next() {
		c, err := scanCopy(rows)
		if err != nil {
			return nil, err
		}
		copies = append(copies, *c)
	}
	return copies, rows.Err()
}

func (r *SQLRepository) UpdateCopy(ctx context.Context, copy *models.Copy) error {
	query := `UPDATE copies
	          SET book_id = $1, library_id = $2, status = $3, is_temporary = $4,
	              notes = $5, updated_at = $6
	          WHERE id = $7`

	res, err := r.db.ExecContext(ctx, query,
		copy.BookID, copy.LibraryID, copy.Status, copy.IsTemporary,
		ptrToNull(copy.Notes), models.FormatTime(copy.UpdatedAt), copy.ID)
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return requireRow(res)
}

func (r *SQLRepository) BorrowCopy(ctx context.Context, id string, updatedAt string) error {
	query := `UPDATE copies SET status = $1, updated_at = $2
	          WHERE id = $3 AND status = $4`

	res, err := r.db.ExecContext(ctx, query,
		models.CopyBorrowed, updatedAt, id, models.CopyAvailable)
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected: %v", err)
	}
	if n == 0 {
		return shared.ErrCopyNotAvailable
	}
	return nil
}

func (r *SQLRepository) DeleteCopy(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM copies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error performing sql request: %v", err)
	}
	return requireRow(res)
}

func (r *SQLRepository) countCopiesWhere(ctx context.Context, where string, args ...any) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM copies WHERE `+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("error performing sql request: %v", err)
	}
	return n, nil
}

func (r *SQLRepository) CountCopies(ctx context.Context, bookID string) (int, error) {
	return r.countCopiesWhere(ctx, `book_id = $1`, bookID)
}

func (r *SQLRepository) CountLendableCopies(ctx context.Context, bookID string) (int, error) {
	return r.countCopiesWhere(ctx, `book_id = $1 AND is_temporary = $2`, bookID, false)
}
