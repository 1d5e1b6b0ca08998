// Package catalog persists books and copies. Both sides of the
// aggregate live in one repository because the retention policy and the
// borrow coordinator always touch them together.
package catalog

import (
	"context"

	"github.com/shelfmesh/shelfmesh/internal/server/models"
)

type Repository interface {
	CreateBook(ctx context.Context, book *models.Book) error
	GetBook(ctx context.Context, id string) (*models.Book, error)
	// FindLocalBookByISBN matches only books this library actually
	// holds, excluding entries cached from a peer's catalogue. A
	// locally-held ephemeral book (one backing a temporary loan) still
	// counts as local.
	FindLocalBookByISBN(ctx context.Context, isbn string) (*models.Book, error)
	FindLocalBookByTitle(ctx context.Context, title string) (*models.Book, error)
	FindBookByISBN(ctx context.Context, isbn string) (*models.Book, error)
	FindBookByTitle(ctx context.Context, title string) (*models.Book, error)
	SearchBooks(ctx context.Context, query string) ([]models.Book, error)
	// ListLocalBooks returns every book without peer attribution, the
	// set this library advertises to peers.
	ListLocalBooks(ctx context.Context) ([]models.Book, error)
	UpdateBook(ctx context.Context, book *models.Book) error
	DeleteBook(ctx context.Context, id string) error
	ListBooksByOriginPeer(ctx context.Context, peerID string) ([]models.Book, error)
	DeleteBooksByOriginPeer(ctx context.Context, peerID string) error

	CreateCopy(ctx context.Context, copy *models.Copy) error
	GetCopy(ctx context.Context, id string) (*models.Copy, error)
	UpdateCopy(ctx context.Context, copy *models.Copy) error
	// BorrowCopy flips a copy from available to borrowed. The status
	// guard lives in the statement itself, so two transactions racing
	// for the last copy cannot both win; the loser gets
	// shared.ErrCopyNotAvailable.
	BorrowCopy(ctx context.Context, id string, updatedAt string) error
	DeleteCopy(ctx context.Context, id string) error
	// FirstAvailableCopy returns the available, non-temporary copy of
	// the book with the lowest id, or shared.ErrNotFound.
	FirstAvailableCopy(ctx context.Context, bookID string) (*models.Copy, error)
	ListCopiesByBook(ctx context.Context, bookID string) ([]models.Copy, error)
	CountCopies(ctx context.Context, bookID string) (int, error)
	CountLendableCopies(ctx context.Context, bookID string) (int, error)
}
