// Package loans persists loans and the contacts they are issued to.
package loans

import (
	"context"

	"github.com/shelfmesh/shelfmesh/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, loan *models.Loan) error
	Get(ctx context.Context, id string) (*models.Loan, error)
	Update(ctx context.Context, loan *models.Loan) error
	// Delete exists for replicated tombstones; local flows close loans
	// by status instead.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, status models.LoanStatus) ([]models.Loan, error)
	// ActiveLoanForCopy returns the single active loan referencing the
	// copy, or shared.ErrNotFound.
	ActiveLoanForCopy(ctx context.Context, copyID string) (*models.Loan, error)
	// ActiveLoanForContactAndCopies finds the active loan a contact
	// holds on any of the given copies. Used to resolve a peer's
	// return notice, which identifies the book, not the loan.
	ActiveLoanForContactAndCopies(ctx context.Context, contactID string, copyIDs []string) (*models.Loan, error)

	GetContact(ctx context.Context, id string) (*models.Contact, error)
	FindContactByName(ctx context.Context, name, kind string) (*models.Contact, error)
	CreateContact(ctx context.Context, contact *models.Contact) error
}
