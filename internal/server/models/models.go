// Package models defines the catalogue entities shared by repositories,
// services and the HTTP layer, plus the tagged operation-log payload
// codec.
package models

import "time"

// TimeLayout is the canonical wire/storage format for timestamps.
// Operation-log timestamps are the ordering key for last-writer-wins
// conflict resolution and tombstone selection happens with SQL string
// comparison, so the fraction is fixed-width: a trimmed fraction
// (RFC3339Nano drops trailing zeros) would make ".1Z" sort after
// ".12Z".
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t in the canonical storage format (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stored timestamp. Trimmed-fraction forms produced
// by other RFC 3339 writers are accepted too.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

// RetentionClass controls whether a Book survives having zero copies.
type RetentionClass string

const (
	// RetentionOwned marks books physically held by this library;
	// never garbage-collected.
	RetentionOwned RetentionClass = "owned"
	// RetentionWishlist marks desired books; they persist with zero
	// copies.
	RetentionWishlist RetentionClass = "wishlist"
	// RetentionEphemeral marks books materialized only to mirror a
	// peer's catalogue or back a temporary loan; collected once no
	// copy references them.
	RetentionEphemeral RetentionClass = "ephemeral"
)

// CopyStatus is the availability state of a physical copy.
type CopyStatus string

const (
	CopyAvailable CopyStatus = "available"
	CopyBorrowed  CopyStatus = "borrowed"
	CopyLost      CopyStatus = "lost"
)

// LoanStatus values. Returned and lost are terminal.
type LoanStatus string

const (
	LoanActive   LoanStatus = "active"
	LoanReturned LoanStatus = "returned"
	LoanOverdue  LoanStatus = "overdue"
	LoanLost     LoanStatus = "lost"
)

// RequestStatus values for borrow requests, inbound and outgoing.
// Accepted and rejected are terminal.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

// Peer is a known remote server. Never deleted automatically; staleness
// of LastSeen is advisory only.
type Peer struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	PublicKey   *string    `json:"public_key,omitempty"`
	AutoApprove bool       `json:"auto_approve"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Book is a catalogue entry. OriginPeerID is set on ephemeral entries
// that mirror a remote peer's catalogue; RemoteID is the entry's id on
// that peer.
type Book struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	ISBN         *string        `json:"isbn,omitempty"`
	Author       *string        `json:"author,omitempty"`
	Summary      *string        `json:"summary,omitempty"`
	CoverURL     *string        `json:"cover_url,omitempty"`
	Retention    RetentionClass `json:"retention"`
	OriginPeerID *string        `json:"origin_peer_id,omitempty"`
	RemoteID     *string        `json:"remote_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Copy is one physical unit of a Book. IsTemporary marks copies created
// solely to represent a cross-peer loan; they are deleted when that
// loan is returned.
type Copy struct {
	ID          string     `json:"id"`
	BookID      string     `json:"book_id"`
	LibraryID   string     `json:"library_id"`
	Status      CopyStatus `json:"status"`
	IsTemporary bool       `json:"is_temporary"`
	Notes       *string    `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Contact is a borrower identity; cross-peer loans use a contact of
// kind "library" named after the peer.
type Contact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Loan links a Copy to a Contact. At most one active loan may reference
// a copy at a time.
type Loan struct {
	ID         string     `json:"id"`
	CopyID     string     `json:"copy_id"`
	ContactID  string     `json:"contact_id"`
	LibraryID  string     `json:"library_id"`
	LoanDate   time.Time  `json:"loan_date"`
	DueDate    time.Time  `json:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty"`
	Status     LoanStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// BorrowRequest is an inbound cross-peer borrow request owned by the
// lending side.
type BorrowRequest struct {
	ID         string        `json:"id"`
	FromPeerID string        `json:"from_peer_id"`
	BookISBN   string        `json:"book_isbn"`
	BookTitle  string        `json:"book_title"`
	Status     RequestStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// OutgoingRequest is the requester-side record of intent. RemoteID is
// the id the lending peer assigned to its own row; status polls use it.
// The two rows are never transactionally linked.
type OutgoingRequest struct {
	ID        string        `json:"id"`
	ToPeerID  string        `json:"to_peer_id"`
	RemoteID  *string       `json:"remote_id,omitempty"`
	BookISBN  string        `json:"book_isbn"`
	BookTitle string        `json:"book_title"`
	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Operator is a local user allowed to trigger accept/reject/return.
type Operator struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// DefaultLibraryID is the id of the library row seeded by the initial
// migration. The engine runs one library per server.
const DefaultLibraryID = "00000000-0000-0000-0000-000000000001"
