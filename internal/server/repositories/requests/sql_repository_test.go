package requests

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/shelfmesh/shelfmesh/internal/server/models"
	"github.com/shelfmesh/shelfmesh/internal/shared"
)

func newRepoWithMock(t *testing.T) (*SQLRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewSQLRepository(db), mock, db
}

var testTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func inboundRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "from_peer_id", "book_isbn", "book_title", "status",
		"created_at", "updated_at",
	})
}

func TestCreateInbound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.QuoteMeta(`INSERT INTO borrow_requests (id, from_peer_id, book_isbn, book_title, status, created_at, updated_at)`)
	mock.ExpectExec(q).
		WithArgs("req-1", "p1", "978", "Dune", string(models.RequestPending),
			models.FormatTime(testTime), models.FormatTime(testTime)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateInbound(context.Background(), &models.BorrowRequest{
		ID: "req-1", FromPeerID: "p1", BookISBN: "978", BookTitle: "Dune",
		Status: models.RequestPending, CreatedAt: testTime, UpdatedAt: testTime,
	})
	if err != nil {
		t.Fatalf("CreateInbound error: %v", err)
	}
}

func TestUpdateInboundStatus_Guarded(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.QuoteMeta(`UPDATE borrow_requests SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`)
	mock.ExpectExec(q).
		WithArgs(string(models.RequestAccepted), models.FormatTime(testTime),
			"req-1", string(models.RequestPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateInboundStatus(context.Background(), "req-1",
		models.RequestPending, models.RequestAccepted, models.FormatTime(testTime))
	if err != nil {
		t.Fatalf("UpdateInboundStatus error: %v", err)
	}
}

func TestUpdateInboundStatus_AlreadyDecided(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	// The guarded update touches nothing, then the follow-up read finds
	// the row in a terminal state.
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE borrow_requests SET status = $1`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	rows := inboundRow().AddRow("req-1", "p1", "978", "Dune", "accepted",
		models.FormatTime(testTime), models.FormatTime(testTime))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM borrow_requests WHERE id = $1`)).
		WithArgs("req-1").WillReturnRows(rows)

	err := repo.UpdateInboundStatus(context.Background(), "req-1",
		models.RequestPending, models.RequestAccepted, models.FormatTime(testTime))
	if !errors.Is(err, shared.ErrRequestNotPending) {
		t.Fatalf("want shared.ErrRequestNotPending, got %v", err)
	}
}

func TestUpdateInboundStatus_RowGone(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE borrow_requests SET status = $1`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM borrow_requests WHERE id = $1`)).
		WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	err := repo.UpdateInboundStatus(context.Background(), "ghost",
		models.RequestPending, models.RequestRejected, models.FormatTime(testTime))
	if !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("want shared.ErrNotFound, got %v", err)
	}
}

func TestCreateOutgoing_WithRemoteID(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	remote := "remote-9"
	q := regexp.QuoteMeta(`INSERT INTO outgoing_requests (id, to_peer_id, remote_id, book_isbn, book_title, status, created_at, updated_at)`)
	mock.ExpectExec(q).
		WithArgs("out-1", "p1", sql.NullString{String: remote, Valid: true},
			"", "Dune", string(models.RequestPending),
			models.FormatTime(testTime), models.FormatTime(testTime)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateOutgoing(context.Background(), &models.OutgoingRequest{
		ID: "out-1", ToPeerID: "p1", RemoteID: &remote, BookTitle: "Dune",
		Status: models.RequestPending, CreatedAt: testTime, UpdatedAt: testTime,
	})
	if err != nil {
		t.Fatalf("CreateOutgoing error: %v", err)
	}
}

func TestGetOutgoing_ScansRemoteID(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "to_peer_id", "remote_id", "book_isbn", "book_title", "status",
		"created_at", "updated_at",
	}).AddRow("out-1", "p1", "remote-9", "978", "Dune", "pending",
		models.FormatTime(testTime), models.FormatTime(testTime))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM outgoing_requests WHERE id = $1`)).
		WithArgs("out-1").WillReturnRows(rows)

	got, err := repo.GetOutgoing(context.Background(), "out-1")
	if err != nil {
		t.Fatalf("GetOutgoing error: %v", err)
	}
	if got.RemoteID == nil || *got.RemoteID != "remote-9" {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestUpdateOutgoingStatus_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.QuoteMeta(`UPDATE outgoing_requests SET status = $1, updated_at = $2 WHERE id = $3`)
	mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateOutgoingStatus(context.Background(), "ghost",
		models.RequestAccepted, models.FormatTime(testTime))
	if !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("want shared.ErrNotFound, got %v", err)
	}
}
