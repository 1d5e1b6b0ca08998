package oplog

import (
	"context"
	"database/sql"
	"encoding/json"
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

func TestAppend_AssignsIDAndDefaultsStatus(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.QuoteMeta(`INSERT INTO operation_log (entity_type, entity_id, operation, payload, status, error_message, created_at)`)
	mock.ExpectQuery(q).
		WithArgs(string(models.EntityBook), "b1", string(models.OpInsert),
			sqlmock.AnyArg(), string(models.OpStatusPending), sqlmock.AnyArg(),
			models.FormatTime(testTime)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	entry := &models.OperationEntry{
		EntityType: models.EntityBook,
		EntityID:   "b1",
		Operation:  models.OpInsert,
		Payload:    json.RawMessage(`{"id":"b1","title":"Dune"}`),
		CreatedAt:  testTime,
	}
	if err := repo.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if entry.ID != 7 {
		t.Fatalf("unexpected id: %d", entry.ID)
	}
	if entry.Status != models.OpStatusPending {
		t.Fatalf("unexpected status: %s", entry.Status)
	}
}

func TestAppend_KeepsExplicitStatus(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.QuoteMeta(`INSERT INTO operation_log`)
	mock.ExpectQuery(q).
		WithArgs(string(models.EntityCopy), "c1", string(models.OpUpdate),
			sqlmock.AnyArg(), string(models.OpStatusApplied), sqlmock.AnyArg(),
			models.FormatTime(testTime)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(8)))

	entry := &models.OperationEntry{
		EntityType: models.EntityCopy,
		EntityID:   "c1",
		Operation:  models.OpUpdate,
		Status:     models.OpStatusApplied,
		CreatedAt:  testTime,
	}
	if err := repo.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append error: %v", err)
	}
}

func TestListSince(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.QuoteMeta(`FROM operation_log WHERE id > $1 ORDER BY id LIMIT $2`)
	rows := sqlmock.NewRows([]string{
		"id", "entity_type", "entity_id", "operation", "payload", "status",
		"error_message", "created_at",
	}).
		AddRow(int64(2), "book", "b1", "insert", `{"id":"b1","title":"Dune"}`,
			"applied", nil, models.FormatTime(testTime)).
		AddRow(int64(3), "copy", "c1", "delete", nil, "applied", nil,
			models.FormatTime(testTime))
	mock.ExpectQuery(q).WithArgs(int64(1), 100).WillReturnRows(rows)

	got, err := repo.ListSince(context.Background(), 1, 100)
	if err != nil {
		t.Fatalf("ListSince error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("unexpected entries: %+v", got)
	}
	if got[0].ID != 2 || len(got[0].Payload) == 0 {
		t.Fatalf("unexpected first entry: %+v", got[0])
	}
	if got[1].Payload != nil {
		t.Fatalf("delete entry should carry no payload: %+v", got[1])
	}
}

func TestMarkStatus(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.QuoteMeta(`UPDATE operation_log SET status = $1, error_message = $2 WHERE id = $3`)
	mock.ExpectExec(q).
		WithArgs(string(models.OpStatusFailed), sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkStatus(context.Background(), 7, models.OpStatusFailed, "boom"); err != nil {
		t.Fatalf("MarkStatus error: %v", err)
	}
}

func TestLatestDeleteAt_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.QuoteMeta(`SELECT created_at FROM operation_log`)
	mock.ExpectQuery(q).
		WithArgs(string(models.EntityBook), "b1", string(models.OpDelete)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(models.FormatTime(testTime)))

	at, err := repo.LatestDeleteAt(context.Background(), models.EntityBook, "b1")
	if err != nil {
		t.Fatalf("LatestDeleteAt error: %v", err)
	}
	if at != models.FormatTime(testTime) {
		t.Fatalf("unexpected timestamp: %s", at)
	}
}

func TestLatestDeleteAt_NoTombstone(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.QuoteMeta(`SELECT created_at FROM operation_log`)
	mock.ExpectQuery(q).WillReturnError(sql.ErrNoRows)

	_, err := repo.LatestDeleteAt(context.Background(), models.EntityBook, "b1")
	if !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("want shared.ErrNotFound, got %v", err)
	}
}
