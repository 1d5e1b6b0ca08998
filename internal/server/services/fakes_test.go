package services

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/shelfmesh/shelfmesh/internal/dbx"
	"github.com/shelfmesh/shelfmesh/internal/logging"
	"github.com/shelfmesh/shelfmesh/internal/server/models"
	"github.com/shelfmesh/shelfmesh/internal/server/peerclient"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/catalog"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/loans"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/operators"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/oplog"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/peers"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/repomanager"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/requests"
	"github.com/shelfmesh/shelfmesh/internal/shared"
)

// -------- in-memory fakes --------

type memCatalog struct {
	books  map[string]models.Book
	copies map[string]models.Copy

	borrowCopyErr error
}

func newMemCatalog() *memCatalog {
	return &memCatalog{books: map[string]models.Book{}, copies: map[string]models.Copy{}}
}

func (m *memCatalog) CreateBook(_ context.Context, b *models.Book) error {
	m.books[b.ID] = *b
	return nil
}

func (m *memCatalog) GetBook(_ context.Context, id string) (*models.Book, error) {
	b, ok := m.books[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &b, nil
}

func (m *memCatalog) findBook(match func(*models.Book) bool) (*models.Book, error) {
	var found []models.Book
	for _, b := range m.books {
		if match(&b) {
			found = append(found, b)
		}
	}
	if len(found) == 0 {
		return nil, shared.ErrNotFound
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	return &found[0], nil
}

func isLocal(b *models.Book) bool {
	return b.OriginPeerID == nil
}

func (m *memCatalog) FindLocalBookByISBN(_ context.Context, isbn string) (*models.Book, error) {
	return m.findBook(func(b *models.Book) bool {
		return isLocal(b) && b.ISBN != nil && *b.ISBN == isbn
	})
}

func (m *memCatalog) FindLocalBookByTitle(_ context.Context, title string) (*models.Book, error) {
	return m.findBook(func(b *models.Book) bool { return isLocal(b) && b.Title == title })
}

func (m *memCatalog) FindBookByISBN(_ context.Context, isbn string) (*models.Book, error) {
	return m.findBook(func(b *models.Book) bool { return b.ISBN != nil && *b.ISBN == isbn })
}

func (m *memCatalog) FindBookByTitle(_ context.Context, title string) (*models.Book, error) {
	return m.findBook(func(b *models.Book) bool { return b.Title == title })
}

func (m *memCatalog) SearchBooks(_ context.Context, query string) ([]models.Book, error) {
	var out []models.Book
	for _, b := range m.books {
		if query == "" || strings.Contains(b.Title, query) || (b.ISBN != nil && *b.ISBN == query) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memCatalog) UpdateBook(_ context.Context, b *models.Book) error {
	if _, ok := m.books[b.ID]; !ok {
		return shared.ErrNotFound
	}
	m.books[b.ID] = *b
	return nil
}

func (m *memCatalog) DeleteBook(_ context.Context, id string) error {
	if _, ok := m.books[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.books, id)
	for cid, c := range m.copies {
		if c.BookID == id {
			delete(m.copies, cid)
		}
	}
	return nil
}

func (m *memCatalog) ListLocalBooks(_ context.Context) ([]models.Book, error) {
	var out []models.Book
	for _, b := range m.books {
		if isLocal(&b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memCatalog) ListBooksByOriginPeer(_ context.Context, peerID string) ([]models.Book, error) {
	var out []models.Book
	for _, b := range m.books {
		if b.OriginPeerID != nil && *b.OriginPeerID == peerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memCatalog) DeleteBooksByOriginPeer(_ context.Context, peerID string) error {
	for id, b := range m.books {
		if b.OriginPeerID != nil && *b.OriginPeerID == peerID {
			delete(m.books, id)
		}
	}
	return nil
}

func (m *memCatalog) CreateCopy(_ context.Context, c *models.Copy) error {
	m.copies[c.ID] = *c
	return nil
}

func (m *memCatalog) GetCopy(_ context.Context, id string) (*models.Copy, error) {
	c, ok := m.copies[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &c, nil
}

func (m *memCatalog) UpdateCopy(_ context.Context, c *models.Copy) error {
	if _, ok := m.copies[c.ID]; !ok {
		return shared.ErrNotFound
	}
	m.copies[c.ID] = *c
	return nil
}

func (m *memCatalog) BorrowCopy(_ context.Context, id string, updatedAt string) error {
	if m.borrowCopyErr != nil {
		return m.borrowCopyErr
	}
	c, ok := m.copies[id]
	if !ok || c.Status != models.CopyAvailable {
		return shared.ErrCopyNotAvailable
	}
	at, err := models.ParseTime(updatedAt)
	if err != nil {
		return err
	}
	c.Status = models.CopyBorrowed
	c.UpdatedAt = at
	m.copies[id] = c
	return nil
}

func (m *memCatalog) DeleteCopy(_ context.Context, id string) error {
	if _, ok := m.copies[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.copies, id)
	return nil
}

func (m *memCatalog) FirstAvailableCopy(_ context.Context, bookID string) (*models.Copy, error) {
	var found []models.Copy
	for _, c := range m.copies {
		if c.BookID == bookID && c.Status == models.CopyAvailable && !c.IsTemporary {
			found = append(found, c)
		}
	}
	if len(found) == 0 {
		return nil, shared.ErrNotFound
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	return &found[0], nil
}

func (m *memCatalog) ListCopiesByBook(_ context.Context, bookID string) ([]models.Copy, error) {
	var out []models.Copy
	for _, c := range m.copies {
		if c.BookID == bookID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memCatalog) CountCopies(_ context.Context, bookID string) (int, error) {
	n := 0
	for _, c := range m.copies {
		if c.BookID == bookID {
			n++
		}
	}
	return n, nil
}

func (m *memCatalog) CountLendableCopies(_ context.Context, bookID string) (int, error) {
	n := 0
	for _, c := range m.copies {
		if c.BookID == bookID && !c.IsTemporary {
			n++
		}
	}
	return n, nil
}

type memLoans struct {
	loans    map[string]models.Loan
	contacts map[string]models.Contact
}

func newMemLoans() *memLoans {
	return &memLoans{loans: map[string]models.Loan{}, contacts: map[string]models.Contact{}}
}

func (m *memLoans) Create(_ context.Context, l *models.Loan) error {
	m.loans[l.ID] = *l
	return nil
}

func (m *memLoans) Get(_ context.Context, id string) (*models.Loan, error) {
	l, ok := m.loans[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &l, nil
}

func (m *memLoans) Update(_ context.Context, l *models.Loan) error {
	if _, ok := m.loans[l.ID]; !ok {
		return shared.ErrNotFound
	}
	m.loans[l.ID] = *l
	return nil
}

func (m *memLoans) Delete(_ context.Context, id string) error {
	if _, ok := m.loans[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.loans, id)
	return nil
}

func (m *memLoans) List(_ context.Context, status models.LoanStatus) ([]models.Loan, error) {
	var out []models.Loan
	for _, l := range m.loans {
		if status == "" || l.Status == status {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memLoans) ActiveLoanForCopy(_ context.Context, copyID string) (*models.Loan, error) {
	for _, l := range m.loans {
		if l.CopyID == copyID && l.Status == models.LoanActive {
			return &l, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memLoans) ActiveLoanForContactAndCopies(_ context.Context, contactID string, copyIDs []string) (*models.Loan, error) {
	ids := map[string]bool{}
	for _, id := range copyIDs {
		ids[id] = true
	}
	for _, l := range m.loans {
		if l.ContactID == contactID && l.Status == models.LoanActive && ids[l.CopyID] {
			return &l, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memLoans) GetContact(_ context.Context, id string) (*models.Contact, error) {
	c, ok := m.contacts[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &c, nil
}

func (m *memLoans) FindContactByName(_ context.Context, name, kind string) (*models.Contact, error) {
	for _, c := range m.contacts {
		if c.Name == name && c.Kind == kind {
			return &c, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memLoans) CreateContact(_ context.Context, c *models.Contact) error {
	m.contacts[c.ID] = *c
	return nil
}

type memPeers struct {
	peers map[string]models.Peer
}

func newMemPeers() *memPeers { return &memPeers{peers: map[string]models.Peer{}} }

func (m *memPeers) Create(_ context.Context, p *models.Peer) error {
	m.peers[p.ID] = *p
	return nil
}

func (m *memPeers) Get(_ context.Context, id string) (*models.Peer, error) {
	p, ok := m.peers[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &p, nil
}

func (m *memPeers) GetByURL(_ context.Context, url string) (*models.Peer, error) {
	for _, p := range m.peers {
		if p.URL == url {
			return &p, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memPeers) List(_ context.Context) ([]models.Peer, error) {
	var out []models.Peer
	for _, p := range m.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memPeers) Update(_ context.Context, p *models.Peer) error {
	if _, ok := m.peers[p.ID]; !ok {
		return shared.ErrNotFound
	}
	m.peers[p.ID] = *p
	return nil
}

func (m *memPeers) Touch(_ context.Context, id string, at string) error {
	p, ok := m.peers[id]
	if !ok {
		return shared.ErrNotFound
	}
	ts, err := models.ParseTime(at)
	if err != nil {
		return err
	}
	p.LastSeen = &ts
	m.peers[id] = p
	return nil
}

func (m *memPeers) Delete(_ context.Context, id string) error {
	if _, ok := m.peers[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.peers, id)
	return nil
}

type memRequests struct {
	inbound  map[string]models.BorrowRequest
	outgoing map[string]models.OutgoingRequest
}

func newMemRequests() *memRequests {
	return &memRequests{inbound: map[string]models.BorrowRequest{}, outgoing: map[string]models.OutgoingRequest{}}
}

func (m *memRequests) CreateInbound(_ context.Context, r *models.BorrowRequest) error {
	m.inbound[r.ID] = *r
	return nil
}

func (m *memRequests) GetInbound(_ context.Context, id string) (*models.BorrowRequest, error) {
	r, ok := m.inbound[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &r, nil
}

func (m *memRequests) ListInbound(_ context.Context) ([]models.BorrowRequest, error) {
	var out []models.BorrowRequest
	for _, r := range m.inbound {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRequests) UpdateInboundStatus(_ context.Context, id string, from, to models.RequestStatus, at string) error {
	r, ok := m.inbound[id]
	if !ok {
		return shared.ErrNotFound
	}
	if r.Status != from {
		return shared.ErrRequestNotPending
	}
	r.Status = to
	if ts, err := models.ParseTime(at); err == nil {
		r.UpdatedAt = ts
	}
	m.inbound[id] = r
	return nil
}

func (m *memRequests) DeleteInbound(_ context.Context, id string) error {
	if _, ok := m.inbound[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.inbound, id)
	return nil
}

func (m *memRequests) CreateOutgoing(_ context.Context, r *models.OutgoingRequest) error {
	m.outgoing[r.ID] = *r
	return nil
}

func (m *memRequests) GetOutgoing(_ context.Context, id string) (*models.OutgoingRequest, error) {
	r, ok := m.outgoing[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &r, nil
}

func (m *memRequests) ListOutgoing(_ context.Context) ([]models.OutgoingRequest, error) {
	var out []models.OutgoingRequest
	for _, r := range m.outgoing {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRequests) ListOutgoingByPeer(_ context.Context, peerID string) ([]models.OutgoingRequest, error) {
	var out []models.OutgoingRequest
	for _, r := range m.outgoing {
		if r.ToPeerID == peerID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRequests) UpdateOutgoingStatus(_ context.Context, id string, to models.RequestStatus, at string) error {
	r, ok := m.outgoing[id]
	if !ok {
		return shared.ErrNotFound
	}
	r.Status = to
	if ts, err := models.ParseTime(at); err == nil {
		r.UpdatedAt = ts
	}
	m.outgoing[id] = r
	return nil
}

func (m *memRequests) DeleteOutgoing(_ context.Context, id string) error {
	if _, ok := m.outgoing[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.outgoing, id)
	return nil
}

type memOpLog struct {
	entries []models.OperationEntry
	nextID  int64
}

func newMemOpLog() *memOpLog { return &memOpLog{nextID: 1} }

func (m *memOpLog) Append(_ context.Context, e *models.OperationEntry) error {
	e.ID = m.nextID
	m.nextID++
	if e.Status == "" {
		e.Status = models.OpStatusPending
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memOpLog) Get(_ context.Context, id int64) (*models.OperationEntry, error) {
	for i := range m.entries {
		if m.entries[i].ID == id {
			e := m.entries[i]
			return &e, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memOpLog) ListSince(_ context.Context, sinceID int64, limit int) ([]models.OperationEntry, error) {
	var out []models.OperationEntry
	for _, e := range m.entries {
		if e.ID > sinceID {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memOpLog) MarkStatus(_ context.Context, id int64, status models.OpStatus, applyErr string) error {
	for i := range m.entries {
		if m.entries[i].ID == id {
			m.entries[i].Status = status
			if applyErr != "" {
				m.entries[i].Error = &applyErr
			}
			return nil
		}
	}
	return shared.ErrNotFound
}

func (m *memOpLog) LatestDeleteAt(_ context.Context, entityType models.EntityType, entityID string) (string, error) {
	var newest string
	for _, e := range m.entries {
		if e.EntityType == entityType && e.EntityID == entityID && e.Operation == models.OpDelete {
			at := models.FormatTime(e.CreatedAt)
			if newest == "" || at > newest {
				newest = at
			}
		}
	}
	if newest == "" {
		return "", shared.ErrNotFound
	}
	return newest, nil
}

type memOperators struct {
	byName map[string]models.Operator
}

func newMemOperators() *memOperators { return &memOperators{byName: map[string]models.Operator{}} }

func (m *memOperators) Create(_ context.Context, op *models.Operator) error {
	m.byName[op.Username] = *op
	return nil
}

func (m *memOperators) GetByUsername(_ context.Context, username string) (*models.Operator, error) {
	op, ok := m.byName[username]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &op, nil
}

// fakeRM hands out the same in-memory repositories for every handle, so
// code running inside and outside WithTx sees one store.
type fakeRM struct {
	repomanager.RepositoryManager
	catalog   *memCatalog
	loans     *memLoans
	peers     *memPeers
	requests  *memRequests
	oplog     *memOpLog
	operators *memOperators
}

func newFakeRM() *fakeRM {
	return &fakeRM{
		catalog:   newMemCatalog(),
		loans:     newMemLoans(),
		peers:     newMemPeers(),
		requests:  newMemRequests(),
		oplog:     newMemOpLog(),
		operators: newMemOperators(),
	}
}

func (m *fakeRM) Catalog(dbx.DBTX) catalog.Repository     { return m.catalog }
func (m *fakeRM) Loans(dbx.DBTX) loans.Repository         { return m.loans }
func (m *fakeRM) Peers(dbx.DBTX) peers.Repository         { return m.peers }
func (m *fakeRM) Requests(dbx.DBTX) requests.Repository   { return m.requests }
func (m *fakeRM) OpLog(dbx.DBTX) oplog.Repository         { return m.oplog }
func (m *fakeRM) Operators(dbx.DBTX) operators.Repository { return m.operators }

// fakePeerClient records outbound calls and serves canned answers.
type fakePeerClient struct {
	config    *peerclient.RemoteConfig
	configErr error

	catalogue    []peerclient.RemoteBook
	catalogueErr error

	pushResp *peerclient.RequestStatus
	pushErr  error
	pushed   []peerclient.BorrowNotice

	pushedOps [][]models.OperationEntry
	pushOpErr error

	confirmed  []peerclient.LoanConfirmation
	confirmErr error

	returns   []peerclient.ReturnNotice
	returnErr error

	status    *peerclient.RequestStatus
	statusErr error
}

func (f *fakePeerClient) FetchConfig(context.Context, string) (*peerclient.RemoteConfig, error) {
	return f.config, f.configErr
}

func (f *fakePeerClient) FetchCatalogue(context.Context, string) ([]peerclient.RemoteBook, error) {
	return f.catalogue, f.catalogueErr
}

func (f *fakePeerClient) PushBorrowRequest(_ context.Context, _ string, notice peerclient.BorrowNotice) (*peerclient.RequestStatus, error) {
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	f.pushed = append(f.pushed, notice)
	return f.pushResp, nil
}

func (f *fakePeerClient) PushOperations(_ context.Context, _ string, entries []models.OperationEntry) error {
	if f.pushOpErr != nil {
		return f.pushOpErr
	}
	f.pushedOps = append(f.pushedOps, entries)
	return nil
}

func (f *fakePeerClient) ConfirmLoan(_ context.Context, _ string, conf peerclient.LoanConfirmation) error {
	if f.confirmErr != nil {
		return f.confirmErr
	}
	f.confirmed = append(f.confirmed, conf)
	return nil
}

func (f *fakePeerClient) NotifyReturn(_ context.Context, _ string, notice peerclient.ReturnNotice) error {
	if f.returnErr != nil {
		return f.returnErr
	}
	f.returns = append(f.returns, notice)
	return nil
}

func (f *fakePeerClient) FetchRequestStatus(context.Context, string, string) (*peerclient.RequestStatus, error) {
	return f.status, f.statusErr
}

// -------- helpers --------

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func discardLogger() logging.Logger {
	return logging.NewNop()
}
