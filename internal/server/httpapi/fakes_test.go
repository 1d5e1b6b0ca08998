package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shelfmesh/shelfmesh/internal/logging"
	"github.com/shelfmesh/shelfmesh/internal/server/config"
	"github.com/shelfmesh/shelfmesh/internal/server/models"
	"github.com/shelfmesh/shelfmesh/internal/server/peerclient"
	"github.com/shelfmesh/shelfmesh/internal/shared"
)

const testToken = "good-token"

type fakeRegistry struct {
	peers      map[string]models.Peer
	received   []string
	connectErr error
}

func (f *fakeRegistry) Connect(_ context.Context, name, rawURL string, publicKey *string, autoApprove bool) (*models.Peer, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	p := models.Peer{ID: "p-new", Name: name, URL: rawURL, PublicKey: publicKey, AutoApprove: autoApprove}
	if f.peers == nil {
		f.peers = map[string]models.Peer{}
	}
	f.peers[p.ID] = p
	return &p, nil
}

func (f *fakeRegistry) ReceiveConnection(_ context.Context, name, rawURL string) (*models.Peer, error) {
	if name == "" {
		return nil, shared.ErrValidation
	}
	f.received = append(f.received, rawURL)
	return &models.Peer{ID: "p-in", Name: name, URL: rawURL}, nil
}

func (f *fakeRegistry) Get(_ context.Context, id string) (*models.Peer, error) {
	p, ok := f.peers[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &p, nil
}

func (f *fakeRegistry) List(_ context.Context) ([]models.Peer, error) {
	out := []models.Peer{}
	for _, p := range f.peers {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeRegistry) SetAutoApprove(_ context.Context, id string, autoApprove bool) error {
	p, ok := f.peers[id]
	if !ok {
		return shared.ErrNotFound
	}
	p.AutoApprove = autoApprove
	f.peers[id] = p
	return nil
}

func (f *fakeRegistry) Delete(_ context.Context, id string) error {
	if _, ok := f.peers[id]; !ok {
		return shared.ErrNotFound
	}
	delete(f.peers, id)
	return nil
}

type fakeSync struct {
	applied []models.OperationEntry
	entries []models.OperationEntry
}

func (f *fakeSync) ApplyRemote(_ context.Context, entry *models.OperationEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	f.applied = append(f.applied, *entry)
	return nil
}

func (f *fakeSync) ListSince(_ context.Context, sinceID int64, limit int) ([]models.OperationEntry, error) {
	var out []models.OperationEntry
	for _, e := range f.entries {
		if e.ID > sinceID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeInventory struct {
	local   []models.Book
	cached  map[string][]models.Book
	syncN   int
	syncErr error
}

func (f *fakeInventory) SyncWithPeer(_ context.Context, peerID string) (int, error) {
	if f.syncErr != nil {
		return 0, f.syncErr
	}
	return f.syncN, nil
}

func (f *fakeInventory) ListPeerBooks(_ context.Context, peerID string) ([]models.Book, error) {
	return f.cached[peerID], nil
}

func (f *fakeInventory) LocalBooks(_ context.Context) ([]models.Book, error) {
	return f.local, nil
}

func (f *fakeInventory) Search(_ context.Context, query string) ([]models.Book, error) {
	var out []models.Book
	for _, b := range f.local {
		if query == "" || b.Title == query {
			out = append(out, b)
		}
	}
	for _, books := range f.cached {
		for _, b := range books {
			if query == "" || b.Title == query {
				out = append(out, b)
			}
		}
	}
	return out, nil
}

type fakeBorrow struct {
	inbound    map[string]models.BorrowRequest
	outgoing   map[string]models.OutgoingRequest
	receiveErr error
	acceptErr  error
	returned   []string
}

func (f *fakeBorrow) Receive(_ context.Context, notice peerclient.BorrowNotice) (*models.BorrowRequest, error) {
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	if notice.BookISBN == "" && notice.BookTitle == "" {
		return nil, shared.ErrValidation
	}
	req := models.BorrowRequest{ID: "req-1", BookISBN: notice.BookISBN, BookTitle: notice.BookTitle, Status: models.RequestPending}
	if f.inbound == nil {
		f.inbound = map[string]models.BorrowRequest{}
	}
	f.inbound[req.ID] = req
	return &req, nil
}

func (f *fakeBorrow) Accept(_ context.Context, requestID string) (*models.Loan, error) {
	if f.acceptErr != nil {
		return nil, f.acceptErr
	}
	req, ok := f.inbound[requestID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	req.Status = models.RequestAccepted
	f.inbound[requestID] = req
	return &models.Loan{ID: "loan-1", CopyID: "c1", Status: models.LoanActive}, nil
}

func (f *fakeBorrow) Reject(_ context.Context, requestID string) error {
	req, ok := f.inbound[requestID]
	if !ok {
		return shared.ErrNotFound
	}
	if req.Status != models.RequestPending {
		return shared.ErrRequestNotPending
	}
	req.Status = models.RequestRejected
	f.inbound[requestID] = req
	return nil
}

func (f *fakeBorrow) ListInbound(_ context.Context) ([]models.BorrowRequest, error) {
	out := []models.BorrowRequest{}
	for _, r := range f.inbound {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeBorrow) GetInbound(_ context.Context, id string) (*models.BorrowRequest, error) {
	r, ok := f.inbound[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &r, nil
}

func (f *fakeBorrow) RequestBook(_ context.Context, peerID, isbn, title string) (*models.OutgoingRequest, error) {
	if isbn == "" && title == "" {
		return nil, shared.ErrValidation
	}
	remote := "remote-1"
	out := models.OutgoingRequest{ID: "out-1", ToPeerID: peerID, RemoteID: &remote, BookISBN: isbn, BookTitle: title, Status: models.RequestPending}
	if f.outgoing == nil {
		f.outgoing = map[string]models.OutgoingRequest{}
	}
	f.outgoing[out.ID] = out
	return &out, nil
}

func (f *fakeBorrow) ListOutgoing(_ context.Context) ([]models.OutgoingRequest, error) {
	out := []models.OutgoingRequest{}
	for _, r := range f.outgoing {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeBorrow) PollOutgoing(_ context.Context, requestID string) (*models.OutgoingRequest, error) {
	r, ok := f.outgoing[requestID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &r, nil
}

func (f *fakeBorrow) ReceiveConfirmation(_ context.Context, conf peerclient.LoanConfirmation) (*models.Copy, error) {
	if conf.Title == "" {
		return nil, shared.ErrValidation
	}
	return &models.Copy{ID: "tmp-1", Status: models.CopyBorrowed, IsTemporary: true}, nil
}

func (f *fakeBorrow) ReceiveReturn(_ context.Context, notice peerclient.ReturnNotice) (*models.Loan, error) {
	if notice.FromURL == "" {
		return nil, shared.ErrValidation
	}
	return &models.Loan{ID: "loan-1", Status: models.LoanReturned}, nil
}

func (f *fakeBorrow) ReturnBorrowed(_ context.Context, copyID string) error {
	f.returned = append(f.returned, copyID)
	return nil
}

type fakeLoans struct {
	created   []models.Loan
	createErr error
}

func (f *fakeLoans) CreateLoan(_ context.Context, copyID, contactID string, dueDate time.Time) (*models.Loan, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	loan := models.Loan{ID: "loan-1", CopyID: copyID, ContactID: contactID, DueDate: dueDate, Status: models.LoanActive}
	f.created = append(f.created, loan)
	return &loan, nil
}

func (f *fakeLoans) ReturnLoan(_ context.Context, loanID string) (*models.Loan, error) {
	if loanID == "missing" {
		return nil, shared.ErrNotFound
	}
	return &models.Loan{ID: loanID, Status: models.LoanReturned}, nil
}

func (f *fakeLoans) List(_ context.Context, status models.LoanStatus) ([]models.Loan, error) {
	return f.created, nil
}

type fakeRepl struct {
	pushed  int
	pushErr error
}

func (f *fakeRepl) PushToPeer(_ context.Context, peerID string, sinceID int64) (int, error) {
	if f.pushErr != nil {
		return 0, f.pushErr
	}
	return f.pushed, nil
}

type fakeOperators struct{}

func (f *fakeOperators) Login(_ context.Context, username, password string) (string, error) {
	if username == "admin" && password == "hunter2" {
		return testToken, nil
	}
	return "", shared.ErrUnauthorized
}

func (f *fakeOperators) Authorize(token string) (string, error) {
	if token != testToken {
		return "", shared.ErrInvalidToken
	}
	return "op-1", nil
}

type fakeExport struct {
	key string
	err error
}

func (f *fakeExport) UploadSnapshot(_ context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.key, nil
}

func (f *fakeExport) GetPresignedGetURL(_ context.Context, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "http://storage.example/" + key, nil
}

type fakeSearcher struct {
	books []peerclient.RemoteBook
	err   error
	asked []string
}

func (f *fakeSearcher) SearchPeer(_ context.Context, peerURL, query string) ([]peerclient.RemoteBook, error) {
	f.asked = append(f.asked, peerURL+"?"+query)
	if f.err != nil {
		return nil, f.err
	}
	return f.books, nil
}

type testEnv struct {
	registry  *fakeRegistry
	sync      *fakeSync
	inventory *fakeInventory
	borrow    *fakeBorrow
	loans     *fakeLoans
	repl      *fakeRepl
	export    *fakeExport
	searcher  *fakeSearcher
	srv       *Server
}

func newTestEnv() *testEnv {
	cfg := &config.Config{LibraryName: "Home Library", BaseURL: "http://home.example"}
	env := &testEnv{
		registry:  &fakeRegistry{peers: map[string]models.Peer{}},
		sync:      &fakeSync{},
		inventory: &fakeInventory{cached: map[string][]models.Book{}},
		borrow:    &fakeBorrow{inbound: map[string]models.BorrowRequest{}, outgoing: map[string]models.OutgoingRequest{}},
		loans:     &fakeLoans{},
		repl:      &fakeRepl{},
		export:    &fakeExport{key: "snapshots/2026/08/28/x.json"},
		searcher:  &fakeSearcher{},
	}
	env.srv = NewServer(cfg, env.registry, env.sync, env.inventory, env.borrow,
		env.loans, env.repl, env.operators(), env.export, env.searcher, logging.NewNop())
	return env
}

func (e *testEnv) operators() OperatorAPI { return &fakeOperators{} }

// do runs one request through the mux and returns the recorder.
func (e *testEnv) do(t *testing.T, method, target string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	w := httptest.NewRecorder()
	e.srv.Routes().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func requireStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, w.Code, w.Body.String())
}
