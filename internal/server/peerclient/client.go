// Package peerclient performs outbound HTTP calls to remote peers. All
// calls go through the hardened urlx client (no redirects, bounded
// timeout) and transient failures are retried with exponential backoff.
// Network calls never run inside a storage transaction.
package peerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/shelfmesh/shelfmesh/internal/server/models"
	"github.com/shelfmesh/shelfmesh/internal/shared"
	"github.com/shelfmesh/shelfmesh/internal/urlx"
)

// RemoteBook is the book-like record a peer advertises in its
// catalogue.
type RemoteBook struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	ISBN     *string `json:"isbn,omitempty"`
	Author   *string `json:"author,omitempty"`
	Summary  *string `json:"summary,omitempty"`
	CoverURL *string `json:"cover_url,omitempty"`
}

// RemoteConfig is the identity a peer exposes on /api/config.
type RemoteConfig struct {
	LibraryName string `json:"library_name"`
}

// BorrowNotice asks a peer to lend one of its books.
type BorrowNotice struct {
	FromName  string `json:"from_name"`
	FromURL   string `json:"from_url"`
	BookISBN  string `json:"book_isbn"`
	BookTitle string `json:"book_title"`
}

// LoanConfirmation tells the requester its borrow was granted.
type LoanConfirmation struct {
	ISBN       *string `json:"isbn,omitempty"`
	Title      string  `json:"title"`
	Author     *string `json:"author,omitempty"`
	CoverURL   *string `json:"cover_url,omitempty"`
	LenderName string  `json:"lender_name"`
	DueDate    string  `json:"due_date"`
}

// ReturnNotice tells the lender a borrowed book is coming back.
type ReturnNotice struct {
	FromURL   string `json:"from_url"`
	BookISBN  string `json:"book_isbn"`
	BookTitle string `json:"book_title"`
}

// RequestStatus is the minimal view a requester polls.
type RequestStatus struct {
	ID     string               `json:"id"`
	Status models.RequestStatus `json:"status"`
}

type Client struct {
	http    *http.Client
	retries uint64
}

func New(timeout time.Duration) *Client {
	return &Client{http: urlx.SafeClient(timeout), retries: 2}
}

func (c *Client) backoff() retry.Backoff {
	return retry.WithMaxRetries(c.retries, retry.NewExponential(200*time.Millisecond))
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	return retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%w: %v", shared.ErrPeerUnreachable, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return retry.RetryableError(fmt.Errorf("%w: %s returned %s", shared.ErrPeerUnreachable, url, resp.Status))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: bad response from %s: %v", shared.ErrPeerUnreachable, url, err)
		}
		return nil
	})
}

// postJSON posts in and, when out is non-nil, decodes the peer's
// response into it.
func (c *Client) postJSON(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%w: %v", shared.ErrPeerUnreachable, err))
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()

		if resp.StatusCode >= http.StatusInternalServerError {
			return retry.RetryableError(fmt.Errorf("%w: %s returned %s", shared.ErrPeerUnreachable, url, resp.Status))
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("%w: %s returned %s", shared.ErrPeerUnreachable, url, resp.Status)
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("%w: bad response from %s: %v", shared.ErrPeerUnreachable, url, err)
			}
		}
		return nil
	})
}

// FetchConfig reads the peer's advertised identity.
func (c *Client) FetchConfig(ctx context.Context, peerURL string) (*RemoteConfig, error) {
	var cfg RemoteConfig
	if err := c.getJSON(ctx, peerURL+"/api/config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FetchCatalogue reads the peer's full advertised book list.
func (c *Client) FetchCatalogue(ctx context.Context, peerURL string) ([]RemoteBook, error) {
	var out struct {
		Books []RemoteBook `json:"books"`
	}
	if err := c.getJSON(ctx, peerURL+"/api/books", &out); err != nil {
		return nil, err
	}
	return out.Books, nil
}

// PushBorrowRequest delivers a borrow notice to the lending peer and
// returns the id the peer assigned to the request, for later polling.
func (c *Client) PushBorrowRequest(ctx context.Context, peerURL string, notice BorrowNotice) (*RequestStatus, error) {
	var st RequestStatus
	if err := c.postJSON(ctx, peerURL+"/api/peers/requests", notice, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// PushOperations replicates operation-log entries to the peer.
func (c *Client) PushOperations(ctx context.Context, peerURL string, entries []models.OperationEntry) error {
	body := struct {
		Operations []models.OperationEntry `json:"operations"`
	}{Operations: entries}
	return c.postJSON(ctx, peerURL+"/api/peers/operations", body, nil)
}

// ConfirmLoan notifies the requesting peer its request was accepted.
func (c *Client) ConfirmLoan(ctx context.Context, peerURL string, conf LoanConfirmation) error {
	return c.postJSON(ctx, peerURL+"/api/peers/loans/confirm", conf, nil)
}

// NotifyReturn tells the lender the borrowed book was handed back.
func (c *Client) NotifyReturn(ctx context.Context, peerURL string, notice ReturnNotice) error {
	return c.postJSON(ctx, peerURL+"/api/peers/loans/return", notice, nil)
}

// SearchPeer runs a catalogue search on the remote peer. Used by the
// proxy-search endpoint; results are never cached.
func (c *Client) SearchPeer(ctx context.Context, peerURL, query string) ([]RemoteBook, error) {
	body := struct {
		Query string `json:"query"`
	}{Query: query}
	var out struct {
		Books []RemoteBook `json:"books"`
	}
	if err := c.postJSON(ctx, peerURL+"/api/peers/search", body, &out); err != nil {
		return nil, err
	}
	return out.Books, nil
}

// FetchRequestStatus polls the lender's decision on a request.
func (c *Client) FetchRequestStatus(ctx context.Context, peerURL, requestID string) (*RequestStatus, error) {
	var st RequestStatus
	if err := c.getJSON(ctx, peerURL+"/api/peers/requests/"+requestID+"/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}
