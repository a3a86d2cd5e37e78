// Package directory talks to the external member directory. The directory
// only seeds members; none of the point logic depends on it.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Entry is what the directory knows about one account.
type Entry struct {
	AccountID string `json:"id"`
	Name      string `json:"displayName"`
	Email     string `json:"uniqueName"`
}

type listResponse struct {
	Value []Entry `json:"value"`
}

// Client calls the directory over HTTP JSON.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient builds a client for baseURL. The token is sent as a bearer credential.
func NewClient(baseURL, token string, timeout time.Duration, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid directory base url %q", baseURL)
	}
	c := &Client{
		baseURL:    u,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListAccounts returns every account of group.
func (c *Client) ListAccounts(ctx context.Context, group string) ([]Entry, error) {
	var resp listResponse
	if err := c.get(ctx, "list_accounts", []string{"groups", group, "accounts"}, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// Lookup returns one account of group.
func (c *Client) Lookup(ctx context.Context, group, accountID string) (Entry, error) {
	var entry Entry
	if err := c.get(ctx, "lookup", []string{"groups", group, "accounts", accountID}, &entry); err != nil {
		return Entry{}, err
	}
	if entry.Email == "" {
		return Entry{}, NewError(ErrorBadData, "lookup", "account has no email", nil)
	}
	if entry.AccountID == "" {
		entry.AccountID = accountID
	}
	return entry, nil
}

func (c *Client) get(ctx context.Context, op string, segments []string, dst any) error {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	// JoinPath expects escaped elements
	endpoint := c.baseURL.JoinPath(escaped...)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return NewError(ErrorInternal, op, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return NewError(ErrorTimeout, op, "request timed out", err)
		}
		return NewError(ErrorOutage, op, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return NewError(ErrorOutage, op, "read response", err)
	}
	if err := statusError(op, resp.StatusCode); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return NewError(ErrorBadData, op, "decode response", err)
	}
	return nil
}

func statusError(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewError(ErrorAuthentication, op, fmt.Sprintf("status %d", status), nil)
	case status == http.StatusNotFound:
		return NewError(ErrorNotFound, op, "account not found", nil)
	case status == http.StatusTooManyRequests:
		return NewError(ErrorRateLimited, op, "rate limited", nil)
	case status >= 500:
		return NewError(ErrorOutage, op, fmt.Sprintf("status %d", status), nil)
	default:
		return NewError(ErrorBadData, op, fmt.Sprintf("unexpected status %d", status), nil)
	}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
