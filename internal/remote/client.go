// Package remote implements the store ports against the hosted TransactionStore
// HTTP API. The upstream session cookie travels inside our own session token
// and is replayed on every call.
package remote

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cointraq/internal/core"
	"cointraq/internal/ports"
)

var (
	_ ports.TransactionStore = (*Client)(nil)
	_ ports.Authenticator    = (*Client)(nil)
)

type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// New returns a client for the API rooted at baseURL.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid remote base url %q", baseURL)
	}
	return &Client{baseURL: u, http: newHTTPClientWithPooling(timeout)}, nil
}

// NewWithHTTPClient is used by tests to point at an httptest server.
func NewWithHTTPClient(baseURL string, hc *http.Client) (*Client, error) {
	c, err := New(baseURL, 0)
	if err != nil {
		return nil, err
	}
	c.http = hc
	return c, nil
}

func newHTTPClientWithPooling(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

type wireTransaction struct {
	MongoID string          `json:"_id"`
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Source  string          `json:"source"`
	Amount  decimal.Decimal `json:"amount"`
	Date    string          `json:"date"`
}

func (w wireTransaction) toCore() core.Transaction {
	id := w.MongoID
	if id == "" {
		id = w.ID
	}
	return core.Transaction{
		ID:     id,
		Kind:   core.Kind(strings.ToLower(w.Type)),
		Source: w.Source,
		Amount: w.Amount,
		Date:   w.Date,
	}
}

type transactionsResponse struct {
	Transactions []wireTransaction `json:"transactions"`
}

type transactionResponse struct {
	Transaction *wireTransaction `json:"transaction"`
}

type userResponse struct {
	User struct {
		MongoID  string `json:"_id"`
		ID       string `json:"id"`
		Name     string `json:"name"`
		FullName string `json:"fullName"`
		Email    string `json:"email"`
	} `json:"user"`
}

type messageResponse struct {
	Msg string `json:"msg"`
}

type transactionBody struct {
	Source string          `json:"source"`
	Amount decimal.Decimal `json:"amount"`
	Date   string          `json:"date"`
}

// Register implements ports.Authenticator
func (c *Client) Register(ctx context.Context, name, email, password string) (core.Principal, error) {
	email = core.NormalizeEmail(email)
	if err := core.ValidateCredentials(email, password); err != nil {
		return core.Principal{}, err
	}
	body := map[string]string{"fullName": strings.TrimSpace(name), "email": email, "password": password}
	resp, err := c.do(ctx, core.Principal{}, http.MethodPost, "/", nil, body)
	if err != nil {
		if errors.Is(err, core.ErrInvalidInput) {
			return core.Principal{}, fmt.Errorf("%w: registration rejected", core.ErrConflict)
		}
		return core.Principal{}, err
	}
	session := sessionFrom(resp)
	resp.Body.Close()
	if session == "" {
		return c.Login(ctx, email, password)
	}
	return c.principal(ctx, email, session), nil
}

// Login implements ports.Authenticator
func (c *Client) Login(ctx context.Context, email, password string) (core.Principal, error) {
	email = core.NormalizeEmail(email)
	body := map[string]string{"email": email, "password": password}
	resp, err := c.do(ctx, core.Principal{}, http.MethodPost, "/login", nil, body)
	if err != nil {
		if errors.Is(err, core.ErrInvalidInput) {
			return core.Principal{}, core.ErrUnauthorized
		}
		return core.Principal{}, err
	}
	session := sessionFrom(resp)
	resp.Body.Close()
	if session == "" {
		return core.Principal{}, fmt.Errorf("login: upstream set no session cookie")
	}
	return c.principal(ctx, email, session), nil
}

// principal resolves the upstream user id, falling back to the email.
func (c *Client) principal(ctx context.Context, email, session string) core.Principal {
	p := core.Principal{UserID: email, Email: email, UpstreamSession: session}
	u, err := c.Status(ctx, p)
	if err != nil {
		slog.WarnContext(ctx, "Could not resolve upstream user, using email as id", "error", err)
		return p
	}
	if u.ID != "" {
		p.UserID = u.ID
	}
	return p
}

// Status implements ports.Authenticator
func (c *Client) Status(ctx context.Context, p core.Principal) (core.User, error) {
	if p.UpstreamSession == "" {
		return core.User{}, core.ErrUnauthorized
	}
	var out userResponse
	if err := c.getJSON(ctx, p, "/getUser", nil, &out); err != nil {
		return core.User{}, err
	}
	id := cmp.Or(out.User.MongoID, out.User.ID)
	return core.User{
		ID:    id,
		Name:  cmp.Or(out.User.Name, out.User.FullName),
		Email: cmp.Or(out.User.Email, p.Email),
	}, nil
}

// Logout implements ports.Authenticator
func (c *Client) Logout(ctx context.Context, p core.Principal) error {
	if p.UpstreamSession == "" {
		return nil
	}
	resp, err := c.do(ctx, p, http.MethodPost, "/logout", nil, struct{}{})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// List implements ports.TransactionReader. The unfiltered list comes from the
// dashboard endpoint; a range is resolved upstream per kind and merged newest
// first.
func (c *Client) List(ctx context.Context, p core.Principal, f core.RangeFilter) ([]core.Transaction, error) {
	if f.Kind == "" || f.Kind == core.RangeAll {
		var out transactionsResponse
		if err := c.getJSON(ctx, p, "/dashboard", nil, &out); err != nil {
			return nil, err
		}
		return toCore(out.Transactions), nil
	}

	var merged []core.Transaction
	for _, kind := range core.Kinds() {
		var out transactionsResponse
		if err := c.getJSON(ctx, p, "/transaction/"+kind.String(), f.Query(), &out); err != nil {
			return nil, err
		}
		merged = append(merged, toCore(out.Transactions)...)
	}
	slices.SortStableFunc(merged, func(a, b core.Transaction) int {
		return strings.Compare(b.DayString(), a.DayString())
	})
	return merged, nil
}

// Get implements ports.TransactionReader. The API has no single-record read,
// so the record is looked up in the full list.
func (c *Client) Get(ctx context.Context, p core.Principal, id string) (core.Transaction, error) {
	all, err := c.List(ctx, p, core.RangeFilter{Kind: core.RangeAll})
	if err != nil {
		return core.Transaction{}, err
	}
	for _, tx := range all {
		if tx.ID == id {
			return tx, nil
		}
	}
	return core.Transaction{}, core.ErrNotFound
}

// Create implements ports.TransactionWriter
func (c *Client) Create(ctx context.Context, p core.Principal, in core.TransactionInput) (core.Transaction, error) {
	if err := in.Validate(); err != nil {
		return core.Transaction{}, err
	}
	tx := in.Transaction("")
	resp, err := c.do(ctx, p, http.MethodPost, "/transaction/"+in.Kind.String(), nil, transactionBody{
		Source: tx.Source,
		Amount: tx.Amount,
		Date:   tx.Date,
	})
	if err != nil {
		return core.Transaction{}, err
	}
	defer resp.Body.Close()
	var out transactionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.Transaction != nil {
		return out.Transaction.toCore(), nil
	}
	return tx, nil
}

// Update implements ports.TransactionWriter
func (c *Client) Update(ctx context.Context, p core.Principal, id string, in core.TransactionInput) (core.Transaction, error) {
	current, err := c.Get(ctx, p, id)
	if err != nil {
		return core.Transaction{}, err
	}
	in.Kind = current.Kind
	if err := in.Validate(); err != nil {
		return core.Transaction{}, err
	}
	tx := in.Transaction(id)
	resp, err := c.do(ctx, p, http.MethodPut, "/transaction/edit/"+url.PathEscape(id), nil, transactionBody{
		Source: tx.Source,
		Amount: tx.Amount,
		Date:   tx.Date,
	})
	if err != nil {
		return core.Transaction{}, err
	}
	resp.Body.Close()
	return tx, nil
}

// Delete implements ports.TransactionWriter
func (c *Client) Delete(ctx context.Context, p core.Principal, id string) error {
	resp, err := c.do(ctx, p, http.MethodDelete, "/transaction/delete/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var out messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.Msg != "" {
		slog.DebugContext(ctx, "Upstream delete", "id", id, "msg", out.Msg)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, p core.Principal, path string, q url.Values, out any) error {
	resp, err := c.do(ctx, p, http.MethodGet, path, q, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// do sends one request and maps non-2xx statuses onto core errors. The caller
// closes the body of a successful response.
func (c *Client) do(ctx context.Context, p core.Principal, method, path string, q url.Values, body any) (*http.Response, error) {
	u := c.baseURL.JoinPath(path)
	if q != nil {
		u.RawQuery = q.Encode()
	}

	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s body: %w", path, err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.UpstreamSession != "" {
		req.Header.Set("Cookie", p.UpstreamSession)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	slog.DebugContext(ctx, "Upstream call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	msg := upstreamMessage(resp.Body)
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return nil, core.InvalidInput("upstream rejected %s %s: %s", method, path, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, core.ErrUnauthorized
	case http.StatusNotFound:
		return nil, core.ErrNotFound
	case http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", core.ErrConflict, msg)
	}
	return nil, fmt.Errorf("%s %s: upstream status %d: %s", method, path, resp.StatusCode, msg)
}

func upstreamMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var m messageResponse
	if json.Unmarshal(raw, &m) == nil && m.Msg != "" {
		return m.Msg
	}
	return strings.TrimSpace(string(raw))
}

// sessionFrom turns the response cookies into a Cookie header value.
func sessionFrom(resp *http.Response) string {
	var parts []string
	for _, ck := range resp.Cookies() {
		if ck.Value == "" || ck.MaxAge < 0 {
			continue
		}
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	return strings.Join(parts, "; ")
}

func toCore(in []wireTransaction) []core.Transaction {
	out := make([]core.Transaction, len(in))
	for i, w := range in {
		out[i] = w.toCore()
	}
	return out
}
