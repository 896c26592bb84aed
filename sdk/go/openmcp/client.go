// Package openmcp is a small Go client for the OpenMCP intent orchestration REST API.
package openmcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// WalletHeader carries the wallet address bound to the session token.
const WalletHeader = "X-Wallet-Address"

// Client wraps the HTTP interactions with the OpenMCP REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
	wallet      string
}

// Session is the server side view of a wallet session.
type Session struct {
	Wallet       string              `json:"wallet"`
	Token        string              `json:"token,omitempty"`
	Roles        []string            `json:"roles"`
	Grants       []string            `json:"grants"`
	Connected    []string            `json:"connected"`
	Capabilities map[string][]string `json:"capabilities"`
	ExpiresAt    time.Time           `json:"expires_at"`
}

// Command is a free-text command, or an explicit endpoint call when Target is set.
type Command struct {
	Utterance string         `json:"utterance,omitempty"`
	Target    string         `json:"target,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Narrate   bool           `json:"narrate,omitempty"`
}

// Step is the outcome of one executed endpoint.
type Step struct {
	Endpoint      string         `json:"endpoint"`
	Status        string         `json:"status"`
	Message       string         `json:"message"`
	Data          map[string]any `json:"data,omitempty"`
	Authorization map[string]any `json:"authorization,omitempty"`
	TicketID      string         `json:"ticket_id,omitempty"`
	Error         *ErrorBody     `json:"error,omitempty"`
}

// Narration is the speakable rendering of a response message.
type Narration struct {
	Text string `json:"text"`
	SSML string `json:"ssml"`
}

// Response is the envelope returned for every command.
type Response struct {
	OK        bool       `json:"ok"`
	RequestID string     `json:"request_id"`
	Utterance string     `json:"utterance"`
	Intent    string     `json:"intent"`
	Feature   string     `json:"feature,omitempty"`
	Source    string     `json:"source,omitempty"`
	Message   string     `json:"message"`
	Steps     []Step     `json:"steps,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
	Narration *Narration `json:"narration,omitempty"`
}

// ErrorBody is a classified failure.
type ErrorBody struct {
	Code          string   `json:"code"`
	Category      string   `json:"category"`
	Message       string   `json:"message"`
	Retryable     bool     `json:"retryable,omitempty"`
	MissingScopes []string `json:"missing_scopes,omitempty"`
	InvalidArgs   []string `json:"invalid_args,omitempty"`
}

// Endpoint describes one catalog capability.
type Endpoint struct {
	Key         string            `json:"key"`
	Group       string            `json:"group"`
	Description string            `json:"description,omitempty"`
	Args        map[string]string `json:"args,omitempty"`
	Scopes      []string          `json:"scopes"`
}

// Ticket is a step held for manual review.
type Ticket struct {
	ID       string         `json:"id"`
	Wallet   string         `json:"wallet"`
	Endpoint string         `json:"endpoint"`
	Args     map[string]any `json:"args,omitempty"`
	Reason   string         `json:"reason"`
	Status   string         `json:"status"`
	Message  string         `json:"message,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Category   string `json:"category"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("openmcp api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("openmcp api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the OpenMCP API. When httpClient is
// nil, a default client with a short timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// StartSession opens a session for the wallet and stores its token for
// subsequent calls.
func (c *Client) StartSession(ctx context.Context, wallet string, roles ...string) (Session, error) {
	var out struct {
		Session Session `json:"session"`
	}
	payload := map[string]any{"wallet": wallet, "roles": roles}
	if err := c.send(ctx, http.MethodPost, "/api/v1/sessions", payload, &out, false); err != nil {
		return Session{}, err
	}
	c.SetCredentials(out.Session.Token, out.Session.Wallet)
	return out.Session, nil
}

// Grant adds consent scopes to the current session.
func (c *Client) Grant(ctx context.Context, scopes ...string) (Session, error) {
	return c.updateSession(ctx, "grant", map[string]any{"scopes": scopes})
}

// Revoke removes consent scopes from the current session.
func (c *Client) Revoke(ctx context.Context, scopes ...string) (Session, error) {
	return c.updateSession(ctx, "revoke", map[string]any{"scopes": scopes})
}

// Connect connects capability groups, granting extra scopes at the same time.
func (c *Client) Connect(ctx context.Context, groups []string, scopes []string) (Session, error) {
	return c.updateSession(ctx, "connect", map[string]any{"groups": groups, "scopes": scopes})
}

func (c *Client) updateSession(ctx context.Context, action string, payload any) (Session, error) {
	var out struct {
		Session Session `json:"session"`
	}
	if err := c.send(ctx, http.MethodPost, "/api/v1/sessions/me/"+action, payload, &out, true); err != nil {
		return Session{}, err
	}
	return out.Session, nil
}

// EndSession terminates the current session and forgets its token.
func (c *Client) EndSession(ctx context.Context) error {
	if err := c.send(ctx, http.MethodDelete, "/api/v1/sessions/me", nil, nil, true); err != nil {
		return err
	}
	c.SetCredentials("", "")
	return nil
}

// Run executes a command. Pipeline failures are reported inside the envelope,
// not as an error.
func (c *Client) Run(ctx context.Context, cmd Command) (Response, error) {
	var out Response
	if err := c.send(ctx, http.MethodPost, "/api/v1/command", cmd, &out, true); err != nil {
		return Response{}, err
	}
	return out, nil
}

// Endpoints lists catalog endpoints, optionally filtered by scope and group.
func (c *Client) Endpoints(ctx context.Context, scope, group string) ([]Endpoint, error) {
	q := url.Values{}
	if scope != "" {
		q.Set("scope", scope)
	}
	if group != "" {
		q.Set("group", group)
	}
	var out struct {
		Endpoints []Endpoint `json:"endpoints"`
	}
	endpoint := "/api/v1/catalog"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	if err := c.send(ctx, http.MethodGet, endpoint, nil, &out, true); err != nil {
		return nil, err
	}
	return out.Endpoints, nil
}

// Reviews lists review tickets visible to the session.
func (c *Client) Reviews(ctx context.Context, status string) ([]Ticket, error) {
	endpoint := "/api/v1/reviews"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var out struct {
		Tickets []Ticket `json:"tickets"`
	}
	if err := c.send(ctx, http.MethodGet, endpoint, nil, &out, true); err != nil {
		return nil, err
	}
	return out.Tickets, nil
}

// Approve approves a held step and runs it.
func (c *Client) Approve(ctx context.Context, id string) (Ticket, error) {
	return c.decide(ctx, id, "approve", nil)
}

// Reject rejects a held step.
func (c *Client) Reject(ctx context.Context, id, reason string) (Ticket, error) {
	return c.decide(ctx, id, "reject", map[string]string{"reason": reason})
}

func (c *Client) decide(ctx context.Context, id, decision string, payload any) (Ticket, error) {
	var out struct {
		Ticket Ticket `json:"ticket"`
	}
	endpoint := fmt.Sprintf("/api/v1/reviews/%s/%s", url.PathEscape(id), decision)
	if err := c.send(ctx, http.MethodPost, endpoint, payload, &out, true); err != nil {
		return Ticket{}, err
	}
	return out.Ticket, nil
}

// PutCredential stores an encrypted third party credential for the wallet.
func (c *Client) PutCredential(ctx context.Context, provider string, bundle map[string]any) error {
	return c.send(ctx, http.MethodPut, "/api/v1/credentials/"+url.PathEscape(provider), bundle, nil, true)
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetCredentials overrides the stored token and wallet.
func (c *Client) SetCredentials(token, wallet string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
	c.wallet = wallet
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload any, out any, withAuth bool) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, endpoint, body, withAuth)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader, withAuth bool) (*http.Request, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	ref.Path = path.Join(c.baseURL.Path, ref.Path)
	u := c.baseURL.ResolveReference(ref)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if withAuth {
		c.mu.RLock()
		token, wallet := c.accessToken, c.wallet
		c.mu.RUnlock()
		if token == "" {
			return nil, errors.New("openmcp: no session, call StartSession first")
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set(WalletHeader, wallet)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
