// Package orderapi is the REST client for the intake order API, used by the
// bridge process to pull approved orders and report integration outcomes.
package orderapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ammonit/intake/internal/model"
)

// Client defines the order API operations the bridge uses.
type Client interface {
	// Authenticate performs the password grant and stores the bearer token
	// for subsequent calls.
	Authenticate(ctx context.Context) error
	// ListOrders returns orders in the given state, oldest first.
	ListOrders(ctx context.Context, state model.OrderState) ([]model.Order, error)
	// RecordOutcome reports one order's integration outcome.
	RecordOutcome(ctx context.Context, orderID string, outcome model.IntegrationOutcome) error
}

// TokenResponse is the body of POST /auth/token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// OutcomeRequest is the body of POST /orders/{id}/outcome.
type OutcomeRequest struct {
	Outcome string `json:"outcome"`
}

// APIError is returned when the order API responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("orderapi: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	baseURL  string
	username string
	password string
	token    string
	http     *http.Client
}

// NewClient creates an order API client.
func NewClient(baseURL, username, password string, opts ...Option) Client {
	c := &httpClient{
		baseURL:  baseURL,
		username: username,
		password: password,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Authenticate(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token",
		bytes.NewReader([]byte(form.Encode())))
	if err != nil {
		return eris.Wrap(err, "orderapi: create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tok TokenResponse
	if err := c.do(req, &tok); err != nil {
		return eris.Wrap(err, "orderapi: authenticate")
	}
	if tok.AccessToken == "" {
		return eris.New("orderapi: empty access token")
	}
	c.token = tok.AccessToken
	return nil
}

func (c *httpClient) ListOrders(ctx context.Context, state model.OrderState) ([]model.Order, error) {
	path := "/orders?state=" + url.QueryEscape(string(state))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, eris.Wrap(err, "orderapi: create list request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	var orders []model.Order
	if err := c.do(req, &orders); err != nil {
		return nil, eris.Wrap(err, "orderapi: list orders")
	}
	return orders, nil
}

func (c *httpClient) RecordOutcome(ctx context.Context, orderID string, outcome model.IntegrationOutcome) error {
	body, err := json.Marshal(OutcomeRequest{Outcome: string(outcome)})
	if err != nil {
		return eris.Wrap(err, "orderapi: marshal outcome")
	}

	path := fmt.Sprintf("/orders/%s/outcome", url.PathEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "orderapi: create outcome request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	if err := c.do(req, nil); err != nil {
		return eris.Wrap(err, fmt.Sprintf("orderapi: record outcome for %s", orderID))
	}
	return nil
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
