// Package graphmail provides Microsoft Graph mailbox access: message
// listing, full message fetch with attachments, and the OAuth code flow
// used to connect an account.
package graphmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Default base URL for the Microsoft Graph v1.0 API.
const defaultBaseURL = "https://graph.microsoft.com/v1.0"

// Client defines the Graph mailbox operations the ingester uses.
type Client interface {
	// ListMessages returns up to limit inbox message summaries, newest first.
	ListMessages(ctx context.Context, limit int) ([]MessageSummary, error)
	// GetMessage fetches one message with its attachments expanded.
	GetMessage(ctx context.Context, messageID string) (*Message, error)
}

// MessageSummary is one entry of an inbox listing.
type MessageSummary struct {
	ID         string
	Subject    string
	From       string
	ReceivedAt time.Time
}

// Message is a fully fetched message.
type Message struct {
	ID          string
	Subject     string
	From        string
	BodyText    string
	ReceivedAt  time.Time
	Attachments []Attachment
}

// Attachment is one file attached to a message, content decoded.
type Attachment struct {
	Name        string
	ContentType string
	Content     []byte
}

// APIError is returned when Graph responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graphmail: HTTP %d: %s", e.StatusCode, e.Body)
}

// TokenSource supplies a bearer token for each request. Implementations
// handle caching and refresh.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token. Test use mostly.
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error) { return string(t), nil }

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets a per-second rate limit for Graph calls. A burst equal
// to the integer portion of rps is allowed.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	tokens  TokenSource
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Graph mail client for one connected mailbox.
func NewClient(tokens TokenSource, opts ...Option) Client {
	c := &httpClient{
		tokens:  tokens,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// graphMessage is the wire shape of a Graph message resource, narrowed to
// the fields the ingester reads.
type graphMessage struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
	Body             struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	Attachments []graphAttachment `json:"attachments"`
}

type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

type listResponse struct {
	Value []graphMessage `json:"value"`
}

func (c *httpClient) ListMessages(ctx context.Context, limit int) ([]MessageSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	q := url.Values{}
	q.Set("$top", fmt.Sprintf("%d", limit))
	q.Set("$orderby", "receivedDateTime desc")
	q.Set("$select", "id,subject,from,receivedDateTime")

	var resp listResponse
	if err := c.get(ctx, "/me/mailFolders/inbox/messages?"+q.Encode(), &resp); err != nil {
		return nil, eris.Wrap(err, "graphmail: list messages")
	}

	summaries := make([]MessageSummary, 0, len(resp.Value))
	for _, m := range resp.Value {
		summaries = append(summaries, MessageSummary{
			ID:         m.ID,
			Subject:    m.Subject,
			From:       m.From.EmailAddress.Address,
			ReceivedAt: m.ReceivedDateTime,
		})
	}
	return summaries, nil
}

func (c *httpClient) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	var m graphMessage
	path := fmt.Sprintf("/me/messages/%s?%s", url.PathEscape(messageID), url.Values{
		"$expand": []string{"attachments"},
	}.Encode())
	if err := c.get(ctx, path, &m); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("graphmail: get message %s", messageID))
	}

	msg := &Message{
		ID:         m.ID,
		Subject:    m.Subject,
		From:       m.From.EmailAddress.Address,
		BodyText:   m.Body.Content,
		ReceivedAt: m.ReceivedDateTime,
	}
	for _, a := range m.Attachments {
		// Item and reference attachments carry no file bytes.
		if a.ContentBytes == "" {
			continue
		}
		content, err := base64.StdEncoding.DecodeString(a.ContentBytes)
		if err != nil {
			return nil, eris.Wrap(err, fmt.Sprintf("graphmail: decode attachment %s", a.Name))
		}
		msg.Attachments = append(msg.Attachments, Attachment{
			Name:        a.Name,
			ContentType: a.ContentType,
			Content:     content,
		})
	}
	return msg, nil
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limit")
		}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return eris.Wrap(err, "acquire token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

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

	return decodeJSON(data, out)
}
