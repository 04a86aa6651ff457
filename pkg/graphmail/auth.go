package graphmail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

const loginBaseURL = "https://login.microsoftonline.com"

// mailScopes are the delegated permissions requested for mailbox polling.
// offline_access yields the refresh token that keeps a connection alive
// between process restarts.
const mailScopes = "offline_access Mail.Read"

// Token is one issued token pair.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token needs refreshing, with a small
// margin so a token never expires mid-request.
func (t *Token) Expired() bool {
	return time.Now().After(t.ExpiresAt.Add(-1 * time.Minute))
}

// AuthConfig holds the app registration used for the OAuth code flow.
type AuthConfig struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	RedirectURL  string
}

// Authenticator runs the authorization-code flow against the Microsoft
// identity platform.
type Authenticator struct {
	cfg      AuthConfig
	loginURL string
	http     *http.Client
}

// AuthOption configures an Authenticator.
type AuthOption func(*Authenticator)

// WithLoginURL overrides the identity platform base URL.
func WithLoginURL(u string) AuthOption {
	return func(a *Authenticator) {
		a.loginURL = u
	}
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(cfg AuthConfig, opts ...AuthOption) *Authenticator {
	a := &Authenticator{
		cfg:      cfg,
		loginURL: loginBaseURL,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AuthorizationURL returns the URL the mailbox owner opens in a browser to
// consent. state is echoed back on the redirect.
func (a *Authenticator) AuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("client_id", a.cfg.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", a.cfg.RedirectURL)
	q.Set("scope", mailScopes)
	q.Set("state", state)
	return fmt.Sprintf("%s/%s/oauth2/v2.0/authorize?%s", a.loginURL, a.cfg.TenantID, q.Encode())
}

// ExchangeCode trades the redirect code for a token pair.
func (a *Authenticator) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", a.cfg.RedirectURL)

	tok, err := a.tokenRequest(ctx, form)
	if err != nil {
		return nil, eris.Wrap(err, "graphmail: exchange code")
	}
	return tok, nil
}

// Refresh trades a refresh token for a fresh token pair.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	tok, err := a.tokenRequest(ctx, form)
	if err != nil {
		return nil, eris.Wrap(err, "graphmail: refresh token")
	}
	return tok, nil
}

func (a *Authenticator) tokenRequest(ctx context.Context, form url.Values) (*Token, error) {
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)
	form.Set("scope", mailScopes)

	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", a.loginURL, a.cfg.TenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var wire struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := decodeJSON(data, &wire); err != nil {
		return nil, err
	}
	if wire.AccessToken == "" {
		return nil, eris.New("graphmail: token response without access token")
	}

	return &Token{
		AccessToken:  wire.AccessToken,
		RefreshToken: wire.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(wire.ExpiresIn) * time.Second),
	}, nil
}

// RefreshingTokenSource yields access tokens for one connected account,
// refreshing through the Authenticator and persisting rotated refresh
// tokens to the store.
type RefreshingTokenSource struct {
	auth    *Authenticator
	store   *FileTokenStore
	address string

	mu      sync.Mutex
	current *Token
}

// NewRefreshingTokenSource creates a token source for the given account
// address. The store must already hold a token for it (from ExchangeCode).
func NewRefreshingTokenSource(auth *Authenticator, store *FileTokenStore, address string) *RefreshingTokenSource {
	return &RefreshingTokenSource{auth: auth, store: store, address: address}
}

// Token returns a valid access token, refreshing if needed.
func (s *RefreshingTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		tok, err := s.store.Load(s.address)
		if err != nil {
			return "", err
		}
		s.current = tok
	}
	if !s.current.Expired() {
		return s.current.AccessToken, nil
	}

	refreshed, err := s.auth.Refresh(ctx, s.current.RefreshToken)
	if err != nil {
		return "", err
	}
	// Microsoft rotates refresh tokens; keep the old one if none came back.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = s.current.RefreshToken
	}
	if err := s.store.Save(s.address, refreshed); err != nil {
		return "", err
	}
	s.current = refreshed
	return s.current.AccessToken, nil
}

func decodeJSON(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
