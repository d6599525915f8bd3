package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/user/entity"
)

const maxBody = 1 << 20

var (
	ErrUnknownProvider = errors.New("unknown oauth provider")
	ErrInvalidInput    = errors.New("invalid oauth input")
)

type ErrorKind int

const (
	KindExchange ErrorKind = iota + 1
	KindUserInfo
)

func (k ErrorKind) String() string {
	switch k {
	case KindExchange:
		return "exchange"
	case KindUserInfo:
		return "user info"
	}
	return "unknown"
}

// Error is returned by Exchange and FetchIdentity. Err holds upstream detail
// for logs; it must not be forwarded to clients.
type Error struct {
	Kind     ErrorKind
	Provider entity.ProviderKind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("oauth %s (%s): %v", e.Kind, e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Client runs the authorization-code flow for a set of providers. It keeps no
// state between calls.
type Client struct {
	http      *http.Client
	providers map[entity.ProviderKind]Provider
}

// NewClient uses httpClient for every outbound call; nil means a client with
// no timeout.
func NewClient(httpClient *http.Client, providers ...Provider) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	m := make(map[entity.ProviderKind]Provider, len(providers))
	for _, p := range providers {
		m[p.Kind()] = p
	}
	return &Client{http: httpClient, providers: m}
}

func (c *Client) provider(kind entity.ProviderKind) (Provider, error) {
	p, ok := c.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, kind)
	}
	return p, nil
}

// AuthURL builds the consent URL. No network I/O.
func (c *Client) AuthURL(kind entity.ProviderKind, clientID, redirectURI string) (string, error) {
	p, err := c.provider(kind)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(clientID) == "" {
		return "", fmt.Errorf("%w: empty client id", ErrInvalidInput)
	}
	if err := checkRedirectURI(redirectURI); err != nil {
		return "", err
	}
	params := url.Values{
		"client_id":     {clientID},
		"response_type": {"code"},
		"scope":         {p.Scope()},
		"redirect_uri":  {redirectURI},
	}
	return p.Endpoints().AuthURL + "?" + params.Encode(), nil
}

func checkRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: redirect uri: %v", ErrInvalidInput, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: redirect uri must be an absolute http(s) url", ErrInvalidInput)
	}
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Exchange trades an authorization code for an access token.
func (c *Client) Exchange(ctx context.Context, kind entity.ProviderKind, clientID, clientSecret, redirectURI, code string) (string, error) {
	fail := func(err error) (string, error) {
		return "", &Error{Kind: KindExchange, Provider: kind, Err: err}
	}
	p, err := c.provider(kind)
	if err != nil {
		return fail(err)
	}
	if code == "" {
		return fail(fmt.Errorf("%w: empty code", ErrInvalidInput))
	}

	form := p.TokenForm(clientID, clientSecret, redirectURI, code)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoints().TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fail(fmt.Errorf("create token request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return fail(err)
	}
	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return fail(fmt.Errorf("parse token response: %w", err))
	}
	if tok.AccessToken == "" {
		return fail(errors.New("empty access token in response"))
	}
	return tok.AccessToken, nil
}

// FetchIdentity calls the user-info endpoint with the access token.
func (c *Client) FetchIdentity(ctx context.Context, kind entity.ProviderKind, accessToken string) (*Identity, error) {
	fail := func(err error) (*Identity, error) {
		return nil, &Error{Kind: KindUserInfo, Provider: kind, Err: err}
	}
	p, err := c.provider(kind)
	if err != nil {
		return fail(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Endpoints().UserInfoURL, nil)
	if err != nil {
		return fail(fmt.Errorf("create user info request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return fail(err)
	}
	id, err := p.ParseIdentity(body)
	if err != nil {
		return fail(fmt.Errorf("parse user info: %w", err))
	}
	return id, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
