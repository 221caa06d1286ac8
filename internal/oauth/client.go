// Package oauth wraps the authorization server's token endpoint. It is
// stateless: the broker owns retry policy and persistence, this package
// only performs the two grant flows and passes the upstream response
// through with canonical field names.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/andremlopes/storebridge/internal/domain"
	"golang.org/x/oauth2"
)

// TokenResult is the normalized token endpoint response.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// Exchanger is what the broker depends on; tests substitute a counting fake.
type Exchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResult, error)
	ExchangeRefresh(ctx context.Context, refreshToken string) (*TokenResult, error)
}

type Config struct {
	AuthURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

type Client struct {
	conf       *oauth2.Config
	httpClient *http.Client
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	return &Client{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		httpClient: httpClient,
	}
}

// AuthCodeURL builds the consent redirect for the given state token.
func (c *Client) AuthCodeURL(state string) string {
	return c.conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// ExchangeCode performs the authorization_code grant. It is called exactly
// once per consent; a response without a refresh token is malformed because
// the broker cannot operate without one.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResult, error) {
	conf := *c.conf
	if redirectURI != "" {
		conf.RedirectURL = redirectURI
	}

	tok, err := conf.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, exchangeError("exchange", err)
	}

	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("code grant returned no refresh token: %w", domain.ErrMalformedResponse)
	}

	return &TokenResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn(tok),
	}, nil
}

// ExchangeRefresh performs the refresh_token grant. A rotated refresh token,
// when the server issues one, is passed through for the broker to persist.
func (c *Client) ExchangeRefresh(ctx context.Context, refreshToken string) (*TokenResult, error) {
	source := c.conf.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})

	tok, err := source.Token()
	if err != nil {
		return nil, exchangeError("refresh", err)
	}

	result := &TokenResult{
		AccessToken: tok.AccessToken,
		ExpiresIn:   expiresIn(tok),
	}
	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		result.RefreshToken = tok.RefreshToken
	}

	return result, nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func exchangeError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return &domain.ExchangeError{Op: op, Status: status, Body: string(retrieveErr.Body)}
	}
	return fmt.Errorf("token %s: %w", op, err)
}

func expiresIn(tok *oauth2.Token) time.Duration {
	if tok.ExpiresIn > 0 {
		return time.Duration(tok.ExpiresIn) * time.Second
	}
	if !tok.Expiry.IsZero() {
		return time.Until(tok.Expiry)
	}
	return 0
}
