package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownStore        = errors.New("unknown store")
	ErrNoProviderAvailable = errors.New("no provider available")
	ErrMalformedResponse   = errors.New("malformed upstream response")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInvalidAPIKey       = errors.New("invalid API key")
)

// NotAuthorizedError means the store has never completed the consent flow:
// there is no refresh token to exchange.
type NotAuthorizedError struct {
	Store string
}

func (e *NotAuthorizedError) Error() string {
	return fmt.Sprintf("store %s not authorized", e.Store)
}

// ExchangeError is a non-success response from the authorization server's
// token endpoint, carried through verbatim.
type ExchangeError struct {
	Op     string // "exchange" or "refresh"
	Status int
	Body   string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token %s failed: status=%d body=%s", e.Op, e.Status, e.Body)
}

// ProviderError is a non-success response from an upstream chat API.
type ProviderError struct {
	Provider ProviderID
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error: status=%d body=%s", e.Provider, e.Status, e.Body)
}

// KeyMissingError means the adapter had no usable credential. It is raised
// before any network call is made.
type KeyMissingError struct {
	Provider ProviderID
}

func (e *KeyMissingError) Error() string {
	return fmt.Sprintf("no credentials for provider %s", e.Provider)
}
