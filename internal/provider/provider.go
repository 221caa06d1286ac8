// Package provider defines the adapter contract between the gateway's
// normalized chat request and one upstream API's wire format.
package provider

import (
	"context"
	"io"

	"github.com/andremlopes/storebridge/internal/domain"
)

// Format tags the wire shape of a raw upstream response so the stream
// normalizer knows how to parse its frames.
type Format int

const (
	// FormatOpenAI is SSE frames with deltas under choices[0].delta.content
	// and a literal [DONE] sentinel.
	FormatOpenAI Format = iota
	// FormatAnthropic is SSE frames with incremental text under delta.text
	// or content_block.text.
	FormatAnthropic
	// FormatChunks is a pre-sliced synthetic sequence; no parsing needed.
	FormatChunks
)

// Credentials is whatever the gateway resolved for this call: a static API
// key or a broker-issued OAuth access token. Adapters check for the
// credential they need before touching the network.
type Credentials struct {
	APIKey      string
	AccessToken string
	APIBase     string
}

func (c Credentials) Empty() bool {
	return c.APIKey == "" && c.AccessToken == ""
}

// RawResponse is an upstream response before normalization: either a live
// body of provider-specific frames, or a synthetic chunk sequence.
type RawResponse struct {
	Format Format
	Body   io.ReadCloser
	Chunks []string
}

// Close releases the upstream connection, if any.
func (r *RawResponse) Close() error {
	if r.Body != nil {
		return r.Body.Close()
	}
	return nil
}

// Adapter translates one normalized chat request into one upstream call.
// The set of implementations is closed; dispatch never branches on
// provider-specific logic outside the adapters.
type Adapter interface {
	ID() domain.ProviderID
	Invoke(ctx context.Context, req domain.ChatRequest, creds Credentials) (*RawResponse, error)
}
