// Package publish delivers the staged artifact to the public package index.
// Authentication uses a short-lived, per-run identity token minted after the
// ancestry gate has passed; no long-lived credential is ever stored. Upload
// is at-most-once per version: the index's own duplicate rejection is the
// source of truth and is surfaced, not retried around.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrTokenExchange is returned when the identity-token exchange is refused.
var ErrTokenExchange = errors.New("identity token exchange refused")

// Claims identifies the pipeline run requesting a token. The token service
// scopes the minted credential to exactly this run.
type Claims struct {
	// PipelineID names the pipeline ("release").
	PipelineID string `json:"pipeline_id"`

	// RunID is the unique identifier of this run.
	RunID string `json:"run_id"`

	// Ref is the tag being published.
	Ref string `json:"ref"`

	// Commit is the gated commit hash.
	Commit string `json:"commit"`
}

// Token is a short-lived credential for one publish attempt.
type Token struct {
	// Value is the bearer token presented to the index.
	Value string `json:"token"`

	// ExpiresAt bounds the token's life; minutes, not months.
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token is past its expiry.
func (t *Token) Expired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// TokenMinter mints per-run identity tokens. Implementations exchange the
// pipeline's ambient identity for a short-lived credential.
type TokenMinter interface {
	// Mint exchanges the run's claims for a short-lived token.
	Mint(ctx context.Context, claims Claims) (*Token, error)
}

// StaticMinter returns a fixed token. Intended for tests and local dry runs.
type StaticMinter struct {
	Token Token
}

// Mint implements TokenMinter.
func (s *StaticMinter) Mint(ctx context.Context, claims Claims) (*Token, error) {
	token := s.Token
	if token.ExpiresAt.IsZero() {
		token.ExpiresAt = time.Now().Add(15 * time.Minute)
	}
	return &token, nil
}

// HTTPMinter exchanges run claims for a token at an identity endpoint.
type HTTPMinter struct {
	client *resty.Client
}

// NewHTTPMinter creates a minter against the given token-exchange endpoint.
// The exchange is a single attempt; a refused or unreachable endpoint fails
// the publish stage rather than retrying with stale claims.
func NewHTTPMinter(endpoint string) *HTTPMinter {
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(30 * time.Second).
		SetRetryCount(0)
	return &HTTPMinter{client: client}
}

// Mint implements TokenMinter.
func (m *HTTPMinter) Mint(ctx context.Context, claims Claims) (*Token, error) {
	var token Token
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(claims).
		SetResult(&token).
		// Some token services answer JSON without declaring it.
		ForceContentType("application/json").
		Post("/token")
	if err != nil {
		return nil, fmt.Errorf("token exchange request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s (%s)", ErrTokenExchange, resp.Status(), resp.String())
	}
	if token.Value == "" {
		return nil, fmt.Errorf("%w: empty token in response", ErrTokenExchange)
	}
	return &token, nil
}
