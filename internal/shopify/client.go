// Package shopify is a client for the Shopify Storefront GraphQL API. It
// covers the product catalog queries and the cart mutations the storefront
// needs, nothing more.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/hlkorut/storefront/internal/telemetry"
)

const apiVersion = "2024-10"

// requestTimeout bounds every Storefront call so a slow backend never hangs a
// page render or cart mutation.
const requestTimeout = 5 * time.Second

// ErrMissingCredentials is returned when the store domain or storefront
// access token is not configured.
var ErrMissingCredentials = errors.New("missing shopify storefront credentials")

// RemoteError is a transport, HTTP or GraphQL-level failure from the
// Storefront API.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("storefront api: http %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("storefront api: %s", e.Message)
}

// Client talks to a single store's Storefront API.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// New creates a Storefront client for the given store domain. The domain may
// be passed with or without a scheme.
func New(domain, token string) (*Client, error) {
	domain = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(domain, "https://"), "http://"), "/")
	if domain == "" || token == "" {
		return nil, ErrMissingCredentials
	}

	return &Client{
		endpoint:   fmt.Sprintf("https://%s/api/%s/graphql.json", domain, apiVersion),
		token:      token,
		httpClient: &http.Client{Timeout: requestTimeout},
	}, nil
}

// WithHTTPClient overrides the HTTP client, used by tests to point at a fake
// endpoint.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithEndpoint overrides the GraphQL endpoint, used by tests.
func (c *Client) WithEndpoint(endpoint string) *Client {
	c.endpoint = endpoint
	return c
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// do posts a GraphQL document and decodes the data payload into out. Every
// attempt counts as one request, doWithRetry attempts included.
func (c *Client) do(ctx context.Context, query string, variables map[string]any, out any) error {
	metrics := telemetry.GetMetrics()
	metrics.StorefrontRequestsTotal.Add(ctx, 1)

	if err := c.post(ctx, query, variables, out); err != nil {
		metrics.StorefrontErrorsTotal.Add(ctx, 1)
		return err
	}
	return nil
}

func (c *Client) post(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Storefront-Access-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RemoteError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusUnauthorized {
			log.Warn().Msg("storefront api rejected the access token, check that a Storefront token is configured, not an Admin token")
		}
		return &RemoteError{Status: resp.StatusCode, Message: strings.TrimSpace(string(payload))}
	}

	var envelope graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return &RemoteError{Message: fmt.Sprintf("failed to decode response: %v", err)}
	}

	if len(envelope.Errors) > 0 {
		log.Error().Str("message", envelope.Errors[0].Message).Int("count", len(envelope.Errors)).Msg("storefront api returned errors")
		return &RemoteError{Message: envelope.Errors[0].Message}
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return &RemoteError{Message: fmt.Sprintf("failed to decode data: %v", err)}
	}

	return nil
}

// doWithRetry runs an idempotent query with capped exponential backoff.
// Client errors are not retried. Mutations must use do directly, a retried
// cartLinesAdd would double items.
func (c *Client) doWithRetry(ctx context.Context, query string, variables map[string]any, out any) error {
	operation := func() (struct{}, error) {
		err := c.do(ctx, query, variables, out)
		if err == nil {
			return struct{}{}, nil
		}

		var remote *RemoteError
		if errors.As(err, &remote) && remote.Status >= 400 && remote.Status < 500 {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
		backoff.WithNotify(func(err error, next time.Duration) {
			telemetry.GetMetrics().StorefrontRetriesTotal.Add(ctx, 1)
			log.Debug().Err(err).Dur("next_try_in", next).Msg("retrying storefront query")
		}),
	)
	return err
}
