// Package customer fetches the signed-in customer's profile and order
// history from the Shopify Customer Account GraphQL API.
package customer

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

	"github.com/rs/zerolog/log"

	"github.com/hlkorut/storefront/internal/auth"
	"github.com/hlkorut/storefront/internal/shopify"
)

const apiVersion = "2024-10"

// Client talks to the Customer Account API on behalf of a session.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a customer API client for the given store domain.
func New(domain string) (*Client, error) {
	domain = strings.TrimSuffix(strings.TrimPrefix(domain, "https://"), "/")
	if domain == "" {
		return nil, errors.New("store domain is required")
	}

	return &Client{
		endpoint:   fmt.Sprintf("https://%s/account/customer/api/%s/graphql", domain, apiVersion),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// WithEndpoint overrides the GraphQL endpoint, used by tests.
func (c *Client) WithEndpoint(endpoint string) *Client {
	c.endpoint = endpoint
	return c
}

// Profile is the customer identity subset shown on the account page.
type Profile struct {
	ID           string `json:"id"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	EmailAddress struct {
		EmailAddress string `json:"emailAddress"`
	} `json:"emailAddress"`
}

// OrderLineItem is one purchased line in an order.
type OrderLineItem struct {
	Title    string         `json:"title"`
	Quantity int            `json:"quantity"`
	Image    *shopify.Image `json:"image"`
}

// Order is one order in the customer's history.
type Order struct {
	ID            string                           `json:"id"`
	Name          string                           `json:"name"`
	ProcessedAt   time.Time                        `json:"processedAt"`
	StatusPageURL string                           `json:"statusPageUrl"`
	TotalPrice    shopify.Money                    `json:"totalPrice"`
	LineItems     shopify.Connection[OrderLineItem] `json:"lineItems"`
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// do posts a bearer-authenticated GraphQL document.
func (c *Client) do(ctx context.Context, session *auth.Session, query string, out any) error {
	if session == nil {
		return errors.New("customer is not authenticated")
	}

	body, err := json.Marshal(graphqlRequest{Query: query})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", session.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("customer api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("customer api returned http %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var envelope graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(envelope.Errors) > 0 {
		return fmt.Errorf("customer api error: %s", envelope.Errors[0].Message)
	}

	return json.Unmarshal(envelope.Data, out)
}

// Profile fetches the customer's profile. Remote failures are logged and
// yield nil so the account page degrades instead of erroring.
func (c *Client) Profile(ctx context.Context, session *auth.Session) *Profile {
	query := `
    query getCustomerProfile {
      customer {
        id
        firstName
        lastName
        emailAddress {
          emailAddress
        }
      }
    }`

	var data struct {
		Customer *Profile `json:"customer"`
	}
	if err := c.do(ctx, session, query, &data); err != nil {
		log.Error().Err(err).Msg("failed to fetch customer profile")
		return nil
	}

	return data.Customer
}

// Orders fetches the customer's most recent orders, newest first. Remote
// failures are logged and yield an empty list.
func (c *Client) Orders(ctx context.Context, session *auth.Session) []Order {
	query := `
    query getCustomerOrders {
      customer {
        orders(first: 20) {
          edges {
            node {
              id
              name
              processedAt
              statusPageUrl
              totalPrice {
                amount
                currencyCode
              }
              lineItems(first: 50) {
                edges {
                  node {
                    title
                    quantity
                    image {
                      url
                      altText
                    }
                  }
                }
              }
            }
          }
        }
      }
    }`

	var data struct {
		Customer struct {
			Orders shopify.Connection[Order] `json:"orders"`
		} `json:"customer"`
	}
	if err := c.do(ctx, session, query, &data); err != nil {
		log.Error().Err(err).Msg("failed to fetch customer orders")
		return nil
	}

	return data.Customer.Orders.Nodes()
}
