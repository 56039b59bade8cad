package shopify

import "context"

// cartFields is the full cart shape returned by every cart query and
// mutation, so the caller can always overwrite local state from the result.
const cartFields = `
  id
  checkoutUrl
  totalQuantity
  cost {
    totalAmount {
      amount
      currencyCode
    }
  }
  lines(first: 100) {
    edges {
      node {
        id
        quantity
        merchandise {
          ... on ProductVariant {
            id
            title
            product {
              id
              title
              handle
              images(first: 1) {
                edges {
                  node {
                    url
                    altText
                  }
                }
              }
            }
            price {
              amount
              currencyCode
            }
          }
        }
      }
    }
  }
`

// CreateCart creates a new empty remote cart.
func (c *Client) CreateCart(ctx context.Context) (*Cart, error) {
	query := `
    mutation cartCreate {
      cartCreate {
        cart {` + cartFields + `}
      }
    }`

	var data struct {
		CartCreate struct {
			Cart *Cart `json:"cart"`
		} `json:"cartCreate"`
	}
	if err := c.do(ctx, query, nil, &data); err != nil {
		return nil, err
	}
	if data.CartCreate.Cart == nil {
		return nil, &RemoteError{Message: "cartCreate returned no cart"}
	}

	return data.CartCreate.Cart, nil
}

// AddToCart adds quantity of a variant to the cart and returns the updated
// cart.
func (c *Client) AddToCart(ctx context.Context, cartID, variantID string, quantity int) (*Cart, error) {
	query := `
    mutation cartLinesAdd($cartId: ID!, $lines: [CartLineInput!]!) {
      cartLinesAdd(cartId: $cartId, lines: $lines) {
        cart {` + cartFields + `}
      }
    }`

	var data struct {
		CartLinesAdd struct {
			Cart *Cart `json:"cart"`
		} `json:"cartLinesAdd"`
	}
	variables := map[string]any{
		"cartId": cartID,
		"lines":  []map[string]any{{"merchandiseId": variantID, "quantity": quantity}},
	}
	if err := c.do(ctx, query, variables, &data); err != nil {
		return nil, err
	}
	if data.CartLinesAdd.Cart == nil {
		return nil, &RemoteError{Message: "cartLinesAdd returned no cart"}
	}

	return data.CartLinesAdd.Cart, nil
}

// RemoveFromCart removes a line from the cart and returns the updated cart.
func (c *Client) RemoveFromCart(ctx context.Context, cartID, lineID string) (*Cart, error) {
	query := `
    mutation cartLinesRemove($cartId: ID!, $lineIds: [ID!]!) {
      cartLinesRemove(cartId: $cartId, lineIds: $lineIds) {
        cart {` + cartFields + `}
      }
    }`

	var data struct {
		CartLinesRemove struct {
			Cart *Cart `json:"cart"`
		} `json:"cartLinesRemove"`
	}
	variables := map[string]any{"cartId": cartID, "lineIds": []string{lineID}}
	if err := c.do(ctx, query, variables, &data); err != nil {
		return nil, err
	}
	if data.CartLinesRemove.Cart == nil {
		return nil, &RemoteError{Message: "cartLinesRemove returned no cart"}
	}

	return data.CartLinesRemove.Cart, nil
}

// UpdateCartLines changes line quantities. The result carries line-level user
// errors and warnings, and a nil cart when the remote cart no longer exists.
func (c *Client) UpdateCartLines(ctx context.Context, cartID string, lines []LineUpdate) (*CartUpdateResult, error) {
	query := `
    mutation cartLinesUpdate($cartId: ID!, $lines: [CartLineUpdateInput!]!) {
      cartLinesUpdate(cartId: $cartId, lines: $lines) {
        cart {` + cartFields + `}
        userErrors {
          field
          message
        }
        warnings {
          code
          message
        }
      }
    }`

	var data struct {
		CartLinesUpdate CartUpdateResult `json:"cartLinesUpdate"`
	}
	variables := map[string]any{"cartId": cartID, "lines": lines}
	if err := c.do(ctx, query, variables, &data); err != nil {
		return nil, err
	}

	return &data.CartLinesUpdate, nil
}

// Cart fetches a cart by id. Returns (nil, nil) when the cart has expired or
// never existed, carts are retained for roughly ten days after the last
// change.
func (c *Client) Cart(ctx context.Context, cartID string) (*Cart, error) {
	query := `
    query cart($cartId: ID!) {
      cart(id: $cartId) {` + cartFields + `}
    }`

	var data struct {
		Cart *Cart `json:"cart"`
	}
	if err := c.doWithRetry(ctx, query, map[string]any{"cartId": cartID}, &data); err != nil {
		return nil, err
	}

	return data.Cart, nil
}
