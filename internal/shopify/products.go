package shopify

import "context"

const productFields = `
  id
  title
  handle
  description
  descriptionHtml
  tags
  productType
  availableForSale
  priceRange {
    minVariantPrice {
      amount
      currencyCode
    }
    maxVariantPrice {
      amount
      currencyCode
    }
  }
  images(first: 10) {
    edges {
      node {
        url
        altText
        width
        height
      }
    }
  }
  media(first: 10) {
    edges {
      node {
        ... on MediaImage {
          id
          mediaContentType
          image {
            url
            width
            height
          }
          previewImage {
            url
            altText
          }
        }
        ... on Model3d {
          id
          mediaContentType
          sources {
            url
            mimeType
            format
            filesize
          }
          previewImage {
            url
            altText
          }
        }
      }
    }
  }
  variants(first: 50) {
    edges {
      node {
        id
        title
        availableForSale
        price {
          amount
          currencyCode
        }
      }
    }
  }
`

// Products fetches up to first products from the catalog.
func (c *Client) Products(ctx context.Context, first int) ([]Product, error) {
	query := `
    query getProducts($first: Int!) {
      products(first: $first) {
        edges {
          node {` + productFields + `}
        }
      }
    }`

	var data struct {
		Products Connection[Product] `json:"products"`
	}
	if err := c.doWithRetry(ctx, query, map[string]any{"first": first}, &data); err != nil {
		return nil, err
	}

	return data.Products.Nodes(), nil
}

// ProductByHandle fetches a single product. Returns nil when the handle does
// not exist.
func (c *Client) ProductByHandle(ctx context.Context, handle string) (*Product, error) {
	query := `
    query getProductByHandle($handle: String!) {
      productByHandle(handle: $handle) {` + productFields + `}
    }`

	var data struct {
		ProductByHandle *Product `json:"productByHandle"`
	}
	if err := c.doWithRetry(ctx, query, map[string]any{"handle": handle}, &data); err != nil {
		return nil, err
	}

	return data.ProductByHandle, nil
}

// Collections fetches the store's collections with a preview of their
// products.
func (c *Client) Collections(ctx context.Context) ([]Collection, error) {
	query := `
    query getCollections {
      collections(first: 10) {
        edges {
          node {
            id
            title
            handle
            description
            products(first: 5) {
              edges {
                node {
                  id
                  title
                  handle
                  priceRange {
                    minVariantPrice {
                      amount
                      currencyCode
                    }
                  }
                  images(first: 1) {
                    edges {
                      node {
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
      }
    }`

	var data struct {
		Collections Connection[Collection] `json:"collections"`
	}
	if err := c.doWithRetry(ctx, query, nil, &data); err != nil {
		return nil, err
	}

	return data.Collections.Nodes(), nil
}
