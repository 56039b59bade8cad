package shopify

// Connection is the GraphQL edges/node pagination wrapper used by the
// Storefront API for every list field.
type Connection[T any] struct {
	Edges []Edge[T] `json:"edges"`
}

type Edge[T any] struct {
	Node T `json:"node"`
}

// Nodes flattens the connection into a plain slice.
func (c Connection[T]) Nodes() []T {
	nodes := make([]T, 0, len(c.Edges))
	for _, e := range c.Edges {
		nodes = append(nodes, e.Node)
	}
	return nodes
}

type Money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

type Image struct {
	URL     string `json:"url"`
	AltText string `json:"altText"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

type PriceRange struct {
	MinVariantPrice Money `json:"minVariantPrice"`
	MaxVariantPrice Money `json:"maxVariantPrice"`
}

type Variant struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	AvailableForSale bool   `json:"availableForSale"`
	Price            Money  `json:"price"`
}

// MediaSource is one renderable source of a media entry, used for the 3D
// model viewer on product pages.
type MediaSource struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	Format   string `json:"format"`
	Filesize int    `json:"filesize"`
}

type Media struct {
	ID               string        `json:"id"`
	MediaContentType string        `json:"mediaContentType"`
	Image            *Image        `json:"image,omitempty"`
	PreviewImage     *Image        `json:"previewImage,omitempty"`
	Sources          []MediaSource `json:"sources,omitempty"`
}

type Product struct {
	ID               string              `json:"id"`
	Title            string              `json:"title"`
	Handle           string              `json:"handle"`
	Description      string              `json:"description"`
	DescriptionHTML  string              `json:"descriptionHtml"`
	Tags             []string            `json:"tags"`
	ProductType      string              `json:"productType"`
	AvailableForSale bool                `json:"availableForSale"`
	PriceRange       PriceRange          `json:"priceRange"`
	Images           Connection[Image]   `json:"images"`
	Media            Connection[Media]   `json:"media"`
	Variants         Connection[Variant] `json:"variants"`
}

// FirstImage returns the primary product image, or a zero Image when the
// product has none.
func (p *Product) FirstImage() Image {
	if len(p.Images.Edges) == 0 {
		return Image{}
	}
	return p.Images.Edges[0].Node
}

// VariantByID finds a variant by id, or the first variant when id is empty.
// Returns nil when nothing matches.
func (p *Product) VariantByID(id string) *Variant {
	if id == "" {
		if len(p.Variants.Edges) == 0 {
			return nil
		}
		v := p.Variants.Edges[0].Node
		return &v
	}
	for _, e := range p.Variants.Edges {
		if e.Node.ID == id {
			v := e.Node
			return &v
		}
	}
	return nil
}

type Collection struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Handle      string              `json:"handle"`
	Description string              `json:"description"`
	Products    Connection[Product] `json:"products"`
}

// LineProduct is the product subset returned inside a cart line.
type LineProduct struct {
	ID     string            `json:"id"`
	Title  string            `json:"title"`
	Handle string            `json:"handle"`
	Images Connection[Image] `json:"images"`
}

// Merchandise is the product variant a cart line points at.
type Merchandise struct {
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	Price   Money       `json:"price"`
	Product LineProduct `json:"product"`
}

type CartLine struct {
	ID          string      `json:"id"`
	Quantity    int         `json:"quantity"`
	Merchandise Merchandise `json:"merchandise"`
}

type CartCost struct {
	TotalAmount Money `json:"totalAmount"`
}

// Cart is the full cart shape returned by every cart query and mutation.
type Cart struct {
	ID            string               `json:"id"`
	CheckoutURL   string               `json:"checkoutUrl"`
	TotalQuantity int                  `json:"totalQuantity"`
	Cost          CartCost             `json:"cost"`
	Lines         Connection[CartLine] `json:"lines"`
}

// UserError is a line-level validation error reported by a cart mutation,
// e.g. insufficient stock.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

// Warning is a non-fatal notice attached to a cart mutation result.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LineUpdate is the input for a quantity change on an existing cart line.
type LineUpdate struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// CartUpdateResult carries the cartLinesUpdate payload: the cart is nil when
// the remote cart no longer exists.
type CartUpdateResult struct {
	Cart       *Cart       `json:"cart"`
	UserErrors []UserError `json:"userErrors"`
	Warnings   []Warning   `json:"warnings"`
}
