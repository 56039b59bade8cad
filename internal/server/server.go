// Package server wires the storefront HTTP surface: the rendered pages, the
// JSON cart API the page scripts talk to, and the customer login flow.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hlkorut/storefront/internal/assets"
	"github.com/hlkorut/storefront/internal/auth"
	"github.com/hlkorut/storefront/internal/cart"
	"github.com/hlkorut/storefront/internal/customer"
	"github.com/hlkorut/storefront/internal/imgproxy"
	"github.com/hlkorut/storefront/internal/logger"
	"github.com/hlkorut/storefront/internal/shopify"
	"github.com/hlkorut/storefront/internal/site"
)

// Catalog is the product query surface the server needs, satisfied by
// *shopify.Client.
type Catalog interface {
	Products(ctx context.Context, first int) ([]shopify.Product, error)
	ProductByHandle(ctx context.Context, handle string) (*shopify.Product, error)
	Collections(ctx context.Context) ([]shopify.Collection, error)
}

// Server owns the handler graph for the storefront.
type Server struct {
	catalog  Catalog
	carts    *cart.Registry
	auth     *auth.Shopify
	customer *customer.Client
	images   *imgproxy.Proxy
	pipeline *assets.Pipeline
	site     site.Config
	dev      bool
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithAuth enables the customer account login flow.
func WithAuth(a *auth.Shopify, c *customer.Client) Option {
	return func(s *Server) {
		s.auth = a
		s.customer = c
	}
}

// WithAssets enables the rendered pages.
func WithAssets(p *assets.Pipeline) Option {
	return func(s *Server) {
		s.pipeline = p
	}
}

// WithImageProxy enables the /img product image route.
func WithImageProxy(p *imgproxy.Proxy) Option {
	return func(s *Server) {
		s.images = p
	}
}

// WithSite sets the marketing copy rendered into page shells.
func WithSite(cfg site.Config) Option {
	return func(s *Server) {
		s.site = cfg
	}
}

// WithDev relaxes cookie security for local development.
func WithDev(dev bool) Option {
	return func(s *Server) {
		s.dev = dev
	}
}

// New creates a server around the catalog client and per-visitor cart
// registry.
func New(catalog Catalog, carts *cart.Registry, opts ...Option) *Server {
	s := &Server{
		catalog: catalog,
		carts:   carts,
		site:    site.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the full route table.
func (s *Server) Handler(logr zerolog.Logger) (http.Handler, error) {
	mux := http.NewServeMux()

	// Health check endpoint for load balancer
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Catalog API
	mux.HandleFunc("GET /api/products", s.listProductsHandler)
	mux.HandleFunc("GET /api/products/{handle}", s.productHandler)
	mux.HandleFunc("GET /api/collections", s.collectionsHandler)

	// Cart API, every route resolves the visitor's cart first
	mux.HandleFunc("GET /api/cart", s.withCart(s.getCartHandler))
	mux.HandleFunc("POST /api/cart/items", s.withCart(s.addItemHandler))
	mux.HandleFunc("PUT /api/cart/items/{id}", s.withCart(s.updateItemHandler))
	mux.HandleFunc("DELETE /api/cart/items/{id}", s.withCart(s.removeItemHandler))
	mux.HandleFunc("DELETE /api/cart", s.withCart(s.clearCartHandler))

	if s.images != nil {
		mux.HandleFunc("GET /img", s.images.Handler)
	}

	if s.auth != nil {
		mux.HandleFunc("/login", s.auth.LoginHandler)
		mux.HandleFunc("/api/auth/callback", s.auth.CallbackHandler)
		mux.HandleFunc("/logout", s.auth.LogoutHandler)

		requireAuth := s.auth.RequireAuth("/account/login")
		mux.HandleFunc("GET /api/account", requireAuth(s.accountHandler))
	}

	if s.pipeline != nil {
		if err := s.registerPages(mux); err != nil {
			return nil, err
		}
	}

	handler := s.visitorMiddleware(mux)
	return logger.NewHTTPRequests(logr)(handler), nil
}

// registerPages mounts the rendered pages and the built assets.
func (s *Server) registerPages(mux *http.ServeMux) error {
	mux.Handle("/public/", http.StripPrefix("/public/", http.FileServer(http.Dir("public"))))

	siteContext := func(ctx context.Context) any {
		return map[string]any{"site": s.site}
	}

	pages := []struct {
		route      string
		title      string
		entrypoint string
		contextFn  func(ctx context.Context) any
	}{
		{"/{$}", s.site.MetaTitle, "ui/pages/home.tsx", siteContext},
		{"/shop", s.site.BrandName + " | Shop", "ui/pages/shop.tsx", siteContext},
		{"/product/{handle}", s.site.BrandName, "ui/pages/product.tsx", siteContext},
		{"/account/login", s.site.BrandName + " | Login", "ui/pages/login.tsx", siteContext},
	}

	for _, page := range pages {
		h, err := s.pipeline.Handler("index.html", page.title, page.entrypoint, page.contextFn)
		if err != nil {
			return err
		}
		mux.HandleFunc("GET "+page.route, h)
	}

	// The account page needs a session, anonymous visitors land on login.
	if s.auth != nil {
		accountPage, err := s.pipeline.Handler("index.html", s.site.BrandName+" | Account", "ui/pages/account.tsx", siteContext)
		if err != nil {
			return err
		}
		mux.HandleFunc("GET /account", s.auth.RequireAuth("/account/login")(accountPage))
	}

	return nil
}

func (s *Server) listProductsHandler(w http.ResponseWriter, r *http.Request) {
	products, err := s.catalog.Products(r.Context(), 24)
	if err != nil {
		s.remoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) productHandler(w http.ResponseWriter, r *http.Request) {
	product, err := s.catalog.ProductByHandle(r.Context(), r.PathValue("handle"))
	if err != nil {
		s.remoteError(w, err)
		return
	}
	if product == nil {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) collectionsHandler(w http.ResponseWriter, r *http.Request) {
	collections, err := s.catalog.Collections(r.Context())
	if err != nil {
		s.remoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": collections})
}

// accountHandler returns the signed-in customer's profile and order history.
// Remote failures degrade to empty fields, the page still renders.
func (s *Server) accountHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"profile": s.customer.Profile(r.Context(), session),
		"orders":  s.customer.Orders(r.Context(), session),
	})
}

func (s *Server) remoteError(w http.ResponseWriter, err error) {
	log.Error().Err(err).Msg("catalog request failed")
	writeError(w, http.StatusBadGateway, "storefront backend unavailable")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
