package commands

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"filippo.io/csrf"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"

	"github.com/hlkorut/storefront/internal/assets"
	"github.com/hlkorut/storefront/internal/auth"
	"github.com/hlkorut/storefront/internal/cart"
	"github.com/hlkorut/storefront/internal/customer"
	httpmiddleware "github.com/hlkorut/storefront/internal/http"
	"github.com/hlkorut/storefront/internal/imgproxy"
	"github.com/hlkorut/storefront/internal/logger"
	"github.com/hlkorut/storefront/internal/server"
	"github.com/hlkorut/storefront/internal/shopify"
	"github.com/hlkorut/storefront/internal/site"
	"github.com/hlkorut/storefront/internal/telemetry"
)

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"STOREFRONT_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"STOREFRONT_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"STOREFRONT_TLS_KEY"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"https://localhost" env:"STOREFRONT_CORS_ORIGINS"`

	// Shopify Storefront API configuration
	StoreDomain     string `help:"myshopify store domain" env:"SHOPIFY_STORE_DOMAIN"`
	StorefrontToken string `help:"Storefront API public access token" env:"SHOPIFY_STOREFRONT_ACCESS_TOKEN"`

	// Customer account login configuration
	CustomerClientID string `help:"customer account API client id" default:"" env:"SHOPIFY_CUSTOMER_ACCOUNT_CLIENT_ID"`
	ShopID           string `help:"shop gid for the customer account auth base" default:"" env:"SHOPIFY_SHOP_ID"`
	AppURL           string `help:"public base URL of this site" default:"http://localhost:8080" env:"STOREFRONT_APP_URL"`
	SessionSecret    string `help:"secret for signing session cookies, at least 32 bytes" default:"" env:"STOREFRONT_SESSION_SECRET"`

	// Storage configuration
	CartsDir      string `help:"directory for per-visitor cart snapshots" default:"data/carts" env:"STOREFRONT_CARTS_DIR"`
	ImageCacheDir string `help:"directory for the product image cache, empty for in-memory" default:"data/images" env:"STOREFRONT_IMAGE_CACHE_DIR"`
	SiteConfig    string `help:"path to the site content YAML" default:"site.yaml" env:"STOREFRONT_SITE_CONFIG"`

	// Development and operational modes
	Dev     bool `help:"development mode - insecure cookies, unminified assets" default:"false" env:"STOREFRONT_DEV"`
	Tracing bool `help:"enable tracing" default:"false" env:"STOREFRONT_TRACING"`
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug || c.Dev)
	ctx := context.Background()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("starting storefront")

	if c.Tracing {
		log.Info().Msg("tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "hlkorut-storefront", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("failed to shutdown telemetry")
			}
		}()
	}

	siteCfg, err := site.Load(c.SiteConfig)
	if err != nil {
		return err
	}

	shop, err := shopify.New(c.StoreDomain, c.StorefrontToken)
	if err != nil {
		return fmt.Errorf("failed to create storefront client: %w", err)
	}

	registry := cart.NewRegistry(shop, c.CartsDir)

	// Build assets for the pages
	assetCfg := assets.DefaultConfig()
	if c.Dev {
		assetCfg.Minify = false
	}
	pipeline, err := assets.NewWithTemplateDir(assetCfg, "templates")
	if err != nil {
		return fmt.Errorf("failed to load assets pipeline: %w", err)
	}
	if err = pipeline.Build(); err != nil {
		return fmt.Errorf("failed to build js assets: %w", err)
	}

	opts := []server.Option{
		server.WithSite(siteCfg),
		server.WithAssets(pipeline),
		server.WithImageProxy(imgproxy.New(c.ImageCacheDir)),
		server.WithDev(c.Dev),
	}

	// Customer login is optional, the shop works without it.
	if c.CustomerClientID != "" {
		sessions, err := auth.New(auth.Config{
			ClientID:      c.CustomerClientID,
			ShopID:        c.ShopID,
			Domain:        c.StoreDomain,
			AppURL:        c.AppURL,
			SessionSecret: []byte(c.SessionSecret),
			Dev:           c.Dev,
		})
		if err != nil {
			return fmt.Errorf("failed to configure customer login: %w", err)
		}

		accounts, err := customer.New(c.StoreDomain)
		if err != nil {
			return err
		}

		opts = append(opts, server.WithAuth(sessions, accounts))
		log.Info().Msg("customer account login enabled")
	} else {
		log.Warn().Msg("customer account login disabled, no client id configured")
	}

	srv := server.New(shop, registry, opts...)

	mux, err := srv.Handler(log)
	if err != nil {
		return fmt.Errorf("failed to build handler: %w", err)
	}

	clientIP := httpmiddleware.ClientIPMiddleware()

	// CSRF protection for HTML pages, CORS for the JSON API.
	protection := csrf.New()
	routed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAPIRoute(r.URL.Path) {
			withCORS(c.CORSOrigins, mux).ServeHTTP(w, r)
		} else {
			protection.Handler(mux).ServeHTTP(w, r)
		}
	})

	handler := gzhttp.GzipHandler(clientIP(routed))

	if c.Cert != "" && c.Key != "" {
		log.Info().Str("addr", c.Listen).Msg("starting HTTPS server")
		return configureHTTPServer(c.Listen, handler).ListenAndServeTLS(c.Cert, c.Key)
	}

	log.Info().Str("addr", c.Listen).Msg("starting HTTP server")
	return configureHTTPServer(c.Listen, handler).ListenAndServe()
}

// isAPIRoute returns true for paths served cross-origin with CORS instead of
// CSRF protection.
func isAPIRoute(path string) bool {
	return strings.HasPrefix(path, "/api/") ||
		strings.HasPrefix(path, "/img") ||
		path == "/health"
}

// withCORS adds CORS support for the JSON API routes.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true, // cart and session cookies
	})
	return middleware.Handler(h)
}
