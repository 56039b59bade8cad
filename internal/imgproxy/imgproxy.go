// Package imgproxy serves product images through the storefront's own origin
// so pages never reference the commerce CDN directly. Responses are cached
// per their Cache-Control headers, on disk when a cache directory is
// configured.
package imgproxy

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
	"github.com/rs/zerolog/log"
)

// allowedHosts are the only upstream hosts the proxy will fetch from,
// anything else is rejected before a request is made.
var allowedHosts = map[string]bool{
	"cdn.shopify.com": true,
}

var errHostNotAllowed = errors.New("image host not allowed")

// Proxy fetches and caches upstream product images.
type Proxy struct {
	httpClient *http.Client
}

// New creates a proxy. An empty cacheDir falls back to an in-memory cache.
func New(cacheDir string) *Proxy {
	var transport http.RoundTripper
	if cacheDir == "" {
		transport = httpcache.NewTransport(httpcache.NewMemoryCache())
	} else {
		transport = httpcache.NewTransport(diskcache.New(cacheDir))
	}

	return &Proxy{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
	}
}

// Handler serves /img?src=<upstream url>. The upstream host must be
// allow-listed.
func (p *Proxy) Handler(w http.ResponseWriter, r *http.Request) {
	src := r.URL.Query().Get("src")
	if src == "" {
		http.Error(w, "missing src parameter", http.StatusBadRequest)
		return
	}

	upstream, err := p.validate(src)
	if err != nil {
		http.Error(w, "invalid image source", http.StatusBadRequest)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, upstream, nil)
	if err != nil {
		http.Error(w, "invalid image source", http.StatusBadRequest)
		return
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("src", upstream).Msg("failed to fetch image")
		http.Error(w, "failed to fetch image", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		http.Error(w, "upstream error", http.StatusBadGateway)
		return
	}

	for _, header := range []string{"Content-Type", "Content-Length", "Cache-Control", "ETag", "Last-Modified"} {
		if v := resp.Header.Get(header); v != "" {
			w.Header().Set(header, v)
		}
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Debug().Err(err).Msg("image response aborted")
	}
}

// validate parses the source URL and checks the scheme and host.
func (p *Proxy) validate(src string) (string, error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", err
	}
	if u.Scheme != "https" {
		return "", errors.New("only https sources are allowed")
	}
	if !allowedHosts[strings.ToLower(u.Host)] {
		return "", errHostNotAllowed
	}
	return u.String(), nil
}
