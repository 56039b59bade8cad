package imgproxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandler_rejectsUnknownHosts(t *testing.T) {
	p := New("")

	tests := []string{
		"",
		"not a url",
		"http://cdn.shopify.com/img.jpg",
		"https://evil.example.com/img.jpg",
		"https://cdn.shopify.com.evil.example.com/img.jpg",
	}

	for _, src := range tests {
		rec := httptest.NewRecorder()
		p.Handler(rec, httptest.NewRequest(http.MethodGet, "/img?src="+url.QueryEscape(src), nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, "src %q", src)
	}
}

func TestHandler_proxiesImage(t *testing.T) {
	assert := require.New(t)

	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer ts.Close()

	upstream, err := url.Parse(ts.URL)
	assert.NoError(err)

	allowedHosts[upstream.Host] = true
	defer delete(allowedHosts, upstream.Host)

	p := New("")
	p.httpClient = ts.Client()

	rec := httptest.NewRecorder()
	p.Handler(rec, httptest.NewRequest(http.MethodGet, "/img?src="+url.QueryEscape(ts.URL+"/img.jpg"), nil))

	assert.Equal(http.StatusOK, rec.Code)
	assert.Equal("image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal("public, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.Equal("jpeg-bytes", rec.Body.String())
}

func TestHandler_upstreamError(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer ts.Close()

	upstream, err := url.Parse(ts.URL)
	require.NoError(t, err)

	allowedHosts[upstream.Host] = true
	defer delete(allowedHosts, upstream.Host)

	p := New("")
	p.httpClient = ts.Client()

	rec := httptest.NewRecorder()
	p.Handler(rec, httptest.NewRequest(http.MethodGet, "/img?src="+url.QueryEscape(ts.URL+"/img.jpg"), nil))

	require.Equal(t, http.StatusBadGateway, rec.Code)
}
