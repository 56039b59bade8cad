package shopify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// fakeStorefront serves scripted responses and records every GraphQL request
// it receives.
type fakeStorefront struct {
	t *testing.T

	mu        sync.Mutex
	responses []fakeResponse
	requests  []capturedRequest
}

type fakeResponse struct {
	status int
	body   string
}

type capturedRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
	Token     string         `json:"-"`
}

func dataResponse(data string) fakeResponse {
	return fakeResponse{status: http.StatusOK, body: `{"data":` + data + `}`}
}

func (f *fakeStorefront) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		var captured capturedRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&captured))
		captured.Token = r.Header.Get("X-Shopify-Storefront-Access-Token")
		f.requests = append(f.requests, captured)

		resp := fakeResponse{status: http.StatusOK, body: `{"data":{}}`}
		if len(f.responses) > 0 {
			resp = f.responses[0]
			f.responses = f.responses[1:]
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.status)
		_, _ = w.Write([]byte(resp.body))
	}
}

func (f *fakeStorefront) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeStorefront) request(i int) capturedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

func newFakeClient(t *testing.T, responses ...fakeResponse) (*Client, *fakeStorefront) {
	t.Helper()

	fake := &fakeStorefront{t: t, responses: responses}
	ts := httptest.NewServer(fake.handler())
	t.Cleanup(ts.Close)

	client, err := New("hlkorut.myshopify.com", "test-token")
	require.NoError(t, err)

	return client.WithEndpoint(ts.URL), fake
}

func TestNew(t *testing.T) {
	assert := require.New(t)

	client, err := New("hlkorut.myshopify.com", "test-token")
	assert.NoError(err)
	assert.Equal("https://hlkorut.myshopify.com/api/2024-10/graphql.json", client.endpoint)

	// Scheme and trailing slash are tolerated.
	client, err = New("https://hlkorut.myshopify.com/", "test-token")
	assert.NoError(err)
	assert.Equal("https://hlkorut.myshopify.com/api/2024-10/graphql.json", client.endpoint)

	_, err = New("", "test-token")
	assert.ErrorIs(err, ErrMissingCredentials)

	_, err = New("hlkorut.myshopify.com", "")
	assert.ErrorIs(err, ErrMissingCredentials)
}

func TestDo(t *testing.T) {
	assert := require.New(t)

	client, fake := newFakeClient(t, dataResponse(`{"shop":{"name":"HL Korut"}}`))

	var data struct {
		Shop struct {
			Name string `json:"name"`
		} `json:"shop"`
	}
	err := client.do(context.Background(), `query { shop { name } }`, map[string]any{"first": 3}, &data)
	assert.NoError(err)
	assert.Equal("HL Korut", data.Shop.Name)

	req := fake.request(0)
	assert.Equal("test-token", req.Token)
	assert.Contains(req.Query, "shop")
	assert.Equal(float64(3), req.Variables["first"])
}

func TestDo_httpError(t *testing.T) {
	assert := require.New(t)

	client, _ := newFakeClient(t, fakeResponse{status: http.StatusBadGateway, body: "upstream down"})

	err := client.do(context.Background(), `query { shop { name } }`, nil, nil)

	var remote *RemoteError
	assert.ErrorAs(err, &remote)
	assert.Equal(http.StatusBadGateway, remote.Status)
	assert.Equal("upstream down", remote.Message)
}

func TestDo_graphqlErrors(t *testing.T) {
	assert := require.New(t)

	client, _ := newFakeClient(t, fakeResponse{
		status: http.StatusOK,
		body:   `{"data":null,"errors":[{"message":"Field 'nope' doesn't exist"}]}`,
	})

	err := client.do(context.Background(), `query { nope }`, nil, nil)

	var remote *RemoteError
	assert.ErrorAs(err, &remote)
	assert.Equal(0, remote.Status)
	assert.Contains(remote.Message, "doesn't exist")
}

func TestDoWithRetry_recovers(t *testing.T) {
	assert := require.New(t)

	client, fake := newFakeClient(t,
		fakeResponse{status: http.StatusInternalServerError, body: "boom"},
		dataResponse(`{"shop":{"name":"HL Korut"}}`),
	)

	var data struct {
		Shop struct {
			Name string `json:"name"`
		} `json:"shop"`
	}
	err := client.doWithRetry(context.Background(), `query { shop { name } }`, nil, &data)
	assert.NoError(err)
	assert.Equal("HL Korut", data.Shop.Name)
	assert.Equal(2, fake.calls())
}

func TestDoWithRetry_clientErrorNotRetried(t *testing.T) {
	assert := require.New(t)

	client, fake := newFakeClient(t, fakeResponse{status: http.StatusUnauthorized, body: "bad token"})

	err := client.doWithRetry(context.Background(), `query { shop { name } }`, nil, nil)

	var remote *RemoteError
	assert.ErrorAs(err, &remote)
	assert.Equal(http.StatusUnauthorized, remote.Status)
	assert.Equal(1, fake.calls())
}

// counterTotal sums every data point of the named counter.
func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestDoWithRetry_countsRetries(t *testing.T) {
	assert := require.New(t)

	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	requestsBefore := counterTotal(t, reader, "storefront.api.requests.total")
	errorsBefore := counterTotal(t, reader, "storefront.api.errors.total")
	retriesBefore := counterTotal(t, reader, "storefront.api.retries.total")

	client, fake := newFakeClient(t,
		fakeResponse{status: http.StatusInternalServerError, body: "boom"},
		dataResponse(`{"shop":{"name":"HL Korut"}}`),
	)

	err := client.doWithRetry(context.Background(), `query { shop { name } }`, nil, nil)
	assert.NoError(err)
	assert.Equal(2, fake.calls())

	assert.Equal(int64(2), counterTotal(t, reader, "storefront.api.requests.total")-requestsBefore)
	assert.Equal(int64(1), counterTotal(t, reader, "storefront.api.errors.total")-errorsBefore)
	assert.Equal(int64(1), counterTotal(t, reader, "storefront.api.retries.total")-retriesBefore)
}

func TestDoWithRetry_givesUp(t *testing.T) {
	assert := require.New(t)

	client, fake := newFakeClient(t,
		fakeResponse{status: http.StatusInternalServerError, body: "boom"},
		fakeResponse{status: http.StatusInternalServerError, body: "boom"},
		fakeResponse{status: http.StatusInternalServerError, body: "boom"},
	)

	err := client.doWithRetry(context.Background(), `query { shop { name } }`, nil, nil)
	assert.Error(err)
	assert.Equal(3, fake.calls())
}
