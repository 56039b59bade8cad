package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/hlkorut/storefront"

// Metrics holds the storefront's metric instruments.
type Metrics struct {
	// Cart operation metrics
	CartMutationsTotal      metric.Int64Counter
	CartMutationErrorsTotal metric.Int64Counter
	CartRollbacksTotal      metric.Int64Counter
	CartMutationDuration    metric.Float64Histogram
	CartsExpiredTotal       metric.Int64Counter

	// Storefront API metrics
	StorefrontRequestsTotal metric.Int64Counter
	StorefrontErrorsTotal   metric.Int64Counter
	StorefrontRetriesTotal  metric.Int64Counter

	// Auth metrics
	LoginsStartedTotal   metric.Int64Counter
	LoginsCompletedTotal metric.Int64Counter
	LoginsFailedTotal    metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if
// necessary.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.CartMutationsTotal, _ = meter.Int64Counter(
		"storefront.cart.mutations.total",
		metric.WithDescription("Total number of cart mutations (add, remove, update)"),
		metric.WithUnit("{mutation}"),
	)

	m.CartMutationErrorsTotal, _ = meter.Int64Counter(
		"storefront.cart.mutation_errors.total",
		metric.WithDescription("Total number of cart mutations that failed remotely"),
		metric.WithUnit("{error}"),
	)

	m.CartRollbacksTotal, _ = meter.Int64Counter(
		"storefront.cart.rollbacks.total",
		metric.WithDescription("Total number of optimistic cart updates rolled back"),
		metric.WithUnit("{rollback}"),
	)

	m.CartMutationDuration, _ = meter.Float64Histogram(
		"storefront.cart.mutation.duration",
		metric.WithDescription("Duration of cart mutations including the remote call"),
		metric.WithUnit("ms"),
	)

	m.CartsExpiredTotal, _ = meter.Int64Counter(
		"storefront.cart.expired.total",
		metric.WithDescription("Total number of carts found expired on the backend"),
		metric.WithUnit("{cart}"),
	)

	m.StorefrontRequestsTotal, _ = meter.Int64Counter(
		"storefront.api.requests.total",
		metric.WithDescription("Total number of Storefront API requests"),
		metric.WithUnit("{request}"),
	)

	m.StorefrontErrorsTotal, _ = meter.Int64Counter(
		"storefront.api.errors.total",
		metric.WithDescription("Total number of Storefront API failures"),
		metric.WithUnit("{error}"),
	)

	m.StorefrontRetriesTotal, _ = meter.Int64Counter(
		"storefront.api.retries.total",
		metric.WithDescription("Total number of Storefront API retries"),
		metric.WithUnit("{retry}"),
	)

	m.LoginsStartedTotal, _ = meter.Int64Counter(
		"storefront.auth.logins_started.total",
		metric.WithDescription("Total number of login attempts started"),
		metric.WithUnit("{login}"),
	)

	m.LoginsCompletedTotal, _ = meter.Int64Counter(
		"storefront.auth.logins_completed.total",
		metric.WithDescription("Total number of logins completed"),
		metric.WithUnit("{login}"),
	)

	m.LoginsFailedTotal, _ = meter.Int64Counter(
		"storefront.auth.logins_failed.total",
		metric.WithDescription("Total number of logins that failed"),
		metric.WithUnit("{login}"),
	)

	return m
}
