package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hlkorut/storefront/internal/cart"
	"github.com/hlkorut/storefront/internal/shopify"
	"github.com/hlkorut/storefront/internal/telemetry"
)

// cartView is the JSON shape the page scripts consume.
type cartView struct {
	Items       []cart.Item `json:"items"`
	Count       int         `json:"count"`
	Total       string      `json:"total"`
	CartID      string      `json:"cartId,omitempty"`
	CheckoutURL string      `json:"checkoutUrl,omitempty"`
	Loading     bool        `json:"loading"`
}

func viewOf(m *cart.Manager) cartView {
	return cartView{
		Items:       m.Items(),
		Count:       m.Count(),
		Total:       m.Total(),
		CartID:      m.CartID(),
		CheckoutURL: m.CheckoutURL(),
		Loading:     m.Loading(),
	}
}

// withCart resolves the visitor's cart manager before the handler runs.
func (s *Server) withCart(next func(http.ResponseWriter, *http.Request, *cart.Manager)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		manager, err := s.carts.Manager(r.Context(), visitorID(r.Context()))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid visitor")
			return
		}
		next(w, r, manager)
	}
}

func (s *Server) getCartHandler(w http.ResponseWriter, r *http.Request, m *cart.Manager) {
	writeJSON(w, http.StatusOK, viewOf(m))
}

// mutate counts the cart mutation and records its duration, remote round
// trip included, labelled with the operation name.
func mutate(ctx context.Context, op string, fn func() error) error {
	metrics := telemetry.GetMetrics()
	attrs := metric.WithAttributes(attribute.String("operation", op))

	metrics.CartMutationsTotal.Add(ctx, 1, attrs)

	start := time.Now()
	err := fn()
	metrics.CartMutationDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)

	return err
}

type addItemRequest struct {
	Handle    string `json:"handle"`
	VariantID string `json:"variantId"`
}

func (s *Server) addItemHandler(w http.ResponseWriter, r *http.Request, m *cart.Manager) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Handle == "" {
		writeError(w, http.StatusBadRequest, "handle is required")
		return
	}

	product, err := s.catalog.ProductByHandle(r.Context(), req.Handle)
	if err != nil {
		s.remoteError(w, err)
		return
	}
	if product == nil {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}

	err = mutate(r.Context(), "add", func() error {
		return m.AddItem(r.Context(), product, req.VariantID)
	})
	if err != nil {
		s.cartError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, viewOf(m))
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

func (s *Server) updateItemHandler(w http.ResponseWriter, r *http.Request, m *cart.Manager) {
	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := mutate(r.Context(), "update", func() error {
		return m.UpdateQuantity(r.Context(), r.PathValue("id"), req.Quantity)
	})
	if err != nil {
		s.cartError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, viewOf(m))
}

func (s *Server) removeItemHandler(w http.ResponseWriter, r *http.Request, m *cart.Manager) {
	err := mutate(r.Context(), "remove", func() error {
		return m.RemoveItem(r.Context(), r.PathValue("id"))
	})
	if err != nil {
		s.cartError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, viewOf(m))
}

func (s *Server) clearCartHandler(w http.ResponseWriter, r *http.Request, m *cart.Manager) {
	m.Clear()
	writeJSON(w, http.StatusOK, viewOf(m))
}

// cartError maps cart failures to API responses. The optimistic change has
// already been rolled back by the manager, the client just re-renders from
// the returned state.
func (s *Server) cartError(w http.ResponseWriter, r *http.Request, err error) {
	metrics := telemetry.GetMetrics()
	metrics.CartMutationErrorsTotal.Add(r.Context(), 1)

	var userErr *cart.UserError
	switch {
	case errors.As(err, &userErr):
		metrics.CartRollbacksTotal.Add(r.Context(), 1)
		writeError(w, http.StatusUnprocessableEntity, userErr.Message)
	case errors.Is(err, cart.ErrCartExpired):
		metrics.CartsExpiredTotal.Add(r.Context(), 1)
		writeError(w, http.StatusConflict, "cart no longer exists")
	case errors.Is(err, cart.ErrNoVariant):
		writeError(w, http.StatusNotFound, "variant not found")
	default:
		var remote *shopify.RemoteError
		if errors.As(err, &remote) {
			metrics.CartRollbacksTotal.Add(r.Context(), 1)
			log.Error().Err(err).Msg("cart mutation failed remotely")
			writeError(w, http.StatusBadGateway, "cart backend unavailable")
			return
		}
		log.Error().Err(err).Msg("cart mutation failed")
		writeError(w, http.StatusInternalServerError, "cart update failed")
	}
}
