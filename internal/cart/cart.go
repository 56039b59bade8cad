// Package cart keeps a visitor's cart consistent with the remote cart held
// by the commerce backend. Every mutation is optimistic: the local list
// changes first, the remote call follows, and the result either overwrites
// local state (the remote cart is the source of truth) or the mutation is
// rolled back to the pre-operation snapshot.
package cart

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hlkorut/storefront/internal/shopify"
)

var (
	// ErrNoVariant means the product has no variant to add.
	ErrNoVariant = errors.New("no variant found")

	// ErrCartExpired means the remote cart no longer exists.
	ErrCartExpired = errors.New("cart no longer exists")
)

// UserError is a line-level validation error reported by the backend, e.g.
// insufficient stock. The message is safe to show to the shopper.
type UserError struct {
	Message string
}

func (e *UserError) Error() string {
	return fmt.Sprintf("cart update rejected: %s", e.Message)
}

// defaultVariantTitle is Shopify's sentinel title for single-variant
// products, suppressed in display.
const defaultVariantTitle = "Default Title"

// Item is a client-visible cart line mirroring a remote cart line. Until the
// remote call settles a freshly added item carries a temporary id.
type Item struct {
	ID           string `json:"id"`
	VariantID    string `json:"variantId"`
	ProductID    string `json:"productId"`
	Title        string `json:"title"`
	VariantTitle string `json:"variantTitle"`
	Quantity     int    `json:"quantity"`
	Price        string `json:"price"`
	CurrencyCode string `json:"currencyCode"`
	ImageURL     string `json:"imageUrl"`
	ImageAlt     string `json:"imageAlt"`
	Handle       string `json:"handle"`
}

// API is the remote cart surface the manager needs, satisfied by
// *shopify.Client.
type API interface {
	CreateCart(ctx context.Context) (*shopify.Cart, error)
	AddToCart(ctx context.Context, cartID, variantID string, quantity int) (*shopify.Cart, error)
	RemoveFromCart(ctx context.Context, cartID, lineID string) (*shopify.Cart, error)
	UpdateCartLines(ctx context.Context, cartID string, lines []shopify.LineUpdate) (*shopify.CartUpdateResult, error)
	Cart(ctx context.Context, cartID string) (*shopify.Cart, error)
}

// Manager owns one visitor's cart state.
//
// opMu serializes mutations so two rapid clicks cannot race the same remote
// cart; stateMu guards the fields so page renders never wait on a remote
// call.
type Manager struct {
	api     API
	storage Storage
	onOpen  func()

	opMu    sync.Mutex
	loading atomic.Bool

	initOnce sync.Once

	stateMu      sync.Mutex
	items        []Item
	cartID       string
	checkoutURL  string
	initializing bool
}

// NewManager creates a manager in the initializing state. Call Initialize
// before trusting the cart contents.
func NewManager(remote API, storage Storage) *Manager {
	return &Manager{
		api:          remote,
		storage:      storage,
		initializing: true,
	}
}

// SetOnOpen registers the hook fired after the optimistic step of AddItem,
// the caller uses it to open the cart drawer for immediate feedback.
func (m *Manager) SetOnOpen(fn func()) {
	m.onOpen = fn
}

// Initialize loads the persisted snapshot and reconciles it with the remote
// cart. Runs at most once per manager.
//
//   - remote cart found: the remote response overwrites the local snapshot
//   - remote cart gone (expired): local state and storage are cleared
//   - fetch failed: the local snapshot is kept, availability over strict
//     consistency during outages
func (m *Manager) Initialize(ctx context.Context) {
	m.initOnce.Do(func() {
		defer func() {
			m.stateMu.Lock()
			m.initializing = false
			m.stateMu.Unlock()
		}()

		snap, err := m.storage.Load()
		if err != nil {
			log.Error().Err(err).Msg("failed to load cart snapshot")
			return
		}
		if snap == nil {
			return
		}

		if snap.CartID == "" {
			m.adoptSnapshot(snap)
			return
		}

		remote, err := m.api.Cart(ctx, snap.CartID)
		if err != nil {
			log.Error().Err(err).Msg("cart validation failed, using local snapshot")
			m.adoptSnapshot(snap)
			return
		}

		if remote == nil {
			log.Info().Str("cart_id", snap.CartID).Msg("cart expired, clearing local state")
			if err := m.storage.Clear(); err != nil {
				log.Error().Err(err).Msg("failed to clear cart storage")
			}
			return
		}

		m.adoptRemote(remote)
		m.persist()
	})
}

// AddItem optimistically adds one unit of a product variant, creating the
// remote cart on first use. The variantID may be empty to select the
// product's first variant.
func (m *Manager) AddItem(ctx context.Context, product *shopify.Product, variantID string) error {
	variant := product.VariantByID(variantID)
	if variant == nil {
		return ErrNoVariant
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.loading.Store(true)
	defer m.loading.Store(false)

	prev := m.snapshotItems()

	m.stateMu.Lock()
	if idx := indexOfVariant(m.items, variant.ID); idx >= 0 {
		m.items[idx].Quantity++
	} else {
		m.items = append(m.items, newItem(product, variant))
	}
	m.stateMu.Unlock()

	// Open the cart drawer right away, independent of the remote outcome.
	if m.onOpen != nil {
		m.onOpen()
	}

	cartID, err := m.ensureCart(ctx)
	if err != nil {
		m.restore(prev)
		return err
	}

	remote, err := m.api.AddToCart(ctx, cartID, variant.ID, 1)
	if err != nil {
		m.restore(prev)
		return err
	}

	m.adoptRemote(remote)
	m.persist()

	return nil
}

// RemoveItem optimistically removes a line, then reconciles with the remote
// result or rolls back.
func (m *Manager) RemoveItem(ctx context.Context, itemID string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.loading.Store(true)
	defer m.loading.Store(false)

	prev := m.snapshotItems()

	m.stateMu.Lock()
	kept := m.items[:0:0]
	for _, item := range m.items {
		if item.ID != itemID {
			kept = append(kept, item)
		}
	}
	m.items = kept
	cartID := m.cartID
	m.stateMu.Unlock()

	if cartID == "" {
		m.persist()
		return nil
	}

	remote, err := m.api.RemoveFromCart(ctx, cartID, itemID)
	if err != nil {
		m.restore(prev)
		return err
	}

	m.adoptRemote(remote)
	m.persist()

	return nil
}

// UpdateQuantity optimistically sets a line's quantity. A quantity of zero
// or less removes the line instead, an item is never retained at quantity 0.
func (m *Manager) UpdateQuantity(ctx context.Context, itemID string, quantity int) error {
	if quantity <= 0 {
		return m.RemoveItem(ctx, itemID)
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.loading.Store(true)
	defer m.loading.Store(false)

	prev := m.snapshotItems()

	m.stateMu.Lock()
	for i := range m.items {
		if m.items[i].ID == itemID {
			m.items[i].Quantity = quantity
			break
		}
	}
	cartID := m.cartID
	m.stateMu.Unlock()

	if cartID == "" {
		m.persist()
		return nil
	}

	result, err := m.api.UpdateCartLines(ctx, cartID, []shopify.LineUpdate{{ID: itemID, Quantity: quantity}})
	if err != nil {
		m.restore(prev)
		return err
	}

	if len(result.UserErrors) > 0 {
		m.restore(prev)
		return &UserError{Message: result.UserErrors[0].Message}
	}

	for _, warning := range result.Warnings {
		log.Warn().Str("code", warning.Code).Str("message", warning.Message).Msg("cart warning")
	}

	if result.Cart == nil {
		m.restore(prev)
		return ErrCartExpired
	}

	m.adoptRemote(result.Cart)
	m.persist()

	return nil
}

// Clear drops the local cart and its stored snapshot.
func (m *Manager) Clear() {
	m.stateMu.Lock()
	m.items = nil
	m.cartID = ""
	m.checkoutURL = ""
	m.stateMu.Unlock()

	if err := m.storage.Clear(); err != nil {
		log.Error().Err(err).Msg("failed to clear cart storage")
	}
}

// Items returns a copy of the current lines.
func (m *Manager) Items() []Item {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return append([]Item(nil), m.items...)
}

// Count is the total quantity across all lines.
func (m *Manager) Count() int {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	count := 0
	for _, item := range m.items {
		count += item.Quantity
	}
	return count
}

// Total is the formatted sum of price x quantity across all lines.
func (m *Manager) Total() string {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	var total float64
	currency := ""
	for _, item := range m.items {
		price, err := strconv.ParseFloat(item.Price, 64)
		if err != nil {
			continue
		}
		total += price * float64(item.Quantity)
		if currency == "" {
			currency = item.CurrencyCode
		}
	}

	return shopify.FormatPrice(strconv.FormatFloat(total, 'f', 2, 64), currency)
}

func (m *Manager) CartID() string {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.cartID
}

func (m *Manager) CheckoutURL() string {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.checkoutURL
}

// Loading reports whether a mutation is in flight, the UI disables the
// quantity controls while true.
func (m *Manager) Loading() bool {
	return m.loading.Load()
}

// Initializing reports whether the startup reconciliation has not finished
// yet.
func (m *Manager) Initializing() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.initializing
}

// ensureCart returns the cached remote cart id, creating the remote cart
// lazily on first use.
func (m *Manager) ensureCart(ctx context.Context) (string, error) {
	m.stateMu.Lock()
	cartID := m.cartID
	m.stateMu.Unlock()

	if cartID != "" {
		return cartID, nil
	}

	remote, err := m.api.CreateCart(ctx)
	if err != nil {
		return "", err
	}

	m.stateMu.Lock()
	m.cartID = remote.ID
	m.checkoutURL = remote.CheckoutURL
	m.stateMu.Unlock()

	return remote.ID, nil
}

// snapshotItems copies the current lines for a later rollback.
func (m *Manager) snapshotItems() []Item {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return append([]Item(nil), m.items...)
}

// restore puts the pre-operation lines back after a failed remote call.
func (m *Manager) restore(items []Item) {
	m.stateMu.Lock()
	m.items = items
	m.stateMu.Unlock()
}

// adoptSnapshot replaces local state from a stored snapshot.
func (m *Manager) adoptSnapshot(snap *Snapshot) {
	m.stateMu.Lock()
	m.items = snap.Items
	m.cartID = snap.CartID
	m.checkoutURL = snap.CheckoutURL
	m.stateMu.Unlock()
}

// adoptRemote replaces local state wholesale from the authoritative remote
// cart.
func (m *Manager) adoptRemote(remote *shopify.Cart) {
	m.stateMu.Lock()
	m.items = mapCart(remote)
	m.cartID = remote.ID
	m.checkoutURL = remote.CheckoutURL
	m.stateMu.Unlock()
}

// persist writes the settled state through storage.
func (m *Manager) persist() {
	m.stateMu.Lock()
	snap := &Snapshot{
		Items:       append([]Item(nil), m.items...),
		CartID:      m.cartID,
		CheckoutURL: m.checkoutURL,
	}
	m.stateMu.Unlock()

	if err := m.storage.Save(snap); err != nil {
		log.Error().Err(err).Msg("failed to persist cart snapshot")
	}
}

// mapCart converts remote cart lines to display items.
func mapCart(remote *shopify.Cart) []Item {
	items := make([]Item, 0, len(remote.Lines.Edges))
	for _, line := range remote.Lines.Nodes() {
		variantTitle := line.Merchandise.Title
		if variantTitle == defaultVariantTitle {
			variantTitle = ""
		}

		image := shopify.Image{}
		if len(line.Merchandise.Product.Images.Edges) > 0 {
			image = line.Merchandise.Product.Images.Edges[0].Node
		}

		items = append(items, Item{
			ID:           line.ID,
			VariantID:    line.Merchandise.ID,
			ProductID:    line.Merchandise.Product.ID,
			Title:        line.Merchandise.Product.Title,
			VariantTitle: variantTitle,
			Quantity:     line.Quantity,
			Price:        line.Merchandise.Price.Amount,
			CurrencyCode: line.Merchandise.Price.CurrencyCode,
			ImageURL:     image.URL,
			ImageAlt:     image.AltText,
			Handle:       line.Merchandise.Product.Handle,
		})
	}
	return items
}

// newItem builds the optimistic placeholder line for a variant not in the
// cart yet. The temporary id is replaced by the remote line id on
// reconciliation.
func newItem(product *shopify.Product, variant *shopify.Variant) Item {
	variantTitle := variant.Title
	if variantTitle == defaultVariantTitle {
		variantTitle = ""
	}

	image := product.FirstImage()
	imageAlt := image.AltText
	if imageAlt == "" {
		imageAlt = product.Title
	}

	return Item{
		ID:           "temp-" + uuid.NewString(),
		VariantID:    variant.ID,
		ProductID:    product.ID,
		Title:        product.Title,
		VariantTitle: variantTitle,
		Quantity:     1,
		Price:        variant.Price.Amount,
		CurrencyCode: variant.Price.CurrencyCode,
		ImageURL:     image.URL,
		ImageAlt:     imageAlt,
		Handle:       product.Handle,
	}
}

func indexOfVariant(items []Item, variantID string) int {
	for i, item := range items {
		if item.VariantID == variantID {
			return i
		}
	}
	return -1
}
