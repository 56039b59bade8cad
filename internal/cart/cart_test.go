package cart

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hlkorut/storefront/internal/shopify"
)

// fakeAPI is a scripted remote cart backend recording the calls it receives.
type fakeAPI struct {
	mu    sync.Mutex
	calls []string

	created      *shopify.Cart
	createErr    error
	addResult    *shopify.Cart
	addErr       error
	removeResult *shopify.Cart
	removeErr    error
	updateResult *shopify.CartUpdateResult
	updateErr    error
	fetchResult  *shopify.Cart
	fetchErr     error
}

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeAPI) callCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeAPI) CreateCart(ctx context.Context) (*shopify.Cart, error) {
	f.record("CreateCart")
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.created != nil {
		return f.created, nil
	}
	return &shopify.Cart{
		ID:          "gid://shopify/Cart/c1",
		CheckoutURL: "https://hlkorut.myshopify.com/checkout/c1",
	}, nil
}

func (f *fakeAPI) AddToCart(ctx context.Context, cartID, variantID string, quantity int) (*shopify.Cart, error) {
	f.record("AddToCart")
	return f.addResult, f.addErr
}

func (f *fakeAPI) RemoveFromCart(ctx context.Context, cartID, lineID string) (*shopify.Cart, error) {
	f.record("RemoveFromCart")
	return f.removeResult, f.removeErr
}

func (f *fakeAPI) UpdateCartLines(ctx context.Context, cartID string, lines []shopify.LineUpdate) (*shopify.CartUpdateResult, error) {
	f.record("UpdateCartLines")
	return f.updateResult, f.updateErr
}

func (f *fakeAPI) Cart(ctx context.Context, cartID string) (*shopify.Cart, error) {
	f.record("Cart")
	return f.fetchResult, f.fetchErr
}

func testProduct() *shopify.Product {
	return &shopify.Product{
		ID:     "gid://shopify/Product/p1",
		Title:  "Aalto-riipus",
		Handle: "aalto-riipus",
		Images: shopify.Connection[shopify.Image]{Edges: []shopify.Edge[shopify.Image]{
			{Node: shopify.Image{URL: "https://cdn.shopify.com/aalto.jpg", AltText: "Aalto-riipus hopeaa"}},
		}},
		Variants: shopify.Connection[shopify.Variant]{Edges: []shopify.Edge[shopify.Variant]{
			{Node: shopify.Variant{
				ID:    "gid://shopify/ProductVariant/v1",
				Title: "Default Title",
				Price: shopify.Money{Amount: "89.0", CurrencyCode: "EUR"},
			}},
		}},
	}
}

func remoteLine(lineID, variantID string, quantity int, price string) shopify.CartLine {
	return shopify.CartLine{
		ID:       lineID,
		Quantity: quantity,
		Merchandise: shopify.Merchandise{
			ID:    variantID,
			Title: "Default Title",
			Price: shopify.Money{Amount: price, CurrencyCode: "EUR"},
			Product: shopify.LineProduct{
				ID:     "gid://shopify/Product/p1",
				Title:  "Aalto-riipus",
				Handle: "aalto-riipus",
			},
		},
	}
}

func remoteCart(lines ...shopify.CartLine) *shopify.Cart {
	edges := make([]shopify.Edge[shopify.CartLine], 0, len(lines))
	quantity := 0
	for _, line := range lines {
		edges = append(edges, shopify.Edge[shopify.CartLine]{Node: line})
		quantity += line.Quantity
	}
	return &shopify.Cart{
		ID:            "gid://shopify/Cart/c1",
		CheckoutURL:   "https://hlkorut.myshopify.com/checkout/c1",
		TotalQuantity: quantity,
		Lines:         shopify.Connection[shopify.CartLine]{Edges: edges},
	}
}

func newTestManager(api *fakeAPI) (*Manager, *MemoryStorage) {
	storage := NewMemoryStorage()
	m := NewManager(api, storage)
	m.Initialize(context.Background())
	return m, storage
}

func TestAddItem(t *testing.T) {
	assert := require.New(t)

	api := &fakeAPI{
		addResult: remoteCart(remoteLine("gid://shopify/CartLine/l1", "gid://shopify/ProductVariant/v1", 1, "89.0")),
	}
	m, storage := newTestManager(api)

	var opened bool
	m.SetOnOpen(func() { opened = true })

	err := m.AddItem(context.Background(), testProduct(), "")
	assert.NoError(err)
	assert.True(opened)

	items := m.Items()
	assert.Len(items, 1)
	// The temp line id is replaced by the settled remote id.
	assert.Equal("gid://shopify/CartLine/l1", items[0].ID)
	assert.Equal("Aalto-riipus", items[0].Title)
	// Shopify's placeholder variant title is suppressed.
	assert.Empty(items[0].VariantTitle)
	assert.Equal(1, m.Count())
	assert.Equal("gid://shopify/Cart/c1", m.CartID())
	assert.Equal("https://hlkorut.myshopify.com/checkout/c1", m.CheckoutURL())

	assert.Equal(1, api.callCount("CreateCart"))
	assert.Equal(1, api.callCount("AddToCart"))

	snap, err := storage.Load()
	assert.NoError(err)
	assert.NotNil(snap)
	assert.Len(snap.Items, 1)
	assert.Equal("gid://shopify/Cart/c1", snap.CartID)
}

func TestAddItem_existingVariantIncrements(t *testing.T) {
	assert := require.New(t)

	api := &fakeAPI{
		addResult: remoteCart(remoteLine("gid://shopify/CartLine/l1", "gid://shopify/ProductVariant/v1", 1, "89.0")),
	}
	m, _ := newTestManager(api)

	assert.NoError(m.AddItem(context.Background(), testProduct(), ""))

	api.addResult = remoteCart(remoteLine("gid://shopify/CartLine/l1", "gid://shopify/ProductVariant/v1", 2, "89.0"))
	assert.NoError(m.AddItem(context.Background(), testProduct(), ""))

	items := m.Items()
	assert.Len(items, 1)
	assert.Equal(2, items[0].Quantity)
	assert.Equal(2, m.Count())

	// The remote cart is created once, then reused.
	assert.Equal(1, api.callCount("CreateCart"))
	assert.Equal(2, api.callCount("AddToCart"))
}

func TestAddItem_noVariant(t *testing.T) {
	m, _ := newTestManager(&fakeAPI{})

	err := m.AddItem(context.Background(), &shopify.Product{Title: "Tyhjä"}, "")
	require.ErrorIs(t, err, ErrNoVariant)
	require.Empty(t, m.Items())
}

func TestAddItem_remoteFailureRollsBack(t *testing.T) {
	assert := require.New(t)

	api := &fakeAPI{addErr: errors.New("network down")}
	m, _ := newTestManager(api)

	var opened bool
	m.SetOnOpen(func() { opened = true })

	err := m.AddItem(context.Background(), testProduct(), "")
	assert.Error(err)

	// The drawer still opened on the optimistic step.
	assert.True(opened)

	// The optimistic line is gone again.
	assert.Empty(m.Items())
	assert.Equal(0, m.Count())
}

func TestNewItem(t *testing.T) {
	assert := require.New(t)

	// The optimistic placeholder line, before the remote id settles.
	product := testProduct()
	item := newItem(product, product.VariantByID(""))
	assert.True(strings.HasPrefix(item.ID, "temp-"))
	assert.Equal(1, item.Quantity)
	assert.Equal("Aalto-riipus hopeaa", item.ImageAlt)
	assert.Empty(item.VariantTitle)
}

func TestRemoveItem(t *testing.T) {
	assert := require.New(t)

	api := &fakeAPI{
		addResult:    remoteCart(remoteLine("gid://shopify/CartLine/l1", "gid://shopify/ProductVariant/v1", 1, "89.0")),
		removeResult: remoteCart(),
	}
	m, storage := newTestManager(api)

	assert.NoError(m.AddItem(context.Background(), testProduct(), ""))
	assert.NoError(m.RemoveItem(context.Background(), "gid://shopify/CartLine/l1"))

	assert.Empty(m.Items())
	assert.Equal(0, m.Count())

	snap, err := storage.Load()
	assert.NoError(err)
	assert.Empty(snap.Items)
}

func TestRemoveItem_remoteFailureRollsBack(t *testing.T) {
	assert := require.New(t)

	api := &fakeAPI{
		addResult: remoteCart(remoteLine("gid://shopify/CartLine/l1", "gid://shopify/ProductVariant/v1", 1, "89.0")),
		removeErr: errors.New("network down"),
	}
	m, _ := newTestManager(api)

	assert.NoError(m.AddItem(context.Background(), testProduct(), ""))

	err := m.RemoveItem(context.Background(), "gid://shopify/CartLine/l1")
	assert.Error(err)
	assert.Len(m.Items(), 1)
}

func TestRemoveItem_withoutRemoteCart(t *testing.T) {
	assert := require.New(t)

	storage := NewMemoryStorage()
	assert.NoError(storage.Save(&Snapshot{
		Items: []Item{{ID: "temp-1", VariantID: "v1", Quantity: 1}},
	}))

	api := &fakeAPI{}
	m := NewManager(api, storage)
	m.Initialize(context.Background())

	assert.NoError(m.RemoveItem(context.Background(), "temp-1"))
	assert.Empty(m.Items())

	// No remote cart exists, nothing to call.
	assert.Equal(0, api.callCount("RemoveFromCart"))
}

func TestUpdateQuantity(t *testing.T) {
	assert := require.New(t)

	api := &fakeAPI{
		addResult: remoteCart(remoteLine("gid://shopify/CartLine/l1", "gid://shopify/ProductVariant/v1", 1, "89.0")),
		updateResult: &shopify.CartUpdateResult{
			Cart: remoteCart(remoteLine("gid://shopify/CartLine/l1", "gid://shopify/ProductVariant/v1", 3, "89.0")),
		},
	}
	m, _ := newTestManager(api)

	assert.NoError(m.AddItem(context.Background(), testProduct(), ""))
	assert.NoError(m.UpdateQuantity(context.Background(), "gid://shopify/CartLine/l1", 3))

	items := m.Items()
	assert.Len(items, 1)
	assert.Equal(3, items[0].Quantity)
	assert.Equal(3, m.Count())
}

func TestUpdateQuantity_zeroRemoves(t *testing.T) {
	assert := require.New(t)

	api := &fakeAPI{
		addResult:    remoteCart(remoteLine("gid://shopify/CartLine/l1", "gid://shopify/ProductVariant/v1", 1, "89.0")),
		removeResult: remoteCart(),
	}
	m, _ := newTestManager(api)

	assert.NoError(m.AddItem(context.Background(), testProduct(), ""))
	assert.NoError(m.UpdateQuantity(context.Background(), "gid://shopify/CartLine/l1", 0))

	assert.Empty(m.Items())
	assert.Equal(1, api.callCount("RemoveFromCart"))
	assert.Equal(0, api.callCount("UpdateCartLines"))
}

func TestUpdateQuantity_userErrorRollsBack(t *testing.T) {
	assert := require.New(t)

	api := &fakeAPI{
		addResult: remoteCart(remoteLine("gid://shopify/CartLine/l1", "gid://shopify/ProductVariant/v1", 2, "89.0")),
		updateResult: &shopify.CartUpdateResult{
			Cart:       remoteCart(remoteLine("gid://shopify/CartLine/l1", "gid://shopify/ProductVariant/v1", 2, "89.0")),
			UserErrors: []shopify.UserError{{Message: "Quantity exceeds available stock"}},
		},
	}
	m, _ := newTestManager(api)

	assert.NoError(m.AddItem(context.Background(), testProduct(), ""))

	err := m.UpdateQuantity(context.Background(), "gid://shopify/CartLine/l1", 99)

	var userErr *UserError
	assert.ErrorAs(err, &userErr)
	assert.Equal("Quantity exceeds available stock", userErr.Message)

	// The optimistic quantity change is rolled back.
	assert.Equal(2, m.Items()[0].Quantity)
}

func TestUpdateQuantity_expiredCartRollsBack(t *testing.T) {
	assert := require.New(t)

	api := &fakeAPI{
		addResult:    remoteCart(remoteLine("gid://shopify/CartLine/l1", "gid://shopify/ProductVariant/v1", 1, "89.0")),
		updateResult: &shopify.CartUpdateResult{},
	}
	m, _ := newTestManager(api)

	assert.NoError(m.AddItem(context.Background(), testProduct(), ""))

	err := m.UpdateQuantity(context.Background(), "gid://shopify/CartLine/l1", 2)
	assert.ErrorIs(err, ErrCartExpired)
	assert.Equal(1, m.Items()[0].Quantity)
}

func TestUpdateQuantity_remoteFailureRollsBack(t *testing.T) {
	assert := require.New(t)

	api := &fakeAPI{
		addResult: remoteCart(remoteLine("gid://shopify/CartLine/l1", "gid://shopify/ProductVariant/v1", 1, "89.0")),
		updateErr: errors.New("network down"),
	}
	m, _ := newTestManager(api)

	assert.NoError(m.AddItem(context.Background(), testProduct(), ""))

	err := m.UpdateQuantity(context.Background(), "gid://shopify/CartLine/l1", 5)
	assert.Error(err)
	assert.Equal(1, m.Items()[0].Quantity)
}

func TestInitialize_remoteWins(t *testing.T) {
	assert := require.New(t)

	storage := NewMemoryStorage()
	assert.NoError(storage.Save(&Snapshot{
		Items:  []Item{{ID: "stale", VariantID: "v-old", Quantity: 9}},
		CartID: "gid://shopify/Cart/c1",
	}))

	api := &fakeAPI{
		fetchResult: remoteCart(remoteLine("gid://shopify/CartLine/l1", "gid://shopify/ProductVariant/v1", 1, "89.0")),
	}

	m := NewManager(api, storage)
	assert.True(m.Initializing())

	m.Initialize(context.Background())

	assert.False(m.Initializing())
	items := m.Items()
	assert.Len(items, 1)
	assert.Equal("gid://shopify/CartLine/l1", items[0].ID)
	assert.Equal(1, items[0].Quantity)

	// The reconciled state is written back.
	snap, err := storage.Load()
	assert.NoError(err)
	assert.Len(snap.Items, 1)
	assert.Equal("gid://shopify/CartLine/l1", snap.Items[0].ID)
}

func TestInitialize_expiredCartClearsEverything(t *testing.T) {
	assert := require.New(t)

	storage := NewMemoryStorage()
	assert.NoError(storage.Save(&Snapshot{
		Items:  []Item{{ID: "stale", VariantID: "v-old", Quantity: 2}},
		CartID: "gid://shopify/Cart/gone",
	}))

	api := &fakeAPI{} // Cart() returns (nil, nil), the cart expired

	m := NewManager(api, storage)
	m.Initialize(context.Background())

	assert.Empty(m.Items())
	assert.Empty(m.CartID())

	snap, err := storage.Load()
	assert.NoError(err)
	assert.Nil(snap)
}

func TestInitialize_networkErrorKeepsSnapshot(t *testing.T) {
	assert := require.New(t)

	storage := NewMemoryStorage()
	assert.NoError(storage.Save(&Snapshot{
		Items:       []Item{{ID: "gid://shopify/CartLine/l1", VariantID: "v1", Quantity: 2}},
		CartID:      "gid://shopify/Cart/c1",
		CheckoutURL: "https://hlkorut.myshopify.com/checkout/c1",
	}))

	api := &fakeAPI{fetchErr: errors.New("network down")}

	m := NewManager(api, storage)
	m.Initialize(context.Background())

	// Availability over strict consistency, the snapshot survives an outage.
	assert.Len(m.Items(), 1)
	assert.Equal("gid://shopify/Cart/c1", m.CartID())
	assert.Equal("https://hlkorut.myshopify.com/checkout/c1", m.CheckoutURL())
}

func TestInitialize_runsOnce(t *testing.T) {
	assert := require.New(t)

	storage := NewMemoryStorage()
	assert.NoError(storage.Save(&Snapshot{
		Items:  []Item{{ID: "l1", VariantID: "v1", Quantity: 1}},
		CartID: "gid://shopify/Cart/c1",
	}))

	api := &fakeAPI{
		fetchResult: remoteCart(remoteLine("gid://shopify/CartLine/l1", "gid://shopify/ProductVariant/v1", 1, "89.0")),
	}

	m := NewManager(api, storage)
	m.Initialize(context.Background())
	m.Initialize(context.Background())

	assert.Equal(1, api.callCount("Cart"))
}

func TestClear(t *testing.T) {
	assert := require.New(t)

	api := &fakeAPI{
		addResult: remoteCart(remoteLine("gid://shopify/CartLine/l1", "gid://shopify/ProductVariant/v1", 1, "89.0")),
	}
	m, storage := newTestManager(api)

	assert.NoError(m.AddItem(context.Background(), testProduct(), ""))

	m.Clear()

	assert.Empty(m.Items())
	assert.Empty(m.CartID())
	assert.Empty(m.CheckoutURL())

	snap, err := storage.Load()
	assert.NoError(err)
	assert.Nil(snap)
}

func TestTotal(t *testing.T) {
	assert := require.New(t)

	api := &fakeAPI{
		addResult: remoteCart(
			remoteLine("gid://shopify/CartLine/l1", "gid://shopify/ProductVariant/v1", 2, "89.0"),
			remoteLine("gid://shopify/CartLine/l2", "gid://shopify/ProductVariant/v2", 1, "45.5"),
		),
	}
	m, _ := newTestManager(api)

	assert.NoError(m.AddItem(context.Background(), testProduct(), ""))

	assert.Equal(3, m.Count())
	assert.Equal("223,50 €", m.Total())
}

func TestTotal_empty(t *testing.T) {
	m, _ := newTestManager(&fakeAPI{})
	require.Equal(t, "0,00 €", m.Total())
}
