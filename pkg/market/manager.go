package market

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// ProductManager holds the tradable products in a thread-safe manner.
// The set is built once at bootstrap; lookups dominate after that.
type ProductManager struct {
	mu       sync.RWMutex
	products map[string]*Product
	minSizes map[Currency]decimal.Decimal
}

// NewProductManager creates an empty product manager
func NewProductManager() *ProductManager {
	return &ProductManager{
		products: make(map[string]*Product),
		minSizes: make(map[Currency]decimal.Decimal),
	}
}

// Register adds a product.
// Returns error if a product with the same id already exists.
func (pm *ProductManager) Register(p *Product) error {
	if p == nil {
		return fmt.Errorf("cannot register nil product")
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, exists := pm.products[p.ID]; exists {
		return fmt.Errorf("product %s already registered", p.ID)
	}

	pm.products[p.ID] = p
	return nil
}

// Get retrieves a product by id.
// Returns error if the product is not registered.
func (pm *ProductManager) Get(id string) (*Product, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	p, exists := pm.products[id]
	if !exists {
		return nil, fmt.Errorf("product %s not found", id)
	}

	return p, nil
}

// List returns all registered products sorted by id.
func (pm *ProductManager) List() []*Product {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	products := make([]*Product, 0, len(pm.products))
	for _, p := range pm.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products
}

// IDs returns all registered product ids sorted.
func (pm *ProductManager) IDs() []string {
	products := pm.List()
	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	return ids
}

// ProductFor finds the product trading the {src, dst} pair and the side an
// order moving src into dst must rest on.
// Returns error if no registered product trades the pair.
func (pm *ProductManager) ProductFor(src, dst Currency) (*Product, Side, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, p := range pm.products {
		if side, ok := p.SideFromDirection(src, dst); ok {
			return p, side, nil
		}
	}
	return nil, 0, fmt.Errorf("no product trades %s to %s", src, dst)
}

// Currencies returns every currency appearing in a registered product, ascending.
func (pm *ProductManager) Currencies() []Currency {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	seen := make(map[Currency]struct{})
	for _, p := range pm.products {
		seen[p.Quote] = struct{}{}
		seen[p.Base] = struct{}{}
	}
	currencies := make([]Currency, 0, len(seen))
	for c := range seen {
		currencies = append(currencies, c)
	}
	sort.Slice(currencies, func(i, j int) bool { return currencies[i] < currencies[j] })
	return currencies
}

// SetMinSize records the smallest amount of c the exchange lets an account
// hold or trade. Sourced from the currency listing at bootstrap.
func (pm *ProductManager) SetMinSize(c Currency, minSize decimal.Decimal) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.minSizes[c] = minSize
}

// MinSize returns the recorded minimum size for c.
func (pm *ProductManager) MinSize(c Currency) (decimal.Decimal, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	m, ok := pm.minSizes[c]
	return m, ok
}
