package book

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/openloop/cyclearb/pkg/market"
	"github.com/openloop/cyclearb/pkg/store"
	"github.com/openloop/cyclearb/pkg/util"
)

// Manager routes order events to per-product books and exposes the queue
// of products whose ladders changed since the network last looked.
type Manager struct {
	products *market.ProductManager
	st       *store.Store
	books    map[string]*OrderBook
	log      *zap.SugaredLogger
}

// NewManager builds one book per registered product.
func NewManager(pm *market.ProductManager, st *store.Store, clock util.Clock, log *zap.SugaredLogger, queryBatch int64) *Manager {
	books := make(map[string]*OrderBook)
	for _, p := range pm.List() {
		books[p.ID] = NewOrderBook(p, st, clock, log, queryBatch)
	}
	return &Manager{
		products: pm,
		st:       st,
		books:    books,
		log:      log,
	}
}

// Book returns the order book for a product id.
func (m *Manager) Book(productID string) (*OrderBook, bool) {
	b, ok := m.books[productID]
	return b, ok
}

// Books returns every managed book keyed by product id.
func (m *Manager) Books() map[string]*OrderBook { return m.books }

// Apply routes one order event to its product's book.
func (m *Manager) Apply(ctx context.Context, o *market.Order) error {
	b, ok := m.books[o.ProductID]
	if !ok {
		return fmt.Errorf("no order book for product %s", o.ProductID)
	}
	return b.Apply(ctx, o)
}

// Sequence returns the current sequence of a product's book, zero when the
// product is unknown.
func (m *Manager) Sequence(productID string) int64 {
	b, ok := m.books[productID]
	if !ok {
		return 0
	}
	return b.Sequence()
}

// PopChanged drains up to n products whose given side changed since the
// last drain.
func (m *Manager) PopChanged(ctx context.Context, side market.Side, n int64) ([]string, error) {
	return m.st.SPopN(ctx, store.ChangedProductsKey(side), n)
}
