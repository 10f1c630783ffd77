// Package source reads orders and product names from the commerce system the
// analytics mirror is fed from.
package source

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Order types as reported by the commerce system.
const (
	TypeOrder  = "shop_order"
	TypeRefund = "shop_order_refund"
)

// Statuses pulled by a sync. Drafts and trashed orders are never mirrored.
var SyncStatuses = []string{"pending", "processing", "completed", "cancelled", "refunded", "failed"}

// Order is one order as read from the commerce system.
type Order struct {
	ID             int64           `json:"id"`
	Type           string          `json:"type,omitempty"`
	Status         string          `json:"status"`
	Total          decimal.Decimal `json:"total"`
	DateCreated    time.Time       `json:"date_created"`
	CustomerID     int64           `json:"customer_id"`
	PaymentMethod  string          `json:"payment_method,omitempty"`
	ShippingMethod string          `json:"shipping_method,omitempty"`
	Items          []Item          `json:"line_items,omitempty"`
}

// Item is one order line.
type Item struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// IsRefund reports whether o is a refund record. Refunds are never mirrored.
func (o Order) IsRefund() bool {
	return o.Type == TypeRefund || o.Type == "refund"
}

// Source lists orders created at or after since, oldest first. A nil since
// lists every order.
type Source interface {
	Orders(ctx context.Context, since *time.Time) ([]Order, error)
}

// Catalog resolves product display names.
type Catalog interface {
	ProductName(ctx context.Context, productID int64) (string, bool)
}

// Memory is a slice-backed Source and Catalog.
type Memory struct {
	mu     sync.Mutex
	orders []Order
	names  map[int64]string
}

func NewMemory(orders ...Order) *Memory {
	m := &Memory{names: map[int64]string{}}
	m.Add(orders...)
	return m
}

// Add appends orders to the source.
func (m *Memory) Add(orders ...Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, orders...)
}

// SetName registers a product display name.
func (m *Memory) SetName(productID int64, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[productID] = name
}

func (m *Memory) Orders(ctx context.Context, since *time.Time) ([]Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Order, 0, len(m.orders))
	for _, o := range m.orders {
		if since != nil && o.DateCreated.Before(*since) {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DateCreated.Equal(out[j].DateCreated) {
			return out[i].DateCreated.Before(out[j].DateCreated)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) ProductName(_ context.Context, productID int64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.names[productID]
	return name, ok && name != ""
}
