package db

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Order statuses counted as revenue.
var RevenueStatuses = []string{"completed", "processing"}

// Item is one product line of a mirrored order.
type Item struct {
	ProductID int64
	Quantity  int
}

// OrderMirror keeps the denormalized order snapshot in sync with the source
// system. The unique order_id key is the only dedup guarantee.
type OrderMirror struct {
	db *gorm.DB
}

func NewOrderMirror(db *gorm.DB) *OrderMirror {
	return &OrderMirror{db: db}
}

// NewOrderRecord builds a mirror row; customerID 0 means guest.
func NewOrderRecord(orderID int64, status string, total decimal.Decimal, orderDate time.Time, customerID int64) OrderRecord {
	return OrderRecord{
		OrderID:     orderID,
		OrderStatus: status,
		OrderTotal:  total.Round(2),
		OrderDate:   normalize(orderDate),
		CustomerID:  NullableID(customerID),
	}
}

// Upsert writes rec, or overwrites status and total when the order id is
// already mirrored. OrderDate and CustomerID are kept from the first write.
func (m *OrderMirror) Upsert(ctx context.Context, rec OrderRecord) error {
	rec.ID = 0
	rec.OrderDate = normalize(rec.OrderDate)
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"order_status", "order_total"}),
	}).Create(&rec).Error
}

// Insert adds rec and its items. It returns ErrDuplicateOrder when the
// order id is already mirrored.
func (m *OrderMirror) Insert(ctx context.Context, rec OrderRecord, items []Item) error {
	rec.ID = 0
	rec.OrderDate = normalize(rec.OrderDate)
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateOrder
			}
			return err
		}
		return createItems(tx, rec.OrderID, items)
	})
}

// UpdateStatus changes status and total of an already mirrored order. It
// reports whether a row was touched.
func (m *OrderMirror) UpdateStatus(ctx context.Context, orderID int64, status string, total decimal.Decimal) (bool, error) {
	res := m.db.WithContext(ctx).Model(&OrderRecord{}).
		Where("order_id = ?", orderID).
		Updates(map[string]any{"order_status": status, "order_total": total.Round(2)})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReplaceItems swaps the product lines stored for orderID.
func (m *OrderMirror) ReplaceItems(ctx context.Context, orderID int64, items []Item) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", orderID).Delete(&OrderItem{}).Error; err != nil {
			return err
		}
		return createItems(tx, orderID, items)
	})
}

func createItems(tx *gorm.DB, orderID int64, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	merged := make(map[int64]int, len(items))
	order := make([]int64, 0, len(items))
	for _, it := range items {
		if it.ProductID <= 0 {
			continue
		}
		if _, ok := merged[it.ProductID]; !ok {
			order = append(order, it.ProductID)
		}
		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		merged[it.ProductID] += qty
	}
	rows := make([]OrderItem, 0, len(order))
	for _, pid := range order {
		rows = append(rows, OrderItem{OrderID: orderID, ProductID: pid, Quantity: merged[pid]})
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.Create(&rows).Error
}

// Exists reports whether orderID is mirrored.
func (m *OrderMirror) Exists(ctx context.Context, orderID int64) (bool, error) {
	var count int64
	if err := m.db.WithContext(ctx).Model(&OrderRecord{}).Where("order_id = ?", orderID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Get returns the mirrored order, or nil when absent.
func (m *OrderMirror) Get(ctx context.Context, orderID int64) (*OrderRecord, error) {
	var rec OrderRecord
	err := m.db.WithContext(ctx).Where("order_id = ?", orderID).Limit(1).Find(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.ID == 0 {
		return nil, nil
	}
	return &rec, nil
}

// QueryRange returns orders dated in [start, end], oldest first, optionally
// restricted to statuses.
func (m *OrderMirror) QueryRange(ctx context.Context, start, end time.Time, statuses ...string) ([]OrderRecord, error) {
	q := m.db.WithContext(ctx).
		Where("order_date >= ? AND order_date <= ?", normalize(start), normalize(end))
	if len(statuses) > 0 {
		q = q.Where("order_status IN ?", statuses)
	}
	var out []OrderRecord
	if err := q.Order("order_date, order_id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Recent returns up to limit orders dated in [start, end], newest first.
func (m *OrderMirror) Recent(ctx context.Context, start, end time.Time, limit int) ([]OrderRecord, error) {
	var out []OrderRecord
	err := m.db.WithContext(ctx).
		Where("order_date >= ? AND order_date <= ?", normalize(start), normalize(end)).
		Order("order_date DESC, order_id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ProductOrderCounts counts distinct orders per product for orders dated at
// or after since with one of statuses.
func (m *OrderMirror) ProductOrderCounts(ctx context.Context, since time.Time, statuses []string) (map[int64]int64, error) {
	type row struct {
		ProductID int64
		Orders    int64
	}
	var rows []row
	err := m.db.WithContext(ctx).
		Table(OrderItem{}.TableName()+" AS i").
		Joins("JOIN "+OrderRecord{}.TableName()+" AS o ON o.order_id = i.order_id").
		Where("o.order_date >= ?", normalize(since)).
		Where("o.order_status IN ?", statuses).
		Select("i.product_id AS product_id, COUNT(DISTINCT o.order_id) AS orders").
		Group("i.product_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[int64]int64, len(rows))
	for _, r := range rows {
		out[r.ProductID] = r.Orders
	}
	return out, nil
}
