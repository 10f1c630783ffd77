package db

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Event is a single tracked store interaction. Rows are append-only.
type Event struct {
	ID uint `gorm:"primaryKey"`

	EventType string            `gorm:"size:50;not null;index"`
	EventData datatypes.JSONMap `gorm:"type:json"`

	// UserID is nil or 0 for anonymous visitors.
	UserID *int64 `gorm:"index"`

	SessionID string `gorm:"size:255"`
	IPAddress string `gorm:"size:45"`
	UserAgent string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"index"`
}

func (Event) TableName() string { return "datalens_events" }

// OrderRecord is the denormalized mirror of one source order. OrderID is the
// source system's id and is unique.
type OrderRecord struct {
	ID uint `gorm:"primaryKey"`

	OrderID     int64           `gorm:"uniqueIndex;not null"`
	OrderStatus string          `gorm:"size:50;not null;index"`
	OrderTotal  decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	OrderDate   time.Time       `gorm:"not null;index"`

	// CustomerID is nil or 0 for guest checkouts.
	CustomerID *int64 `gorm:"index"`

	CreatedAt time.Time
}

func (OrderRecord) TableName() string { return "datalens_orders" }

// Customer returns the customer id, 0 for guests.
func (o OrderRecord) Customer() int64 {
	if o.CustomerID == nil {
		return 0
	}
	return *o.CustomerID
}

// OrderItem links a mirrored order to the products it contains.
type OrderItem struct {
	ID uint `gorm:"primaryKey"`

	OrderID   int64 `gorm:"not null;index;uniqueIndex:idx_order_item_product,priority:1"`
	ProductID int64 `gorm:"not null;index;uniqueIndex:idx_order_item_product,priority:2"`
	Quantity  int   `gorm:"not null;default:1"`
}

func (OrderItem) TableName() string { return "datalens_order_items" }

// ProductView is one product detail page view. Repeat views by the same
// session are all counted.
type ProductView struct {
	ID uint `gorm:"primaryKey"`

	ProductID int64  `gorm:"not null;index"`
	UserID    *int64 `gorm:"index"`
	SessionID string `gorm:"size:255"`
	IPAddress string `gorm:"size:45"`

	ViewedAt time.Time `gorm:"not null;index"`
}

func (ProductView) TableName() string { return "datalens_product_views" }

// Option is a persisted key/value setting owned by the config layer.
type Option struct {
	Name      string `gorm:"primaryKey;size:191"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (Option) TableName() string { return "datalens_options" }
