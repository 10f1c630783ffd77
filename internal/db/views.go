package db

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// ProductCount is a product id with its view count.
type ProductCount struct {
	ProductID int64
	Views     int64
}

// ViewCounter is the per-view product log.
type ViewCounter struct {
	db *gorm.DB
}

func NewViewCounter(db *gorm.DB) *ViewCounter {
	return &ViewCounter{db: db}
}

// Record appends one view. It returns ErrNotProvisioned when the table is
// missing so the caller can Provision and retry.
func (c *ViewCounter) Record(ctx context.Context, v ProductView) error {
	v.ID = 0
	if v.ViewedAt.IsZero() {
		v.ViewedAt = time.Now()
	}
	v.ViewedAt = normalize(v.ViewedAt)
	err := c.db.WithContext(ctx).Create(&v).Error
	if err != nil && !c.db.WithContext(ctx).Migrator().HasTable(&ProductView{}) {
		return ErrNotProvisioned
	}
	return err
}

// Provision creates the view table if it does not exist.
func (c *ViewCounter) Provision(ctx context.Context) error {
	return c.db.WithContext(ctx).AutoMigrate(&ProductView{})
}

// CountInRange counts views in [start, end].
func (c *ViewCounter) CountInRange(ctx context.Context, start, end time.Time) (int64, error) {
	var n int64
	err := c.db.WithContext(ctx).Model(&ProductView{}).
		Where("viewed_at >= ? AND viewed_at <= ?", normalize(start), normalize(end)).
		Count(&n).Error
	return n, err
}

// CountAll counts every recorded view.
func (c *ViewCounter) CountAll(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.WithContext(ctx).Model(&ProductView{}).Count(&n).Error
	return n, err
}

// TopProducts groups views in [start, end] by product, most viewed first,
// ties broken by product id ascending.
func (c *ViewCounter) TopProducts(ctx context.Context, start, end time.Time, limit int) ([]ProductCount, error) {
	var rows []ProductCount
	err := c.db.WithContext(ctx).Model(&ProductView{}).
		Where("viewed_at >= ? AND viewed_at <= ?", normalize(start), normalize(end)).
		Select("product_id AS product_id, COUNT(*) AS views").
		Group("product_id").
		Order("COUNT(*) DESC, product_id ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CountsSince returns view counts per product for views at or after since.
func (c *ViewCounter) CountsSince(ctx context.Context, since time.Time) (map[int64]int64, error) {
	var rows []ProductCount
	err := c.db.WithContext(ctx).Model(&ProductView{}).
		Where("viewed_at >= ?", normalize(since)).
		Select("product_id AS product_id, COUNT(*) AS views").
		Group("product_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[int64]int64, len(rows))
	for _, r := range rows {
		out[r.ProductID] = r.Views
	}
	return out, nil
}

// ViewTimes returns the timestamps of views of productID at or after since.
func (c *ViewCounter) ViewTimes(ctx context.Context, productID int64, since time.Time) ([]time.Time, error) {
	var times []time.Time
	err := c.db.WithContext(ctx).Model(&ProductView{}).
		Where("product_id = ? AND viewed_at >= ?", productID, normalize(since)).
		Order("viewed_at").
		Pluck("viewed_at", &times).Error
	if err != nil {
		return nil, err
	}
	return times, nil
}
