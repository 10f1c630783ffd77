package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Option names read by the core.
const (
	OptTrackingEnabled    = "tracking_enabled"
	OptForecastingEnabled = "forecasting_enabled"
	OptLastOrderSync      = "last_order_sync"
	OptLastAutoSync       = "last_auto_sync"
)

// Options is the persisted key/value settings table.
type Options struct {
	db *gorm.DB
}

func NewOptions(db *gorm.DB) *Options {
	return &Options{db: db}
}

// Get returns the value stored under name and whether it exists.
func (o *Options) Get(ctx context.Context, name string) (string, bool, error) {
	var opt Option
	err := o.db.WithContext(ctx).Where("name = ?", name).First(&opt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return opt.Value, true, nil
}

// Set stores value under name, replacing any previous value.
func (o *Options) Set(ctx context.Context, name, value string) error {
	return o.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&Option{Name: name, Value: value}).Error
}

// Bool reads a "yes"/"no" flag. Missing or unreadable values yield def.
func (o *Options) Bool(ctx context.Context, name string, def bool) bool {
	v, ok, err := o.Get(ctx, name)
	if err != nil || !ok {
		return def
	}
	switch v {
	case "yes", "1", "true":
		return true
	case "no", "0", "false":
		return false
	default:
		return def
	}
}

// SetBool stores a flag as "yes"/"no".
func (o *Options) SetBool(ctx context.Context, name string, v bool) error {
	if v {
		return o.Set(ctx, name, "yes")
	}
	return o.Set(ctx, name, "no")
}

// Time reads an RFC 3339 timestamp. ok is false when the option is absent or empty.
func (o *Options) Time(ctx context.Context, name string) (t time.Time, ok bool, err error) {
	v, found, err := o.Get(ctx, name)
	if err != nil || !found || v == "" {
		return time.Time{}, false, err
	}
	t, err = time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// SetTime stores t as RFC 3339 in UTC.
func (o *Options) SetTime(ctx context.Context, name string, t time.Time) error {
	return o.Set(ctx, name, t.UTC().Format(time.RFC3339))
}
