// Package reconcile imports orders from the source commerce system into the
// order mirror. Imports are idempotent on the order id: the unique key in the
// mirror is the guarantee, the existence check before insert only saves work.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"

	"datalens/internal/db"
	"datalens/internal/event"
	"datalens/internal/metrics"
	"datalens/internal/source"
)

// Sync modes, used as metric labels.
const (
	ModeAll  = "all"
	ModeNew  = "new"
	ModeAuto = "auto"
)

type Reconciler struct {
	source  source.Source
	orders  *db.OrderMirror
	events  *db.EventStore
	options *db.Options
	metrics *metrics.Registry
	logger  *slog.Logger

	autoInterval time.Duration
	now          func() time.Time
}

func New(src source.Source, orders *db.OrderMirror, events *db.EventStore, options *db.Options, reg *metrics.Registry, autoInterval time.Duration, logger *slog.Logger) *Reconciler {
	if autoInterval <= 0 {
		autoInterval = time.Hour
	}
	return &Reconciler{
		source:       src,
		orders:       orders,
		events:       events,
		options:      options,
		metrics:      reg,
		logger:       logger,
		autoInterval: autoInterval,
		now:          time.Now,
	}
}

// SyncAll imports every order the source has and returns how many were new.
func (r *Reconciler) SyncAll(ctx context.Context) (int, error) {
	return r.sync(ctx, nil, ModeAll)
}

// SyncSince imports orders created at or after since.
func (r *Reconciler) SyncSince(ctx context.Context, since time.Time) (int, error) {
	return r.sync(ctx, &since, ModeNew)
}

// SyncNew imports orders created since the last recorded sync, or every
// order when none was recorded, and advances last_order_sync.
func (r *Reconciler) SyncNew(ctx context.Context) (int, error) {
	return r.incremental(ctx, ModeNew)
}

// AutoSync is SyncNew for the background trigger.
func (r *Reconciler) AutoSync(ctx context.Context) (int, error) {
	return r.incremental(ctx, ModeAuto)
}

func (r *Reconciler) incremental(ctx context.Context, mode string) (int, error) {
	// Captured before the source is read so orders created during the run
	// are picked up next time.
	started := r.now()

	last, ok, err := r.options.Time(ctx, db.OptLastOrderSync)
	if err != nil {
		return 0, fmt.Errorf("reading last sync time: %w", err)
	}
	var since *time.Time
	if ok {
		since = &last
	}

	n, err := r.sync(ctx, since, mode)
	if err != nil {
		return n, err
	}
	if err := r.options.SetTime(ctx, db.OptLastOrderSync, started); err != nil {
		return n, fmt.Errorf("recording sync time: %w", err)
	}
	return n, nil
}

// MaybeAutoSync runs AutoSync when the last one is older than the configured
// interval. It reports whether a sync ran.
func (r *Reconciler) MaybeAutoSync(ctx context.Context) (bool, int, error) {
	now := r.now()
	last, ok, err := r.options.Time(ctx, db.OptLastAutoSync)
	if err != nil {
		return false, 0, fmt.Errorf("reading last auto sync time: %w", err)
	}
	if ok && now.Sub(last) < r.autoInterval {
		return false, 0, nil
	}
	if err := r.options.SetTime(ctx, db.OptLastAutoSync, now); err != nil {
		return false, 0, fmt.Errorf("recording auto sync time: %w", err)
	}
	n, err := r.AutoSync(ctx)
	return true, n, err
}

func (r *Reconciler) sync(ctx context.Context, since *time.Time, mode string) (int, error) {
	orders, err := r.source.Orders(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("reading source orders: %w", err)
	}

	synced := 0
	for _, o := range orders {
		if err := ctx.Err(); err != nil {
			r.metrics.OrdersSynced(mode, synced)
			return synced, err
		}
		if o.IsRefund() {
			continue
		}
		ok, err := r.importOrder(ctx, o)
		if err != nil {
			r.logger.Warn("order sync failed", "order_id", o.ID, "error", err)
			continue
		}
		if ok {
			synced++
		}
	}

	r.metrics.OrdersSynced(mode, synced)
	r.logger.Info("order sync finished", "mode", mode, "source_orders", len(orders), "synced", synced)
	return synced, nil
}

// importOrder mirrors o and reports whether it was new.
func (r *Reconciler) importOrder(ctx context.Context, o source.Order) (bool, error) {
	exists, err := r.orders.Exists(ctx, o.ID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	items := make([]db.Item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, db.Item{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	err = r.orders.Insert(ctx, db.NewOrderRecord(o.ID, o.Status, o.Total, o.DateCreated, o.CustomerID), items)
	if errors.Is(err, db.ErrDuplicateOrder) {
		// Another sync inserted it between the check and the insert.
		r.metrics.SyncDuplicate()
		r.logger.Debug("order already synced", "order_id", o.ID)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	r.recordSynced(ctx, o)
	return true, nil
}

func (r *Reconciler) recordSynced(ctx context.Context, o source.Order) {
	data, err := event.Encode(&event.Order{
		Kind:           event.OrderCompleted,
		OrderID:        o.ID,
		OrderTotal:     o.Total,
		OrderStatus:    o.Status,
		CustomerID:     o.CustomerID,
		PaymentMethod:  o.PaymentMethod,
		ShippingMethod: o.ShippingMethod,
		Synced:         true,
	})
	if err != nil {
		r.logger.Warn("encoding synced order event failed", "order_id", o.ID, "error", err)
		return
	}
	_, err = r.events.Record(ctx, db.Event{
		EventType: string(event.OrderCompleted),
		EventData: datatypes.JSONMap(data),
		UserID:    db.NullableID(o.CustomerID),
	})
	if err != nil {
		r.logger.Warn("recording synced order event failed", "order_id", o.ID, "error", err)
	}
}
