// Package tracker records store interactions. Every entry point is
// fire-and-forget: persistence failures are logged and reported through the
// return value, never raised to the storefront flow that triggered them.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"datalens/internal/db"
	"datalens/internal/event"
	"datalens/internal/metrics"
	"datalens/internal/source"
)

// Viewer is the visitor identity supplied by the calling boundary. UserID 0
// means anonymous.
type Viewer struct {
	SessionID string
	UserID    int64
	IPAddress string
	UserAgent string
}

// Ack acknowledges a tracked event. Stored is false when tracking is
// disabled or the write failed.
type Ack struct {
	EventID   uint
	Stored    bool
	SessionID string
}

type Tracker struct {
	events  *db.EventStore
	orders  *db.OrderMirror
	views   *db.ViewCounter
	options *db.Options
	metrics *metrics.Registry
	logger  *slog.Logger
}

func New(events *db.EventStore, orders *db.OrderMirror, views *db.ViewCounter, options *db.Options, reg *metrics.Registry, logger *slog.Logger) *Tracker {
	return &Tracker{
		events:  events,
		orders:  orders,
		views:   views,
		options: options,
		metrics: reg,
		logger:  logger,
	}
}

func (t *Tracker) enabled(ctx context.Context) bool {
	return t.options.Bool(ctx, db.OptTrackingEnabled, true)
}

// label bounds the event_type metric label to the known types.
func label(typ event.Type) string {
	if event.Known(typ) {
		return string(typ)
	}
	return "other"
}

func ensureSession(v Viewer) Viewer {
	if v.SessionID == "" {
		v.SessionID = uuid.NewString()
	}
	return v
}

// TrackEvent validates data against the shape of eventType and stores it.
// Only validation errors are returned.
func (t *Tracker) TrackEvent(ctx context.Context, eventType event.Type, data map[string]any, v Viewer) (Ack, error) {
	p, err := event.Decode(eventType, data)
	if err != nil {
		t.metrics.EventTracked(label(eventType), metrics.Invalid)
		return Ack{}, err
	}
	return t.Record(ctx, p, v), nil
}

// Record stores a payload built in code. Invalid payloads are logged and dropped.
func (t *Tracker) Record(ctx context.Context, p event.Payload, v Viewer) Ack {
	v = ensureSession(v)
	ack := Ack{SessionID: v.SessionID}
	if err := event.Validate(p); err != nil {
		t.logger.Warn("dropping invalid event", "error", err)
		t.metrics.EventTracked("invalid", metrics.Invalid)
		return ack
	}
	typ := string(p.EventType())
	if !t.enabled(ctx) {
		t.metrics.EventTracked(label(p.EventType()), metrics.Disabled)
		return ack
	}

	data, err := event.Encode(p)
	if err != nil {
		t.logger.Warn("encoding event failed", "event_type", typ, "error", err)
		t.metrics.EventTracked(label(p.EventType()), metrics.Failed)
		return ack
	}
	id, err := t.events.Record(ctx, db.Event{
		EventType: typ,
		EventData: datatypes.JSONMap(data),
		UserID:    db.NullableID(v.UserID),
		SessionID: v.SessionID,
		IPAddress: v.IPAddress,
		UserAgent: v.UserAgent,
	})
	if err != nil {
		t.logger.Warn("recording event failed", "event_type", typ, "error", err)
		t.metrics.EventTracked(label(p.EventType()), metrics.Failed)
		return ack
	}
	t.metrics.EventTracked(label(p.EventType()), metrics.Stored)
	ack.EventID = id
	ack.Stored = true
	return ack
}

// TrackProductView counts one view of productID and logs a product_view
// event. A missing view table is provisioned and the write retried once.
func (t *Tracker) TrackProductView(ctx context.Context, productID int64, v Viewer) bool {
	if productID <= 0 {
		t.metrics.ProductView(metrics.Invalid)
		return false
	}
	v = ensureSession(v)
	if !t.enabled(ctx) {
		t.metrics.ProductView(metrics.Disabled)
		return false
	}

	view := db.ProductView{
		ProductID: productID,
		UserID:    db.NullableID(v.UserID),
		SessionID: v.SessionID,
		IPAddress: v.IPAddress,
		ViewedAt:  time.Now(),
	}
	err := t.views.Record(ctx, view)
	if errors.Is(err, db.ErrNotProvisioned) {
		if perr := t.views.Provision(ctx); perr != nil {
			err = perr
		} else {
			err = t.views.Record(ctx, view)
		}
	}
	if err != nil {
		t.logger.Warn("recording product view failed", "product_id", productID, "error", err)
		t.metrics.ProductView(metrics.Failed)
		return false
	}
	t.metrics.ProductView(metrics.Stored)

	t.Record(ctx, &event.ProductView{ProductID: event.Int(productID)}, v)
	return true
}

func orderPayload(kind event.Type, o source.Order) *event.Order {
	return &event.Order{
		Kind:           kind,
		OrderID:        o.ID,
		OrderTotal:     o.Total,
		OrderStatus:    o.Status,
		CustomerID:     o.CustomerID,
		PaymentMethod:  o.PaymentMethod,
		ShippingMethod: o.ShippingMethod,
	}
}

func orderItems(o source.Order) []db.Item {
	items := make([]db.Item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, db.Item{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return items
}

func orderRecord(o source.Order, status string) db.OrderRecord {
	placed := o.DateCreated
	if placed.IsZero() {
		placed = time.Now()
	}
	return db.NewOrderRecord(o.ID, status, o.Total, placed, o.CustomerID)
}

func orderViewer(o source.Order, v Viewer) Viewer {
	if v.UserID == 0 {
		v.UserID = o.CustomerID
	}
	return v
}

// OrderCompleted logs the checkout and mirrors the order, replacing any
// earlier snapshot of its status and total.
func (t *Tracker) OrderCompleted(ctx context.Context, o source.Order, v Viewer) {
	if o.IsRefund() || o.ID <= 0 || !t.enabled(ctx) {
		return
	}
	t.Record(ctx, orderPayload(event.OrderCompleted, o), orderViewer(o, v))

	if err := t.orders.Upsert(ctx, orderRecord(o, o.Status)); err != nil {
		t.logger.Warn("mirroring completed order failed", "order_id", o.ID, "error", err)
		return
	}
	t.replaceItems(ctx, o)
}

// OrderCreated logs and mirrors a newly placed order. Orders already mirrored
// are left alone.
func (t *Tracker) OrderCreated(ctx context.Context, o source.Order, v Viewer) {
	if o.IsRefund() || o.ID <= 0 || !t.enabled(ctx) {
		return
	}
	exists, err := t.orders.Exists(ctx, o.ID)
	if err != nil {
		t.logger.Warn("checking mirrored order failed", "order_id", o.ID, "error", err)
		return
	}
	if exists {
		return
	}

	p := orderPayload(event.OrderCreated, o)
	p.CreatedByPlugin = true
	t.Record(ctx, p, orderViewer(o, v))

	err = t.orders.Insert(ctx, orderRecord(o, o.Status), orderItems(o))
	if err != nil && !errors.Is(err, db.ErrDuplicateOrder) {
		t.logger.Warn("mirroring new order failed", "order_id", o.ID, "error", err)
	}
}

// OrderStatusChanged logs the transition and moves the mirrored status. An
// order seen for the first time through a status change is mirrored whole.
func (t *Tracker) OrderStatusChanged(ctx context.Context, o source.Order, oldStatus, newStatus string, v Viewer) {
	if o.IsRefund() || o.ID <= 0 || newStatus == "" || !t.enabled(ctx) {
		return
	}
	t.Record(ctx, &event.StatusChange{
		OrderID:    o.ID,
		OldStatus:  oldStatus,
		NewStatus:  newStatus,
		CustomerID: o.CustomerID,
	}, orderViewer(o, v))

	touched, err := t.orders.UpdateStatus(ctx, o.ID, newStatus, o.Total)
	if err != nil {
		t.logger.Warn("updating mirrored order status failed", "order_id", o.ID, "error", err)
		return
	}
	if touched {
		return
	}
	if err := t.orders.Upsert(ctx, orderRecord(o, newStatus)); err != nil {
		t.logger.Warn("mirroring order failed", "order_id", o.ID, "error", err)
		return
	}
	t.replaceItems(ctx, o)
}

// replaceItems leaves stored lines alone when the caller supplied none.
func (t *Tracker) replaceItems(ctx context.Context, o source.Order) {
	if len(o.Items) == 0 {
		return
	}
	if err := t.orders.ReplaceItems(ctx, o.ID, orderItems(o)); err != nil {
		t.logger.Warn("mirroring order items failed", "order_id", o.ID, "error", err)
	}
}
