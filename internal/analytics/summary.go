// Package analytics computes dashboard summaries over a date range from the
// event log, the order mirror and the product view counter.
package analytics

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"datalens/internal/db"
	"datalens/internal/event"
)

const (
	viewChartLimit   = 8
	topProductsLimit = 10
	recentOrderLimit = 10
	dayLayout        = "2006-01-02"
)

// ProductNamer resolves product display names.
type ProductNamer interface {
	ProductName(ctx context.Context, productID int64) (string, bool)
}

// ProductName returns the display name of id, or "Product #<id>".
func ProductName(ctx context.Context, names ProductNamer, id int64) string {
	if names != nil {
		if name, ok := names.ProductName(ctx, id); ok && name != "" {
			return name
		}
	}
	return "Product #" + strconv.FormatInt(id, 10)
}

type Metrics struct {
	TotalOrders  int64   `json:"total_orders"`
	TotalRevenue float64 `json:"total_revenue"`
	TotalViews   int64   `json:"total_views"`
	TotalUsers   int64   `json:"total_users"`
}

// Point is one calendar day of a time series.
type Point struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// Series is a daily time series. Empty marks a range without rows.
type Series struct {
	Label  string  `json:"label"`
	Empty  bool    `json:"empty"`
	Points []Point `json:"points"`
}

type Slice struct {
	Label string `json:"label"`
	Key   string `json:"key"`
	Value int64  `json:"value"`
}

// Breakdown is a categorical count. Empty marks a range without rows.
type Breakdown struct {
	Label  string  `json:"label"`
	Empty  bool    `json:"empty"`
	Slices []Slice `json:"slices"`
}

type ProductViews struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Views     int64  `json:"views"`
}

type RecentOrder struct {
	OrderID    int64     `json:"order_id"`
	Status     string    `json:"order_status"`
	Total      float64   `json:"order_total"`
	OrderDate  time.Time `json:"order_date"`
	CustomerID int64     `json:"customer_id"`
}

// Summary is everything the dashboard renders for one date range.
type Summary struct {
	Range        DateRange      `json:"range"`
	Metrics      Metrics        `json:"summary"`
	Orders       Series         `json:"orders_chart"`
	Revenue      Series         `json:"revenue_chart"`
	ProductViews Breakdown      `json:"product_views_chart"`
	UserActivity Breakdown      `json:"user_activity_chart"`
	TopProducts  []ProductViews `json:"top_products"`
	RecentOrders []RecentOrder  `json:"recent_orders"`
}

// Engine answers summary queries. A failing sub-query is logged and its
// part of the summary is left empty.
type Engine struct {
	orders *db.OrderMirror
	views  *db.ViewCounter
	events *db.EventStore
	names  ProductNamer
	loc    *time.Location
	logger *slog.Logger
}

func NewEngine(orders *db.OrderMirror, views *db.ViewCounter, events *db.EventStore, names ProductNamer, loc *time.Location, logger *slog.Logger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{orders: orders, views: views, events: events, names: names, loc: loc, logger: logger}
}

func (e *Engine) Summarize(ctx context.Context, r DateRange) Summary {
	s := Summary{
		Range:        r,
		Orders:       Series{Label: "Orders", Empty: true, Points: []Point{}},
		Revenue:      Series{Label: "Revenue", Empty: true, Points: []Point{}},
		ProductViews: Breakdown{Label: "Product Views", Empty: true, Slices: []Slice{}},
		UserActivity: Breakdown{Label: "User Activity", Empty: true, Slices: []Slice{}},
		TopProducts:  []ProductViews{},
		RecentOrders: []RecentOrder{},
	}

	orders, err := e.orders.QueryRange(ctx, r.Start, r.End)
	if err != nil {
		e.logger.Warn("summary: order query failed", "error", err)
	}
	e.orderMetrics(&s, orders)

	s.Metrics.TotalViews = e.totalViews(ctx, r)

	top, err := e.views.TopProducts(ctx, r.Start, r.End, topProductsLimit)
	if err != nil {
		e.logger.Warn("summary: top products query failed", "error", err)
	}
	for i, pc := range top {
		pv := ProductViews{ProductID: pc.ProductID, Name: ProductName(ctx, e.names, pc.ProductID), Views: pc.Views}
		s.TopProducts = append(s.TopProducts, pv)
		if i < viewChartLimit {
			s.ProductViews.Slices = append(s.ProductViews.Slices, Slice{
				Label: pv.Name,
				Key:   strconv.FormatInt(pv.ProductID, 10),
				Value: pv.Views,
			})
		}
	}
	s.ProductViews.Empty = len(s.ProductViews.Slices) == 0

	s.UserActivity = e.userActivity(ctx, r)

	recent, err := e.orders.Recent(ctx, r.Start, r.End, recentOrderLimit)
	if err != nil {
		e.logger.Warn("summary: recent orders query failed", "error", err)
	}
	for _, o := range recent {
		s.RecentOrders = append(s.RecentOrders, RecentOrder{
			OrderID:    o.OrderID,
			Status:     o.OrderStatus,
			Total:      o.OrderTotal.InexactFloat64(),
			OrderDate:  o.OrderDate.In(e.loc),
			CustomerID: o.Customer(),
		})
	}
	return s
}

func isRevenue(status string) bool {
	for _, s := range db.RevenueStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (e *Engine) orderMetrics(s *Summary, orders []db.OrderRecord) {
	counts := map[string]int64{}
	revenue := map[string]decimal.Decimal{}
	customers := map[int64]struct{}{}
	total := decimal.Zero

	for _, o := range orders {
		day := o.OrderDate.In(e.loc).Format(dayLayout)
		counts[day]++
		if id := o.Customer(); id > 0 {
			customers[id] = struct{}{}
		}
		if isRevenue(o.OrderStatus) {
			revenue[day] = revenue[day].Add(o.OrderTotal)
			total = total.Add(o.OrderTotal)
		}
	}

	s.Metrics.TotalOrders = int64(len(orders))
	s.Metrics.TotalRevenue = total.Round(2).InexactFloat64()
	s.Metrics.TotalUsers = int64(len(customers))

	for _, day := range sortedKeys(counts) {
		s.Orders.Points = append(s.Orders.Points, Point{Date: day, Value: float64(counts[day])})
	}
	for _, day := range sortedKeys(revenue) {
		s.Revenue.Points = append(s.Revenue.Points, Point{Date: day, Value: revenue[day].Round(2).InexactFloat64()})
	}
	s.Orders.Empty = len(s.Orders.Points) == 0
	s.Revenue.Empty = len(s.Revenue.Points) == 0
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// totalViews counts views in r, falling back to the all-time count when the
// range has none.
func (e *Engine) totalViews(ctx context.Context, r DateRange) int64 {
	n, err := e.views.CountInRange(ctx, r.Start, r.End)
	if err != nil {
		e.logger.Warn("summary: view count failed", "error", err)
		return 0
	}
	if n > 0 {
		return n
	}
	all, err := e.views.CountAll(ctx)
	if err != nil {
		e.logger.Warn("summary: all-time view count failed", "error", err)
		return 0
	}
	return all
}

func (e *Engine) userActivity(ctx context.Context, r DateRange) Breakdown {
	b := Breakdown{Label: "User Activity", Slices: []Slice{}}
	types := make([]string, len(event.ActivityTypes))
	for i, t := range event.ActivityTypes {
		types[i] = string(t)
	}
	counts, err := e.events.CountByType(ctx, types, r.Start, r.End)
	if err != nil {
		e.logger.Warn("summary: activity query failed", "error", err)
	}
	for _, t := range types {
		if n := counts[t]; n > 0 {
			b.Slices = append(b.Slices, Slice{Label: ActivityLabel(t), Key: t, Value: n})
		}
	}
	b.Empty = len(b.Slices) == 0
	return b
}

// ActivityLabel turns an event type into a display label: "add_to_cart"
// becomes "Add to cart".
func ActivityLabel(eventType string) string {
	s := strings.ReplaceAll(eventType, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
