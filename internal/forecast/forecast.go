// Package forecast produces short-term sales forecasts from the order mirror
// and the product view counter: weekly predictions by linear regression,
// per-product sales from view trend and conversion rate, period-over-period
// trends and seasonal breakdowns. Nothing here is randomized; an empty store
// yields empty or zero results.
package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"datalens/internal/analytics"
	"datalens/internal/db"
)

const (
	week = 7 * 24 * time.Hour

	historyWeeks     = 8
	productWeeks     = 4
	trendWeeks       = 2
	seasonalWeeks    = 12
	seasonalMonths   = 12
	productCandidate = 20

	ordersFloor  = 0.05
	revenueFloor = 0.08
	minOrders    = 1
	minRevenue   = 50

	noDataMessage = "No historical data available for forecasting"
)

// WeekBucket is one ISO week of completed or processing orders.
type WeekBucket struct {
	Week          string  `json:"week"`
	Orders        int64   `json:"orders"`
	Revenue       float64 `json:"revenue"`
	AvgOrderValue float64 `json:"avg_order_value"`
}

type Slopes struct {
	Orders  float64 `json:"orders_trend"`
	Revenue float64 `json:"revenue_trend"`
}

// Weekly is next week's order and revenue prediction. History is ordered
// oldest week first.
type Weekly struct {
	PredictedOrders  int64        `json:"predicted_orders"`
	PredictedRevenue float64      `json:"predicted_revenue"`
	Confidence       Confidence   `json:"confidence_level"`
	History          []WeekBucket `json:"historical_data"`
	Trend            Slopes       `json:"trend"`
	Message          string       `json:"message,omitempty"`
}

type ProductForecast struct {
	ProductID      int64      `json:"product_id"`
	ProductName    string     `json:"product_name"`
	RecentViews    int64      `json:"recent_views"`
	RecentOrders   int64      `json:"recent_orders"`
	ConversionRate float64    `json:"conversion_rate"`
	PredictedViews int64      `json:"predicted_views"`
	PredictedSales int64      `json:"predicted_sales"`
	Confidence     Confidence `json:"confidence"`
}

// PeriodStats aggregates completed or processing orders in one trend window.
type PeriodStats struct {
	Orders   int64   `json:"orders"`
	Revenue  float64 `json:"revenue"`
	AvgOrder float64 `json:"avg_order"`
	Views    int64   `json:"views"`
}

// Trend compares the last two weeks against the two weeks before, in percent.
type Trend struct {
	OrdersTrend   float64     `json:"orders_trend"`
	RevenueTrend  float64     `json:"revenue_trend"`
	AvgOrderTrend float64     `json:"avg_order_trend"`
	ViewsTrend    float64     `json:"views_trend"`
	Current       PeriodStats `json:"current_period"`
	Previous      PeriodStats `json:"previous_period"`
}

// DayPattern is keyed 1 (Sunday) to 7 (Saturday).
type DayPattern struct {
	DayOfWeek  int     `json:"day_of_week"`
	Label      string  `json:"label"`
	Orders     int64   `json:"orders"`
	AvgRevenue float64 `json:"avg_revenue"`
}

type MonthPattern struct {
	Month      int     `json:"month"`
	Label      string  `json:"label"`
	Orders     int64   `json:"orders"`
	AvgRevenue float64 `json:"avg_revenue"`
}

type Seasonal struct {
	Daily   []DayPattern   `json:"daily_pattern"`
	Monthly []MonthPattern `json:"monthly_pattern"`
}

type Result struct {
	Weekly      Weekly            `json:"weekly_forecast"`
	Products    []ProductForecast `json:"product_forecast"`
	Trend       Trend             `json:"trend_analysis"`
	Seasonal    Seasonal          `json:"seasonal_factors"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// Engine computes forecasts on demand. Each call reads a fresh snapshot; a
// failing read is logged and treated as no data.
type Engine struct {
	orders *db.OrderMirror
	views  *db.ViewCounter
	names  analytics.ProductNamer
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(orders *db.OrderMirror, views *db.ViewCounter, names analytics.ProductNamer, loc *time.Location, logger *slog.Logger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{orders: orders, views: views, names: names, loc: loc, logger: logger, now: time.Now}
}

// Forecast computes every forecast as of the current time.
func (e *Engine) Forecast(ctx context.Context) Result {
	return e.ForecastAt(ctx, e.now())
}

// ForecastAt computes every forecast as of now.
func (e *Engine) ForecastAt(ctx context.Context, now time.Time) Result {
	now = now.In(e.loc)
	return Result{
		Weekly:      e.Weekly(ctx, now),
		Products:    e.Products(ctx, now),
		Trend:       e.Trend(ctx, now),
		Seasonal:    e.Seasonal(ctx, now),
		GeneratedAt: now,
	}
}

func (e *Engine) paidOrders(ctx context.Context, since, now time.Time) []db.OrderRecord {
	orders, err := e.orders.QueryRange(ctx, since, now, db.RevenueStatuses...)
	if err != nil {
		e.logger.Warn("forecast: order query failed", "error", err)
		return nil
	}
	return orders
}

func isoWeekKey(t time.Time) (string, int) {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w), y*100 + w
}

// Weekly predicts next week's orders and revenue from up to eight trailing
// ISO weeks. Weeks are fed to the regression oldest first, so a positive
// slope means growth.
func (e *Engine) Weekly(ctx context.Context, now time.Time) Weekly {
	orders := e.paidOrders(ctx, now.Add(-historyWeeks*week), now)

	type acc struct {
		key     string
		sortKey int
		orders  int64
		revenue decimal.Decimal
	}
	byWeek := map[int]*acc{}
	for _, o := range orders {
		key, sortKey := isoWeekKey(o.OrderDate.In(e.loc))
		a, ok := byWeek[sortKey]
		if !ok {
			a = &acc{key: key, sortKey: sortKey}
			byWeek[sortKey] = a
		}
		a.orders++
		a.revenue = a.revenue.Add(o.OrderTotal)
	}

	buckets := make([]*acc, 0, len(byWeek))
	for _, a := range byWeek {
		buckets = append(buckets, a)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].sortKey < buckets[j].sortKey })
	// The window can touch a ninth ISO week at its start.
	if len(buckets) > historyWeeks {
		buckets = buckets[len(buckets)-historyWeeks:]
	}

	meaningful := false
	history := make([]WeekBucket, 0, len(buckets))
	ys := make([]float64, 0, len(buckets))
	revs := make([]float64, 0, len(buckets))
	for _, a := range buckets {
		rev := a.revenue.Round(2).InexactFloat64()
		avg := 0.0
		if a.orders > 0 {
			avg = a.revenue.Div(decimal.NewFromInt(a.orders)).Round(2).InexactFloat64()
		}
		history = append(history, WeekBucket{Week: a.key, Orders: a.orders, Revenue: rev, AvgOrderValue: avg})
		ys = append(ys, float64(a.orders))
		revs = append(revs, rev)
		if a.orders > 0 || rev > 0 {
			meaningful = true
		}
	}

	if !meaningful {
		return Weekly{
			Confidence: ConfidenceNone,
			History:    []WeekBucket{},
			Message:    noDataMessage,
		}
	}

	slopes := Slopes{Orders: LinearRegression(ys), Revenue: LinearRegression(revs)}
	last := history[len(history)-1]
	baseOrders := math.Max(minOrders, float64(last.Orders))
	baseRevenue := math.Max(minRevenue, last.Revenue)

	return Weekly{
		PredictedOrders:  int64(math.Max(minOrders, math.Round(baseOrders*(1+math.Max(ordersFloor, slopes.Orders))))),
		PredictedRevenue: math.Max(minRevenue, round2(baseRevenue*(1+math.Max(revenueFloor, slopes.Revenue)))),
		Confidence:       weeklyConfidence(ys),
		History:          history,
		Trend:            slopes,
	}
}

// Products forecasts next-week sales for the twenty products with the most
// views and orders in the last four weeks, best sellers first.
func (e *Engine) Products(ctx context.Context, now time.Time) []ProductForecast {
	since := now.Add(-productWeeks * week)

	views, err := e.views.CountsSince(ctx, since)
	if err != nil {
		e.logger.Warn("forecast: view counts failed", "error", err)
		views = map[int64]int64{}
	}
	orders, err := e.orders.ProductOrderCounts(ctx, since, db.RevenueStatuses)
	if err != nil {
		e.logger.Warn("forecast: product order counts failed", "error", err)
		orders = map[int64]int64{}
	}

	ids := make([]int64, 0, len(views)+len(orders))
	seen := map[int64]bool{}
	for _, m := range []map[int64]int64{views, orders} {
		for id, n := range m {
			if n > 0 && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		ai, aj := views[ids[i]]+orders[ids[i]], views[ids[j]]+orders[ids[j]]
		if ai != aj {
			return ai > aj
		}
		return ids[i] < ids[j]
	})
	if len(ids) > productCandidate {
		ids = ids[:productCandidate]
	}

	out := make([]ProductForecast, 0, len(ids))
	for _, id := range ids {
		v, o := views[id], orders[id]
		rate := 0.0
		if v > 0 {
			rate = float64(o) / float64(v)
		}
		predicted := e.predictViews(ctx, id, since)
		out = append(out, ProductForecast{
			ProductID:      id,
			ProductName:    analytics.ProductName(ctx, e.names, id),
			RecentViews:    v,
			RecentOrders:   o,
			ConversionRate: rate,
			PredictedViews: predicted,
			PredictedSales: int64(math.Round(float64(predicted) * rate)),
			Confidence:     productConfidence(v),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PredictedSales != out[j].PredictedSales {
			return out[i].PredictedSales > out[j].PredictedSales
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out
}

func (e *Engine) predictViews(ctx context.Context, productID int64, since time.Time) int64 {
	times, err := e.views.ViewTimes(ctx, productID, since)
	if err != nil {
		e.logger.Warn("forecast: view history failed", "product_id", productID, "error", err)
		return 0
	}
	counts := map[int]int64{}
	for _, t := range times {
		_, k := isoWeekKey(t.In(e.loc))
		counts[k]++
	}
	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(keys)))
	weekly := make([]int64, len(keys))
	for i, k := range keys {
		weekly[i] = counts[k]
	}
	return PredictViews(weekly)
}

// PredictViews projects next week's views from weekly counts, most recent
// week first. The mean of the two latest weeks is scaled by their growth over
// the two weeks before, clamped to [0.5, 2].
func PredictViews(weekly []int64) int64 {
	switch len(weekly) {
	case 0:
		return 0
	case 1:
		return weekly[0]
	}
	avg := float64(weekly[0]+weekly[1]) / 2
	growth := 1.0
	if len(weekly) >= 3 {
		var older int64
		for _, v := range weekly[2:min(4, len(weekly))] {
			older += v
		}
		oldAvg := float64(older) / 2
		if oldAvg > 0 {
			growth = math.Max(0.5, math.Min(2.0, avg/oldAvg))
		}
	}
	return int64(math.Round(avg * growth))
}

func (e *Engine) periodStats(ctx context.Context, start, end time.Time, inclusiveEnd bool) PeriodStats {
	var s PeriodStats
	total := decimal.Zero
	for _, o := range e.paidOrders(ctx, start, end) {
		if !inclusiveEnd && !o.OrderDate.Before(end) {
			continue
		}
		s.Orders++
		total = total.Add(o.OrderTotal)
	}
	s.Revenue = total.Round(2).InexactFloat64()
	if s.Orders > 0 {
		s.AvgOrder = total.Div(decimal.NewFromInt(s.Orders)).Round(2).InexactFloat64()
	}

	n, err := e.views.CountInRange(ctx, start, end)
	if err != nil {
		e.logger.Warn("forecast: view count failed", "error", err)
	}
	if !inclusiveEnd && err == nil {
		// CountInRange includes end; drop views stamped exactly at the boundary.
		edge, eerr := e.views.CountInRange(ctx, end, end)
		if eerr == nil {
			n -= edge
		}
	}
	s.Views = n
	return s
}

// Trend compares [now-2w, now] against [now-4w, now-2w).
func (e *Engine) Trend(ctx context.Context, now time.Time) Trend {
	mid := now.Add(-trendWeeks * week)
	cur := e.periodStats(ctx, mid, now, true)
	prev := e.periodStats(ctx, now.Add(-2*trendWeeks*week), mid, false)
	return Trend{
		OrdersTrend:   PercentageChange(float64(prev.Orders), float64(cur.Orders)),
		RevenueTrend:  PercentageChange(prev.Revenue, cur.Revenue),
		AvgOrderTrend: PercentageChange(prev.AvgOrder, cur.AvgOrder),
		ViewsTrend:    PercentageChange(float64(prev.Views), float64(cur.Views)),
		Current:       cur,
		Previous:      prev,
	}
}

// Seasonal groups orders by weekday over twelve weeks and by calendar month
// over twelve months. Only days and months with orders are listed.
func (e *Engine) Seasonal(ctx context.Context, now time.Time) Seasonal {
	s := Seasonal{Daily: []DayPattern{}, Monthly: []MonthPattern{}}

	type acc struct {
		n   int64
		sum decimal.Decimal
	}
	avg := func(a acc) float64 {
		return a.sum.Div(decimal.NewFromInt(a.n)).Round(2).InexactFloat64()
	}

	var days [8]acc
	for _, o := range e.paidOrders(ctx, now.Add(-seasonalWeeks*week), now) {
		d := int(o.OrderDate.In(e.loc).Weekday()) + 1
		days[d].n++
		days[d].sum = days[d].sum.Add(o.OrderTotal)
	}
	for d := 1; d <= 7; d++ {
		if days[d].n == 0 {
			continue
		}
		s.Daily = append(s.Daily, DayPattern{
			DayOfWeek:  d,
			Label:      time.Weekday(d - 1).String(),
			Orders:     days[d].n,
			AvgRevenue: avg(days[d]),
		})
	}

	var months [13]acc
	for _, o := range e.paidOrders(ctx, now.AddDate(0, -seasonalMonths, 0), now) {
		m := int(o.OrderDate.In(e.loc).Month())
		months[m].n++
		months[m].sum = months[m].sum.Add(o.OrderTotal)
	}
	for m := 1; m <= 12; m++ {
		if months[m].n == 0 {
			continue
		}
		s.Monthly = append(s.Monthly, MonthPattern{
			Month:      m,
			Label:      time.Month(m).String(),
			Orders:     months[m].n,
			AvgRevenue: avg(months[m]),
		})
	}
	return s
}
