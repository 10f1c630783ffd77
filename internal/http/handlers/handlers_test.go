package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"datalens/internal/analytics"
	dbpkg "datalens/internal/db"
	"datalens/internal/forecast"
	httpctx "datalens/internal/http/ctx"
	"datalens/internal/http/middleware"
	"datalens/internal/metrics"
	"datalens/internal/reconcile"
	"datalens/internal/source"
	"datalens/internal/testutil"
	"datalens/internal/tracker"
)

type fixture struct {
	db      *gorm.DB
	options *dbpkg.Options
	reg     *metrics.Registry
	tracker *tracker.Tracker
	src     *source.Memory
	rec     *reconcile.Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := testutil.TestDB(t)
	reg := metrics.New()
	events := dbpkg.NewEventStore(gdb)
	orders := dbpkg.NewOrderMirror(gdb)
	options := dbpkg.NewOptions(gdb)
	src := source.NewMemory()
	return &fixture{
		db:      gdb,
		options: options,
		reg:     reg,
		tracker: tracker.New(events, orders, dbpkg.NewViewCounter(gdb), options, reg, testutil.Logger()),
		src:     src,
		rec:     reconcile.New(src, orders, events, options, reg, time.Hour, testutil.Logger()),
	}
}

func request(method, uri, body string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if body != "" {
		req.Header.SetContentType("application/json")
		req.SetBodyString(body)
	}
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, &net.TCPAddr{IP: net.ParseIP("203.0.113.9"), Port: 5000}, nil)
	return ctx
}

func decode(t *testing.T, ctx *fasthttp.RequestCtx) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &out), string(ctx.Response.Body()))
	return out
}

func placeOrder(id int64, status string, total int64, at time.Time) source.Order {
	return source.Order{
		ID:          id,
		Type:        source.TypeOrder,
		Status:      status,
		Total:       decimal.NewFromInt(total),
		DateCreated: at,
		CustomerID:  3,
		Items:       []source.Item{{ProductID: 12, Quantity: 1}},
	}
}

func TestTrackEvent(t *testing.T) {
	f := newFixture(t)
	h := TrackEvent(f.tracker)

	ctx := request("POST", "/v1/track/event", `{"event_type":"add_to_cart","event_data":{"product_id":12,"quantity":2},"session_id":"abc","user_id":5}`)
	h(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	body := decode(t, ctx)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["stored"])
	assert.Equal(t, "abc", body["session_id"])

	var e dbpkg.Event
	require.NoError(t, f.db.First(&e).Error)
	assert.Equal(t, "add_to_cart", e.EventType)
	assert.Equal(t, "203.0.113.9", e.IPAddress)

	tests := map[string]string{
		"invalid json":  `{"event_type":`,
		"missing type":  `{"event_data":{}}`,
		"bad type":      `{"event_type":"Add To Cart"}`,
		"invalid shape": `{"event_type":"add_to_cart","event_data":{"product_id":12,"quantity":-1}}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := request("POST", "/v1/track/event", raw)
			h(ctx)
			assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
			assert.NotEmpty(t, decode(t, ctx)["error"])
		})
	}
}

func TestTrackProductView(t *testing.T) {
	f := newFixture(t)
	h := TrackProductView(f.tracker)

	ctx := request("POST", "/v1/track/product-view", `{"product_id":12,"session_id":"abc"}`)
	h(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, true, decode(t, ctx)["counted"])

	n, err := dbpkg.NewViewCounter(f.db).CountAll(testutil.Ctx(t))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ctx = request("POST", "/v1/track/product-view", `{"product_id":0}`)
	h(ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	orders := dbpkg.NewOrderMirror(f.db)
	require.NoError(t, orders.Upsert(testutil.Ctx(t),
		dbpkg.NewOrderRecord(1, "completed", decimal.NewFromInt(80), time.Now().Add(-time.Hour), 3)))

	engine := analytics.NewEngine(orders, dbpkg.NewViewCounter(f.db), dbpkg.NewEventStore(f.db), nil, time.UTC, testutil.Logger())
	h := Summary(engine, time.UTC)

	ctx := request("GET", "/v1/analytics/summary?period=7d", "")
	h(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	body := decode(t, ctx)
	summary := body["summary"].(map[string]any)
	assert.Equal(t, float64(1), summary["total_orders"])
	assert.Equal(t, float64(80), summary["total_revenue"])
	assert.Contains(t, body, "orders_chart")

	ctx = request("GET", "/v1/analytics/summary?period=fortnight", "")
	h(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), "lenient parsing falls back")

	ctx = request("GET", "/v1/analytics/summary?period=fortnight&strict=1", "")
	h(ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	ctx = request("GET", "/v1/analytics/summary?period=custom&start_date=2024-05-10&end_date=2024-05-01&strict=true", "")
	h(ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestForecast(t *testing.T) {
	f := newFixture(t)
	orders := dbpkg.NewOrderMirror(f.db)
	engine := forecast.NewEngine(orders, dbpkg.NewViewCounter(f.db), nil, time.UTC, testutil.Logger())
	h := Forecast(engine, f.options)

	ctx := request("GET", "/v1/analytics/forecast", "")
	h(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	body := decode(t, ctx)
	weekly := body["weekly_forecast"].(map[string]any)
	assert.Equal(t, "none", weekly["confidence_level"])

	require.NoError(t, f.options.SetBool(testutil.Ctx(t), dbpkg.OptForecastingEnabled, false))
	ctx = request("GET", "/v1/analytics/forecast", "")
	h(ctx)
	assert.Equal(t, map[string]any{"enabled": false}, decode(t, ctx))
}

func TestSyncHandlers(t *testing.T) {
	f := newFixture(t)
	f.src.Add(
		placeOrder(1, "completed", 40, time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)),
		placeOrder(2, "processing", 25, time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)),
	)

	ctx := request("POST", "/v1/sync/all", "")
	SyncAll(f.rec, testutil.Logger())(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	body := decode(t, ctx)
	assert.Equal(t, float64(2), body["synced_count"])
	assert.Equal(t, "Successfully synced 2 orders", body["message"])

	ctx = request("POST", "/v1/sync/new", "")
	SyncNew(f.rec, testutil.Logger())(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	body = decode(t, ctx)
	assert.Equal(t, float64(0), body["synced_count"])
	assert.Equal(t, "Successfully synced 0 new orders", body["message"])

	ctx = request("POST", "/v1/sync/all", "")
	SyncAll(nil, testutil.Logger())(ctx)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
}

func TestSyncRoute_AuthChain(t *testing.T) {
	f := newFixture(t)
	f.src.Add(placeOrder(1, "completed", 40, time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)))
	c := testutil.Ctx(t)
	owner, err := dbpkg.CreateUser(c, f.db, "owner", "s3cret", true)
	require.NoError(t, err)
	_, err = dbpkg.CreateUser(c, f.db, "clerk", "hunter2", false)
	require.NoError(t, err)

	nonces, err := middleware.NewNonces("k", time.Hour)
	require.NoError(t, err)
	auth := middleware.BasicAuth(f.db, testutil.Logger())
	h := auth(middleware.RequireManageStore(middleware.RequireNonce(nonces)(SyncAll(f.rec, testutil.Logger()))))

	basic := func(user, pass string) string {
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
	}

	tests := []struct {
		name   string
		auth   string
		nonce  string
		status int
	}{
		{"no credentials", "", "", fasthttp.StatusUnauthorized},
		{"not a store manager", basic("clerk", "hunter2"), nonces.Issue(2), fasthttp.StatusForbidden},
		{"missing nonce", basic("owner", "s3cret"), "", fasthttp.StatusForbidden},
		{"forged nonce", basic("owner", "s3cret"), "9999999999.deadbeef", fasthttp.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := request("POST", "/v1/sync/all", "")
			if tt.auth != "" {
				ctx.Request.Header.Set("Authorization", tt.auth)
			}
			if tt.nonce != "" {
				ctx.Request.Header.Set(middleware.NonceHeader, tt.nonce)
			}
			h(ctx)
			assert.Equal(t, tt.status, ctx.Response.StatusCode())
		})
	}

	exists, err := dbpkg.NewOrderMirror(f.db).Exists(c, 1)
	require.NoError(t, err)
	assert.False(t, exists, "rejected requests never reach the sync")

	ctx := request("POST", "/v1/sync/all", "")
	ctx.Request.Header.Set("Authorization", basic("owner", "s3cret"))
	ctx.Request.Header.Set(middleware.NonceHeader, nonces.Issue(owner.ID))
	h(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, float64(1), decode(t, ctx)["synced_count"])
}

func TestSyncNonce(t *testing.T) {
	nonces, err := middleware.NewNonces("k", time.Hour)
	require.NoError(t, err)
	h := SyncNonce(nonces)

	ctx := request("GET", "/v1/sync/nonce", "")
	h(ctx)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())

	ctx = request("GET", "/v1/sync/nonce", "")
	httpctx.SetUser(ctx, &dbpkg.User{ID: 4, IsAdmin: true})
	h(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	token, _ := decode(t, ctx)["nonce"].(string)
	assert.True(t, nonces.Verify(token, 4))
}

func TestSettings(t *testing.T) {
	f := newFixture(t)

	ctx := request("GET", "/v1/settings", "")
	Settings(f.db, f.options, testutil.Logger())(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	body := decode(t, ctx)
	assert.Equal(t, true, body["tracking_enabled"])
	assert.Equal(t, true, body["forecasting_enabled"])
	assert.Nil(t, body["last_order_sync"])
	assert.Equal(t, true, body["tables_ok"])

	ctx = request("POST", "/v1/settings", `{"tracking_enabled":false}`)
	UpdateSettings(f.db, f.options, testutil.Logger())(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	body = decode(t, ctx)
	assert.Equal(t, false, body["tracking_enabled"])
	assert.Equal(t, true, body["forecasting_enabled"])

	// Tracking is now off: events are acknowledged but not stored.
	ctx = request("POST", "/v1/track/event", `{"event_type":"cart_view","event_data":{"cart_items_count":1}}`)
	TrackEvent(f.tracker)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, false, decode(t, ctx)["stored"])

	ctx = request("POST", "/v1/settings", `not json`)
	UpdateSettings(f.db, f.options, testutil.Logger())(ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestMetricsAndRequestLogger(t *testing.T) {
	f := newFixture(t)

	h := RequestLogger(testutil.Logger(), f.reg)(Healthz)
	ctx := request("GET", "/healthz", "")
	h(ctx)
	assert.Equal(t, "ok", string(ctx.Response.Body()))

	ctx = request("GET", "/metrics", "")
	Metrics(f.reg, testutil.Logger())(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, metrics.ContentType(), string(ctx.Response.Header.ContentType()))
	assert.Equal(t, "no-store", string(ctx.Response.Header.Peek("Cache-Control")))
	assert.True(t, strings.Contains(string(ctx.Response.Body()),
		`datalens_http_request_duration_seconds_count{method="GET",route="/healthz"} 1`))
}
