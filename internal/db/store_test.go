package db_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"datalens/internal/db"
	"datalens/internal/testutil"
)

func TestOrderMirror_UpsertIsIdempotent(t *testing.T) {
	gdb := testutil.TestDB(t)
	ctx := testutil.Ctx(t)
	m := db.NewOrderMirror(gdb)

	placed := testutil.Date(2024, 3, 1, 10)
	require.NoError(t, m.Upsert(ctx, db.NewOrderRecord(42, "pending", decimal.NewFromInt(30), placed, 9)))
	require.NoError(t, m.Upsert(ctx, db.NewOrderRecord(42, "completed", decimal.NewFromInt(35), placed.Add(time.Hour), 10)))

	var count int64
	require.NoError(t, gdb.Model(&db.OrderRecord{}).Where("order_id = ?", 42).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	rec, err := m.Get(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "completed", rec.OrderStatus)
	assert.True(t, decimal.NewFromInt(35).Equal(rec.OrderTotal))
	// Order date and customer are fixed by the first write.
	assert.True(t, placed.Equal(rec.OrderDate))
	assert.Equal(t, int64(9), rec.Customer())
}

func TestOrderMirror_UpsertScenarioJanuary(t *testing.T) {
	gdb := testutil.TestDB(t)
	ctx := testutil.Ctx(t)
	m := db.NewOrderMirror(gdb)

	day := testutil.Date(2024, 1, 1, 0)
	require.NoError(t, m.Upsert(ctx, db.NewOrderRecord(1, "completed", decimal.NewFromInt(100), day, 0)))
	require.NoError(t, m.Upsert(ctx, db.NewOrderRecord(1, "completed", decimal.NewFromInt(120), day, 0)))

	orders, err := m.QueryRange(ctx, testutil.Date(2024, 1, 1, 0), time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, decimal.NewFromInt(120).Equal(orders[0].OrderTotal))
	assert.Equal(t, int64(0), orders[0].Customer())
}

func TestOrderMirror_InsertDuplicate(t *testing.T) {
	gdb := testutil.TestDB(t)
	ctx := testutil.Ctx(t)
	m := db.NewOrderMirror(gdb)

	rec := db.NewOrderRecord(7, "processing", decimal.NewFromInt(10), testutil.Date(2024, 2, 2, 0), 3)
	require.NoError(t, m.Insert(ctx, rec, []db.Item{{ProductID: 5, Quantity: 1}, {ProductID: 5, Quantity: 2}, {ProductID: 6}}))

	err := m.Insert(ctx, rec, nil)
	assert.ErrorIs(t, err, db.ErrDuplicateOrder)

	var items []db.OrderItem
	require.NoError(t, gdb.Order("product_id").Find(&items).Error)
	require.Len(t, items, 2)
	assert.Equal(t, 3, items[0].Quantity)
	assert.Equal(t, int64(6), items[1].ProductID)

	exists, err := m.Exists(ctx, 7)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = m.Exists(ctx, 8)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOrderMirror_UpdateStatus(t *testing.T) {
	gdb := testutil.TestDB(t)
	ctx := testutil.Ctx(t)
	m := db.NewOrderMirror(gdb)

	touched, err := m.UpdateStatus(ctx, 99, "completed", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.False(t, touched)

	require.NoError(t, m.Insert(ctx, db.NewOrderRecord(99, "pending", decimal.NewFromInt(1), testutil.Date(2024, 2, 2, 0), 0), nil))
	touched, err = m.UpdateStatus(ctx, 99, "completed", decimal.NewFromInt(2))
	require.NoError(t, err)
	assert.True(t, touched)

	rec, err := m.Get(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, "completed", rec.OrderStatus)
}

func TestOrderMirror_RangeRecentAndProductCounts(t *testing.T) {
	gdb := testutil.TestDB(t)
	ctx := testutil.Ctx(t)
	m := db.NewOrderMirror(gdb)

	base := testutil.Date(2024, 5, 1, 12)
	for i := int64(1); i <= 5; i++ {
		status := "completed"
		if i == 5 {
			status = "cancelled"
		}
		rec := db.NewOrderRecord(i, status, decimal.NewFromInt(10*i), base.AddDate(0, 0, int(i)), i)
		require.NoError(t, m.Insert(ctx, rec, []db.Item{{ProductID: 100 + i%2, Quantity: 1}}))
	}

	all, err := m.QueryRange(ctx, base, base.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, int64(1), all[0].OrderID)

	paid, err := m.QueryRange(ctx, base, base.AddDate(0, 0, 10), db.RevenueStatuses...)
	require.NoError(t, err)
	assert.Len(t, paid, 4)

	recent, err := m.Recent(ctx, base, base.AddDate(0, 0, 10), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(5), recent[0].OrderID)
	assert.Equal(t, int64(4), recent[1].OrderID)

	counts, err := m.ProductOrderCounts(ctx, base, db.RevenueStatuses)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[101]) // orders 1, 3
	assert.Equal(t, int64(2), counts[100]) // orders 2, 4; 5 is cancelled
}

func TestViewCounter_TopProducts(t *testing.T) {
	gdb := testutil.TestDB(t)
	ctx := testutil.Ctx(t)
	c := db.NewViewCounter(gdb)

	at := testutil.Date(2024, 6, 10, 9)
	// Product i gets i views; products 1..10.
	for p := int64(1); p <= 10; p++ {
		for i := int64(0); i < p; i++ {
			require.NoError(t, c.Record(ctx, db.ProductView{ProductID: p, SessionID: "s", ViewedAt: at}))
		}
	}
	// Tie with product 10.
	for i := 0; i < 10; i++ {
		require.NoError(t, c.Record(ctx, db.ProductView{ProductID: 11, SessionID: "s", ViewedAt: at}))
	}

	top, err := c.TopProducts(ctx, at.Add(-time.Hour), at.Add(time.Hour), 8)
	require.NoError(t, err)
	require.Len(t, top, 8)
	assert.Equal(t, int64(10), top[0].ProductID)
	assert.Equal(t, int64(11), top[1].ProductID)
	for i := 1; i < len(top); i++ {
		assert.GreaterOrEqual(t, top[i-1].Views, top[i].Views)
	}

	n, err := c.CountInRange(ctx, at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(65), n)

	n, err = c.CountInRange(ctx, at.Add(time.Hour), at.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	times, err := c.ViewTimes(ctx, 3, at.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, times, 3)
}

func TestViewCounter_NotProvisioned(t *testing.T) {
	gdb := testutil.TestDB(t)
	ctx := testutil.Ctx(t)
	c := db.NewViewCounter(gdb)

	require.NoError(t, gdb.Migrator().DropTable(&db.ProductView{}))
	status := db.TableStatus(gdb)
	assert.False(t, status["datalens_product_views"])
	assert.True(t, status["datalens_events"])

	err := c.Record(ctx, db.ProductView{ProductID: 1})
	assert.ErrorIs(t, err, db.ErrNotProvisioned)

	require.NoError(t, c.Provision(ctx))
	assert.True(t, db.TableStatus(gdb)["datalens_product_views"])
	require.NoError(t, c.Record(ctx, db.ProductView{ProductID: 1}))

	n, err := c.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEventStore_RecordQueryCount(t *testing.T) {
	gdb := testutil.TestDB(t)
	ctx := testutil.Ctx(t)
	s := db.NewEventStore(gdb)

	at := testutil.Date(2024, 7, 1, 8)
	types := []string{"user_login", "user_login", "add_to_cart", "product_view"}
	var lastID uint
	for _, typ := range types {
		id, err := s.Record(ctx, db.Event{EventType: typ, EventData: datatypes.JSONMap{"k": "v"}, CreatedAt: at})
		require.NoError(t, err)
		assert.Greater(t, id, lastID)
		lastID = id
	}

	counts, err := s.CountByType(ctx, []string{"user_login", "add_to_cart", "user_registration"}, at, at)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"user_login": 2, "add_to_cart": 1}, counts)

	events, err := s.Query(ctx, []string{"product_view"}, at.Add(-time.Minute), at.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "v", events[0].EventData["k"])

	events, err = s.Query(ctx, nil, at.Add(time.Minute), at.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestOptions(t *testing.T) {
	gdb := testutil.TestDB(t)
	ctx := testutil.Ctx(t)
	o := db.NewOptions(gdb)

	assert.True(t, o.Bool(ctx, db.OptTrackingEnabled, true))
	require.NoError(t, o.SetBool(ctx, db.OptTrackingEnabled, false))
	assert.False(t, o.Bool(ctx, db.OptTrackingEnabled, true))

	_, ok, err := o.Time(ctx, db.OptLastOrderSync)
	require.NoError(t, err)
	assert.False(t, ok)

	stamp := time.Date(2024, 8, 9, 10, 11, 12, 0, time.UTC)
	require.NoError(t, o.SetTime(ctx, db.OptLastOrderSync, stamp))
	require.NoError(t, o.SetTime(ctx, db.OptLastOrderSync, stamp.Add(time.Hour)))
	got, ok, err := o.Time(ctx, db.OptLastOrderSync)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, stamp.Add(time.Hour).Equal(got))
}

func TestAuthenticate(t *testing.T) {
	gdb := testutil.TestDB(t)
	ctx := testutil.Ctx(t)

	_, err := db.CreateUser(ctx, gdb, "ops", "s3cret", true)
	require.NoError(t, err)

	u, err := db.Authenticate(ctx, gdb, "ops", "s3cret")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.True(t, u.CanManageStore())

	u, err = db.Authenticate(ctx, gdb, "ops", "wrong")
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = db.Authenticate(ctx, gdb, "nobody", "s3cret")
	require.NoError(t, err)
	assert.Nil(t, u)
}
