package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Expose(t *testing.T) {
	r := New()
	r.EventTracked("user_login", Stored)
	r.ProductView(Failed)
	r.OrdersSynced("all", 3)
	r.OrdersSynced("all", 0)
	r.SyncDuplicate()
	r.ObserveRequest("/healthz", "GET", 5*time.Millisecond)

	out, err := r.Expose()
	require.NoError(t, err)
	text := string(out)
	assert.Contains(t, text, `datalens_events_tracked_total{event_type="user_login",outcome="stored"} 1`)
	assert.Contains(t, text, `datalens_product_views_total{outcome="failed"} 1`)
	assert.Contains(t, text, `datalens_orders_synced_total{mode="all"} 3`)
	assert.Contains(t, text, `datalens_sync_duplicates_total 1`)
	assert.Contains(t, text, `datalens_http_request_duration_seconds_count{method="GET",route="/healthz"} 1`)
}

func TestRegistry_NilIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.EventTracked("x", Stored)
		r.ProductView(Stored)
		r.OrdersSynced("new", 1)
		r.SyncDuplicate()
		r.ObserveRequest("/", "GET", time.Second)
	})
	out, err := r.Expose()
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestNew_Independent(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
