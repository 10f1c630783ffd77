package event

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_KnownTypes(t *testing.T) {
	p, err := Decode(OrderCompleted, map[string]any{
		"order_id":     42,
		"order_total":  "99.50",
		"order_status": "completed",
		"customer_id":  7,
	})
	require.NoError(t, err)

	order, ok := p.Shape.(*Order)
	require.True(t, ok)
	assert.Equal(t, int64(42), order.OrderID)
	assert.True(t, decimal.RequireFromString("99.5").Equal(order.OrderTotal))
	assert.Equal(t, OrderCompleted, order.EventType())

	p, err = Decode(UserRegistration, map[string]any{"user_id": 3, "user_login": "ann"})
	require.NoError(t, err)
	assert.Equal(t, UserRegistration, p.EventType())

	p, err = Decode(AddToCart, map[string]any{"product_id": 11, "quantity": 2})
	require.NoError(t, err)
	assert.Equal(t, AddToCart, p.EventType())
}

func TestDecode_RejectsBadShapes(t *testing.T) {
	tests := []struct {
		name string
		typ  Type
		data map[string]any
	}{
		{"order without id", OrderCompleted, map[string]any{"order_total": 10}},
		{"negative total", OrderCreated, map[string]any{"order_id": 1, "order_total": -5}},
		{"status change without new status", OrderStatusChanged, map[string]any{"order_id": 1}},
		{"view without product", ProductViewed, map[string]any{"product_name": "x"}},
		{"cart add negative quantity", AddToCart, map[string]any{"product_id": 4, "quantity": -1}},
		{"cart add non-numeric id", AddToCart, map[string]any{"product_id": "abc"}},
		{"login without user", UserLogin, map[string]any{"user_login": "x"}},
		{"wrong field type", ProductViewed, map[string]any{"product_id": "abc"}},
		{"bad type name", Type("Order Completed!"), map[string]any{}},
		{"empty type name", Type(""), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.typ, tt.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidEvent))
		})
	}
}

func TestDecode_UnknownTypeStoredOpaquely(t *testing.T) {
	data := map[string]any{"coupon": "SPRING", "nested": map[string]any{"a": 1}}
	g, err := Decode("coupon_applied", data)
	require.NoError(t, err)
	assert.Nil(t, g.Shape)
	assert.Equal(t, Type("coupon_applied"), g.EventType())

	out, err := Encode(g)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecode_KnownTypesKeepCallerData(t *testing.T) {
	tests := []struct {
		name string
		typ  Type
		data map[string]any
	}{
		{"product view from storefront", ProductViewed, map[string]any{
			"product_id": 5, "page_type": "product", "timestamp": "2024-05-01T10:00:00Z",
		}},
		{"add to cart without quantity", AddToCart, map[string]any{
			"product_id": "12", "button_text": "Add to cart", "timestamp": "2024-05-01T10:00:00Z",
		}},
		{"cart view with item list", CartView, map[string]any{
			"cart_items_count": 2, "timestamp": "2024-05-01T10:00:00Z",
			"cart_items": []any{map[string]any{"product_id": "3", "quantity": "1"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Decode(tt.typ, tt.data)
			require.NoError(t, err)
			require.NotNil(t, g.Shape)

			out, err := Encode(g)
			require.NoError(t, err)
			assert.Equal(t, tt.data, out)
			assert.NotContains(t, out, "product_price")
			assert.NotContains(t, out, "cart_total")
		})
	}
}

func TestInt_AcceptsNumericStrings(t *testing.T) {
	g, err := Decode(AddToCart, map[string]any{"product_id": "42", "quantity": "3"})
	require.NoError(t, err)
	add := g.Shape.(*CartAdd)
	assert.Equal(t, Int(42), add.ProductID)
	assert.Equal(t, Int(3), add.Quantity)

	_, err = Decode(ProductViewed, map[string]any{"product_id": ""})
	assert.Error(t, err)
}

func TestEncode_CodeBuiltViewHasNoPrice(t *testing.T) {
	out, err := Encode(&ProductView{ProductID: 9})
	require.NoError(t, err)
	assert.Equal(t, "9", out["product_id"].(interface{ String() string }).String())
	assert.NotContains(t, out, "product_price")
}

func TestKnown(t *testing.T) {
	assert.True(t, Known(AddToCart))
	assert.True(t, Known(OrderStatusChanged))
	assert.False(t, Known("wishlist_add"))
}

func TestEncode_KnownType(t *testing.T) {
	out, err := Encode(&StatusChange{OrderID: 5, OldStatus: "pending", NewStatus: "processing"})
	require.NoError(t, err)

	assert.Equal(t, "pending", out["old_status"])
	assert.Equal(t, "processing", out["new_status"])
	assert.EqualValues(t, "5", out["order_id"].(interface{ String() string }).String())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(&Order{OrderID: 1}))
	assert.Error(t, Validate(&Order{}))
	assert.Error(t, Validate(nil))
	assert.Error(t, Validate(&Generic{Kind: "NOPE"}))
	assert.Error(t, Validate(&Generic{Kind: ProductViewed, Shape: &ProductView{}}))
}
