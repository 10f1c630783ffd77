// Package event models tracked store interactions as a tagged union keyed by
// event type. Caller-supplied data is stored as sent; known types are
// validated against their shape first.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"
)

// Type is the open event_type enum.
type Type string

const (
	OrderCompleted     Type = "order_completed"
	OrderCreated       Type = "order_created"
	OrderStatusChanged Type = "order_status_changed"
	ProductViewed      Type = "product_view"
	AddToCart          Type = "add_to_cart"
	CartView           Type = "cart_view"
	UserLogin          Type = "user_login"
	UserRegistration   Type = "user_registration"
)

var known = map[Type]bool{
	OrderCompleted:     true,
	OrderCreated:       true,
	OrderStatusChanged: true,
	ProductViewed:      true,
	AddToCart:          true,
	CartView:           true,
	UserLogin:          true,
	UserRegistration:   true,
}

// Known reports whether t has a validated shape.
func Known(t Type) bool { return known[t] }

// ActivityTypes are the event types shown in the dashboard's user activity breakdown.
var ActivityTypes = []Type{UserLogin, UserRegistration, AddToCart}

var typeName = regexp.MustCompile(`^[a-z0-9_]{1,50}$`)

// ErrInvalidEvent is matched by every ValidationError.
var ErrInvalidEvent = errors.New("invalid event")

// ValidationError describes why a payload was rejected.
type ValidationError struct {
	Type   Type
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s event: %s", e.Type, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidEvent }

func invalid(t Type, format string, args ...any) error {
	return &ValidationError{Type: t, Reason: fmt.Sprintf(format, args...)}
}

// Int accepts a JSON number or a numeric string. Storefront scripts read ids
// from DOM attributes and send them as strings.
type Int int64

func (n *Int) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("not an integer: %s", b)
	}
	*n = Int(v)
	return nil
}

// Payload is implemented by every event body.
type Payload interface {
	EventType() Type
	validate() error
}

// Order is the body of order_completed and order_created events.
type Order struct {
	Kind            Type            `json:"-"`
	OrderID         int64           `json:"order_id"`
	OrderTotal      decimal.Decimal `json:"order_total"`
	OrderStatus     string          `json:"order_status"`
	CustomerID      int64           `json:"customer_id"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	ShippingMethod  string          `json:"shipping_method,omitempty"`
	Synced          bool            `json:"synced,omitempty"`
	CreatedByPlugin bool            `json:"created_by_plugin,omitempty"`
}

func (o *Order) EventType() Type {
	if o.Kind == "" {
		return OrderCompleted
	}
	return o.Kind
}

func (o *Order) validate() error {
	if o.OrderID <= 0 {
		return invalid(o.EventType(), "order_id must be positive")
	}
	if o.OrderTotal.IsNegative() {
		return invalid(o.EventType(), "order_total must not be negative")
	}
	return nil
}

// StatusChange is the body of order_status_changed events.
type StatusChange struct {
	OrderID    int64  `json:"order_id"`
	OldStatus  string `json:"old_status"`
	NewStatus  string `json:"new_status"`
	CustomerID int64  `json:"customer_id"`
}

func (*StatusChange) EventType() Type { return OrderStatusChanged }

func (s *StatusChange) validate() error {
	if s.OrderID <= 0 {
		return invalid(OrderStatusChanged, "order_id must be positive")
	}
	if s.NewStatus == "" {
		return invalid(OrderStatusChanged, "new_status is required")
	}
	return nil
}

// ProductView is the body of product_view events.
type ProductView struct {
	ProductID    Int              `json:"product_id"`
	ProductName  string           `json:"product_name,omitempty"`
	ProductPrice *decimal.Decimal `json:"product_price,omitempty"`
	ProductType  string           `json:"product_type,omitempty"`
}

func (*ProductView) EventType() Type { return ProductViewed }

func (p *ProductView) validate() error {
	if p.ProductID <= 0 {
		return invalid(ProductViewed, "product_id must be positive")
	}
	return nil
}

// CartAdd is the body of add_to_cart events.
type CartAdd struct {
	ProductID    Int              `json:"product_id"`
	VariationID  Int              `json:"variation_id,omitempty"`
	Quantity     Int              `json:"quantity,omitempty"`
	ProductName  string           `json:"product_name,omitempty"`
	ProductPrice *decimal.Decimal `json:"product_price,omitempty"`
	CartItemKey  string           `json:"cart_item_key,omitempty"`
}

func (*CartAdd) EventType() Type { return AddToCart }

func (c *CartAdd) validate() error {
	if c.ProductID <= 0 {
		return invalid(AddToCart, "product_id must be positive")
	}
	if c.Quantity < 0 {
		return invalid(AddToCart, "quantity must not be negative")
	}
	return nil
}

// Cart is the body of cart_view events.
type Cart struct {
	CartItemsCount Int              `json:"cart_items_count"`
	CartTotal      *decimal.Decimal `json:"cart_total,omitempty"`
	CartItems      []any            `json:"cart_items,omitempty"`
}

func (*Cart) EventType() Type { return CartView }

func (c *Cart) validate() error {
	if c.CartItemsCount < 0 {
		return invalid(CartView, "cart_items_count must not be negative")
	}
	return nil
}

// User is the body of user_login and user_registration events.
type User struct {
	Kind      Type   `json:"-"`
	UserID    int64  `json:"user_id"`
	UserLogin string `json:"user_login"`
	UserEmail string `json:"user_email,omitempty"`
	UserRole  string `json:"user_role,omitempty"`
}

func (u *User) EventType() Type {
	if u.Kind == "" {
		return UserLogin
	}
	return u.Kind
}

func (u *User) validate() error {
	if u.UserID <= 0 {
		return invalid(u.EventType(), "user_id must be positive")
	}
	return nil
}

// Generic holds caller-supplied event data exactly as sent. Shape is the
// decoded body for known types and nil otherwise.
type Generic struct {
	Kind   Type
	Fields map[string]any
	Shape  Payload
}

func (g *Generic) EventType() Type { return g.Kind }

func (g *Generic) validate() error {
	if g.Shape == nil {
		return nil
	}
	return g.Shape.validate()
}

// ValidType reports whether t is an acceptable event_type value.
func ValidType(t Type) bool {
	return typeName.MatchString(string(t))
}

// Decode validates data against the shape of eventType when the type is known
// and returns it for storage unchanged.
func Decode(eventType Type, data map[string]any) (*Generic, error) {
	if !ValidType(eventType) {
		return nil, invalid(eventType, "event_type must match %s", typeName.String())
	}
	g := &Generic{Kind: eventType, Fields: make(map[string]any, len(data))}
	for k, v := range data {
		g.Fields[k] = v
	}

	var p Payload
	switch eventType {
	case OrderCompleted, OrderCreated:
		p = &Order{Kind: eventType}
	case OrderStatusChanged:
		p = &StatusChange{}
	case ProductViewed:
		p = &ProductView{}
	case AddToCart:
		p = &CartAdd{}
	case CartView:
		p = &Cart{}
	case UserLogin, UserRegistration:
		p = &User{Kind: eventType}
	default:
		return g, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, invalid(eventType, "unencodable data: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(p); err != nil {
		return nil, invalid(eventType, "%v", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	g.Shape = p
	return g, nil
}

// Validate checks a payload built in code before it is stored.
func Validate(p Payload) error {
	if p == nil {
		return &ValidationError{Reason: "nil payload"}
	}
	if !ValidType(p.EventType()) {
		return invalid(p.EventType(), "event_type must match %s", typeName.String())
	}
	return p.validate()
}

// Encode flattens a payload into the map stored in the event_data column.
func Encode(p Payload) (map[string]any, error) {
	if g, ok := p.(*Generic); ok {
		out := make(map[string]any, len(g.Fields))
		for k, v := range g.Fields {
			out[k] = v
		}
		return out, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
