package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses
const (
	OrderStatusPending   = "Pending"
	OrderStatusConfirmed = "Confirmed"
	OrderStatusShipped   = "Shipped"
	OrderStatusDelivered = "Delivered"
	OrderStatusReturned  = "Returned"
	OrderStatusCancelled = "Cancelled"
)

// IsTerminalStatus reports whether an order in the given status can no
// longer transition.
func IsTerminalStatus(status string) bool {
	switch status {
	case OrderStatusDelivered, OrderStatusReturned, OrderStatusCancelled:
		return true
	}
	return false
}

// Payment methods
const (
	PaymentMethodCOD     = "Cash on Delivery"
	PaymentMethodPrepaid = "Prepaid"
)

// Payment statuses on an order
const (
	PaymentStatusPending  = "Pending"
	PaymentStatusPaid     = "Paid"
	PaymentStatusFailed   = "Failed"
	PaymentStatusRefunded = "Refunded"
)

// Coupon discount types
const (
	DiscountTypePercentage = "percentage"
	DiscountTypeFixed      = "fixed"
)

// User roles
const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
)

// CustomerDetails is an immutable snapshot of the customer's contact data
// taken at order time. Later profile edits never alter past orders.
type CustomerDetails struct {
	FirstName string `db:"customer_first_name" json:"first_name"`
	LastName  string `db:"customer_last_name" json:"last_name"`
	Email     string `db:"customer_email" json:"email"`
	Phone     string `db:"customer_phone" json:"phone"`
}

// ShippingAddress is the postal destination of an order. Pincode is an
// integer because the carrier API requires one.
type ShippingAddress struct {
	AddressLine1 string `db:"ship_address_line1" json:"address_line1"`
	AddressLine2 string `db:"ship_address_line2" json:"address_line2"`
	City         string `db:"ship_city" json:"city"`
	State        string `db:"ship_state" json:"state"`
	Pincode      int    `db:"ship_pincode" json:"pincode"`
	Country      string `db:"ship_country" json:"country"`
}

// Tracking holds the carrier-side identifiers and the last known carrier
// state for a dispatched order.
type Tracking struct {
	ShipmentID     string          `db:"shipment_id" json:"shipment_id,omitempty"`
	CarrierOrderID string          `db:"carrier_order_id" json:"carrier_order_id,omitempty"`
	AWBCode        string          `db:"awb_code" json:"awb_code,omitempty"`
	CourierName    string          `db:"courier_name" json:"courier_name,omitempty"`
	CarrierStatus  string          `db:"carrier_status" json:"carrier_status,omitempty"`
	History        TrackingHistory `db:"tracking_history" json:"history"`
}

// TrackingEvent is a single carrier scan.
type TrackingEvent struct {
	Date     string `json:"date"`
	Status   string `json:"status"`
	Activity string `json:"activity"`
	Location string `json:"location"`
}

// TrackingHistory is the append-only list of carrier scans, stored as JSONB.
type TrackingHistory []TrackingEvent

func (h TrackingHistory) Value() (driver.Value, error) {
	if h == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(h)
}

func (h *TrackingHistory) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*h = nil
		return nil
	case []byte:
		return json.Unmarshal(v, h)
	case string:
		return json.Unmarshal([]byte(v), h)
	}
	return fmt.Errorf("unsupported tracking history type %T", src)
}

// Order is the root aggregate of the checkout and shipping lifecycle.
type Order struct {
	ID              int64 `db:"id" json:"id"`
	CustomerID      int64 `db:"customer_id" json:"customer_id"`
	CustomerDetails `json:"customer_details"`
	ShippingAddress `json:"shipping_address"`

	Items []OrderItem `db:"-" json:"items,omitempty"`

	Subtotal       decimal.Decimal `db:"subtotal" json:"subtotal"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`

	CouponCode string `db:"coupon_code" json:"coupon_code,omitempty"`
	CouponID   int64  `db:"coupon_id" json:"coupon_id,omitempty"`

	PaymentMethod  string `db:"payment_method" json:"payment_method"`
	PaymentStatus  string `db:"payment_status" json:"payment_status"`
	TransactionID  string `db:"transaction_id" json:"transaction_id,omitempty"`
	IdempotencyKey string `db:"idempotency_key" json:"idempotency_key,omitempty"`

	Status string `db:"order_status" json:"order_status"`

	Tracking `json:"tracking"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// OrderItem is a line item with the physical attributes the carrier needs.
type OrderItem struct {
	ID           int64           `db:"id" json:"id"`
	OrderID      int64           `db:"order_id" json:"order_id"`
	ProductID    int64           `db:"product_id" json:"product_id"`
	Title        string          `db:"title" json:"title"`
	VariantLabel string          `db:"variant_label" json:"variant_label,omitempty"`
	SKU          string          `db:"sku" json:"sku"`
	Quantity     int             `db:"quantity" json:"quantity"`
	UnitPrice    decimal.Decimal `db:"unit_price" json:"unit_price"`

	// Dimensions in cm, weight in kg. Zero means "use the default".
	Length  float64 `db:"length" json:"length"`
	Breadth float64 `db:"breadth" json:"breadth"`
	Height  float64 `db:"height" json:"height"`
	Weight  float64 `db:"weight" json:"weight"`
}

// Coupon is a discount code with an activity window and a usage cap.
// UsedCount only ever goes up; cancelling an order does not hand the
// slot back.
type Coupon struct {
	ID                int64           `db:"id" json:"id"`
	Code              string          `db:"code" json:"code"`
	DiscountType      string          `db:"discount_type" json:"discount_type"`
	DiscountValue     decimal.Decimal `db:"discount_value" json:"discount_value"`
	MinimumOrderValue decimal.Decimal `db:"minimum_order_value" json:"minimum_order_value"`
	ExpiryDate        time.Time       `db:"expiry_date" json:"expiry_date"`
	IsActive          bool            `db:"is_active" json:"is_active"`
	UsageLimit        int             `db:"usage_limit" json:"usage_limit"`
	UsedCount         int             `db:"used_count" json:"used_count"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Product is a catalog entry. Dimensions are the per-item shipping
// defaults snapshotted onto order items.
type Product struct {
	ID           int64           `db:"id" json:"id"`
	SKU          string          `db:"sku" json:"sku"`
	Title        string          `db:"title" json:"title"`
	VariantLabel string          `db:"variant_label" json:"variant_label,omitempty"`
	Price        decimal.Decimal `db:"price" json:"price"`
	Length       float64         `db:"length" json:"length"`
	Breadth      float64         `db:"breadth" json:"breadth"`
	Height       float64         `db:"height" json:"height"`
	Weight       float64         `db:"weight" json:"weight"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// User is an admin or customer account.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	Phone        string    `db:"phone" json:"phone,omitempty"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Payment provider transaction statuses
const (
	ProviderPaymentCreated = "created"
	ProviderPaymentPaid    = "paid"
	ProviderPaymentFailed  = "failed"
)

// Payment is a payment-provider transaction attached to an order.
type Payment struct {
	ID                int64           `db:"id" json:"id"`
	OrderID           int64           `db:"order_id" json:"order_id"`
	ProviderOrderID   string          `db:"provider_order_id" json:"provider_order_id"`
	ProviderPaymentID string          `db:"provider_payment_id" json:"provider_payment_id,omitempty"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	Status            string          `db:"status" json:"status"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}
