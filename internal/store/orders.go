package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"commerce-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = fmt.Errorf("not found")

// CreateOrder inserts an order together with its line items in a single
// transaction.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (
			customer_id,
			customer_first_name, customer_last_name, customer_email, customer_phone,
			ship_address_line1, ship_address_line2, ship_city, ship_state, ship_pincode, ship_country,
			subtotal, discount_amount, total_amount,
			coupon_code, coupon_id,
			payment_method, payment_status, transaction_id, idempotency_key,
			order_status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21
		)
		RETURNING id, created_at, updated_at`

	err = tx.GetContext(ctx, order, query,
		order.CustomerID,
		order.FirstName, order.LastName, order.Email, order.Phone,
		order.AddressLine1, order.AddressLine2, order.City, order.State, order.Pincode, order.Country,
		order.Subtotal, order.DiscountAmount, order.TotalAmount,
		order.CouponCode, order.CouponID,
		order.PaymentMethod, order.PaymentStatus, order.TransactionID, order.IdempotencyKey,
		order.Status)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (
			order_id, product_id, title, variant_label, sku,
			quantity, unit_price, length, breadth, height, weight
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		if err := tx.GetContext(ctx, &item.ID, itemQuery,
			item.OrderID, item.ProductID, item.Title, item.VariantLabel, item.SKU,
			item.Quantity, item.UnitPrice, item.Length, item.Breadth, item.Height, item.Weight); err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order with its items
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if err := s.loadItems(ctx, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key, nil when
// no order used the key yet
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByAWB retrieves the order carrying the given AWB code, nil when
// unknown
func (s *Store) GetOrderByAWB(ctx context.Context, awb string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE awb_code = $1", awb)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders retrieves all orders, newest first
func (s *Store) ListOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders ORDER BY created_at DESC")
	return orders, err
}

// GetOrdersByCustomerID retrieves orders for a customer
func (s *Store) GetOrdersByCustomerID(ctx context.Context, customerID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE customer_id = $1 ORDER BY created_at DESC", customerID)
	return orders, err
}

// FindOrdersByContact matches the snapshot contact fields, never the live
// user profile.
func (s *Store) FindOrdersByContact(ctx context.Context, phone, email string) ([]models.Order, error) {
	var orders []models.Order
	switch {
	case phone != "" && email != "":
		err := s.db.SelectContext(ctx, &orders,
			"SELECT * FROM orders WHERE customer_phone = $1 OR customer_email = $2 ORDER BY created_at DESC",
			phone, email)
		return orders, err
	case phone != "":
		err := s.db.SelectContext(ctx, &orders,
			"SELECT * FROM orders WHERE customer_phone = $1 ORDER BY created_at DESC", phone)
		return orders, err
	case email != "":
		err := s.db.SelectContext(ctx, &orders,
			"SELECT * FROM orders WHERE customer_email = $1 ORDER BY created_at DESC", email)
		return orders, err
	}
	return nil, fmt.Errorf("phone or email required")
}

// UpdateOrderStatus updates only the lifecycle status
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET order_status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// OrderUpdate is the allow-listed set of admin-editable order fields. Nil
// means "leave unchanged".
type OrderUpdate struct {
	Status        *string `json:"status"`
	PaymentStatus *string `json:"payment_status"`
	TransactionID *string `json:"transaction_id"`
}

// UpdateOrderFields applies an allow-listed partial update
func (s *Store) UpdateOrderFields(ctx context.Context, orderID int64, upd OrderUpdate) error {
	query := "UPDATE orders SET updated_at = NOW()"
	args := []interface{}{}
	n := 0

	add := func(col string, val interface{}) {
		n++
		query += fmt.Sprintf(", %s = $%d", col, n)
		args = append(args, val)
	}

	if upd.Status != nil {
		add("order_status", *upd.Status)
	}
	if upd.PaymentStatus != nil {
		add("payment_status", *upd.PaymentStatus)
	}
	if upd.TransactionID != nil {
		add("transaction_id", *upd.TransactionID)
	}
	if n == 0 {
		return fmt.Errorf("no fields to update")
	}

	n++
	query += fmt.Sprintf(" WHERE id = $%d", n)
	args = append(args, orderID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	return nil
}

// SetOrderShipment stores the carrier identifiers and moves the order to
// Shipped in one write.
func (s *Store) SetOrderShipment(ctx context.Context, orderID int64, t models.Tracking) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			shipment_id = $1, carrier_order_id = $2, awb_code = $3,
			courier_name = $4, carrier_status = $5,
			order_status = $6, updated_at = NOW()
		WHERE id = $7`,
		t.ShipmentID, t.CarrierOrderID, t.AWBCode, t.CourierName, t.CarrierStatus,
		models.OrderStatusShipped, orderID)
	return err
}

// ApplyTrackingUpdate records a webhook-driven status change and appends
// the carrier scans to the history.
func (s *Store) ApplyTrackingUpdate(ctx context.Context, orderID int64, status, carrierStatus string, scans []models.TrackingEvent) error {
	history, err := json.Marshal(scans)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE orders SET
			order_status = $1,
			carrier_status = $2,
			tracking_history = tracking_history || $3::jsonb,
			updated_at = NOW()
		WHERE id = $4`,
		status, carrierStatus, history, orderID)
	return err
}

// DeleteOrder removes an order; items cascade
func (s *Store) DeleteOrder(ctx context.Context, orderID int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", orderID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	return nil
}

// DeleteOrders removes multiple orders and reports how many went away
func (s *Store) DeleteOrders(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In("DELETE FROM orders WHERE id IN (?)", ids)
	if err != nil {
		return 0, err
	}
	query = s.db.Rebind(query)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

func (s *Store) loadItems(ctx context.Context, order *models.Order) error {
	items, err := s.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return err
	}
	order.Items = items
	return nil
}

// CreatePayment inserts a payment-provider transaction record
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, provider_order_id, provider_payment_id, amount, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, payment, query,
		payment.OrderID, payment.ProviderOrderID, payment.ProviderPaymentID,
		payment.Amount, payment.Status)
}

// GetPaymentByProviderOrderID retrieves a payment by the provider's order id
func (s *Store) GetPaymentByProviderOrderID(ctx context.Context, providerOrderID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE provider_order_id = $1", providerOrderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment %s: %w", providerOrderID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// MarkPaymentPaid flips the payment row and the owning order to paid
func (s *Store) MarkPaymentPaid(ctx context.Context, paymentID int64, providerPaymentID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var orderID int64
	err = tx.GetContext(ctx, &orderID, `
		UPDATE payments SET status = $1, provider_payment_id = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING order_id`,
		models.ProviderPaymentPaid, providerPaymentID, paymentID)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET payment_status = $1, transaction_id = $2, updated_at = NOW()
		WHERE id = $3`,
		models.PaymentStatusPaid, providerPaymentID, orderID)
	if err != nil {
		return fmt.Errorf("failed to update order payment status: %w", err)
	}

	return tx.Commit()
}
