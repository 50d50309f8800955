package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"commerce-service/internal/broker"
	"commerce-service/internal/models"
	"commerce-service/internal/redisclient"
	"commerce-service/internal/shiprocket"
	"commerce-service/internal/store"
	"commerce-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Lifecycle errors
var (
	ErrAlreadyShipped     = errors.New("order already shipped")
	ErrOrderClosed        = errors.New("order is in a terminal state")
	ErrNotConfirmed       = errors.New("order must be confirmed before shipping")
	ErrDispatchInProgress = errors.New("a dispatch for this order is already in progress")
	ErrValidation         = errors.New("required fields missing")
)

const (
	dispatchLockTTL  = 30 * time.Second
	webhookDedupTTL  = 24 * time.Hour
	trackingCacheTTL = 5 * time.Minute
)

// OrderService orchestrates order creation, confirmation, shipment
// dispatch and webhook-driven reconciliation.
type OrderService struct {
	store          *store.Store
	redis          *redisclient.Client
	eventPublisher *broker.EventPublisher
	gateway        *shiprocket.Client
	logger         *zap.Logger

	// requireConfirmed selects the strict ship policy: refuse dispatch
	// of unconfirmed orders instead of auto-promoting them.
	requireConfirmed bool
}

// NewOrderService creates a new order service
func NewOrderService(
	st *store.Store,
	redis *redisclient.Client,
	eventPublisher *broker.EventPublisher,
	gateway *shiprocket.Client,
	requireConfirmed bool,
) *OrderService {
	return &OrderService{
		store:            st,
		redis:            redis,
		eventPublisher:   eventPublisher,
		gateway:          gateway,
		logger:           util.GetLogger(),
		requireConfirmed: requireConfirmed,
	}
}

// CreateOrderRequest represents a request to place an order
type CreateOrderRequest struct {
	CustomerDetails struct {
		FirstName string `json:"first_name" binding:"required"`
		LastName  string `json:"last_name" binding:"required"`
		Email     string `json:"email" binding:"required,email"`
		Phone     string `json:"phone" binding:"required"`
	} `json:"customer_details" binding:"required"`

	ShippingAddress struct {
		AddressLine1 string `json:"address_line1" binding:"required"`
		AddressLine2 string `json:"address_line2"`
		City         string `json:"city" binding:"required"`
		State        string `json:"state" binding:"required"`
		Pincode      int    `json:"pincode" binding:"required"`
		Country      string `json:"country"`
	} `json:"shipping_address" binding:"required"`

	Items []OrderItemRequest `json:"items" binding:"required,min=1"`

	Subtotal    decimal.Decimal `json:"subtotal"`
	TotalAmount decimal.Decimal `json:"total_amount"`

	CouponCode string `json:"coupon_code"`

	PaymentMethod  string `json:"payment_method"`
	TransactionID  string `json:"transaction_id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents a line item in an order request. Dimension
// overrides are optional; catalog values apply when absent.
type OrderItemRequest struct {
	ProductID int64   `json:"product_id" binding:"required"`
	Quantity  int     `json:"quantity" binding:"required,min=1"`
	Length    float64 `json:"length"`
	Breadth   float64 `json:"breadth"`
	Height    float64 `json:"height"`
	Weight    float64 `json:"weight"`
}

// CreateOrderResponse represents the response after placing an order
type CreateOrderResponse struct {
	OrderID        int64  `json:"order_id"`
	Status         string `json:"status"`
	Subtotal       string `json:"subtotal"`
	DiscountAmount string `json:"discount_amount"`
	TotalAmount    string `json:"total_amount"`
}

// CreateOrder validates the request, optionally applies a coupon and
// persists the order with status Pending. Coupon usage is consumed only
// after the order row is durable; the two writes are deliberately not
// one transaction.
func (s *OrderService) CreateOrder(ctx context.Context, customerID int64, req *CreateOrderRequest, coupons *CouponService) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if customerID == 0 {
		return nil, fmt.Errorf("%w: customer", ErrValidation)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: items", ErrValidation)
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	existing, err := s.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing != nil {
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", existing.ID))
		return orderResponse(existing), nil
	}

	products, err := s.validateOrderItems(ctx, req.Items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	items, subtotal := s.snapshotItems(req.Items, products)

	if !req.Subtotal.IsZero() && !req.Subtotal.Equal(subtotal) {
		s.logger.Warn("Client subtotal differs from catalog prices",
			zap.String("client_subtotal", req.Subtotal.String()),
			zap.String("computed_subtotal", subtotal.String()))
	}

	discount := decimal.Zero
	total := subtotal
	var coupon *models.Coupon

	if req.CouponCode != "" {
		var d Discount
		coupon, d, err = coupons.Apply(ctx, req.CouponCode, subtotal)
		if err != nil {
			// An invalid or expired coupon rejects the whole request;
			// no order is written.
			util.OrdersFailedTotal.WithLabelValues("coupon_rejected").Inc()
			return nil, err
		}
		discount = d.DiscountAmount
		total = d.FinalAmount
	}

	paymentMethod := req.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = models.PaymentMethodCOD
	}

	order := &models.Order{
		CustomerID: customerID,
		CustomerDetails: models.CustomerDetails{
			FirstName: req.CustomerDetails.FirstName,
			LastName:  req.CustomerDetails.LastName,
			Email:     strings.ToLower(req.CustomerDetails.Email),
			Phone:     req.CustomerDetails.Phone,
		},
		ShippingAddress: models.ShippingAddress{
			AddressLine1: req.ShippingAddress.AddressLine1,
			AddressLine2: req.ShippingAddress.AddressLine2,
			City:         req.ShippingAddress.City,
			State:        req.ShippingAddress.State,
			Pincode:      req.ShippingAddress.Pincode,
			Country:      req.ShippingAddress.Country,
		},
		Items:          items,
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TotalAmount:    total,
		PaymentMethod:  paymentMethod,
		PaymentStatus:  models.PaymentStatusPending,
		TransactionID:  req.TransactionID,
		IdempotencyKey: req.IdempotencyKey,
		Status:         models.OrderStatusPending,
	}
	if coupon != nil {
		order.CouponCode = coupon.Code
		order.CouponID = coupon.ID
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("total", order.TotalAmount.String()))

	// Only now, with the order durably persisted, consume the coupon
	// slot. A crash between the two writes loses the increment, never
	// the other way around.
	if coupon != nil {
		if err := s.store.IncrementCouponUsage(ctx, coupon.ID); err != nil {
			s.logger.Error("Failed to increment coupon usage",
				zap.Int64("order_id", order.ID),
				zap.String("code", coupon.Code),
				zap.Error(err))
		}
	}

	event := &models.OrderCreatedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderCreated),
		OrderID:       order.ID,
		CustomerID:    order.CustomerID,
		TotalAmount:   order.TotalAmount.String(),
		CouponCode:    order.CouponCode,
		PaymentMethod: order.PaymentMethod,
	}
	if err := s.eventPublisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}

	return orderResponse(order), nil
}

func orderResponse(order *models.Order) *CreateOrderResponse {
	return &CreateOrderResponse{
		OrderID:        order.ID,
		Status:         order.Status,
		Subtotal:       order.Subtotal.String(),
		DiscountAmount: order.DiscountAmount.String(),
		TotalAmount:    order.TotalAmount.String(),
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// validateOrderItems checks that every referenced product exists
func (s *OrderService) validateOrderItems(ctx context.Context, items []OrderItemRequest) (map[int64]*models.Product, error) {
	productIDs := make([]int64, len(items))
	for i, item := range items {
		productIDs[i] = item.ProductID
	}

	products, err := s.store.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	productMap := make(map[int64]*models.Product)
	for i := range products {
		productMap[products[i].ID] = &products[i]
	}

	for _, item := range items {
		if _, ok := productMap[item.ProductID]; !ok {
			return nil, fmt.Errorf("%w: product %d not found", ErrValidation, item.ProductID)
		}
	}

	return productMap, nil
}

// snapshotItems copies catalog title/price/dimensions onto the line
// items and sums the subtotal.
func (s *OrderService) snapshotItems(items []OrderItemRequest, products map[int64]*models.Product) ([]models.OrderItem, decimal.Decimal) {
	out := make([]models.OrderItem, 0, len(items))
	subtotal := decimal.Zero

	for _, item := range items {
		product := products[item.ProductID]

		pick := func(explicit, catalog float64) float64 {
			if explicit > 0 {
				return explicit
			}
			return catalog
		}

		out = append(out, models.OrderItem{
			ProductID:    product.ID,
			Title:        product.Title,
			VariantLabel: product.VariantLabel,
			SKU:          product.SKU,
			Quantity:     item.Quantity,
			UnitPrice:    product.Price,
			Length:       pick(item.Length, product.Length),
			Breadth:      pick(item.Breadth, product.Breadth),
			Height:       pick(item.Height, product.Height),
			Weight:       pick(item.Weight, product.Weight),
		})

		subtotal = subtotal.Add(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	return out, subtotal
}

// GetOrder retrieves an order with items
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.store.GetOrderByID(ctx, orderID)
}

// ListOrders retrieves all orders (admin view)
func (s *OrderService) ListOrders(ctx context.Context) ([]models.Order, error) {
	return s.store.ListOrders(ctx)
}

// ListCustomerOrders retrieves orders owned by a customer
func (s *OrderService) ListCustomerOrders(ctx context.Context, customerID int64) ([]models.Order, error) {
	return s.store.GetOrdersByCustomerID(ctx, customerID)
}

// TrackByContact matches orders against the contact snapshot taken at
// order time, never the live customer profile.
func (s *OrderService) TrackByContact(ctx context.Context, phone, email string) ([]models.Order, error) {
	if phone == "" && email == "" {
		return nil, fmt.Errorf("%w: phone or email", ErrValidation)
	}
	return s.store.FindOrdersByContact(ctx, phone, email)
}

// Confirm moves a pending order to Confirmed
func (s *OrderService) Confirm(ctx context.Context, orderID int64) error {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if models.IsTerminalStatus(order.Status) {
		return ErrOrderClosed
	}
	if order.Status == models.OrderStatusConfirmed {
		return nil
	}
	if err := s.store.UpdateOrderStatus(ctx, orderID, models.OrderStatusConfirmed); err != nil {
		return err
	}

	event := &models.OrderConfirmedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeOrderConfirmed),
		OrderID:    orderID,
		CustomerID: order.CustomerID,
	}
	if err := s.eventPublisher.PublishOrderConfirmed(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderConfirmed event", zap.Error(err))
	}
	return nil
}

// Cancel moves any non-terminal order to Cancelled. The coupon slot, if
// one was consumed, stays consumed.
func (s *OrderService) Cancel(ctx context.Context, orderID int64, reason string) error {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if models.IsTerminalStatus(order.Status) {
		return ErrOrderClosed
	}

	if err := s.store.UpdateOrderStatus(ctx, orderID, models.OrderStatusCancelled); err != nil {
		return err
	}
	util.OrdersCancelledTotal.Inc()

	event := &models.OrderCancelledEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderCancelled),
		OrderID:   orderID,
		Reason:    reason,
	}
	if err := s.eventPublisher.PublishOrderCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
	}
	return nil
}

// Update applies an allow-listed admin edit
func (s *OrderService) Update(ctx context.Context, orderID int64, upd store.OrderUpdate) (*models.Order, error) {
	if err := s.store.UpdateOrderFields(ctx, orderID, upd); err != nil {
		return nil, err
	}
	return s.store.GetOrderByID(ctx, orderID)
}

// Delete removes an order
func (s *OrderService) Delete(ctx context.Context, orderID int64) error {
	return s.store.DeleteOrder(ctx, orderID)
}

// BulkDelete removes multiple orders
func (s *OrderService) BulkDelete(ctx context.Context, ids []int64) (int64, error) {
	return s.store.DeleteOrders(ctx, ids)
}

// validateDispatch is the pure dispatch guard: an order with a shipment
// id is never shipped twice, and terminal orders never ship at all.
func validateDispatch(order *models.Order, requireConfirmed bool) error {
	if order.ShipmentID != "" {
		return ErrAlreadyShipped
	}
	if models.IsTerminalStatus(order.Status) {
		return ErrOrderClosed
	}
	if requireConfirmed && order.Status != models.OrderStatusConfirmed {
		return ErrNotConfirmed
	}
	return nil
}

// Dispatch creates a carrier shipment for the order. Under the default
// permissive policy an unconfirmed order ships anyway; the strict policy
// refuses instead. Nothing is written before the carrier answers, so a
// carrier failure leaves the order exactly as it was, and the carrier's
// message is surfaced verbatim.
func (s *OrderService) Dispatch(ctx context.Context, orderID int64, dims shiprocket.Dimensions) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Dispatch")
	defer span.End()

	lockKey := fmt.Sprintf("dispatch:%d", orderID)
	acquired, err := s.redis.AcquireLock(ctx, lockKey, dispatchLockTTL)
	if err != nil {
		s.logger.Warn("Dispatch lock unavailable, proceeding on the DB guard",
			zap.Int64("order_id", orderID), zap.Error(err))
	} else if !acquired {
		return nil, ErrDispatchInProgress
	} else {
		defer func() {
			if err := s.redis.ReleaseLock(context.Background(), lockKey); err != nil {
				s.logger.Warn("Failed to release dispatch lock", zap.Error(err))
			}
		}()
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if err := validateDispatch(order, s.requireConfirmed); err != nil {
		util.ShipmentDispatchFailed.WithLabelValues("guard").Inc()
		return nil, err
	}

	start := time.Now()
	shipment, err := s.gateway.CreateShipment(ctx, order, dims)
	util.ShipmentDispatchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.ShipmentDispatchFailed.WithLabelValues("carrier").Inc()
		return nil, err
	}

	tracking := models.Tracking{
		ShipmentID:     shipment.ShipmentID,
		CarrierOrderID: shipment.CarrierOrderID,
		AWBCode:        shipment.AWBCode,
		CourierName:    shipment.CourierName,
		CarrierStatus:  shipment.Status,
	}
	if err := s.store.SetOrderShipment(ctx, orderID, tracking); err != nil {
		return nil, fmt.Errorf("failed to store shipment: %w", err)
	}

	util.ShipmentsDispatchedTotal.Inc()
	s.logger.Info("Order dispatched",
		zap.Int64("order_id", orderID),
		zap.String("shipment_id", shipment.ShipmentID),
		zap.String("awb", shipment.AWBCode))

	event := &models.OrderShippedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderShipped),
		OrderID:       orderID,
		AWBCode:       shipment.AWBCode,
		CourierName:   shipment.CourierName,
		CustomerName:  order.FirstName,
		CustomerPhone: order.Phone,
	}
	if err := s.eventPublisher.PublishOrderShipped(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderShipped event", zap.Error(err))
	}

	order.Tracking = tracking
	order.Status = models.OrderStatusShipped
	return order, nil
}

// TrackShipment fetches the live carrier view of an order's shipment,
// serving a short-lived cache to keep webhook-storm-adjacent polling off
// the carrier API.
func (s *OrderService) TrackShipment(ctx context.Context, orderID int64) (*shiprocket.TrackingData, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ShipmentID == "" {
		return nil, fmt.Errorf("order %d has no shipment", orderID)
	}

	if cached, err := s.redis.GetCachedTracking(ctx, order.ShipmentID); err == nil && cached != nil {
		var data shiprocket.TrackingData
		if err := json.Unmarshal(cached, &data); err == nil {
			return &data, nil
		}
	}

	data, err := s.gateway.TrackShipment(ctx, order.ShipmentID)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(data); err == nil {
		if err := s.redis.CacheTracking(ctx, order.ShipmentID, payload, trackingCacheTTL); err != nil {
			s.logger.Warn("Failed to cache tracking response", zap.Error(err))
		}
	}

	return data, nil
}

// QuoteShippingRate asks the carrier what shipping to a pincode costs.
// Weight defaults to the standard small-parcel figure when the caller
// omits it.
func (s *OrderService) QuoteShippingRate(ctx context.Context, deliveryPostcode string, weightKg float64, cod bool) (*shiprocket.RateQuote, error) {
	if deliveryPostcode == "" {
		return nil, fmt.Errorf("%w: delivery_postcode", ErrValidation)
	}
	if weightKg <= 0 {
		weightKg = shiprocket.DefaultWeight
	}
	return s.gateway.CalculateRate(ctx, deliveryPostcode, weightKg, cod)
}

// In-transit carrier phrases that map to Shipped.
var inTransitStatuses = []string{
	"IN TRANSIT",
	"SHIPPED",
	"PICKED UP",
	"PICKUP SCHEDULED",
	"OUT FOR DELIVERY",
	"REACHED AT DESTINATION",
}

// mapCarrierStatus translates the carrier's free-text status into the
// internal enum. ok is false when the text matches nothing we track.
func mapCarrierStatus(raw string) (string, bool) {
	status := strings.ToUpper(strings.TrimSpace(raw))

	switch {
	case strings.Contains(status, "RTO"), strings.Contains(status, "RETURN"):
		return models.OrderStatusReturned, true
	case strings.Contains(status, "DELIVERED"):
		return models.OrderStatusDelivered, true
	case strings.Contains(status, "CANCELED"), strings.Contains(status, "CANCELLED"):
		return models.OrderStatusCancelled, true
	}

	for _, phrase := range inTransitStatuses {
		if strings.Contains(status, phrase) {
			return models.OrderStatusShipped, true
		}
	}
	return "", false
}

// reconcileStatus decides the order's next status for an incoming
// carrier status. A late in-transit event must not downgrade an order
// that already reached Delivered or Returned; re-applying the current
// status is harmless.
func reconcileStatus(current, carrierStatus string) (string, bool) {
	mapped, ok := mapCarrierStatus(carrierStatus)
	if !ok || mapped == current {
		return current, false
	}
	if models.IsTerminalStatus(current) {
		return current, false
	}
	return mapped, true
}

// WebhookScan is one scan entry in a carrier webhook push
type WebhookScan struct {
	Date     string `json:"date"`
	Status   string `json:"sr-status-label"`
	Activity string `json:"activity"`
	Location string `json:"location"`
}

// WebhookPayload is the carrier's asynchronous status push
type WebhookPayload struct {
	AWB           string        `json:"awb"`
	CurrentStatus string        `json:"current_status"`
	CourierName   string        `json:"courier_name"`
	Scans         []WebhookScan `json:"scans"`
}

// HandleWebhook reconciles a carrier status push into the order record.
// Errors are returned for logging only; the HTTP handler acknowledges
// the carrier regardless, to avoid webhook storms.
func (s *OrderService) HandleWebhook(ctx context.Context, payload *WebhookPayload) error {
	ctx, span := util.StartSpan(ctx, "OrderService.HandleWebhook")
	defer span.End()

	util.WebhooksReceivedTotal.Inc()

	if payload.AWB == "" {
		return fmt.Errorf("webhook payload missing awb")
	}

	if s.redis != nil {
		first, err := s.redis.MarkWebhookSeen(ctx, payload.AWB, payload.CurrentStatus, webhookDedupTTL)
		if err != nil {
			s.logger.Warn("Webhook dedup unavailable", zap.Error(err))
		} else if !first {
			util.WebhooksDuplicateTotal.Inc()
			s.logger.Info("Duplicate webhook dropped",
				zap.String("awb", payload.AWB),
				zap.String("status", payload.CurrentStatus))
			return nil
		}
	}

	order, err := s.store.GetOrderByAWB(ctx, payload.AWB)
	if err != nil {
		return fmt.Errorf("failed to look up order by awb: %w", err)
	}
	if order == nil {
		return fmt.Errorf("no order for awb %s", payload.AWB)
	}

	newStatus, changed := reconcileStatus(order.Status, payload.CurrentStatus)
	if !changed && models.IsTerminalStatus(order.Status) {
		if mapped, ok := mapCarrierStatus(payload.CurrentStatus); ok && mapped != order.Status {
			util.WebhookDowngradesBlocked.Inc()
			s.logger.Info("Refusing status downgrade from late webhook",
				zap.Int64("order_id", order.ID),
				zap.String("current", order.Status),
				zap.String("incoming", payload.CurrentStatus))
		}
	}

	scans := make([]models.TrackingEvent, 0, len(payload.Scans))
	for _, scan := range payload.Scans {
		scans = append(scans, models.TrackingEvent{
			Date:     scan.Date,
			Status:   scan.Status,
			Activity: scan.Activity,
			Location: scan.Location,
		})
	}

	if err := s.store.ApplyTrackingUpdate(ctx, order.ID, newStatus, payload.CurrentStatus, scans); err != nil {
		return fmt.Errorf("failed to apply tracking update: %w", err)
	}

	if changed {
		util.WebhookTransitionsTotal.WithLabelValues(newStatus).Inc()
		s.logger.Info("Order status reconciled from webhook",
			zap.Int64("order_id", order.ID),
			zap.String("from", order.Status),
			zap.String("to", newStatus))

		event := &models.OrderStatusChangedEvent{
			BaseEvent:     newBaseEvent(models.EventTypeOrderStatusChanged),
			OrderID:       order.ID,
			OldStatus:     order.Status,
			NewStatus:     newStatus,
			AWBCode:       payload.AWB,
			CustomerName:  order.FirstName,
			CustomerPhone: order.Phone,
		}
		if err := s.eventPublisher.PublishOrderStatusChanged(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
		}
	}

	return nil
}
