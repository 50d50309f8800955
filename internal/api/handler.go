package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"commerce-service/internal/models"
	"commerce-service/internal/service"
	"commerce-service/internal/shiprocket"
	"commerce-service/internal/store"
	"commerce-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	orders       *service.OrderService
	coupons      *service.CouponService
	payments     *service.PaymentService
	authSvc      *service.AuthService
	store        *store.Store
	jwtSecret    string
	webhookToken string
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	coupons *service.CouponService,
	payments *service.PaymentService,
	authSvc *service.AuthService,
	st *store.Store,
	jwtSecret string,
	webhookToken string,
) *Handler {
	return &Handler{
		orders:       orders,
		coupons:      coupons,
		payments:     payments,
		authSvc:      authSvc,
		store:        st,
		jwtSecret:    jwtSecret,
		webhookToken: webhookToken,
		logger:       util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", h.register)
			authGroup.POST("/login", h.login)
			authGroup.POST("/otp/send", h.sendOTP)
			authGroup.POST("/otp/verify", h.verifyOTP)
		}

		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)

		v1.POST("/coupons/apply", h.applyCoupon)

		// Contact-based tracking is deliberately unauthenticated; it
		// matches against the contact snapshot taken at order time.
		v1.GET("/orders/track", h.trackByContact)

		v1.POST("/shiprocket/webhook", h.shipmentWebhook)
		v1.POST("/shiprocket/calculate-shipping", h.calculateShipping)

		user := v1.Group("")
		user.Use(AuthRequired(h.jwtSecret))
		{
			user.POST("/orders", h.createOrder)
			user.GET("/orders/my", h.myOrders)
			user.GET("/orders/:id", h.getOrder)
			user.GET("/orders/:id/shipment", h.getShipment)
			user.POST("/payment/order", h.createPaymentOrder)
			user.POST("/payment/verify", h.verifyPayment)
		}

		admin := v1.Group("")
		admin.Use(AuthRequired(h.jwtSecret), AdminOnly())
		{
			admin.GET("/orders", h.listOrders)
			admin.PATCH("/orders/:id", h.updateOrder)
			admin.DELETE("/orders/:id", h.deleteOrder)
			admin.POST("/orders/bulk-delete", h.bulkDeleteOrders)
			admin.POST("/orders/:id/confirm", h.confirmOrder)
			admin.POST("/orders/:id/cancel", h.cancelOrder)
			admin.POST("/orders/:id/ship", h.shipOrder)

			admin.POST("/coupons", h.createCoupon)
			admin.GET("/coupons", h.listCoupons)
			admin.PATCH("/coupons/:id", h.updateCoupon)
			admin.DELETE("/coupons/:id", h.deleteCoupon)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck verifies the database is reachable
func (h *Handler) readinessCheck(c *gin.Context) {
	if err := h.store.GetDB().PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func respondError(c *gin.Context, err error) {
	// Carrier rejections (*shiprocket.CreationError) stay on the default
	// 500 with the carrier's message in the body.
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, service.ErrValidation), service.IsCouponError(err):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrSignatureMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyShipped),
		errors.Is(err, service.ErrOrderClosed),
		errors.Is(err, service.ErrNotConfirmed),
		errors.Is(err, service.ErrDispatchInProgress),
		errors.Is(err, store.ErrDuplicateCoupon),
		errors.Is(err, service.ErrEmailExists):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	}

	c.JSON(status, gin.H{
		"success": false,
		"message": err.Error(),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"message": msg,
	})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "Invalid id")
		return 0, false
	}
	return id, true
}

// --- auth ---

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Phone    string `json:"phone"`
	Password string `json:"password" binding:"required,min=6"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	user, token, err := h.authSvc.Register(c.Request.Context(), req.Name, req.Email, req.Phone, req.Password, models.RoleCustomer)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"user":    user,
		"token":   token,
	})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	user, token, err := h.authSvc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user":    user,
		"token":   token,
	})
}

type otpRequest struct {
	Phone string `json:"phone" binding:"required"`
	OTP   string `json:"otp"`
}

func (h *Handler) sendOTP(c *gin.Context) {
	var req otpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.authSvc.SendOTP(c.Request.Context(), req.Phone); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "OTP sent",
	})
}

func (h *Handler) verifyOTP(c *gin.Context) {
	var req otpRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OTP == "" {
		badRequest(c, "phone and otp are required")
		return
	}

	user, token, err := h.authSvc.VerifyOTP(c.Request.Context(), req.Phone, req.OTP)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user":    user,
		"token":   token,
	})
}

// --- products ---

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.store.GetProducts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"products": products,
	})
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	product, err := h.store.GetProductByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"product": product,
	})
}

// --- coupons ---

type applyCouponRequest struct {
	Code      string          `json:"code" binding:"required"`
	CartTotal decimal.Decimal `json:"cart_total" binding:"required"`
}

func (h *Handler) applyCoupon(c *gin.Context) {
	var req applyCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	coupon, discount, err := h.coupons.Apply(c.Request.Context(), req.Code, req.CartTotal)
	if err != nil {
		respondError(c, err)
		return
	}

	// Amounts stay fractional internally; the response rounds to whole
	// rupees.
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"code":            coupon.Code,
		"discount_amount": discount.DiscountAmount.Round(0),
		"final_amount":    discount.FinalAmount.Round(0),
	})
}

func (h *Handler) createCoupon(c *gin.Context) {
	var coupon models.Coupon
	if err := c.ShouldBindJSON(&coupon); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.coupons.Create(c.Request.Context(), &coupon); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"coupon":  coupon,
	})
}

func (h *Handler) listCoupons(c *gin.Context) {
	coupons, err := h.coupons.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"coupons": coupons,
	})
}

func (h *Handler) updateCoupon(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var upd store.CouponUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.coupons.Update(c.Request.Context(), id, upd); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) deleteCoupon(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.coupons.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// --- orders ---

func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.orders.CreateOrder(c.Request.Context(), currentUserID(c), &req, h.coupons)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"order":   resp,
	})
}

func (h *Handler) getOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	if c.GetString(ctxRole) != models.RoleAdmin && order.CustomerID != currentUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"message": "Not your order",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"order":   order,
	})
}

func (h *Handler) myOrders(c *gin.Context) {
	orders, err := h.orders.ListCustomerOrders(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"orders":  orders,
	})
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"orders":  orders,
	})
}

func (h *Handler) trackByContact(c *gin.Context) {
	phone := c.Query("phone")
	email := c.Query("email")

	orders, err := h.orders.TrackByContact(c.Request.Context(), phone, email)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"orders":  orders,
	})
}

func (h *Handler) updateOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var upd store.OrderUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, err.Error())
		return
	}

	order, err := h.orders.Update(c.Request.Context(), id, upd)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"order":   order,
	})
}

func (h *Handler) deleteOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.orders.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type bulkDeleteRequest struct {
	IDs []int64 `json:"ids" binding:"required,min=1"`
}

func (h *Handler) bulkDeleteOrders(c *gin.Context) {
	var req bulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	deleted, err := h.orders.BulkDelete(c.Request.Context(), req.IDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"deleted": deleted,
	})
}

func (h *Handler) confirmOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.orders.Confirm(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  models.OrderStatusConfirmed,
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req cancelRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.orders.Cancel(c.Request.Context(), id, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  models.OrderStatusCancelled,
	})
}

type shipRequest struct {
	Length  float64 `json:"length"`
	Breadth float64 `json:"breadth"`
	Height  float64 `json:"height"`
	Weight  float64 `json:"weight"`
}

func (h *Handler) shipOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req shipRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	order, err := h.orders.Dispatch(c.Request.Context(), id, shiprocket.Dimensions{
		Length:  req.Length,
		Breadth: req.Breadth,
		Height:  req.Height,
		Weight:  req.Weight,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"order":   order,
	})
}

func (h *Handler) getShipment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if c.GetString(ctxRole) != models.RoleAdmin && order.CustomerID != currentUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"message": "Not your order",
		})
		return
	}

	tracking, err := h.orders.TrackShipment(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"tracking": tracking,
	})
}

// shipmentWebhook ingests carrier status pushes. The carrier retries on
// anything but 200, so processing failures are logged and acknowledged.
func (h *Handler) shipmentWebhook(c *gin.Context) {
	if h.webhookToken != "" && c.GetHeader("x-api-key") != h.webhookToken {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"message": "Invalid webhook token",
		})
		return
	}

	var payload service.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.logger.Warn("Malformed carrier webhook", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	if err := h.orders.HandleWebhook(c.Request.Context(), &payload); err != nil {
		h.logger.Error("Webhook processing failed",
			zap.String("awb", payload.AWB),
			zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Checkout must never stall on a carrier hiccup, so a failed quote
// falls back to a flat rate instead of an error.
const fallbackShippingRate = 50

type calculateShippingRequest struct {
	DeliveryPostcode string  `json:"delivery_postcode"`
	Weight           float64 `json:"weight"`
	COD              bool    `json:"cod"`
}

func (h *Handler) calculateShipping(c *gin.Context) {
	var req calculateShippingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.DeliveryPostcode == "" {
		badRequest(c, "Pincode is required")
		return
	}

	quote, err := h.orders.QuoteShippingRate(c.Request.Context(), req.DeliveryPostcode, req.Weight, req.COD)
	if err != nil {
		h.logger.Warn("Shipping rate quote failed, using flat rate",
			zap.String("delivery_postcode", req.DeliveryPostcode),
			zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"shipping_cost": fallbackShippingRate,
			"message":       "Used fallback shipping rate",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"shipping_cost": int(math.Round(quote.Rate)),
		"courier_name":  quote.CourierName,
	})
}

// --- payments ---

type createPaymentOrderRequest struct {
	OrderID int64 `json:"order_id" binding:"required"`
}

func (h *Handler) createPaymentOrder(c *gin.Context) {
	var req createPaymentOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), req.OrderID)
	if err != nil {
		respondError(c, err)
		return
	}
	if c.GetString(ctxRole) != models.RoleAdmin && order.CustomerID != currentUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"message": "Not your order",
		})
		return
	}

	providerOrder, err := h.payments.CreateProviderOrder(c.Request.Context(), order.ID, order.TotalAmount)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":       true,
		"payment_order": providerOrder,
	})
}

type verifyPaymentRequest struct {
	ProviderOrderID   string `json:"razorpay_order_id" binding:"required"`
	ProviderPaymentID string `json:"razorpay_payment_id" binding:"required"`
	Signature         string `json:"razorpay_signature" binding:"required"`
}

func (h *Handler) verifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.payments.Verify(c.Request.Context(), req.ProviderOrderID, req.ProviderPaymentID, req.Signature); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Payment verified",
	})
}
