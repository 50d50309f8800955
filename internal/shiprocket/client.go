package shiprocket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"commerce-service/internal/models"
	"commerce-service/internal/util"

	"go.uber.org/zap"
)

const (
	// Carrier bearer tokens live ~10 hours; 8 is the conservative figure
	// the dashboard documents.
	tokenLifetime        = 8 * time.Hour
	defaultRefreshMargin = 10 * time.Minute
	defaultTimeout       = 30 * time.Second
)

// Default package dimensions (cm / kg) when neither the request nor the
// item specifies them.
const (
	DefaultLength  = 10
	DefaultBreadth = 10
	DefaultHeight  = 10
	DefaultWeight  = 0.5
)

// Config holds carrier account credentials and connection settings.
type Config struct {
	BaseURL  string
	Email    string
	Password string

	// PickupLocation, when set, skips the pickup-address lookup.
	PickupLocation string

	// PickupPostcode is the origin pincode used for serviceability
	// rate quotes.
	PickupPostcode string

	// RefreshMargin is how long before expiry the cached token is
	// considered stale. Zero means the default.
	RefreshMargin time.Duration
}

// CreationError is the single error type for carrier-side shipment
// rejections, whether transported as a non-2xx HTTP status or as an
// embedded status_code on an HTTP 200.
type CreationError struct {
	StatusCode int
	Message    string
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("shipment creation rejected (%d): %s", e.StatusCode, e.Message)
}

// Client talks to the Shiprocket external API. The bearer credential is
// cached on the client instance, not in package state, so tests can
// substitute a fake clock.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a carrier API client
func NewClient(cfg Config) *Client {
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = defaultRefreshMargin
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     util.GetLogger(),
		now:        time.Now,
	}
}

// Token returns a valid bearer token, re-authenticating only when the
// cached one is absent or inside the refresh margin of its expiry.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.tokenExpiry.After(c.now().Add(c.cfg.RefreshMargin)) {
		return c.token, nil
	}

	c.logger.Info("Authenticating with carrier")

	body, _ := json.Marshal(map[string]string{
		"email":    c.cfg.Email,
		"password": c.cfg.Password,
	})

	var resp struct {
		Token   string `json:"token"`
		Message string `json:"message"`
	}
	status, err := c.doJSON(ctx, http.MethodPost, "/auth/login", "", bytes.NewReader(body), &resp)
	if err != nil {
		return "", fmt.Errorf("carrier auth request failed: %w", err)
	}
	if status < 200 || status >= 300 || resp.Token == "" {
		msg := resp.Message
		if msg == "" {
			msg = "carrier auth failed"
		}
		return "", fmt.Errorf("carrier auth failed: %s", msg)
	}

	c.token = resp.Token
	c.tokenExpiry = c.now().Add(tokenLifetime)
	return c.token, nil
}

// PickupLocation resolves the configured pickup address, or queries the
// carrier for registered ones and takes the first. It fails loudly when
// none exist; mis-guessing a pickup location misroutes shipments.
func (c *Client) PickupLocation(ctx context.Context, token string) (string, error) {
	if c.cfg.PickupLocation != "" {
		return c.cfg.PickupLocation, nil
	}

	var resp struct {
		Data struct {
			ShippingAddress []struct {
				Nickname string `json:"pickup_location_nickname"`
			} `json:"shipping_address"`
		} `json:"data"`
	}
	status, err := c.doJSON(ctx, http.MethodGet, "/settings/pickup_locations", token, nil, &resp)
	if err != nil {
		return "", fmt.Errorf("failed to fetch pickup locations: %w", err)
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("pickup locations request rejected with status %d", status)
	}
	if len(resp.Data.ShippingAddress) == 0 {
		return "", fmt.Errorf("no pickup locations registered with the carrier account")
	}

	nickname := resp.Data.ShippingAddress[0].Nickname
	c.logger.Info("Auto-selected pickup location", zap.String("pickup_location", nickname))
	return nickname, nil
}

// Dimensions are explicit package dimension overrides for a dispatch.
// Zero fields fall through to the item's values and then to the fixed
// defaults.
type Dimensions struct {
	Length  float64 `json:"length"`
	Breadth float64 `json:"breadth"`
	Height  float64 `json:"height"`
	Weight  float64 `json:"weight"`
}

func resolveDimensions(override Dimensions, items []models.OrderItem) Dimensions {
	var first models.OrderItem
	if len(items) > 0 {
		first = items[0]
	}

	pick := func(explicit, item, fallback float64) float64 {
		if explicit > 0 {
			return explicit
		}
		if item > 0 {
			return item
		}
		return fallback
	}

	return Dimensions{
		Length:  pick(override.Length, first.Length, DefaultLength),
		Breadth: pick(override.Breadth, first.Breadth, DefaultBreadth),
		Height:  pick(override.Height, first.Height, DefaultHeight),
		Weight:  pick(override.Weight, first.Weight, DefaultWeight),
	}
}

// normalizePhone strips non-digits and keeps the trailing 10 digits.
func normalizePhone(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) > 10 {
		d = d[len(d)-10:]
	}
	return d
}

func carrierPaymentMethod(method string) string {
	if method == models.PaymentMethodCOD {
		return "COD"
	}
	return "Prepaid"
}

type itemPayload struct {
	Name         string  `json:"name"`
	SKU          string  `json:"sku"`
	Units        int     `json:"units"`
	SellingPrice float64 `json:"selling_price"`
	Discount     float64 `json:"discount"`
	Tax          float64 `json:"tax"`
}

type orderPayload struct {
	OrderID        string `json:"order_id"`
	OrderDate      string `json:"order_date"`
	PickupLocation string `json:"pickup_location"`

	BillingCustomerName string `json:"billing_customer_name"`
	BillingLastName     string `json:"billing_last_name"`
	BillingAddress      string `json:"billing_address"`
	BillingAddress2     string `json:"billing_address_2"`
	BillingCity         string `json:"billing_city"`
	BillingPincode      int    `json:"billing_pincode"`
	BillingState        string `json:"billing_state"`
	BillingCountry      string `json:"billing_country"`
	BillingEmail        string `json:"billing_email"`
	BillingPhone        string `json:"billing_phone"`

	ShippingIsBilling bool `json:"shipping_is_billing"`

	OrderItems []itemPayload `json:"order_items"`

	PaymentMethod string  `json:"payment_method"`
	SubTotal      float64 `json:"sub_total"`
	Length        float64 `json:"length"`
	Breadth       float64 `json:"breadth"`
	Height        float64 `json:"height"`
	Weight        float64 `json:"weight"`
}

// buildOrderPayload maps an order onto the carrier's order-creation schema.
func buildOrderPayload(order *models.Order, pickup string, dims Dimensions, now time.Time) orderPayload {
	items := make([]itemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		sku := item.SKU
		if sku == "" {
			sku = fmt.Sprintf("SKU-%d", item.ProductID)
		}
		price, _ := item.UnitPrice.Float64()
		items = append(items, itemPayload{
			Name:         item.Title,
			SKU:          sku,
			Units:        item.Quantity,
			SellingPrice: price,
		})
	}

	country := order.Country
	if country == "" {
		country = "India"
	}
	subtotal, _ := order.Subtotal.Float64()

	return orderPayload{
		OrderID:        fmt.Sprintf("%d", order.ID),
		OrderDate:      now.UTC().Format("2006-01-02 15:04"),
		PickupLocation: pickup,

		BillingCustomerName: order.FirstName,
		BillingLastName:     order.LastName,
		BillingAddress:      order.AddressLine1,
		BillingAddress2:     order.AddressLine2,
		BillingCity:         order.City,
		BillingPincode:      order.Pincode,
		BillingState:        order.State,
		BillingCountry:      country,
		BillingEmail:        order.Email,
		BillingPhone:        normalizePhone(order.Phone),

		ShippingIsBilling: true,
		OrderItems:        items,

		PaymentMethod: carrierPaymentMethod(order.PaymentMethod),
		SubTotal:      subtotal,
		Length:        dims.Length,
		Breadth:       dims.Breadth,
		Height:        dims.Height,
		Weight:        dims.Weight,
	}
}

// Shipment is the carrier's answer to a successful order creation.
type Shipment struct {
	CarrierOrderID string
	ShipmentID     string
	AWBCode        string
	CourierName    string
	Status         string
}

// CreateShipment registers the order with the carrier and returns the
// assigned shipment identifiers.
func (c *Client) CreateShipment(ctx context.Context, order *models.Order, dims Dimensions) (*Shipment, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	pickup, err := c.PickupLocation(ctx, token)
	if err != nil {
		return nil, err
	}

	payload := buildOrderPayload(order, pickup, resolveDimensions(dims, order.Items), c.now())
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Creating carrier shipment",
		zap.Int64("order_id", order.ID),
		zap.String("pickup_location", pickup))

	var resp struct {
		OrderID     json.Number     `json:"order_id"`
		ShipmentID  json.Number     `json:"shipment_id"`
		Status      string          `json:"status"`
		StatusCode  int             `json:"status_code"`
		AWBCode     string          `json:"awb_code"`
		CourierName string          `json:"courier_name"`
		Message     string          `json:"message"`
		Errors      json.RawMessage `json:"errors"`
	}
	status, err := c.doJSON(ctx, http.MethodPost, "/orders/create/adhoc", token, bytes.NewReader(body), &resp)
	if err != nil {
		return nil, fmt.Errorf("shipment request failed: %w", err)
	}

	// Business-rule rejections arrive embedded in 200 responses as often
	// as real HTTP errors.
	if status < 200 || status >= 300 || resp.StatusCode == 400 || resp.StatusCode == 422 {
		msg := resp.Message
		if msg == "" && len(resp.Errors) > 0 {
			msg = string(resp.Errors)
		}
		if msg == "" {
			msg = "carrier rejected the shipment"
		}
		code := resp.StatusCode
		if code == 0 {
			code = status
		}
		return nil, &CreationError{StatusCode: code, Message: msg}
	}

	return &Shipment{
		CarrierOrderID: resp.OrderID.String(),
		ShipmentID:     resp.ShipmentID.String(),
		AWBCode:        resp.AWBCode,
		CourierName:    resp.CourierName,
		Status:         resp.Status,
	}, nil
}

// TrackingActivity is one carrier scan.
type TrackingActivity struct {
	Date     string `json:"date"`
	Status   string `json:"status"`
	Activity string `json:"activity"`
	Location string `json:"location"`
}

// TrackingData is the carrier's current view of a shipment.
type TrackingData struct {
	CurrentStatus  string             `json:"current_status"`
	ShipmentStatus string             `json:"shipment_status"`
	Activities     []TrackingActivity `json:"shipment_track_activities"`
}

// TrackShipment fetches live status and scan history for a shipment. The
// carrier wraps the payload in several envelope variants depending on
// endpoint version; all are tolerated.
func (c *Client) TrackShipment(ctx context.Context, shipmentID string) (*TrackingData, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	status, err := c.doJSON(ctx, http.MethodGet, "/courier/track/shipment/"+shipmentID, token, nil, &raw)
	if err != nil {
		return nil, fmt.Errorf("tracking request failed: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("tracking fetch failed with status %d", status)
	}

	return parseTrackingEnvelope(raw, shipmentID)
}

func parseTrackingEnvelope(raw json.RawMessage, shipmentID string) (*TrackingData, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("unexpected tracking response: %w", err)
	}

	body := raw
	if inner, ok := envelope[shipmentID]; ok {
		body = inner
		var innerEnv map[string]json.RawMessage
		if err := json.Unmarshal(inner, &innerEnv); err == nil {
			if td, ok := innerEnv["tracking_data"]; ok {
				body = td
			}
		}
	} else if td, ok := envelope["tracking_data"]; ok {
		body = td
	}

	var data TrackingData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("unexpected tracking payload: %w", err)
	}
	return &data, nil
}

// RateQuote is a serviceability quote for a prospective shipment.
type RateQuote struct {
	CourierName string
	Rate        float64
}

// CalculateRate quotes the shipping cost for a delivery pincode and weight.
// The carrier recommends a courier per route; that courier's rate wins,
// otherwise the first available one does.
func (c *Client) CalculateRate(ctx context.Context, deliveryPostcode string, weightKg float64, cod bool) (*RateQuote, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	codFlag := "0"
	if cod {
		codFlag = "1"
	}
	q := url.Values{}
	q.Set("pickup_postcode", c.cfg.PickupPostcode)
	q.Set("delivery_postcode", deliveryPostcode)
	q.Set("weight", strconv.FormatFloat(weightKg, 'f', -1, 64))
	q.Set("cod", codFlag)

	var resp struct {
		Message string `json:"message"`
		Data    struct {
			RecommendedCourierCompanyID json.Number `json:"recommended_courier_company_id"`
			AvailableCourierCompanies   []struct {
				CourierCompanyID json.Number `json:"courier_company_id"`
				CourierName      string      `json:"courier_name"`
				Rate             float64     `json:"rate"`
			} `json:"available_courier_companies"`
		} `json:"data"`
	}
	status, err := c.doJSON(ctx, http.MethodGet, "/courier/serviceability/?"+q.Encode(), token, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("serviceability request failed: %w", err)
	}
	if status < 200 || status >= 300 {
		msg := resp.Message
		if msg == "" {
			msg = fmt.Sprintf("status %d", status)
		}
		return nil, fmt.Errorf("serviceability check failed: %s", msg)
	}

	couriers := resp.Data.AvailableCourierCompanies
	if len(couriers) == 0 {
		return nil, fmt.Errorf("no couriers serve pincode %s", deliveryPostcode)
	}

	pick := couriers[0]
	if rec := resp.Data.RecommendedCourierCompanyID.String(); rec != "" && rec != "0" {
		for _, cc := range couriers {
			if cc.CourierCompanyID.String() == rec {
				pick = cc
				break
			}
		}
	}
	return &RateQuote{CourierName: pick.CourierName, Rate: pick.Rate}, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, body io.Reader, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode carrier response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
