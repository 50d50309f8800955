package shiprocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"commerce-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(Config{
		BaseURL:        srv.URL,
		Email:          "ops@example.com",
		Password:       "secret",
		PickupPostcode: "110001",
	})
	return client, srv
}

func TestTokenCachedUntilRefreshMargin(t *testing.T) {
	var logins int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login", r.URL.Path)
		atomic.AddInt32(&logins, 1)
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	}))

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return now }

	ctx := context.Background()

	token, err := client.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	// Well inside the lifetime: cached.
	now = now.Add(4 * time.Hour)
	_, err = client.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&logins))

	// Within the 10-minute margin of the 8-hour expiry: refreshed.
	now = now.Add(4*time.Hour - 5*time.Minute)
	_, err = client.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&logins))
}

func TestTokenAuthFailure(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"message": "bad credentials"})
	}))

	_, err := client.Token(context.Background())
	assert.ErrorContains(t, err, "bad credentials")
}

func TestPickupLocationPrefersConfig(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://unused", PickupLocation: "Warehouse-2"})

	pickup, err := client.PickupLocation(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "Warehouse-2", pickup)
}

func TestPickupLocationTakesFirstRegistered(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/settings/pickup_locations", r.URL.Path)
		w.Write([]byte(`{"data":{"shipping_address":[
			{"pickup_location_nickname":"Home Base"},
			{"pickup_location_nickname":"Backup"}
		]}}`))
	}))

	pickup, err := client.PickupLocation(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "Home Base", pickup)
}

func TestPickupLocationFailsWhenNoneRegistered(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"shipping_address":[]}}`))
	}))

	_, err := client.PickupLocation(context.Background(), "tok")
	assert.ErrorContains(t, err, "no pickup locations")
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"9876543210", "9876543210"},
		{"+91 98765 43210", "9876543210"},
		{"0091-98765-43210", "9876543210"},
		{"98765", "98765"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePhone(tt.raw), "raw %q", tt.raw)
	}
}

func TestResolveDimensions(t *testing.T) {
	item := models.OrderItem{Length: 15, Breadth: 0, Height: 8, Weight: 0}

	dims := resolveDimensions(Dimensions{Breadth: 12}, []models.OrderItem{item})

	assert.Equal(t, 15.0, dims.Length)  // from the item
	assert.Equal(t, 12.0, dims.Breadth) // explicit override
	assert.Equal(t, 8.0, dims.Height)   // from the item
	assert.Equal(t, 0.5, dims.Weight)   // fixed default
}

func TestResolveDimensionsAllDefaults(t *testing.T) {
	dims := resolveDimensions(Dimensions{}, nil)

	assert.Equal(t, Dimensions{Length: 10, Breadth: 10, Height: 10, Weight: 0.5}, dims)
}

func sampleOrder() *models.Order {
	return &models.Order{
		ID:         42,
		CustomerID: 7,
		CustomerDetails: models.CustomerDetails{
			FirstName: "Asha",
			LastName:  "Rao",
			Email:     "asha@example.com",
			Phone:     "+91 98765 43210",
		},
		ShippingAddress: models.ShippingAddress{
			AddressLine1: "12 MG Road",
			City:         "Bengaluru",
			State:        "Karnataka",
			Pincode:      560001,
		},
		Items: []models.OrderItem{
			{ProductID: 3, Title: "Mug", Quantity: 2, UnitPrice: decimal.NewFromInt(250)},
		},
		Subtotal:      decimal.NewFromInt(500),
		TotalAmount:   decimal.NewFromInt(500),
		PaymentMethod: models.PaymentMethodCOD,
	}
}

func TestBuildOrderPayload(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	payload := buildOrderPayload(sampleOrder(), "Home Base", Dimensions{Length: 10, Breadth: 10, Height: 10, Weight: 0.5}, now)

	assert.Equal(t, "42", payload.OrderID)
	assert.Equal(t, "2025-06-01 09:30", payload.OrderDate)
	assert.Equal(t, "Home Base", payload.PickupLocation)
	assert.Equal(t, "9876543210", payload.BillingPhone)
	assert.Equal(t, 560001, payload.BillingPincode)
	assert.Equal(t, "India", payload.BillingCountry)
	assert.True(t, payload.ShippingIsBilling)
	assert.Equal(t, "COD", payload.PaymentMethod)
	assert.Equal(t, 500.0, payload.SubTotal)

	require.Len(t, payload.OrderItems, 1)
	assert.Equal(t, "SKU-3", payload.OrderItems[0].SKU) // fallback for empty catalog SKU
	assert.Equal(t, 2, payload.OrderItems[0].Units)
}

func TestBuildOrderPayloadPrepaid(t *testing.T) {
	order := sampleOrder()
	order.PaymentMethod = models.PaymentMethodPrepaid

	payload := buildOrderPayload(order, "Home Base", Dimensions{}, time.Now())
	assert.Equal(t, "Prepaid", payload.PaymentMethod)
}

func TestCreateShipment(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
		case "/settings/pickup_locations":
			w.Write([]byte(`{"data":{"shipping_address":[{"pickup_location_nickname":"Home Base"}]}}`))
		case "/orders/create/adhoc":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			w.Write([]byte(`{"order_id":1001,"shipment_id":2002,"status":"NEW","awb_code":"AWB9","courier_name":"Delhivery"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	shipment, err := client.CreateShipment(context.Background(), sampleOrder(), Dimensions{})
	require.NoError(t, err)

	assert.Equal(t, "1001", shipment.CarrierOrderID)
	assert.Equal(t, "2002", shipment.ShipmentID)
	assert.Equal(t, "AWB9", shipment.AWBCode)
	assert.Equal(t, "Delhivery", shipment.CourierName)
	assert.Equal(t, "NEW", shipment.Status)
}

func TestCreateShipmentEmbeddedRejection(t *testing.T) {
	// Business-rule rejections come back with HTTP 200 and an embedded
	// status_code.
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
		case "/settings/pickup_locations":
			w.Write([]byte(`{"data":{"shipping_address":[{"pickup_location_nickname":"Home Base"}]}}`))
		case "/orders/create/adhoc":
			w.Write([]byte(`{"status_code":422,"message":"Invalid pincode"}`))
		}
	}))

	_, err := client.CreateShipment(context.Background(), sampleOrder(), Dimensions{})
	require.Error(t, err)

	var creationErr *CreationError
	require.ErrorAs(t, err, &creationErr)
	assert.Equal(t, 422, creationErr.StatusCode)
	assert.Contains(t, creationErr.Message, "Invalid pincode")
}

func TestCreateShipmentHTTPError(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
		case "/settings/pickup_locations":
			w.Write([]byte(`{"data":{"shipping_address":[{"pickup_location_nickname":"Home Base"}]}}`))
		case "/orders/create/adhoc":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"missing billing_phone"}`))
		}
	}))

	_, err := client.CreateShipment(context.Background(), sampleOrder(), Dimensions{})

	var creationErr *CreationError
	require.ErrorAs(t, err, &creationErr)
	assert.Equal(t, http.StatusBadRequest, creationErr.StatusCode)
}

func TestParseTrackingEnvelope(t *testing.T) {
	want := &TrackingData{
		CurrentStatus: "In Transit",
		Activities: []TrackingActivity{
			{Date: "2025-06-01", Status: "IT", Activity: "Left facility", Location: "BLR"},
		},
	}
	inner := `{"current_status":"In Transit","shipment_track_activities":[
		{"date":"2025-06-01","status":"IT","activity":"Left facility","location":"BLR"}
	]}`

	tests := []struct {
		name string
		raw  string
	}{
		{"keyed by shipment id", `{"2002":{"tracking_data":` + inner + `}}`},
		{"tracking_data wrapper", `{"tracking_data":` + inner + `}`},
		{"bare payload", inner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTrackingEnvelope(json.RawMessage(tt.raw), "2002")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestParseTrackingEnvelopeGarbage(t *testing.T) {
	_, err := parseTrackingEnvelope(json.RawMessage(`[1,2,3]`), "2002")
	assert.Error(t, err)
}

func serviceabilityHandler(t *testing.T, body string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
		case "/courier/serviceability/":
			q := r.URL.Query()
			assert.Equal(t, "110001", q.Get("pickup_postcode"))
			assert.Equal(t, "560001", q.Get("delivery_postcode"))
			assert.Equal(t, "0.5", q.Get("weight"))
			assert.Equal(t, "0", q.Get("cod"))
			w.Write([]byte(body))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
}

func TestCalculateRatePrefersRecommendedCourier(t *testing.T) {
	client, _ := testClient(t, serviceabilityHandler(t, `{
		"data": {
			"recommended_courier_company_id": 24,
			"available_courier_companies": [
				{"courier_company_id": 10, "courier_name": "Bluedart", "rate": 120.4},
				{"courier_company_id": 24, "courier_name": "Delhivery", "rate": 85.5}
			]
		}
	}`))

	quote, err := client.CalculateRate(context.Background(), "560001", 0.5, false)
	require.NoError(t, err)
	assert.Equal(t, "Delhivery", quote.CourierName)
	assert.Equal(t, 85.5, quote.Rate)
}

func TestCalculateRateFirstCourierWithoutRecommendation(t *testing.T) {
	client, _ := testClient(t, serviceabilityHandler(t, `{
		"data": {
			"available_courier_companies": [
				{"courier_company_id": 10, "courier_name": "Bluedart", "rate": 120.4}
			]
		}
	}`))

	quote, err := client.CalculateRate(context.Background(), "560001", 0.5, false)
	require.NoError(t, err)
	assert.Equal(t, "Bluedart", quote.CourierName)
	assert.Equal(t, 120.4, quote.Rate)
}

func TestCalculateRateNoCouriers(t *testing.T) {
	client, _ := testClient(t, serviceabilityHandler(t, `{"data":{"available_courier_companies":[]}}`))

	_, err := client.CalculateRate(context.Background(), "560001", 0.5, false)
	assert.Error(t, err)
}
