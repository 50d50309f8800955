package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"commerce-service/internal/models"
	"commerce-service/internal/store"
	"commerce-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrSignatureMismatch is returned when a payment callback's signature
// does not match the shared secret.
var ErrSignatureMismatch = errors.New("payment verification failed")

// RazorpayConfig holds payment provider credentials.
type RazorpayConfig struct {
	BaseURL   string
	KeyID     string
	KeySecret string
}

// PaymentService creates provider payment orders and verifies callback
// signatures.
type PaymentService struct {
	store      *store.Store
	cfg        RazorpayConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(st *store.Store, cfg RazorpayConfig) *PaymentService {
	return &PaymentService{
		store:      st,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     util.GetLogger(),
	}
}

// ProviderOrder is the provider's payment order handle, returned to the
// frontend to open the checkout widget.
type ProviderOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// CreateProviderOrder registers a payment order with the provider.
// Provider amounts are integer paise.
func (ps *PaymentService) CreateProviderOrder(ctx context.Context, orderID int64, amount decimal.Decimal) (*ProviderOrder, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreateProviderOrder")
	defer span.End()

	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount", ErrValidation)
	}

	paise := amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	body, _ := json.Marshal(map[string]interface{}{
		"amount":   paise,
		"currency": "INR",
		"receipt":  fmt.Sprintf("receipt_order_%d", orderID),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ps.cfg.BaseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(ps.cfg.KeyID, ps.cfg.KeySecret)

	resp, err := ps.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment provider request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var perr struct {
			Error struct {
				Description string `json:"description"`
			} `json:"error"`
		}
		_ = json.Unmarshal(data, &perr)
		msg := perr.Error.Description
		if msg == "" {
			msg = fmt.Sprintf("provider returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("payment order creation failed: %s", msg)
	}

	var order ProviderOrder
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}

	payment := &models.Payment{
		OrderID:         orderID,
		ProviderOrderID: order.ID,
		Amount:          amount,
		Status:          models.ProviderPaymentCreated,
	}
	if err := ps.store.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to persist payment: %w", err)
	}

	util.PaymentOrdersCreatedTotal.Inc()
	ps.logger.Info("Provider payment order created",
		zap.Int64("order_id", orderID),
		zap.String("provider_order_id", order.ID))

	return &order, nil
}

// VerifySignature checks the provider's HMAC-SHA256 over
// "orderId|paymentId" against the shared secret.
func VerifySignature(providerOrderID, providerPaymentID, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(providerOrderID + "|" + providerPaymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Verify validates a payment callback and, on success, marks the payment
// and its order as paid.
func (ps *PaymentService) Verify(ctx context.Context, providerOrderID, providerPaymentID, signature string) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.Verify")
	defer span.End()

	if providerOrderID == "" || providerPaymentID == "" || signature == "" {
		return fmt.Errorf("%w: payment details", ErrValidation)
	}

	if !VerifySignature(providerOrderID, providerPaymentID, signature, ps.cfg.KeySecret) {
		util.PaymentVerificationsTotal.WithLabelValues("failed").Inc()
		ps.logger.Warn("Payment signature mismatch",
			zap.String("provider_order_id", providerOrderID))
		return ErrSignatureMismatch
	}

	payment, err := ps.store.GetPaymentByProviderOrderID(ctx, providerOrderID)
	if err != nil {
		return err
	}

	if err := ps.store.MarkPaymentPaid(ctx, payment.ID, providerPaymentID); err != nil {
		return fmt.Errorf("failed to mark payment paid: %w", err)
	}

	util.PaymentVerificationsTotal.WithLabelValues("success").Inc()
	ps.logger.Info("Payment verified",
		zap.Int64("order_id", payment.OrderID),
		zap.String("provider_payment_id", providerPaymentID))
	return nil
}
