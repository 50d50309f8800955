package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commerce-service/internal/models"
	"commerce-service/internal/store"
	"commerce-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Coupon validation failures
var (
	ErrCouponNotFound    = errors.New("invalid coupon code")
	ErrCouponInactive    = errors.New("coupon is disabled")
	ErrCouponExpired     = errors.New("coupon expired")
	ErrCouponUsageLimit  = errors.New("coupon usage limit reached")
	ErrMinimumOrderValue = errors.New("minimum order value not met")
)

// IsCouponError reports whether err is a coupon validation rejection, as
// opposed to an infrastructure failure.
func IsCouponError(err error) bool {
	return errors.Is(err, ErrCouponNotFound) ||
		errors.Is(err, ErrCouponInactive) ||
		errors.Is(err, ErrCouponExpired) ||
		errors.Is(err, ErrCouponUsageLimit) ||
		errors.Is(err, ErrMinimumOrderValue)
}

// Discount is a computed coupon decision. Amounts stay decimal
// internally; rounding happens only at the response edge.
type Discount struct {
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
}

// ValidateCoupon checks a coupon against the rules of the activity
// window, usage cap and minimum order value. It has no side effects.
func ValidateCoupon(coupon *models.Coupon, subtotal decimal.Decimal, now time.Time) error {
	if coupon == nil {
		return ErrCouponNotFound
	}
	if !coupon.IsActive {
		return ErrCouponInactive
	}
	if coupon.ExpiryDate.Before(now) {
		return ErrCouponExpired
	}
	if coupon.UsedCount >= coupon.UsageLimit {
		return ErrCouponUsageLimit
	}
	if subtotal.LessThan(coupon.MinimumOrderValue) {
		return fmt.Errorf("%w: minimum is %s", ErrMinimumOrderValue, coupon.MinimumOrderValue.Round(0))
	}
	return nil
}

// ComputeDiscount applies a valid coupon to a subtotal. The final amount
// is clamped at zero.
func ComputeDiscount(coupon *models.Coupon, subtotal decimal.Decimal) Discount {
	var discount decimal.Decimal
	if coupon.DiscountType == models.DiscountTypePercentage {
		discount = coupon.DiscountValue.Div(decimal.NewFromInt(100)).Mul(subtotal)
	} else {
		discount = coupon.DiscountValue
	}

	final := subtotal.Sub(discount)
	if final.IsNegative() {
		final = decimal.Zero
	}

	return Discount{DiscountAmount: discount, FinalAmount: final}
}

// CouponService handles coupon validation and administration
type CouponService struct {
	store  *store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewCouponService creates a new coupon service
func NewCouponService(st *store.Store) *CouponService {
	return &CouponService{
		store:  st,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// Apply validates a code against a cart total and computes the discount.
// No usage count is consumed here; that happens after order persistence.
func (cs *CouponService) Apply(ctx context.Context, code string, cartTotal decimal.Decimal) (*models.Coupon, Discount, error) {
	ctx, span := util.StartSpan(ctx, "CouponService.Apply")
	defer span.End()

	coupon, err := cs.store.GetCouponByCode(ctx, code)
	if err != nil {
		return nil, Discount{}, fmt.Errorf("failed to look up coupon: %w", err)
	}

	if err := ValidateCoupon(coupon, cartTotal, cs.now()); err != nil {
		util.CouponRejectionsTotal.WithLabelValues(rejectReason(err)).Inc()
		return nil, Discount{}, err
	}

	util.CouponApplicationsTotal.Inc()
	return coupon, ComputeDiscount(coupon, cartTotal), nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrCouponNotFound):
		return "not_found"
	case errors.Is(err, ErrCouponInactive):
		return "inactive"
	case errors.Is(err, ErrCouponExpired):
		return "expired"
	case errors.Is(err, ErrCouponUsageLimit):
		return "usage_limit"
	case errors.Is(err, ErrMinimumOrderValue):
		return "minimum_order"
	}
	return "other"
}

// Create stores a new coupon, rejecting duplicate codes
func (cs *CouponService) Create(ctx context.Context, coupon *models.Coupon) error {
	if coupon.Code == "" || coupon.DiscountType == "" || coupon.DiscountValue.IsZero() || coupon.ExpiryDate.IsZero() {
		return fmt.Errorf("required fields missing")
	}
	if coupon.DiscountType != models.DiscountTypePercentage && coupon.DiscountType != models.DiscountTypeFixed {
		return fmt.Errorf("unknown discount type: %s", coupon.DiscountType)
	}
	if coupon.UsageLimit <= 0 {
		coupon.UsageLimit = 1000
	}

	if err := cs.store.CreateCoupon(ctx, coupon); err != nil {
		return err
	}

	cs.logger.Info("Coupon created",
		zap.String("code", coupon.Code),
		zap.String("type", coupon.DiscountType))
	return nil
}

// List retrieves all coupons
func (cs *CouponService) List(ctx context.Context) ([]models.Coupon, error) {
	return cs.store.ListCoupons(ctx)
}

// Update applies an allow-listed partial update
func (cs *CouponService) Update(ctx context.Context, id int64, upd store.CouponUpdate) error {
	return cs.store.UpdateCoupon(ctx, id, upd)
}

// Delete removes a coupon
func (cs *CouponService) Delete(ctx context.Context, id int64) error {
	return cs.store.DeleteCoupon(ctx, id)
}
