package service

import (
	"testing"
	"time"

	"commerce-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var couponNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func validCoupon() *models.Coupon {
	return &models.Coupon{
		ID:                1,
		Code:              "SAVE10",
		DiscountType:      models.DiscountTypePercentage,
		DiscountValue:     decimal.NewFromInt(10),
		MinimumOrderValue: decimal.NewFromInt(500),
		ExpiryDate:        couponNow.Add(24 * time.Hour),
		IsActive:          true,
		UsageLimit:        100,
		UsedCount:         5,
	}
}

func TestValidateCoupon(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*models.Coupon)
		subtotal decimal.Decimal
		wantErr  error
	}{
		{
			name:     "valid coupon passes",
			mutate:   func(c *models.Coupon) {},
			subtotal: decimal.NewFromInt(1000),
		},
		{
			name:     "inactive coupon rejected",
			mutate:   func(c *models.Coupon) { c.IsActive = false },
			subtotal: decimal.NewFromInt(1000),
			wantErr:  ErrCouponInactive,
		},
		{
			name:     "expired coupon rejected",
			mutate:   func(c *models.Coupon) { c.ExpiryDate = couponNow.Add(-time.Hour) },
			subtotal: decimal.NewFromInt(1000),
			wantErr:  ErrCouponExpired,
		},
		{
			name:     "usage cap reached",
			mutate:   func(c *models.Coupon) { c.UsedCount = c.UsageLimit },
			subtotal: decimal.NewFromInt(1000),
			wantErr:  ErrCouponUsageLimit,
		},
		{
			name:     "below minimum order value",
			mutate:   func(c *models.Coupon) {},
			subtotal: decimal.NewFromInt(499),
			wantErr:  ErrMinimumOrderValue,
		},
		{
			name:     "exactly at minimum order value passes",
			mutate:   func(c *models.Coupon) {},
			subtotal: decimal.NewFromInt(500),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coupon := validCoupon()
			tt.mutate(coupon)

			err := ValidateCoupon(coupon, tt.subtotal, couponNow)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, IsCouponError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCouponNil(t *testing.T) {
	err := ValidateCoupon(nil, decimal.NewFromInt(1000), couponNow)
	assert.ErrorIs(t, err, ErrCouponNotFound)
}

func TestComputeDiscountPercentage(t *testing.T) {
	// 10% off a 1000 cart is a 100 discount and a 900 total.
	d := ComputeDiscount(validCoupon(), decimal.NewFromInt(1000))

	assert.True(t, d.DiscountAmount.Equal(decimal.NewFromInt(100)), "discount = %s", d.DiscountAmount)
	assert.True(t, d.FinalAmount.Equal(decimal.NewFromInt(900)), "final = %s", d.FinalAmount)
}

func TestComputeDiscountFixed(t *testing.T) {
	coupon := validCoupon()
	coupon.DiscountType = models.DiscountTypeFixed
	coupon.DiscountValue = decimal.NewFromInt(150)

	d := ComputeDiscount(coupon, decimal.NewFromInt(1000))

	assert.True(t, d.DiscountAmount.Equal(decimal.NewFromInt(150)))
	assert.True(t, d.FinalAmount.Equal(decimal.NewFromInt(850)))
}

func TestComputeDiscountClampsAtZero(t *testing.T) {
	coupon := validCoupon()
	coupon.DiscountType = models.DiscountTypeFixed
	coupon.DiscountValue = decimal.NewFromInt(700)
	coupon.MinimumOrderValue = decimal.NewFromInt(100)

	d := ComputeDiscount(coupon, decimal.NewFromInt(600))

	assert.True(t, d.FinalAmount.IsZero(), "final = %s", d.FinalAmount)
}

func TestComputeDiscountFractionalPercentage(t *testing.T) {
	coupon := validCoupon()
	coupon.DiscountValue = decimal.NewFromFloat(12.5)

	d := ComputeDiscount(coupon, decimal.NewFromInt(799))

	// 12.5% of 799 = 99.875; no rounding inside the computation.
	assert.True(t, d.DiscountAmount.Equal(decimal.NewFromFloat(99.875)), "discount = %s", d.DiscountAmount)
	assert.True(t, d.FinalAmount.Equal(decimal.NewFromFloat(699.125)), "final = %s", d.FinalAmount)

	// The apply-coupon response presents whole rupees.
	assert.Equal(t, "100", d.DiscountAmount.Round(0).String())
	assert.Equal(t, "699", d.FinalAmount.Round(0).String())
}
