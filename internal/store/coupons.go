package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"commerce-service/internal/models"

	"github.com/lib/pq"
)

// ErrDuplicateCoupon is returned when a coupon code already exists.
var ErrDuplicateCoupon = fmt.Errorf("coupon code already exists")

// CreateCoupon inserts a coupon; codes are stored upper-cased
func (s *Store) CreateCoupon(ctx context.Context, coupon *models.Coupon) error {
	coupon.Code = strings.ToUpper(strings.TrimSpace(coupon.Code))

	query := `
		INSERT INTO coupons (code, discount_type, discount_value, minimum_order_value,
			expiry_date, is_active, usage_limit, used_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
		RETURNING id, created_at, updated_at`

	err := s.db.GetContext(ctx, coupon, query,
		coupon.Code, coupon.DiscountType, coupon.DiscountValue, coupon.MinimumOrderValue,
		coupon.ExpiryDate, coupon.IsActive, coupon.UsageLimit)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDuplicateCoupon
	}
	return err
}

// GetCouponByCode retrieves a coupon by normalized code, nil when unknown
func (s *Store) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := s.db.GetContext(ctx, &coupon,
		"SELECT * FROM coupons WHERE code = $1", strings.ToUpper(strings.TrimSpace(code)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// ListCoupons retrieves all coupons, newest first
func (s *Store) ListCoupons(ctx context.Context) ([]models.Coupon, error) {
	var coupons []models.Coupon
	err := s.db.SelectContext(ctx, &coupons,
		"SELECT * FROM coupons ORDER BY created_at DESC")
	return coupons, err
}

// CouponUpdate is the allow-listed set of editable coupon fields.
type CouponUpdate struct {
	DiscountValue     *string `json:"discount_value"`
	MinimumOrderValue *string `json:"minimum_order_value"`
	ExpiryDate        *string `json:"expiry_date"`
	IsActive          *bool   `json:"is_active"`
	UsageLimit        *int    `json:"usage_limit"`
}

// UpdateCoupon applies an allow-listed partial update
func (s *Store) UpdateCoupon(ctx context.Context, id int64, upd CouponUpdate) error {
	query := "UPDATE coupons SET updated_at = NOW()"
	args := []interface{}{}
	n := 0

	add := func(col string, val interface{}) {
		n++
		query += fmt.Sprintf(", %s = $%d", col, n)
		args = append(args, val)
	}

	if upd.DiscountValue != nil {
		add("discount_value", *upd.DiscountValue)
	}
	if upd.MinimumOrderValue != nil {
		add("minimum_order_value", *upd.MinimumOrderValue)
	}
	if upd.ExpiryDate != nil {
		add("expiry_date", *upd.ExpiryDate)
	}
	if upd.IsActive != nil {
		add("is_active", *upd.IsActive)
	}
	if upd.UsageLimit != nil {
		add("usage_limit", *upd.UsageLimit)
	}
	if n == 0 {
		return fmt.Errorf("no fields to update")
	}

	n++
	query += fmt.Sprintf(" WHERE id = $%d", n)
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("coupon %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteCoupon removes a coupon
func (s *Store) DeleteCoupon(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM coupons WHERE id = $1", id)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("coupon %d: %w", id, ErrNotFound)
	}
	return nil
}

// IncrementCouponUsage bumps used_count once, refusing to pass the cap.
// Called only after the order row referencing the coupon is durably
// persisted.
func (s *Store) IncrementCouponUsage(ctx context.Context, couponID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE coupons SET used_count = used_count + 1, updated_at = NOW()
		WHERE id = $1 AND used_count < usage_limit`,
		couponID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("coupon usage limit reached: %d", couponID)
	}
	return nil
}
