package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func signPayment(orderID, paymentID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := "test_secret"
	sig := signPayment("order_abc", "pay_xyz", secret)

	assert.True(t, VerifySignature("order_abc", "pay_xyz", sig, secret))
}

func TestVerifySignatureRejects(t *testing.T) {
	secret := "test_secret"
	sig := signPayment("order_abc", "pay_xyz", secret)

	assert.False(t, VerifySignature("order_abc", "pay_xyz", sig, "other_secret"))
	assert.False(t, VerifySignature("order_abc", "pay_other", sig, secret))
	assert.False(t, VerifySignature("order_abc", "pay_xyz", "deadbeef", secret))
	assert.False(t, VerifySignature("order_abc", "pay_xyz", "", secret))
}
