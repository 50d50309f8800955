package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMobile(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"9876543210", "919876543210"},
		{"+91 98765 43210", "919876543210"},
		{"919876543210", "919876543210"},
		{"0-98765-43210", "919876543210"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeMobile(tt.raw), "raw %q", tt.raw)
	}
}

func TestSendOTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v5/otp", r.URL.Path)
		assert.Equal(t, "919876543210", r.URL.Query().Get("mobile"))
		assert.Equal(t, "tmpl-1", r.URL.Query().Get("template_id"))
		json.NewEncoder(w).Encode(map[string]string{"type": "success"})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, AuthKey: "key", TemplateID: "tmpl-1"})
	assert.NoError(t, client.SendOTP(context.Background(), "+91 98765 43210"))
}

func TestVerifyOTPRejected(t *testing.T) {
	// The provider reports failures as type=error on HTTP 200.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v5/otp/verify", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"type": "error", "message": "OTP not match"})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, AuthKey: "key"})
	err := client.VerifyOTP(context.Background(), "9876543210", "0000")
	assert.ErrorContains(t, err, "OTP not match")
}

func TestSendSMS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v5/flow/", r.URL.Path)

		var payload struct {
			FlowID     string                   `json:"flow_id"`
			Recipients []map[string]interface{} `json:"recipients"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "flow-7", payload.FlowID)
		require.Len(t, payload.Recipients, 1)
		assert.Equal(t, "919876543210", payload.Recipients[0]["mobiles"])
		assert.Equal(t, "AWB9", payload.Recipients[0]["awb"])

		json.NewEncoder(w).Encode(map[string]string{"type": "success"})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, AuthKey: "key"})
	err := client.SendSMS(context.Background(), "9876543210", "flow-7", map[string]string{"awb": "AWB9"})
	assert.NoError(t, err)
}
