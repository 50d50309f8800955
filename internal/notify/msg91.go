package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"commerce-service/internal/util"

	"go.uber.org/zap"
)

// Config holds MSG91 credentials.
type Config struct {
	BaseURL    string
	AuthKey    string
	TemplateID string
}

// Client sends OTPs and transactional SMS through MSG91.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an SMS client
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     util.GetLogger(),
	}
}

// NormalizeMobile reduces a raw phone to its trailing 10 digits with the
// country prefix the provider expects.
func NormalizeMobile(raw string) string {
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
	return "91" + d
}

type providerResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SendOTP asks the provider to deliver a one-time password.
func (c *Client) SendOTP(ctx context.Context, phone string) error {
	params := url.Values{}
	params.Set("template_id", c.cfg.TemplateID)
	params.Set("mobile", NormalizeMobile(phone))
	params.Set("authkey", c.cfg.AuthKey)
	params.Set("realTimeResponse", "1")

	resp, err := c.post(ctx, "/api/v5/otp?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	if resp.Type == "error" {
		return fmt.Errorf("otp send rejected: %s", resp.Message)
	}
	return nil
}

// VerifyOTP checks a one-time password with the provider.
func (c *Client) VerifyOTP(ctx context.Context, phone, otp string) error {
	params := url.Values{}
	params.Set("mobile", NormalizeMobile(phone))
	params.Set("otp", otp)
	params.Set("authkey", c.cfg.AuthKey)

	resp, err := c.post(ctx, "/api/v5/otp/verify?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	if resp.Type == "error" {
		return fmt.Errorf("otp verification failed: %s", resp.Message)
	}
	return nil
}

// SendSMS delivers a transactional message via the provider's flow API.
func (c *Client) SendSMS(ctx context.Context, phone, flowID string, vars map[string]string) error {
	payload := map[string]interface{}{
		"flow_id": flowID,
		"recipients": []map[string]interface{}{
			func() map[string]interface{} {
				r := map[string]interface{}{"mobiles": NormalizeMobile(phone)}
				for k, v := range vars {
					r[k] = v
				}
				return r
			}(),
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := c.post(ctx, "/api/v5/flow/", body)
	if err != nil {
		return err
	}
	if resp.Type == "error" {
		return fmt.Errorf("sms send rejected: %s", resp.Message)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*providerResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("authkey", c.cfg.AuthKey)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sms provider request failed: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	var resp providerResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("unexpected sms provider response: %w", err)
		}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		msg := resp.Message
		if msg == "" {
			msg = fmt.Sprintf("status %d", httpResp.StatusCode)
		}
		return nil, fmt.Errorf("sms provider error: %s", msg)
	}
	return &resp, nil
}
